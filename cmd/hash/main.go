// Package main is a utility for generating argon2id hashes of passwords.
// The system stores only peppered argon2id hashes, never raw passwords,
// so this tool is used when manually seeding or repairing user records in
// the database without running the full server. The pepper is read from
// PASSWORD_PEPPER and must match the server's, or the produced hash will
// never verify.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/securelms/securelms/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <password>", os.Args[0])
	}
	password := os.Args[1]

	pepper := os.Getenv("PASSWORD_PEPPER")
	if pepper == "" {
		log.Fatal("PASSWORD_PEPPER is not set")
	}

	hasher := auth.NewHasher(pepper, auth.DefaultArgon2Params())
	hash, err := hasher.Hash(password)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(hash)
}
