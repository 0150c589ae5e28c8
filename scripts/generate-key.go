// Package main is a development utility for generating the three secrets a
// local deployment needs: the password pepper, the audit chain key, and the
// session signing secret. It prints ready-to-paste export statements so
// developers can bring up a working server without inventing weak secrets by
// hand. Do not reuse generated values across environments; rotate each one
// per deployment.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
)

func randomSecret(bytes int) string {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		log.Fatal(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func main() {
	fmt.Println("==========================================================")
	fmt.Println("SecureLMS Secrets Generated")
	fmt.Println("==========================================================")
	fmt.Println()
	fmt.Printf("export PASSWORD_PEPPER=%s\n", randomSecret(32))
	fmt.Printf("export AUDIT_SECRET_KEY=%s\n", randomSecret(32))
	fmt.Printf("export LMS_SESSION_SECRET=%s\n", randomSecret(32))
	fmt.Println()
	fmt.Println("==========================================================")
	fmt.Println("Changing AUDIT_SECRET_KEY invalidates verification of any")
	fmt.Println("existing audit chain; changing PASSWORD_PEPPER invalidates")
	fmt.Println("every stored password hash. Set both once, before first boot.")
	fmt.Println("==========================================================")
}
