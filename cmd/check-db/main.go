// Package main is a diagnostic tool for testing database connectivity and
// inspecting live account and audit data. It connects to the database,
// summarizes the users, resources, and audit_logs tables, and prints the
// audit chain tail to stdout. The binary exits with a non-zero code on any
// failure so it can be embedded in health checks or CI/CD pipeline steps to
// gate deployments on a reachable, populated database.
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	dbPassword := os.Getenv("DATABASE_PASSWORD")
	if dbPassword == "" {
		dbPassword = "securelms"
	}

	connStr := fmt.Sprintf("host=localhost port=5432 user=securelms password=%s dbname=securelms sslmode=disable", dbPassword)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer db.Close()

	// Check accounts
	fmt.Println("=== USERS ===")
	rows, err := db.Query("SELECT id, email, role, clearance_level, mfa_enabled FROM users ORDER BY created_at")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, email, role, clearance string
		var mfaEnabled bool
		if err := rows.Scan(&id, &email, &role, &clearance, &mfaEnabled); err != nil {
			log.Printf("Warning: failed to scan user row: %v", err)
			continue
		}
		mfa := "no MFA"
		if mfaEnabled {
			mfa = "MFA"
		}
		fmt.Printf("User: %s (%s/%s, %s, ID: %s)\n", email, role, clearance, mfa, id)
	}

	// Check resources
	fmt.Println("\n=== RESOURCES ===")
	rows2, err := db.Query("SELECT id, title, classification, owner_id FROM resources ORDER BY created_at")
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	defer rows2.Close()

	count := 0
	for rows2.Next() {
		var id, title, classification, ownerID string
		if err := rows2.Scan(&id, &title, &classification, &ownerID); err != nil {
			log.Printf("Warning: failed to scan resource row: %v", err)
			continue
		}
		fmt.Printf("Resource: %s [%s] (Owner: %s, ID: %s)\n", title, classification, ownerID, id)
		count++
	}
	if count == 0 {
		fmt.Println("No resources found!")
	}

	// Check audit chain tail
	fmt.Println("\n=== AUDIT CHAIN ===")
	var entries int
	if err := db.QueryRow("SELECT COUNT(*) FROM audit_logs").Scan(&entries); err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	fmt.Printf("Entries: %d\n", entries)

	if entries > 0 {
		var seq int64
		var action, status, logHash string
		err := db.QueryRow("SELECT seq, action, status, log_hash FROM audit_logs ORDER BY seq DESC LIMIT 1").
			Scan(&seq, &action, &status, &logHash)
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		fmt.Printf("Tail: seq=%d action=%s status=%s hash=%s\n", seq, action, status, logHash)
	}
}
