// Package models - audit_log.go defines the AuditLog model: one
// hash-chained, append-only record per security-relevant event. Each entry's
// PreviousHash must equal the LogHash of the entry written immediately
// before it (or the sentinel "root" for the first entry ever written), so a
// mutated entry invalidates the linkage of everything after it.
package models

import "time"

// Audit entry statuses.
const (
	AuditStatusSuccess = "SUCCESS"
	AuditStatusFailure = "FAILURE"
	AuditStatusBlocked = "BLOCKED"
)

// ChainRoot is the previous-hash sentinel for the first entry of a chain.
const ChainRoot = "root"

// AuditLog represents one entry in the tamper-evident audit chain.
type AuditLog struct {
	// Seq is assigned by the database and fixes the chain order; the hash
	// linkage is verified in Seq order.
	Seq          int64     `db:"seq"`
	ID           string    `db:"id"`
	Timestamp    time.Time `db:"ts"`
	UserID       *string   `db:"user_id"` // nil for system events
	Action       string    `db:"action"`  // e.g. LOGIN_FAILURE, RESOURCE_ACCESS
	Status       string    `db:"status"`  // SUCCESS, FAILURE, BLOCKED
	IPAddress    string    `db:"ip_address"`
	ResourceID   *string   `db:"resource_id"`
	Details      *string   `db:"details"`
	LogHash      string    `db:"log_hash"`
	PreviousHash string    `db:"previous_hash"`
}
