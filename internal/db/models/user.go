// Package models - user.go defines the User model for LMS accounts, carrying
// both the policy attributes the PDP consumes (role, clearance, department)
// and the account-security state the authentication guard mutates
// (failed-attempt counter, lockout timestamp, MFA enrollment).
package models

import "time"

// User represents an account in the system. FailedLoginCount, LockedUntil,
// MFAEnabled, and MFASecret are mutated exclusively by the authentication
// guard through the user repository's conditional updates.
type User struct {
	ID               string     `db:"id"`
	Email            string     `db:"email"`
	PasswordHash     string     `db:"password_hash"`
	Role             string     `db:"role"`            // SYSTEM_ADMIN, INSTRUCTOR, STUDENT
	ClearanceLevel   string     `db:"clearance_level"` // PUBLIC, INTERNAL, CONFIDENTIAL
	Department       *string    `db:"department"`      // nil = no department attribute
	FailedLoginCount int        `db:"failed_login_count"`
	LockedUntil      *time.Time `db:"locked_until"` // nil = not locked
	MFAEnabled       bool       `db:"mfa_enabled"`
	MFASecret        *string    `db:"mfa_secret"` // opaque, set only on enrollment
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// Locked reports whether the account's lockout window is still open at now.
func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}
