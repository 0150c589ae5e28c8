// Package auth - errors.go defines the typed outcomes of the authentication
// guard. Callers branch on these with errors.Is and translate them into
// generic user-facing messages; none of them may leak whether an email is
// registered.
package auth

import "errors"

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong
	// password (or a wrong one-time code). The two cases are deliberately
	// merged so responses cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrAccountLocked is returned while the lockout window is open. The
	// password is not checked in this state.
	ErrAccountLocked = errors.New("auth: account temporarily locked")

	// ErrMFARequired signals that the password was correct but the account
	// has MFA enrolled and no one-time code was supplied; the caller must
	// resubmit with the code.
	ErrMFARequired = errors.New("auth: one-time code required")

	// ErrInvalidInput rejects malformed requests before any credential work.
	ErrInvalidInput = errors.New("auth: invalid input")
)
