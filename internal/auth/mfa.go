// Package auth - mfa.go implements TOTP enrollment and verification for the
// multi-factor step-up. Secrets and codes are treated as write-only from a
// logging perspective: nothing in this file ever logs or persists a raw
// code, and the secret leaves the process only once, inside the
// provisioning URI returned at enrollment.
package auth

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPParams configures the time-step scheme shared with authenticator apps.
type TOTPParams struct {
	Issuer string
	Period uint   // seconds per time step
	Digits int    // code length
	Skew   uint   // adjacent steps accepted on either side
}

// DefaultTOTPParams: 30-second steps, 6 digits, one step of clock skew in
// each direction.
func DefaultTOTPParams(issuer string) TOTPParams {
	return TOTPParams{Issuer: issuer, Period: 30, Digits: 6, Skew: 1}
}

// MFA generates and verifies one-time codes.
type MFA struct {
	params TOTPParams
	now    func() time.Time
}

// NewMFA creates a verifier with the given parameters.
func NewMFA(params TOTPParams) *MFA {
	if params.Period == 0 {
		params.Period = 30
	}
	if params.Digits == 0 {
		params.Digits = 6
	}
	return &MFA{params: params, now: time.Now}
}

// Enrollment is the result of generating a new shared secret.
type Enrollment struct {
	// Secret is the base32 shared secret to persist (opaque to everything
	// but VerifyCode).
	Secret string
	// ProvisioningURI is the otpauth:// URI the UI renders as a QR code.
	ProvisioningURI string
}

// GenerateSecret creates a fresh shared secret bound to the account email.
func (m *MFA) GenerateSecret(account string) (*Enrollment, error) {
	if account == "" {
		return nil, fmt.Errorf("%w: account is required", ErrInvalidInput)
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.params.Issuer,
		AccountName: account,
		Period:      m.params.Period,
		Digits:      digits(m.params.Digits),
	})
	if err != nil {
		return nil, fmt.Errorf("auth: generate totp secret: %w", err)
	}
	return &Enrollment{Secret: key.Secret(), ProvisioningURI: key.URL()}, nil
}

// VerifyCode checks a one-time code against the shared secret, accepting
// the current time step and Skew adjacent steps on either side.
func (m *MFA) VerifyCode(code, secret string) bool {
	if code == "" || secret == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, m.now().UTC(), totp.ValidateOpts{
		Period:    m.params.Period,
		Skew:      m.params.Skew,
		Digits:    digits(m.params.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func digits(n int) otp.Digits {
	if n == 8 {
		return otp.DigitsEight
	}
	return otp.DigitsSix
}
