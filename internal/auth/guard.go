// Package auth - guard.go implements the login decision path: lockout
// check, password verification, progressive failure counting, and the MFA
// step-up gate. Every outcome is projected into the audit trail; the error
// surface stays deliberately narrow so callers cannot leak account state.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/securelms/securelms/internal/audit"
	"github.com/securelms/securelms/internal/db/models"
	"github.com/securelms/securelms/internal/telemetry"
)

const (
	// DefaultLockThreshold is the number of consecutive failed attempts
	// that locks an account.
	DefaultLockThreshold = 5
	// DefaultLockDuration is how long a lockout lasts. The lock expires on
	// its own; a successful login afterwards clears the counters.
	DefaultLockDuration = 15 * time.Minute
)

// Identity is the authenticated principal handed to the session layer. It
// carries the policy attributes so enforcement never re-reads the user row.
type Identity struct {
	UserID     string
	Email      string
	Role       string
	Clearance  string
	Department string
}

// UserStore is the persistence the guard needs. RecordFailedLogin must
// apply the increment-and-maybe-lock transition atomically (a single
// conditional statement) so concurrent failures against one account cannot
// skip the threshold.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// RecordFailedLogin increments the failure counter and, when the new
	// count reaches threshold, sets the lock to now+lockFor. It returns the
	// post-increment count and whether this attempt triggered the lock.
	RecordFailedLogin(ctx context.Context, userID string, threshold int, lockFor time.Duration) (int, bool, error)
	// ResetLoginState zeroes the failure counter and clears any lock.
	ResetLoginState(ctx context.Context, userID string) error
}

// Recorder is the audit sink. Writes are best-effort; the guard never lets
// an audit problem change a login outcome.
type Recorder interface {
	Record(ctx context.Context, ev audit.Event)
}

// LoginInput is one authentication attempt.
type LoginInput struct {
	Email     string
	Password  string
	OTP       string // empty unless the client is answering an MFA step-up
	IPAddress string
}

// Guard runs the authentication state machine.
type Guard struct {
	store    UserStore
	hasher   *Hasher
	mfa      *MFA
	recorder Recorder

	threshold int
	lockFor   time.Duration
	now       func() time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLockPolicy overrides the failure threshold and lock duration.
func WithLockPolicy(threshold int, lockFor time.Duration) GuardOption {
	return func(g *Guard) {
		if threshold > 0 {
			g.threshold = threshold
		}
		if lockFor > 0 {
			g.lockFor = lockFor
		}
	}
}

// WithGuardClock overrides the time source (tests).
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// NewGuard wires the authentication guard.
func NewGuard(store UserStore, hasher *Hasher, mfa *MFA, recorder Recorder, opts ...GuardOption) *Guard {
	g := &Guard{
		store:     store,
		hasher:    hasher,
		mfa:       mfa,
		recorder:  recorder,
		threshold: DefaultLockThreshold,
		lockFor:   DefaultLockDuration,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Login runs one authentication attempt. It returns exactly one of:
// a non-nil Identity; ErrInvalidCredentials (unknown email and wrong
// password are indistinguishable); ErrAccountLocked; ErrMFARequired; or
// ErrInvalidInput. Infrastructure failures are returned as-is.
func (g *Guard) Login(ctx context.Context, in LoginInput) (*Identity, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return nil, ErrInvalidInput
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidInput
	}

	user, err := g.store.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// Burn the same argon2 work as a real verification so response
		// timing does not reveal whether the address exists.
		_ = g.hasher.VerifyDummy(in.Password)
		g.audit(ctx, audit.Event{
			Action:    audit.ActionLoginFailure,
			Status:    models.AuditStatusFailure,
			IPAddress: in.IPAddress,
			Details:   "unknown account",
		})
		telemetry.LoginAttemptsTotal.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}

	now := g.now()
	if user.Locked(now) {
		// No password work while locked: the account state alone decides.
		g.audit(ctx, audit.Event{
			UserID:    user.ID,
			Action:    audit.ActionLoginLocked,
			Status:    models.AuditStatusBlocked,
			IPAddress: in.IPAddress,
		})
		telemetry.LoginAttemptsTotal.WithLabelValues("locked").Inc()
		return nil, ErrAccountLocked
	}

	if err := g.hasher.Verify(in.Password, user.PasswordHash); err != nil {
		if errors.Is(err, ErrMalformedHash) {
			slog.Error("stored password hash is malformed", "user_id", user.ID)
		}
		return nil, g.recordFailure(ctx, user, in.IPAddress, "wrong password")
	}

	if user.MFAEnabled && user.MFASecret != nil {
		if in.OTP == "" {
			g.audit(ctx, audit.Event{
				UserID:    user.ID,
				Action:    audit.ActionLoginMFARequired,
				Status:    models.AuditStatusBlocked,
				IPAddress: in.IPAddress,
			})
			telemetry.LoginAttemptsTotal.WithLabelValues("mfa_required").Inc()
			return nil, ErrMFARequired
		}
		if !g.mfa.VerifyCode(in.OTP, *user.MFASecret) {
			// A wrong code is a failed attempt like a wrong password.
			return nil, g.recordFailure(ctx, user, in.IPAddress, "invalid otp")
		}
	}

	if err := g.store.ResetLoginState(ctx, user.ID); err != nil {
		return nil, err
	}

	g.audit(ctx, audit.Event{
		UserID:    user.ID,
		Action:    audit.ActionLoginSuccess,
		Status:    models.AuditStatusSuccess,
		IPAddress: in.IPAddress,
	})
	telemetry.LoginAttemptsTotal.WithLabelValues("success").Inc()

	return identityFor(user), nil
}

// recordFailure applies the failure transition and always returns
// ErrInvalidCredentials, even when this attempt locked the account; the
// caller learns about the lock on the next attempt.
func (g *Guard) recordFailure(ctx context.Context, user *models.User, ip, detail string) error {
	count, nowLocked, err := g.store.RecordFailedLogin(ctx, user.ID, g.threshold, g.lockFor)
	if err != nil {
		return err
	}

	g.audit(ctx, audit.Event{
		UserID:    user.ID,
		Action:    audit.ActionLoginFailure,
		Status:    models.AuditStatusFailure,
		IPAddress: ip,
		Details:   detail,
	})
	telemetry.LoginAttemptsTotal.WithLabelValues("failure").Inc()

	if nowLocked {
		slog.Warn("account locked after repeated failures",
			"user_id", user.ID, "failed_count", count, "lock_for", g.lockFor)
		g.audit(ctx, audit.Event{
			UserID:    user.ID,
			Action:    audit.ActionLoginLocked,
			Status:    models.AuditStatusBlocked,
			IPAddress: ip,
			Details:   "lock engaged",
		})
	}
	return ErrInvalidCredentials
}

func (g *Guard) audit(ctx context.Context, ev audit.Event) {
	if g.recorder != nil {
		g.recorder.Record(ctx, ev)
	}
}

func identityFor(u *models.User) *Identity {
	id := &Identity{
		UserID:    u.ID,
		Email:     u.Email,
		Role:      u.Role,
		Clearance: u.ClearanceLevel,
	}
	if u.Department != nil {
		id.Department = *u.Department
	}
	return id
}
