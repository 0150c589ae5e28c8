package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/securelms/securelms/internal/audit"
	"github.com/securelms/securelms/internal/db/models"
)

// fakeUserStore implements the same increment-and-maybe-lock transition the
// real repository applies in a single conditional statement.
type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]*models.User // keyed by email

	failedCalls int
	resetCalls  int
}

func newFakeUserStore(users ...*models.User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[string]*models.User)}
	for _, u := range users {
		s.users[u.Email] = u
	}
	return s
}

func (s *fakeUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *fakeUserStore) RecordFailedLogin(_ context.Context, userID string, threshold int, lockFor time.Duration) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedCalls++
	for _, u := range s.users {
		if u.ID != userID {
			continue
		}
		u.FailedLoginCount++
		if u.FailedLoginCount >= threshold {
			until := time.Now().Add(lockFor)
			u.LockedUntil = &until
			return u.FailedLoginCount, true, nil
		}
		return u.FailedLoginCount, false, nil
	}
	return 0, false, errors.New("no such user")
}

func (s *fakeUserStore) ResetLoginState(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetCalls++
	for _, u := range s.users {
		if u.ID == userID {
			u.FailedLoginCount = 0
			u.LockedUntil = nil
			return nil
		}
	}
	return errors.New("no such user")
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *fakeRecorder) Record(_ context.Context, ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *fakeRecorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Action
	}
	return out
}

func (r *fakeRecorder) last() audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

const testPassword = "correct-password-42"

func testGuard(t *testing.T, users ...*models.User) (*Guard, *fakeUserStore, *fakeRecorder) {
	t.Helper()
	store := newFakeUserStore(users...)
	rec := &fakeRecorder{}
	hasher := NewHasher("test-pepper", fastParams())
	g := NewGuard(store, hasher, NewMFA(DefaultTOTPParams("SecureLMS")), rec)
	return g, store, rec
}

func testUser(t *testing.T, email string) *models.User {
	t.Helper()
	hash, err := NewHasher("test-pepper", fastParams()).Hash(testPassword)
	if err != nil {
		t.Fatalf("hashing test password: %v", err)
	}
	dept := "ENGINEERING"
	return &models.User{
		ID:             "user-1",
		Email:          email,
		PasswordHash:   hash,
		Role:           "STUDENT",
		ClearanceLevel: "INTERNAL",
		Department:     &dept,
	}
}

func TestLoginSuccess(t *testing.T) {
	user := testUser(t, "alice@example.edu")
	user.FailedLoginCount = 3 // prior failures, below threshold
	g, store, rec := testGuard(t, user)

	id, err := g.Login(context.Background(), LoginInput{
		Email:     "Alice@Example.edu", // normalization is the guard's job
		Password:  testPassword,
		IPAddress: "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if id.UserID != "user-1" || id.Role != "STUDENT" || id.Clearance != "INTERNAL" || id.Department != "ENGINEERING" {
		t.Errorf("unexpected identity: %+v", id)
	}
	if store.resetCalls != 1 {
		t.Errorf("ResetLoginState called %d times, want 1", store.resetCalls)
	}
	last := rec.last()
	if last.Action != audit.ActionLoginSuccess || last.Status != models.AuditStatusSuccess {
		t.Errorf("last audit event = %s/%s, want LOGIN_SUCCESS/SUCCESS", last.Action, last.Status)
	}
	if last.IPAddress != "10.0.0.1" {
		t.Errorf("audit event IP = %q", last.IPAddress)
	}
}

func TestLoginUnknownEmailMatchesWrongPassword(t *testing.T) {
	g, _, rec := testGuard(t, testUser(t, "alice@example.edu"))

	unknownErr := func() error {
		_, err := g.Login(context.Background(), LoginInput{Email: "nobody@example.edu", Password: "whatever"})
		return err
	}()
	wrongErr := func() error {
		_, err := g.Login(context.Background(), LoginInput{Email: "alice@example.edu", Password: "wrong"})
		return err
	}()

	if !errors.Is(unknownErr, ErrInvalidCredentials) {
		t.Errorf("unknown email error = %v, want ErrInvalidCredentials", unknownErr)
	}
	if !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", wrongErr)
	}
	// Both paths must surface the identical sentinel so handlers cannot
	// accidentally render different messages.
	if unknownErr.Error() != wrongErr.Error() {
		t.Errorf("error text differs: %q vs %q", unknownErr, wrongErr)
	}
	// The unknown-account event carries no user id.
	if rec.events[0].UserID != "" {
		t.Errorf("unknown-account audit event has user id %q", rec.events[0].UserID)
	}
}

func TestLoginLocksAfterThreshold(t *testing.T) {
	g, store, rec := testGuard(t, testUser(t, "alice@example.edu"))
	ctx := context.Background()

	for i := 0; i < DefaultLockThreshold; i++ {
		_, err := g.Login(ctx, LoginInput{Email: "alice@example.edu", Password: "wrong"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: err = %v, want ErrInvalidCredentials", i+1, err)
		}
	}
	if store.failedCalls != DefaultLockThreshold {
		t.Errorf("RecordFailedLogin called %d times, want %d", store.failedCalls, DefaultLockThreshold)
	}

	// The attempt that crossed the threshold still reported invalid
	// credentials; the lock shows up from the next attempt on, even with
	// the correct password.
	_, err := g.Login(ctx, LoginInput{Email: "alice@example.edu", Password: testPassword})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("post-lock login err = %v, want ErrAccountLocked", err)
	}
	if store.failedCalls != DefaultLockThreshold {
		t.Errorf("locked attempt incremented the counter (now %d calls)", store.failedCalls)
	}

	actions := rec.actions()
	var sawLock, sawLockedAttempt bool
	for i, a := range actions {
		if a == audit.ActionLoginLocked {
			if i == len(actions)-1 {
				sawLockedAttempt = true
			} else {
				sawLock = true
			}
		}
	}
	if !sawLock {
		t.Errorf("no lock-engaged audit event in %v", actions)
	}
	if !sawLockedAttempt {
		t.Errorf("blocked attempt not audited in %v", actions)
	}
}

func TestLoginAfterLockExpiry(t *testing.T) {
	user := testUser(t, "alice@example.edu")
	past := time.Now().Add(-time.Minute)
	user.FailedLoginCount = DefaultLockThreshold
	user.LockedUntil = &past
	g, store, _ := testGuard(t, user)

	id, err := g.Login(context.Background(), LoginInput{Email: "alice@example.edu", Password: testPassword})
	if err != nil {
		t.Fatalf("Login() after lock expiry: %v", err)
	}
	if id == nil {
		t.Fatal("expected an identity")
	}
	if store.resetCalls != 1 {
		t.Errorf("expected the success to clear the stale counters")
	}
}

func TestLoginMFAStepUp(t *testing.T) {
	user := testUser(t, "alice@example.edu")
	m := NewMFA(DefaultTOTPParams("SecureLMS"))
	enr, err := m.GenerateSecret(user.Email)
	if err != nil {
		t.Fatalf("GenerateSecret() error: %v", err)
	}
	user.MFAEnabled = true
	user.MFASecret = &enr.Secret

	store := newFakeUserStore(user)
	rec := &fakeRecorder{}
	g := NewGuard(store, NewHasher("test-pepper", fastParams()), m, rec)
	ctx := context.Background()

	// Correct password but no code: step-up, no failure counted.
	_, err = g.Login(ctx, LoginInput{Email: user.Email, Password: testPassword})
	if !errors.Is(err, ErrMFARequired) {
		t.Fatalf("missing otp err = %v, want ErrMFARequired", err)
	}
	if store.failedCalls != 0 {
		t.Errorf("step-up incremented the failure counter")
	}
	if last := rec.last(); last.Action != audit.ActionLoginMFARequired {
		t.Errorf("last audit event = %s, want LOGIN_MFA_REQUIRED", last.Action)
	}

	// Wrong code counts as a failed attempt.
	_, err = g.Login(ctx, LoginInput{Email: user.Email, Password: testPassword, OTP: "000000"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong otp err = %v, want ErrInvalidCredentials", err)
	}
	if store.failedCalls != 1 {
		t.Errorf("wrong otp did not count as a failure")
	}

	// Correct code completes the login.
	code, err := totp.GenerateCodeCustom(enr.Secret, time.Now(), totp.ValidateOpts{
		Period: 30, Digits: otp.DigitsSix, Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom() error: %v", err)
	}
	id, err := g.Login(ctx, LoginInput{Email: user.Email, Password: testPassword, OTP: code})
	if err != nil {
		t.Fatalf("Login() with valid otp: %v", err)
	}
	if id.UserID != user.ID {
		t.Errorf("identity user = %q, want %q", id.UserID, user.ID)
	}
}

func TestLoginWrongPasswordSkipsMFA(t *testing.T) {
	user := testUser(t, "alice@example.edu")
	user.MFAEnabled = true
	secret := "JBSWY3DPEHPK3PXP"
	user.MFASecret = &secret
	g, _, rec := testGuard(t, user)

	_, err := g.Login(context.Background(), LoginInput{Email: user.Email, Password: "wrong"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	for _, a := range rec.actions() {
		if a == audit.ActionLoginMFARequired {
			t.Error("MFA step-up signalled before the password was verified")
		}
	}
}

func TestLoginInputValidation(t *testing.T) {
	g, store, _ := testGuard(t, testUser(t, "alice@example.edu"))

	cases := []struct {
		name  string
		input LoginInput
	}{
		{"empty email", LoginInput{Password: "x"}},
		{"empty password", LoginInput{Email: "alice@example.edu"}},
		{"not an email", LoginInput{Email: "not-an-address", Password: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := g.Login(context.Background(), tc.input); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
	if store.failedCalls != 0 {
		t.Errorf("malformed input reached the failure counter")
	}
}

func TestLoginCustomLockPolicy(t *testing.T) {
	user := testUser(t, "alice@example.edu")
	store := newFakeUserStore(user)
	g := NewGuard(store, NewHasher("test-pepper", fastParams()),
		NewMFA(DefaultTOTPParams("SecureLMS")), &fakeRecorder{},
		WithLockPolicy(2, time.Hour))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.Login(ctx, LoginInput{Email: user.Email, Password: "wrong"}); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if _, err := g.Login(ctx, LoginInput{Email: user.Email, Password: testPassword}); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("err after 2 failures = %v, want ErrAccountLocked", err)
	}
}
