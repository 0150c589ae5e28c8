// Package audit implements the tamper-evident audit chain: every
// security-relevant event (login outcomes, policy decisions, grant changes)
// becomes one append-only entry whose keyed hash covers the previous entry's
// hash. The hash is an HMAC-SHA256 under a server-held secret, so an
// attacker who can write to the store but cannot read the key cannot forge a
// valid continuation of the chain.
//
// Audit records are intentionally separate from application logs: slog
// output is ephemeral debug material, while chain entries are immutable
// records with an integrity contract and their own retention story.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/securelms/securelms/internal/db/models"
	"github.com/securelms/securelms/internal/safego"
	"github.com/securelms/securelms/internal/telemetry"
)

// Well-known audit action tags.
const (
	ActionLoginSuccess     = "LOGIN_SUCCESS"
	ActionLoginFailure     = "LOGIN_FAILURE"
	ActionLoginLocked      = "LOGIN_LOCKED"
	ActionLoginMFARequired = "LOGIN_MFA_REQUIRED"
	ActionLogout           = "LOGOUT"
	ActionPasswordChanged  = "PASSWORD_CHANGED"
	ActionMFAEnrolled      = "MFA_ENROLLED"
	ActionUserRegistered   = "USER_REGISTERED"
	ActionResourceAccess   = "RESOURCE_ACCESS"
	ActionResourceCreated  = "RESOURCE_CREATED"
	ActionPermissionGrant  = "PERMISSION_GRANTED"
	ActionPermissionRevoke = "PERMISSION_REVOKED"
	ActionSystemStartup    = "SYSTEM_STARTUP"
)

// ErrChainConflict is returned by Store.Insert when another writer appended
// an entry after the expected tail was read. Append retries once with the
// refreshed tail; persistent conflicts surface as append failures.
var ErrChainConflict = errors.New("audit: chain tail moved during append")

// Event is the caller-facing projection of an audit record. Empty optional
// fields are stored as NULL.
type Event struct {
	UserID     string // empty for system events
	Action     string
	Status     string // SUCCESS, FAILURE, BLOCKED
	IPAddress  string
	ResourceID string
	Details    string
}

// Store is the persistence the chain needs. Insert must atomically reject a
// write whose expectedPrev no longer matches the stored tail (ErrChainConflict)
// so that two concurrent appends cannot both claim the same previous hash.
type Store interface {
	Latest(ctx context.Context) (*models.AuditLog, error)
	Insert(ctx context.Context, entry *models.AuditLog, expectedPrev string) error
}

// Chain appends integrity-linked audit entries. Appends within one process
// are serialized by a mutex; the store-level conditional insert guards
// against concurrent writers in other processes.
type Chain struct {
	store   Store
	key     []byte
	shipper Shipper // optional SIEM export, may be nil
	now     func() time.Time

	mu sync.Mutex
}

// Option configures a Chain.
type Option func(*Chain)

// WithShipper attaches an export destination for committed entries.
func WithShipper(s Shipper) Option {
	return func(c *Chain) { c.shipper = s }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// NewChain creates a chain over the given store, keyed with the server-held
// audit secret.
func NewChain(store Store, key []byte, opts ...Option) *Chain {
	c := &Chain{store: store, key: key, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// appendTimeout bounds how long an audit write may hold up the caller. A
// slower store is treated as an append failure, not retried in the request
// path.
const appendTimeout = 5 * time.Second

// Append writes one entry to the chain and returns it. Each call reads the
// current tail, computes logHash = HMAC(key, fields || previousHash), and
// inserts the entry conditioned on the tail not having moved; one retry
// absorbs a lost race against a concurrent writer.
func (c *Chain) Append(ctx context.Context, ev Event) (*models.AuditLog, error) {
	if ev.Action == "" || ev.Status == "" {
		return nil, fmt.Errorf("audit: event requires action and status")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The caller's deadline must not leave a half-observed chain state, so
	// the write runs under its own bounded timeout, detached from request
	// cancellation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		tail, err := c.store.Latest(ctx)
		if err != nil {
			return nil, fmt.Errorf("audit: read chain tail: %w", err)
		}

		prev := models.ChainRoot
		if tail != nil {
			prev = tail.LogHash
		}

		entry := c.buildEntry(ev, prev)
		if err := c.store.Insert(ctx, entry, prev); err != nil {
			if errors.Is(err, ErrChainConflict) {
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("audit: insert entry: %w", err)
		}

		telemetry.AuditEntriesTotal.WithLabelValues(entry.Action).Inc()
		c.ship(entry)
		return entry, nil
	}
	return nil, fmt.Errorf("audit: append lost chain race twice: %w", lastErr)
}

// Record is the best-effort form of Append used on every request path.
// Audit failures must never fail the caller's primary action, so errors are
// swallowed here and reported operationally: a slog error plus the
// audit_append_failures_total counter.
func (c *Chain) Record(ctx context.Context, ev Event) {
	if _, err := c.Append(ctx, ev); err != nil {
		telemetry.AuditAppendFailuresTotal.Inc()
		slog.Error("audit append failed",
			"action", ev.Action,
			"status", ev.Status,
			"user_id", ev.UserID,
			"error", err,
		)
	}
}

func (c *Chain) buildEntry(ev Event, prev string) *models.AuditLog {
	entry := &models.AuditLog{
		ID:           uuid.New().String(),
		Timestamp:    c.now().UTC().Truncate(time.Millisecond),
		Action:       ev.Action,
		Status:       ev.Status,
		IPAddress:    ev.IPAddress,
		PreviousHash: prev,
	}
	if ev.UserID != "" {
		entry.UserID = &ev.UserID
	}
	if ev.ResourceID != "" {
		entry.ResourceID = &ev.ResourceID
	}
	if ev.Details != "" {
		entry.Details = &ev.Details
	}
	entry.LogHash = c.entryHash(entry)
	return entry
}

// entryHash computes the keyed hash covering the entry's own fields and the
// previous entry's hash. The timestamp participates at millisecond
// precision, which is exactly what the store round-trips.
func (c *Chain) entryHash(entry *models.AuditLog) string {
	userID := ""
	if entry.UserID != nil {
		userID = *entry.UserID
	}
	mac := hmac.New(sha256.New, c.key)
	fmt.Fprintf(mac, "%s-%s-%s-%d", userID, entry.Action, entry.Status, entry.Timestamp.UnixMilli())
	mac.Write([]byte(entry.PreviousHash))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Chain) ship(entry *models.AuditLog) {
	if c.shipper == nil {
		return
	}
	e := *entry
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.shipper.Ship(ctx, &e); err != nil {
			slog.Warn("audit shipper failed", "action", e.Action, "error", err)
		}
	})
}

// Report is the result of a chain verification pass.
type Report struct {
	Valid   bool
	Checked int
	// FirstInvalid is the index (into the verified sequence) of the first
	// entry whose linkage or hash failed; -1 when the chain is valid.
	FirstInvalid int
	Problem      string
}

// Verify recomputes every link of an ordered entry sequence. A mutated
// entry fails its own hash check, and because each hash covers the previous
// one, every later entry fails linkage from that point forward.
func (c *Chain) Verify(entries []models.AuditLog) Report {
	prev := models.ChainRoot
	for i := range entries {
		e := &entries[i]
		if e.PreviousHash != prev {
			return Report{
				Valid:        false,
				Checked:      len(entries),
				FirstInvalid: i,
				Problem:      fmt.Sprintf("entry %d: previous hash mismatch", i),
			}
		}
		if !hmac.Equal([]byte(c.entryHash(e)), []byte(e.LogHash)) {
			return Report{
				Valid:        false,
				Checked:      len(entries),
				FirstInvalid: i,
				Problem:      fmt.Sprintf("entry %d: hash mismatch", i),
			}
		}
		prev = e.LogHash
	}
	return Report{Valid: true, Checked: len(entries), FirstInvalid: -1}
}
