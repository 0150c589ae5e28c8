// Package enforce is the policy enforcement point for resource access. It
// loads the resource's security attributes, runs the mandatory policy chain,
// ANDs the discretionary (ownership/grant) check, and projects every
// decision into the audit trail. Handlers call Authorize and act on the
// verdict; they never consult the policy engine or grants directly.
package enforce

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/securelms/securelms/internal/audit"
	"github.com/securelms/securelms/internal/auth"
	"github.com/securelms/securelms/internal/db/models"
	"github.com/securelms/securelms/internal/policy"
	"github.com/securelms/securelms/internal/telemetry"
)

// Action is the requested mode of access.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// Decision outcomes recorded in the audit detail field. The audit status
// stays within the SUCCESS/FAILURE/BLOCKED vocabulary; the outcome narrows
// a block to the layer that produced it.
const (
	OutcomeAllowed         = "ALLOWED"
	OutcomeBlockedMAC      = "BLOCKED_MAC"
	OutcomeBlockedABAC     = "BLOCKED_ABAC"
	OutcomeBlockedDAC      = "BLOCKED_DAC"
	OutcomeBlockedOffHours = "BLOCKED_OFF_HOURS"
)

var (
	// ErrAccessDenied is the single denial error surfaced to handlers. The
	// attached reason is written for end users and never names the
	// internal layer that denied.
	ErrAccessDenied = errors.New("access denied")

	// ErrResourceNotFound indicates the target resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")
)

// Decision is the enforcement verdict for one access request.
type Decision struct {
	Allowed bool
	// Outcome is one of the Outcome* constants.
	Outcome string
	// Reason is the user-facing denial text, empty on allow.
	Reason string
}

// ResourceStore is the subset of the resource repository the enforcer needs.
type ResourceStore interface {
	GetResourceByID(ctx context.Context, resourceID string) (*models.Resource, error)
	GetGrant(ctx context.Context, resourceID, granteeID string) (*models.ResourceGrant, error)
}

// Recorder is the audit sink for decision projections.
type Recorder interface {
	Record(ctx context.Context, ev audit.Event)
}

// Enforcer combines the mandatory policy engine with the discretionary
// grant check.
type Enforcer struct {
	engine    *policy.Engine
	resources ResourceStore
	recorder  Recorder
	now       func() time.Time
}

// Option configures an Enforcer.
type Option func(*Enforcer)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

// NewEnforcer wires the enforcement point.
func NewEnforcer(engine *policy.Engine, resources ResourceStore, recorder Recorder, opts ...Option) *Enforcer {
	e := &Enforcer{engine: engine, resources: resources, recorder: recorder, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize decides whether the identity may perform action on the
// resource. Mandatory policy runs first; a mandatory allow is then ANDed
// with the discretionary check (owner, explicit grant, or SYSTEM_ADMIN).
// Every completed decision is appended to the audit trail. Denials return
// ErrAccessDenied; the Decision carries the layer-specific outcome.
func (e *Enforcer) Authorize(ctx context.Context, id auth.Identity, resourceID string, action Action) (Decision, error) {
	res, err := e.resources.GetResourceByID(ctx, resourceID)
	if err != nil {
		return Decision{}, err
	}
	if res == nil {
		e.record(ctx, id, resourceID, models.AuditStatusFailure, "resource not found")
		return Decision{}, ErrResourceNotFound
	}

	sub := policy.Subject{
		Role:       policy.Role(id.Role),
		Clearance:  policy.Level(id.Clearance),
		Department: id.Department,
	}
	polRes := policy.Resource{
		Classification: policy.Level(res.Classification),
		Department:     res.Department,
	}
	verdict := e.engine.Evaluate(sub, polRes, policy.Context{Hour: e.now().Hour()})
	telemetry.PolicyDecisionsTotal.WithLabelValues(strconv.FormatBool(verdict.Allowed), ruleLabel(verdict.Rule)).Inc()

	if !verdict.Allowed {
		outcome := outcomeForRule(verdict.Rule)
		e.record(ctx, id, resourceID, models.AuditStatusBlocked, outcome)
		return Decision{Outcome: outcome, Reason: verdict.Reason}, ErrAccessDenied
	}

	ok, err := e.discretionaryAllows(ctx, id, res, action)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		e.record(ctx, id, resourceID, models.AuditStatusBlocked, OutcomeBlockedDAC)
		return Decision{
			Outcome: OutcomeBlockedDAC,
			Reason:  "You do not have permission to access this resource.",
		}, ErrAccessDenied
	}

	e.record(ctx, id, resourceID, models.AuditStatusSuccess, fmt.Sprintf("%s %s", OutcomeAllowed, action))
	return Decision{Allowed: true, Outcome: OutcomeAllowed}, nil
}

// discretionaryAllows implements the DAC layer: the owner and SYSTEM_ADMIN
// always pass; everyone else needs an explicit grant covering the action.
func (e *Enforcer) discretionaryAllows(ctx context.Context, id auth.Identity, res *models.Resource, action Action) (bool, error) {
	if res.OwnerID == id.UserID || policy.Role(id.Role) == policy.RoleSystemAdmin {
		return true, nil
	}

	grant, err := e.resources.GetGrant(ctx, res.ID, id.UserID)
	if err != nil {
		return false, err
	}
	if grant == nil {
		return false, nil
	}
	switch action {
	case ActionWrite:
		return grant.CanWrite, nil
	default:
		return grant.CanRead, nil
	}
}

func (e *Enforcer) record(ctx context.Context, id auth.Identity, resourceID, status, detail string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(ctx, audit.Event{
		UserID:     id.UserID,
		Action:     audit.ActionResourceAccess,
		Status:     status,
		ResourceID: resourceID,
		Details:    detail,
		IPAddress:  ipFromContext(ctx),
	})
}

func outcomeForRule(rule string) string {
	switch rule {
	case policy.RuleOffHours:
		return OutcomeBlockedOffHours
	case policy.RuleABAC:
		return OutcomeBlockedABAC
	default:
		return OutcomeBlockedMAC
	}
}

func ruleLabel(rule string) string {
	if rule == "" {
		return "none"
	}
	return rule
}

type ctxKey int

// ipKey carries the caller's remote address through context so the audit
// projection can stamp it without widening the Authorize signature.
const ipKey ctxKey = 0

// WithClientIP returns a context carrying the caller's remote address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey, ip)
}

func ipFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(ipKey).(string); ok {
		return ip
	}
	return ""
}
