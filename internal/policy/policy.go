// Package policy implements the policy decision point (PDP) for the LMS.
// It combines mandatory clearance checks (MAC), attribute-based department
// matching (ABAC), and a time-of-day rule (RuBAC) into a single ordered
// decision. Evaluation is a pure function of its inputs: no I/O, no clock
// reads, no shared state, so it is safe to call from any number of
// goroutines. Discretionary ownership/sharing (DAC) needs per-resource grant
// lookups and is therefore evaluated by the enforcement layer, not here.
package policy

import (
	"fmt"
	"strings"
)

// Level is a totally ordered security label applied both to a subject's
// clearance and to a resource's classification.
type Level string

const (
	LevelPublic       Level = "PUBLIC"
	LevelInternal     Level = "INTERNAL"
	LevelConfidential Level = "CONFIDENTIAL"
)

// levelWeights fixes the ordering PUBLIC < INTERNAL < CONFIDENTIAL.
// An unknown label has weight 0 and therefore dominates nothing.
var levelWeights = map[Level]int{
	LevelPublic:       1,
	LevelInternal:     2,
	LevelConfidential: 3,
}

// Weight returns the ordinal for the level, or 0 for an unknown label.
func (l Level) Weight() int {
	return levelWeights[l]
}

// Valid reports whether the level is one of the three known labels.
func (l Level) Valid() bool {
	return l.Weight() != 0
}

// ParseLevel normalizes a stored label into a Level.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("policy: unknown security level %q", s)
	}
	return l, nil
}

// Role is the subject's system role.
type Role string

const (
	RoleSystemAdmin Role = "SYSTEM_ADMIN"
	RoleInstructor  Role = "INSTRUCTOR"
	RoleStudent     Role = "STUDENT"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystemAdmin, RoleInstructor, RoleStudent:
		return true
	}
	return false
}

// Subject is the policy view of an authenticated user. It is derived from a
// verified session and never persisted by the PDP.
type Subject struct {
	Role       Role
	Clearance  Level
	Department string // empty = no department attribute
}

// Validate rejects subjects that must not reach Evaluate. A session without
// a role or clearance is an incomplete profile and the caller has to refuse
// it before asking for a decision.
func (s Subject) Validate() error {
	if !s.Role.Valid() {
		return fmt.Errorf("policy: subject has invalid role %q", s.Role)
	}
	if !s.Clearance.Valid() {
		return fmt.Errorf("policy: subject has invalid clearance %q", s.Clearance)
	}
	return nil
}

// Resource is the policy view of a protected object. Classification and
// department are set at creation and treated as immutable inputs here.
type Resource struct {
	Classification Level
	Department     *string // nil = visible to all departments
}

// Context carries the ephemeral evaluation environment. It is constructed
// per evaluation and never stored.
type Context struct {
	Hour       int // hour of day, 0-23
	DeviceType string
}

// Rule names identify which rule produced a denial; the enforcement layer
// maps them onto audit statuses.
const (
	RuleOffHours = "OFF_HOURS"
	RuleMAC      = "MAC"
	RuleABAC     = "ABAC"
)

// Decision is the PDP verdict. Reason is only set on a deny and is written
// for end users, so it names the failed requirement without referencing any
// other resource.
type Decision struct {
	Allowed bool
	Rule    string // denying rule name, empty on allow
	Reason  string // empty on allow
}

// denial is the internal result of a single rule.
type denial struct {
	rule   string
	reason string
}

// rule is one pure predicate in the ordered chain. A nil return means the
// rule does not object.
type rule func(e *Engine, sub Subject, res Resource, ctx Context) *denial

// Engine evaluates the fixed rule chain. The working-hours window is
// boundary-inclusive: access at exactly WorkStart or WorkEnd o'clock is
// inside the window.
type Engine struct {
	WorkStart int
	WorkEnd   int

	rules []rule
}

// Default working-hours window (05:00-23:00 inclusive).
const (
	DefaultWorkStart = 5
	DefaultWorkEnd   = 23
)

// NewEngine builds a PDP with the given working-hours window. Out-of-range
// bounds fall back to the defaults so a bad config cannot accidentally deny
// (or allow) around the clock.
func NewEngine(workStart, workEnd int) *Engine {
	if workStart < 0 || workStart > 23 {
		workStart = DefaultWorkStart
	}
	if workEnd < 0 || workEnd > 23 {
		workEnd = DefaultWorkEnd
	}
	e := &Engine{WorkStart: workStart, WorkEnd: workEnd}
	// Rule order is a contract: RuBAC, then MAC, then ABAC. The chain
	// short-circuits at the first denial, so later rules never run and
	// never leak a reason once an earlier rule has denied.
	e.rules = []rule{ruleWorkingHours, ruleClearance, ruleDepartment}
	return e
}

// bypassesContextRules is the single place that encodes the admin exemption.
// SYSTEM_ADMIN skips the time-of-day and department rules but is never
// exempt from the clearance check.
func bypassesContextRules(sub Subject) bool {
	return sub.Role == RoleSystemAdmin
}

// ruleWorkingHours denies access outside the configured window (RuBAC).
func ruleWorkingHours(e *Engine, sub Subject, _ Resource, ctx Context) *denial {
	if ctx.Hour >= e.WorkStart && ctx.Hour <= e.WorkEnd {
		return nil
	}
	if bypassesContextRules(sub) {
		return nil
	}
	return &denial{
		rule:   RuleOffHours,
		reason: fmt.Sprintf("Outside working hours (%02d:00-%02d:00).", e.WorkStart, e.WorkEnd),
	}
}

// ruleClearance denies when the subject's clearance is below the resource's
// classification (MAC). Applies to every role, including SYSTEM_ADMIN.
func ruleClearance(_ *Engine, sub Subject, res Resource, _ Context) *denial {
	if sub.Clearance.Weight() >= res.Classification.Weight() {
		return nil
	}
	return &denial{
		rule:   RuleMAC,
		reason: fmt.Sprintf("Insufficient clearance (%s required).", res.Classification),
	}
}

// ruleDepartment denies on a department mismatch (ABAC). A resource without
// a department is visible to all departments and the rule is skipped.
func ruleDepartment(_ *Engine, sub Subject, res Resource, _ Context) *denial {
	if res.Department == nil || *res.Department == "" {
		return nil
	}
	if bypassesContextRules(sub) {
		return nil
	}
	if sub.Department == *res.Department {
		return nil
	}
	return &denial{
		rule:   RuleABAC,
		reason: fmt.Sprintf("Department mismatch (%s).", *res.Department),
	}
}

// Evaluate runs the rule chain in order and returns the first denial, or an
// allow with no reason. Callers must Validate the subject first; an invalid
// subject here is a programming error upstream, and Evaluate denies it
// rather than guessing.
func (e *Engine) Evaluate(sub Subject, res Resource, ctx Context) Decision {
	if err := sub.Validate(); err != nil {
		return Decision{Allowed: false, Rule: RuleMAC, Reason: "Incomplete security profile."}
	}
	for _, r := range e.rules {
		if d := r(e, sub, res, ctx); d != nil {
			return Decision{Allowed: false, Rule: d.rule, Reason: d.reason}
		}
	}
	return Decision{Allowed: true}
}
