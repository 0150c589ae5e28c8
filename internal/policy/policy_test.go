package policy

import (
	"fmt"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

func newTestEngine() *Engine {
	return NewEngine(DefaultWorkStart, DefaultWorkEnd)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"PUBLIC", LevelPublic, false},
		{"internal", LevelInternal, false},
		{"  Confidential ", LevelConfidential, false},
		{"SECRET", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// Mandatory access control must apply to every clearance/classification pair
// regardless of role: a decision denies exactly when the subject's clearance
// weighs less than the resource's classification.
func TestEvaluateClearanceMatrix(t *testing.T) {
	e := newTestEngine()
	levels := []Level{LevelPublic, LevelInternal, LevelConfidential}
	roles := []Role{RoleStudent, RoleInstructor, RoleSystemAdmin}

	for _, role := range roles {
		for _, clearance := range levels {
			for _, classification := range levels {
				name := fmt.Sprintf("%s/%s/%s", role, clearance, classification)
				t.Run(name, func(t *testing.T) {
					sub := Subject{Role: role, Clearance: clearance}
					res := Resource{Classification: classification}
					d := e.Evaluate(sub, res, Context{Hour: 10})

					wantAllowed := clearance.Weight() >= classification.Weight()
					if d.Allowed != wantAllowed {
						t.Fatalf("allowed = %v, want %v (decision %+v)", d.Allowed, wantAllowed, d)
					}
					if !wantAllowed && d.Rule != RuleMAC {
						t.Fatalf("rule = %q, want %q", d.Rule, RuleMAC)
					}
				})
			}
		}
	}
}

// The time-of-day rule fires for every hour outside the window unless the
// subject is a system admin, and never fires inside the window.
func TestEvaluateWorkingHours(t *testing.T) {
	e := NewEngine(5, 23)
	for hour := 0; hour < 24; hour++ {
		inside := hour >= 5 && hour <= 23

		d := e.Evaluate(
			Subject{Role: RoleStudent, Clearance: LevelConfidential},
			Resource{Classification: LevelPublic},
			Context{Hour: hour},
		)
		if inside && !d.Allowed {
			t.Errorf("hour %d: student denied inside working hours: %+v", hour, d)
		}
		if !inside {
			if d.Allowed {
				t.Errorf("hour %d: student allowed outside working hours", hour)
			} else if d.Rule != RuleOffHours {
				t.Errorf("hour %d: rule = %q, want %q", hour, d.Rule, RuleOffHours)
			}
		}

		// Admins are exempt from the time rule at every hour.
		d = e.Evaluate(
			Subject{Role: RoleSystemAdmin, Clearance: LevelConfidential},
			Resource{Classification: LevelPublic},
			Context{Hour: hour},
		)
		if !d.Allowed {
			t.Errorf("hour %d: admin denied: %+v", hour, d)
		}
	}
}

func TestEvaluateWorkingHoursBoundariesInclusive(t *testing.T) {
	e := NewEngine(5, 23)
	sub := Subject{Role: RoleStudent, Clearance: LevelPublic}
	res := Resource{Classification: LevelPublic}

	for _, hour := range []int{5, 23} {
		if d := e.Evaluate(sub, res, Context{Hour: hour}); !d.Allowed {
			t.Errorf("hour %d should be inside the inclusive window: %+v", hour, d)
		}
	}
	for _, hour := range []int{4, 0} {
		if d := e.Evaluate(sub, res, Context{Hour: hour}); d.Allowed {
			t.Errorf("hour %d should be outside the window", hour)
		}
	}
}

func TestEvaluateDepartment(t *testing.T) {
	e := newTestEngine()
	tests := []struct {
		name        string
		sub         Subject
		res         Resource
		wantAllowed bool
		wantRule    string
	}{
		{
			name:        "matching department",
			sub:         Subject{Role: RoleStudent, Clearance: LevelInternal, Department: "CS"},
			res:         Resource{Classification: LevelInternal, Department: strPtr("CS")},
			wantAllowed: true,
		},
		{
			name:        "mismatched department",
			sub:         Subject{Role: RoleStudent, Clearance: LevelInternal, Department: "Math"},
			res:         Resource{Classification: LevelInternal, Department: strPtr("CS")},
			wantAllowed: false,
			wantRule:    RuleABAC,
		},
		{
			name:        "nil department visible to everyone",
			sub:         Subject{Role: RoleStudent, Clearance: LevelInternal, Department: "Math"},
			res:         Resource{Classification: LevelInternal, Department: nil},
			wantAllowed: true,
		},
		{
			name:        "empty department treated as public",
			sub:         Subject{Role: RoleStudent, Clearance: LevelInternal, Department: "Math"},
			res:         Resource{Classification: LevelInternal, Department: strPtr("")},
			wantAllowed: true,
		},
		{
			name:        "admin bypasses department mismatch",
			sub:         Subject{Role: RoleSystemAdmin, Clearance: LevelInternal, Department: "IT"},
			res:         Resource{Classification: LevelInternal, Department: strPtr("CS")},
			wantAllowed: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(tt.sub, tt.res, Context{Hour: 10})
			if d.Allowed != tt.wantAllowed {
				t.Fatalf("allowed = %v, want %v (%+v)", d.Allowed, tt.wantAllowed, d)
			}
			if !tt.wantAllowed && d.Rule != tt.wantRule {
				t.Fatalf("rule = %q, want %q", d.Rule, tt.wantRule)
			}
		})
	}
}

// The chain must short-circuit: when an earlier rule denies, the decision
// carries that rule's reason even if later rules would also have denied.
func TestEvaluateShortCircuitOrder(t *testing.T) {
	e := NewEngine(5, 23)

	// This subject fails all three rules at hour 2: off-hours, clearance,
	// and department. Only the off-hours reason may surface.
	sub := Subject{Role: RoleStudent, Clearance: LevelPublic, Department: "Math"}
	res := Resource{Classification: LevelConfidential, Department: strPtr("CS")}

	d := e.Evaluate(sub, res, Context{Hour: 2})
	if d.Allowed || d.Rule != RuleOffHours {
		t.Fatalf("expected off-hours denial first, got %+v", d)
	}

	// Inside working hours the MAC denial must come before ABAC.
	d = e.Evaluate(sub, res, Context{Hour: 10})
	if d.Allowed || d.Rule != RuleMAC {
		t.Fatalf("expected MAC denial before ABAC, got %+v", d)
	}
}

// Spec scenarios.
func TestEvaluateScenarios(t *testing.T) {
	e := newTestEngine()

	// Student with PUBLIC clearance in CS reading a CONFIDENTIAL CS resource
	// at 10:00: denied, with the required classification in the reason.
	d := e.Evaluate(
		Subject{Role: RoleStudent, Clearance: LevelPublic, Department: "CS"},
		Resource{Classification: LevelConfidential, Department: strPtr("CS")},
		Context{Hour: 10},
	)
	if d.Allowed {
		t.Fatal("expected deny for insufficient clearance")
	}
	if d.Rule != RuleMAC {
		t.Fatalf("rule = %q, want MAC", d.Rule)
	}
	if want := "CONFIDENTIAL"; !strings.Contains(d.Reason, want) {
		t.Fatalf("reason %q does not cite %q", d.Reason, want)
	}

	// Same subject, public departmentless resource: allowed, no reason.
	d = e.Evaluate(
		Subject{Role: RoleStudent, Clearance: LevelPublic, Department: "CS"},
		Resource{Classification: LevelPublic, Department: nil},
		Context{Hour: 10},
	)
	if !d.Allowed || d.Reason != "" {
		t.Fatalf("expected clean allow, got %+v", d)
	}

	// Admin with PUBLIC clearance and a CONFIDENTIAL resource: still denied,
	// MAC applies to admins at any hour.
	for _, hour := range []int{2, 10, 23} {
		d = e.Evaluate(
			Subject{Role: RoleSystemAdmin, Clearance: LevelPublic},
			Resource{Classification: LevelConfidential},
			Context{Hour: hour},
		)
		if d.Allowed || d.Rule != RuleMAC {
			t.Fatalf("hour %d: admin must fail MAC, got %+v", hour, d)
		}
	}
}

func TestEvaluateRejectsIncompleteSubject(t *testing.T) {
	e := newTestEngine()
	for _, sub := range []Subject{
		{Role: "", Clearance: LevelPublic},
		{Role: RoleStudent, Clearance: ""},
		{Role: "TEACHER", Clearance: LevelPublic},
	} {
		if err := sub.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", sub)
		}
		if d := e.Evaluate(sub, Resource{Classification: LevelPublic}, Context{Hour: 10}); d.Allowed {
			t.Errorf("Evaluate allowed incomplete subject %+v", sub)
		}
	}
}

func TestNewEngineClampsBadWindow(t *testing.T) {
	e := NewEngine(-1, 99)
	if e.WorkStart != DefaultWorkStart || e.WorkEnd != DefaultWorkEnd {
		t.Fatalf("window = %d-%d, want defaults", e.WorkStart, e.WorkEnd)
	}
}
