package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/securelms/securelms/internal/auth"
	"github.com/securelms/securelms/internal/policy"
)

// fixedClock returns a clock pinned to the given hour of the day.
func fixedClock(hour int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
	}
}

func newAccessWindowRouter(hour int, role string) *gin.Engine {
	r := gin.New()
	if role != "" {
		r.Use(func(c *gin.Context) {
			id := testIdentity()
			id.Role = role
			c.Set(ContextIdentity, id)
			c.Next()
		})
	}
	r.Use(AccessWindow(policy.NewEngine(policy.DefaultWorkStart, policy.DefaultWorkEnd), fixedClock(hour)))
	r.GET("/resource", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestAccessWindow_InsideHours(t *testing.T) {
	r := newAccessWindowRouter(12, "STUDENT")
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 at midday", w.Code)
	}
}

func TestAccessWindow_BoundariesInclusive(t *testing.T) {
	for _, hour := range []int{policy.DefaultWorkStart, policy.DefaultWorkEnd} {
		r := newAccessWindowRouter(hour, "STUDENT")
		req := httptest.NewRequest(http.MethodGet, "/resource", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("status at hour %d = %d, want 200 (boundaries inclusive)", hour, w.Code)
		}
	}
}

func TestAccessWindow_OutsideHoursBlocked(t *testing.T) {
	r := newAccessWindowRouter(3, "STUDENT")
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 at 3am", w.Code)
	}
}

func TestAccessWindow_AdminExempt(t *testing.T) {
	r := newAccessWindowRouter(3, string(policy.RoleSystemAdmin))
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for admin at 3am", w.Code)
	}
}

func TestAccessWindow_AnonymousOutsideHoursBlocked(t *testing.T) {
	// No identity in context: the admin exemption cannot apply.
	r := newAccessWindowRouter(2, "")
	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 for anonymous request at 2am", w.Code)
	}
}

func TestAccessWindow_CustomWindow(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextIdentity, auth.Identity{UserID: "u", Role: "STUDENT"})
		c.Next()
	})
	r.Use(AccessWindow(policy.NewEngine(9, 17), fixedClock(18)))
	r.GET("/resource", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/resource", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 at 18:00 with a 9-17 window", w.Code)
	}
}
