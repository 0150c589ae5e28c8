package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

// applySecurityHeaders runs a GET / through SecurityHeaders and returns the
// response recorder so callers can inspect headers.
func applySecurityHeaders(policy HeaderPolicy) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(SecurityHeaders(policy))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	r.ServeHTTP(w, req)
	return w
}

func TestDefaultHeaderPolicy(t *testing.T) {
	policy := DefaultHeaderPolicy()

	if !policy.HSTSEnabled {
		t.Error("DefaultHeaderPolicy().HSTSEnabled = false, want true")
	}
	if policy.HSTSMaxAge != 31536000 {
		t.Errorf("HSTSMaxAge = %d, want 31536000", policy.HSTSMaxAge)
	}
	if !policy.HSTSIncludeSubdomains {
		t.Error("HSTSIncludeSubdomains = false, want true")
	}
}

func TestSecurityHeaders_HSTS(t *testing.T) {
	t.Run("hsts with subdomains", func(t *testing.T) {
		w := applySecurityHeaders(HeaderPolicy{
			HSTSEnabled:           true,
			HSTSMaxAge:            31536000,
			HSTSIncludeSubdomains: true,
		})
		hsts := w.Header().Get("Strict-Transport-Security")
		if !strings.Contains(hsts, "max-age=31536000") {
			t.Errorf("HSTS = %q, want to contain max-age=31536000", hsts)
		}
		if !strings.Contains(hsts, "includeSubDomains") {
			t.Errorf("HSTS = %q, want to contain includeSubDomains", hsts)
		}
	})

	t.Run("hsts without subdomains", func(t *testing.T) {
		w := applySecurityHeaders(HeaderPolicy{HSTSEnabled: true, HSTSMaxAge: 86400})
		hsts := w.Header().Get("Strict-Transport-Security")
		if hsts != "max-age=86400" {
			t.Errorf("HSTS = %q, want max-age=86400", hsts)
		}
	})

	t.Run("hsts disabled", func(t *testing.T) {
		w := applySecurityHeaders(HeaderPolicy{HSTSEnabled: false})
		if got := w.Header().Get("Strict-Transport-Security"); got != "" {
			t.Errorf("HSTS should be absent when disabled, got %q", got)
		}
	})
}

func TestSecurityHeaders_FixedHeaders(t *testing.T) {
	// The API header set does not depend on the policy knobs.
	w := applySecurityHeaders(HeaderPolicy{})
	tests := []struct{ header, want string }{
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
		{"Referrer-Policy", "no-referrer"},
		{"Cross-Origin-Opener-Policy", "same-origin"},
		{"Cross-Origin-Resource-Policy", "same-origin"},
		{"Cache-Control", "no-store"},
	}
	for _, tt := range tests {
		if got := w.Header().Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestSecurityHeaders_PresentOnErrorResponses(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(DefaultHeaderPolicy()))
	r.GET("/denied", func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient privileges"})
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/denied", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control on error response = %q, want no-store", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options on error response = %q, want DENY", got)
	}
}
