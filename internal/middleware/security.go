// security.go stamps protective headers on every response. The backend
// serves JSON to a separate frontend, so the header set is the locked-down
// API variant: responses must never be framed, embedded, sniffed as HTML,
// or cached in shared caches (they carry account state and audit data).
// Only the HSTS knobs are configurable; see config.HeadersConfig.
package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// HeaderPolicy controls the deployment-dependent part of the header set.
type HeaderPolicy struct {
	// HSTSEnabled turns Strict-Transport-Security on. Disable when TLS
	// terminates at a proxy that sets its own HSTS header.
	HSTSEnabled bool
	// HSTSMaxAge is the max-age directive in seconds.
	HSTSMaxAge int
	// HSTSIncludeSubdomains extends the policy to subdomains.
	HSTSIncludeSubdomains bool
}

// DefaultHeaderPolicy returns the production policy: one year of HSTS
// covering subdomains.
func DefaultHeaderPolicy() HeaderPolicy {
	return HeaderPolicy{
		HSTSEnabled:           true,
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
	}
}

// SecurityHeaders adds the protective header set to all responses,
// including error responses produced by later middleware.
func SecurityHeaders(policy HeaderPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if policy.HSTSEnabled {
			hsts := "max-age=" + strconv.Itoa(policy.HSTSMaxAge)
			if policy.HSTSIncludeSubdomains {
				hsts += "; includeSubDomains"
			}
			c.Header("Strict-Transport-Security", hsts)
		}

		// Fixed headers for a JSON-only surface.
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")
		c.Header("Cross-Origin-Resource-Policy", "same-origin")
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}
