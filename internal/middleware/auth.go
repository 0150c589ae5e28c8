// Package middleware provides Gin HTTP middleware for authentication,
// role gates, the access-window policy, rate limiting, security headers,
// and request metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RateLimit → Auth → Enforce → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to blunt brute-force attempts before any
// crypto work. Auth populates the identity; the enforcement gate and role
// checks read from that context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/securelms/securelms/internal/auth"
	"github.com/securelms/securelms/internal/policy"
)

// Context keys set by AuthMiddleware.
const (
	ContextIdentity = "identity"
	ContextUserID   = "user_id"
)

// AuthMiddleware validates the session token and loads the identity into
// the request context. The token is self-contained: no user lookup happens
// here, so a deleted account stays valid until its session expires (the
// session TTL bounds that exposure).
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must start with 'Bearer '",
			})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is empty",
			})
			return
		}

		claims, err := auth.ValidateSessionToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired session",
			})
			return
		}

		// A token without a known role and clearance is an incomplete
		// profile; refuse it here so it never reaches a policy decision.
		subject := policy.Subject{
			Role:      policy.Role(claims.Role),
			Clearance: policy.Level(claims.Clearance),
		}
		if err := subject.Validate(); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired session",
			})
			return
		}

		id := auth.Identity{
			UserID:     claims.UserID,
			Email:      claims.Email,
			Role:       claims.Role,
			Clearance:  claims.Clearance,
			Department: claims.Department,
		}
		c.Set(ContextIdentity, id)
		c.Set(ContextUserID, id.UserID)

		c.Next()
	}
}

// IdentityFrom extracts the authenticated identity set by AuthMiddleware.
func IdentityFrom(c *gin.Context) (auth.Identity, bool) {
	v, ok := c.Get(ContextIdentity)
	if !ok {
		return auth.Identity{}, false
	}
	id, ok := v.(auth.Identity)
	return id, ok
}

// RequireRole aborts with 403 unless the authenticated identity holds one
// of the given roles. Runs after AuthMiddleware.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}
		if _, ok := allowed[id.Role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Insufficient privileges",
			})
			return
		}
		c.Next()
	}
}
