// enforce.go applies the rule-based access window at the route level:
// outside the configured hours every protected route answers 403 before any
// handler runs. SYSTEM_ADMIN is exempt. Resource-level mandatory and
// discretionary checks happen later, inside the enforcement point; this
// gate only keeps the platform closed overnight.
package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/securelms/securelms/internal/policy"
)

// AccessWindow rejects requests outside the working-hours window. Pass a
// nil clock to use wall time.
func AccessWindow(engine *policy.Engine, clock func() time.Time) gin.HandlerFunc {
	if clock == nil {
		clock = time.Now
	}
	return func(c *gin.Context) {
		hour := clock().Hour()
		if hour >= engine.WorkStart && hour <= engine.WorkEnd {
			c.Next()
			return
		}

		if id, ok := IdentityFrom(c); ok && policy.Role(id.Role) == policy.RoleSystemAdmin {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "The platform is unavailable outside working hours.",
		})
	}
}
