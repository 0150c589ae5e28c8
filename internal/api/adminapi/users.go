// users.go implements the administrator account-listing endpoint. Responses
// project accounts into a safe view: password hashes and MFA secrets never
// leave the database layer.
package adminapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/securelms/securelms/internal/db/models"
)

// UserStore is the subset of the user repository these handlers need.
type UserStore interface {
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error)
	CountUsers(ctx context.Context) (int, error)
}

// UserHandlers handles the admin account endpoints.
type UserHandlers struct {
	store UserStore
}

// NewUserHandlers creates a UserHandlers instance.
func NewUserHandlers(store UserStore) *UserHandlers {
	return &UserHandlers{store: store}
}

// @Summary      List users
// @Description  Get a paginated list of accounts with their policy attributes and lockout state. Requires SYSTEM_ADMIN.
// @Tags         Admin
// @Security     Bearer
// @Produce      json
// @Param        page      query  int  false  "Page number (default 1)"
// @Param        per_page  query  int  false  "Items per page, max 100 (default 50)"
// @Success      200  {object}  map[string]interface{}  "users, pagination"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Insufficient privileges"
// @Router       /api/v1/admin/users [get]
// ListUsersHandler lists accounts with pagination
// GET /api/v1/admin/users
func (h *UserHandlers) ListUsersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "50"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 50
		}
		offset := (page - 1) * perPage

		users, err := h.store.ListUsers(c.Request.Context(), perPage, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list users",
			})
			return
		}
		total, err := h.store.CountUsers(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to count users",
			})
			return
		}

		out := make([]gin.H, 0, len(users))
		for _, u := range users {
			out = append(out, gin.H{
				"id":                 u.ID,
				"email":              u.Email,
				"role":               u.Role,
				"clearance_level":    u.ClearanceLevel,
				"department":         u.Department,
				"failed_login_count": u.FailedLoginCount,
				"locked_until":       u.LockedUntil,
				"mfa_enabled":        u.MFAEnabled,
				"created_at":         u.CreatedAt,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"users": out,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}
