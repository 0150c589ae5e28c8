// Package resources - handlers.go implements the learning-resource
// endpoints. Reads go through the enforcement point; creation and sharing
// are owner operations audited directly.
package resources

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/securelms/securelms/internal/audit"
	"github.com/securelms/securelms/internal/db/models"
	"github.com/securelms/securelms/internal/enforce"
	"github.com/securelms/securelms/internal/middleware"
	"github.com/securelms/securelms/internal/policy"
)

// Store is the subset of the resource repository these handlers need.
type Store interface {
	CreateResource(ctx context.Context, res *models.Resource) error
	GetResourceByID(ctx context.Context, resourceID string) (*models.Resource, error)
	ListResources(ctx context.Context, limit, offset int) ([]*models.Resource, error)
	ListVisibleResources(ctx context.Context, userID string, limit, offset int) ([]*models.Resource, error)
	UpsertGrant(ctx context.Context, grant *models.ResourceGrant) error
	ListGrants(ctx context.Context, resourceID string) ([]*models.ResourceGrant, error)
	RevokeGrant(ctx context.Context, resourceID, granteeID string) error
}

// Recorder is the audit sink.
type Recorder interface {
	Record(ctx context.Context, ev audit.Event)
}

// Handlers bundles the resource endpoints.
type Handlers struct {
	store    Store
	enforcer *enforce.Enforcer
	recorder Recorder
}

// NewHandlers creates the resource handler set.
func NewHandlers(store Store, enforcer *enforce.Enforcer, recorder Recorder) *Handlers {
	return &Handlers{store: store, enforcer: enforcer, recorder: recorder}
}

// CreateResourceRequest sets the resource's immutable security attributes
// at creation time.
type CreateResourceRequest struct {
	Title          string  `json:"title" binding:"required"`
	Classification string  `json:"classification" binding:"required"`
	Department     *string `json:"department"`
	ContentURL     string  `json:"content_url" binding:"required"`
}

// @Summary      Create resource
// @Description  Create a learning resource owned by the caller. Classification and department are fixed at creation.
// @Tags         Resources
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  CreateResourceRequest  true  "Resource creation request"
// @Success      201  {object}  map[string]interface{}  "resource"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/resources [post]
// CreateResourceHandler creates a resource owned by the caller
// POST /api/v1/resources
func (h *Handlers) CreateResourceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		var req CreateResourceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}

		level, err := policy.ParseLevel(req.Classification)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Classification must be PUBLIC, INTERNAL, or CONFIDENTIAL",
			})
			return
		}

		res := &models.Resource{
			Title:          req.Title,
			Classification: string(level),
			Department:     req.Department,
			OwnerID:        id.UserID,
			ContentURL:     req.ContentURL,
		}
		if err := h.store.CreateResource(c.Request.Context(), res); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create resource",
			})
			return
		}

		h.recorder.Record(c.Request.Context(), audit.Event{
			UserID:     id.UserID,
			Action:     audit.ActionResourceCreated,
			Status:     models.AuditStatusSuccess,
			IPAddress:  c.ClientIP(),
			ResourceID: res.ID,
			Details:    res.Classification,
		})

		c.JSON(http.StatusCreated, gin.H{
			"resource": res,
		})
	}
}

// @Summary      Get resource
// @Description  Retrieve a resource. The request passes the full policy chain (working hours, clearance, department) and the discretionary ownership/grant check.
// @Tags         Resources
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Resource ID"
// @Success      200  {object}  map[string]interface{}  "resource"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Access denied"
// @Failure      404  {object}  map[string]interface{}  "Resource not found"
// @Router       /api/v1/resources/{id} [get]
// GetResourceHandler retrieves a resource through the enforcement point
// GET /api/v1/resources/:id
func (h *Handlers) GetResourceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		resourceID := c.Param("id")
		ctx := enforce.WithClientIP(c.Request.Context(), c.ClientIP())

		decision, err := h.enforcer.Authorize(ctx, id, resourceID, enforce.ActionRead)
		if err != nil {
			switch {
			case errors.Is(err, enforce.ErrResourceNotFound):
				c.JSON(http.StatusNotFound, gin.H{
					"error": "Resource not found",
				})
			case errors.Is(err, enforce.ErrAccessDenied):
				c.JSON(http.StatusForbidden, gin.H{
					"error": decision.Reason,
				})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to authorize access",
				})
			}
			return
		}

		res, err := h.store.GetResourceByID(c.Request.Context(), resourceID)
		if err != nil || res == nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve resource",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"resource": res,
		})
	}
}

// ShareResourceRequest grants another user discretionary access.
type ShareResourceRequest struct {
	GranteeID string `json:"grantee_id" binding:"required"`
	CanRead   bool   `json:"can_read"`
	CanWrite  bool   `json:"can_write"`
}

// @Summary      Share resource
// @Description  Grant another user read and/or write access. Only the owner may share; re-sharing replaces the previous grant.
// @Tags         Resources
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string                true  "Resource ID"
// @Param        body  body  ShareResourceRequest  true  "Share request"
// @Success      200  {object}  map[string]interface{}  "grant"
// @Failure      400  {object}  map[string]interface{}  "Invalid request"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Only the owner may share"
// @Failure      404  {object}  map[string]interface{}  "Resource not found"
// @Router       /api/v1/resources/{id}/share [post]
// ShareResourceHandler creates or replaces a share grant, owner only
// POST /api/v1/resources/:id/share
func (h *Handlers) ShareResourceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		var req ShareResourceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request: " + err.Error(),
			})
			return
		}
		if !req.CanRead && !req.CanWrite {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Grant must include read or write permission",
			})
			return
		}
		if req.GranteeID == id.UserID {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Cannot share a resource with yourself",
			})
			return
		}

		resourceID := c.Param("id")
		res, err := h.store.GetResourceByID(c.Request.Context(), resourceID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve resource",
			})
			return
		}
		if res == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Resource not found",
			})
			return
		}

		if res.OwnerID != id.UserID {
			h.recorder.Record(c.Request.Context(), audit.Event{
				UserID:     id.UserID,
				Action:     audit.ActionPermissionGrant,
				Status:     models.AuditStatusBlocked,
				IPAddress:  c.ClientIP(),
				ResourceID: resourceID,
				Details:    "share attempt by non-owner",
			})
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Only the owner may share this resource",
			})
			return
		}

		grant := &models.ResourceGrant{
			ResourceID: resourceID,
			GranteeID:  req.GranteeID,
			CanRead:    req.CanRead,
			CanWrite:   req.CanWrite,
			GrantedBy:  id.UserID,
		}
		if err := h.store.UpsertGrant(c.Request.Context(), grant); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create grant",
			})
			return
		}

		h.recorder.Record(c.Request.Context(), audit.Event{
			UserID:     id.UserID,
			Action:     audit.ActionPermissionGrant,
			Status:     models.AuditStatusSuccess,
			IPAddress:  c.ClientIP(),
			ResourceID: resourceID,
			Details:    "grantee=" + req.GranteeID + " read=" + strconv.FormatBool(req.CanRead) + " write=" + strconv.FormatBool(req.CanWrite),
		})

		c.JSON(http.StatusOK, gin.H{
			"grant": grant,
		})
	}
}

// @Summary      List grants
// @Description  List every grant on a resource. Restricted to the owner and SYSTEM_ADMIN.
// @Tags         Resources
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Resource ID"
// @Success      200  {object}  map[string]interface{}  "grants"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Failure      404  {object}  map[string]interface{}  "Resource not found"
// @Router       /api/v1/resources/{id}/share [get]
// ListGrantsHandler lists the grants on a resource, owner or admin only
// GET /api/v1/resources/:id/share
func (h *Handlers) ListGrantsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		resourceID := c.Param("id")
		res, err := h.store.GetResourceByID(c.Request.Context(), resourceID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve resource",
			})
			return
		}
		if res == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Resource not found",
			})
			return
		}

		if res.OwnerID != id.UserID && policy.Role(id.Role) != policy.RoleSystemAdmin {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Only the owner may view grants on this resource",
			})
			return
		}

		grants, err := h.store.ListGrants(c.Request.Context(), resourceID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list grants",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"grants": grants,
		})
	}
}

// @Summary      Revoke grant
// @Description  Remove a grantee's access to a resource. Only the owner may revoke.
// @Tags         Resources
// @Security     Bearer
// @Produce      json
// @Param        id          path  string  true  "Resource ID"
// @Param        grantee_id  path  string  true  "Grantee user ID"
// @Success      200  {object}  map[string]interface{}  "revoked"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      403  {object}  map[string]interface{}  "Only the owner may revoke"
// @Failure      404  {object}  map[string]interface{}  "Resource not found"
// @Router       /api/v1/resources/{id}/share/{grantee_id} [delete]
// RevokeGrantHandler removes a share grant, owner only
// DELETE /api/v1/resources/:id/share/:grantee_id
func (h *Handlers) RevokeGrantHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		resourceID := c.Param("id")
		granteeID := c.Param("grantee_id")

		res, err := h.store.GetResourceByID(c.Request.Context(), resourceID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to retrieve resource",
			})
			return
		}
		if res == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Resource not found",
			})
			return
		}

		if res.OwnerID != id.UserID {
			h.recorder.Record(c.Request.Context(), audit.Event{
				UserID:     id.UserID,
				Action:     audit.ActionPermissionRevoke,
				Status:     models.AuditStatusBlocked,
				IPAddress:  c.ClientIP(),
				ResourceID: resourceID,
				Details:    "revoke attempt by non-owner",
			})
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Only the owner may revoke grants on this resource",
			})
			return
		}

		if err := h.store.RevokeGrant(c.Request.Context(), resourceID, granteeID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to revoke grant",
			})
			return
		}

		h.recorder.Record(c.Request.Context(), audit.Event{
			UserID:     id.UserID,
			Action:     audit.ActionPermissionRevoke,
			Status:     models.AuditStatusSuccess,
			IPAddress:  c.ClientIP(),
			ResourceID: resourceID,
			Details:    "grantee=" + granteeID,
		})

		c.JSON(http.StatusOK, gin.H{
			"revoked": granteeID,
		})
	}
}

// @Summary      List resources
// @Description  List resources visible to the caller: owned plus granted. SYSTEM_ADMIN sees everything.
// @Tags         Resources
// @Security     Bearer
// @Produce      json
// @Param        page      query  int  false  "Page number (default 1)"
// @Param        per_page  query  int  false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "resources, pagination"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Router       /api/v1/resources [get]
// ListResourcesHandler lists resources visible to the caller
// GET /api/v1/resources?page=1&per_page=20
func (h *Handlers) ListResourcesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := middleware.IdentityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}
		offset := (page - 1) * perPage

		var (
			list []*models.Resource
			err  error
		)
		if policy.Role(id.Role) == policy.RoleSystemAdmin {
			list, err = h.store.ListResources(c.Request.Context(), perPage, offset)
		} else {
			list, err = h.store.ListVisibleResources(c.Request.Context(), id.UserID, perPage, offset)
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list resources",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"resources": list,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
			},
		})
	}
}
