// resource_repository.go implements ResourceRepository, providing database
// queries for learning resources and the discretionary share grants their
// owners hand out.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/securelms/securelms/internal/db/models"
)

// ResourceRepository handles resource and share-grant database operations
type ResourceRepository struct {
	db *sqlx.DB
}

// NewResourceRepository creates a new ResourceRepository
func NewResourceRepository(db *sqlx.DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

const resourceColumns = `id, title, classification, department, owner_id, content_url, created_at, updated_at`

// CreateResource creates a new learning resource
func (r *ResourceRepository) CreateResource(ctx context.Context, res *models.Resource) error {
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	res.CreatedAt = time.Now()
	res.UpdatedAt = time.Now()

	query := `
		INSERT INTO resources (id, title, classification, department, owner_id, content_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		res.ID,
		res.Title,
		res.Classification,
		res.Department,
		res.OwnerID,
		res.ContentURL,
		res.CreatedAt,
		res.UpdatedAt,
	)

	return err
}

// GetResourceByID retrieves a resource by ID
func (r *ResourceRepository) GetResourceByID(ctx context.Context, resourceID string) (*models.Resource, error) {
	var res models.Resource
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1`
	err := r.db.GetContext(ctx, &res, query, resourceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListResources retrieves a paginated list of resources, newest first
func (r *ResourceRepository) ListResources(ctx context.Context, limit, offset int) ([]*models.Resource, error) {
	resources := make([]*models.Resource, 0)
	query := `SELECT ` + resourceColumns + ` FROM resources ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	err := r.db.SelectContext(ctx, &resources, query, limit, offset)
	return resources, err
}

// ListVisibleResources retrieves resources the user owns or holds a read
// grant on, newest first. Admin listings use ListResources instead.
func (r *ResourceRepository) ListVisibleResources(ctx context.Context, userID string, limit, offset int) ([]*models.Resource, error) {
	resources := make([]*models.Resource, 0)
	query := `
		SELECT DISTINCT r.id, r.title, r.classification, r.department, r.owner_id, r.content_url, r.created_at, r.updated_at
		FROM resources r
		LEFT JOIN resource_grants g ON g.resource_id = r.id AND g.grantee_id = $1 AND g.can_read = TRUE
		WHERE r.owner_id = $1 OR g.id IS NOT NULL
		ORDER BY r.created_at DESC
		LIMIT $2 OFFSET $3
	`
	err := r.db.SelectContext(ctx, &resources, query, userID, limit, offset)
	return resources, err
}

// UpsertGrant creates or replaces a share grant. Re-sharing with a grantee
// overwrites the previous permission pair rather than stacking grants.
func (r *ResourceRepository) UpsertGrant(ctx context.Context, grant *models.ResourceGrant) error {
	if grant.ID == "" {
		grant.ID = uuid.New().String()
	}
	grant.CreatedAt = time.Now()

	query := `
		INSERT INTO resource_grants (id, resource_id, grantee_id, can_read, can_write, granted_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (resource_id, grantee_id) DO UPDATE SET
			can_read = $4, can_write = $5, granted_by = $6, created_at = $7
	`

	_, err := r.db.ExecContext(ctx, query,
		grant.ID,
		grant.ResourceID,
		grant.GranteeID,
		grant.CanRead,
		grant.CanWrite,
		grant.GrantedBy,
		grant.CreatedAt,
	)

	return err
}

// GetGrant retrieves the grant a specific user holds on a resource, or nil
// when the resource was never shared with them.
func (r *ResourceRepository) GetGrant(ctx context.Context, resourceID, granteeID string) (*models.ResourceGrant, error) {
	var grant models.ResourceGrant
	query := `
		SELECT id, resource_id, grantee_id, can_read, can_write, granted_by, created_at
		FROM resource_grants
		WHERE resource_id = $1 AND grantee_id = $2
	`
	err := r.db.GetContext(ctx, &grant, query, resourceID, granteeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// ListGrants retrieves every grant on a resource
func (r *ResourceRepository) ListGrants(ctx context.Context, resourceID string) ([]*models.ResourceGrant, error) {
	grants := make([]*models.ResourceGrant, 0)
	query := `
		SELECT id, resource_id, grantee_id, can_read, can_write, granted_by, created_at
		FROM resource_grants
		WHERE resource_id = $1
		ORDER BY created_at DESC
	`
	err := r.db.SelectContext(ctx, &grants, query, resourceID)
	return grants, err
}

// RevokeGrant removes a grantee's access to a resource
func (r *ResourceRepository) RevokeGrant(ctx context.Context, resourceID, granteeID string) error {
	query := `DELETE FROM resource_grants WHERE resource_id = $1 AND grantee_id = $2`
	_, err := r.db.ExecContext(ctx, query, resourceID, granteeID)
	return err
}
