// audit_repository.go implements AuditRepository, the persistence behind the
// tamper-evident audit chain. The tail read and the conditional insert
// together give the chain its append-only guarantee: an insert only lands if
// the chain tail it was computed against is still the tail.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/securelms/securelms/internal/audit"
	"github.com/securelms/securelms/internal/db/models"
)

const pgErrUniqueViolation = "23505"

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

const auditColumns = `seq, id, ts, user_id, action, status, ip_address, resource_id, details, log_hash, previous_hash`

// Latest returns the current chain tail, or nil on an empty chain.
func (r *AuditRepository) Latest(ctx context.Context) (*models.AuditLog, error) {
	var entry models.AuditLog
	query := `SELECT ` + auditColumns + ` FROM audit_logs ORDER BY seq DESC LIMIT 1`
	err := r.db.GetContext(ctx, &entry, query)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Insert appends one entry, conditioned on expectedPrev still being the
// stored tail hash (or the chain still being empty when expectedPrev is the
// root sentinel). A lost race inserts zero rows and returns
// audit.ErrChainConflict so the caller can recompute against the new tail.
// The tail check alone is not enough across processes: under READ COMMITTED
// two writers can both see the same tail before either commits, so the
// UNIQUE constraint on previous_hash is the backstop; a second writer
// claiming the same predecessor gets a unique violation, mapped to the same
// conflict error.
func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditLog, expectedPrev string) error {
	query := `
		INSERT INTO audit_logs (id, ts, user_id, action, status, ip_address, resource_id, details, log_hash, previous_hash)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		WHERE COALESCE(
			(SELECT log_hash FROM audit_logs ORDER BY seq DESC LIMIT 1),
			$11
		) = $10
	`

	res, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Timestamp,
		entry.UserID,
		entry.Action,
		entry.Status,
		entry.IPAddress,
		entry.ResourceID,
		entry.Details,
		entry.LogHash,
		expectedPrev,
		models.ChainRoot,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgErrUniqueViolation {
			return audit.ErrChainConflict
		}
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return audit.ErrChainConflict
	}
	return nil
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	UserID     *string
	Action     *string
	Status     *string
	ResourceID *string
	StartDate  *time.Time
	EndDate    *time.Time
}

// ListAuditLogs retrieves audit logs with optional filters and pagination,
// newest first, plus the total matching count.
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	countQuery := `SELECT COUNT(*) FROM audit_logs WHERE 1=1`
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE 1=1`

	args := make([]interface{}, 0)
	paramIndex := 1

	addFilter := func(clause string, value interface{}) {
		cond := fmt.Sprintf(clause, paramIndex)
		countQuery += cond
		query += cond
		args = append(args, value)
		paramIndex++
	}

	if filters.UserID != nil {
		addFilter(` AND user_id = $%d`, *filters.UserID)
	}
	if filters.Action != nil {
		addFilter(` AND action = $%d`, *filters.Action)
	}
	if filters.Status != nil {
		addFilter(` AND status = $%d`, *filters.Status)
	}
	if filters.ResourceID != nil {
		addFilter(` AND resource_id = $%d`, *filters.ResourceID)
	}
	if filters.StartDate != nil {
		addFilter(` AND ts >= $%d`, *filters.StartDate)
	}
	if filters.EndDate != nil {
		addFilter(` AND ts <= $%d`, *filters.EndDate)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY seq DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	logs := make([]*models.AuditLog, 0)
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// ListChain returns every entry in append order. Chain verification walks
// this slice recomputing the hash linkage.
func (r *AuditRepository) ListChain(ctx context.Context) ([]models.AuditLog, error) {
	logs := make([]models.AuditLog, 0)
	query := `SELECT ` + auditColumns + ` FROM audit_logs ORDER BY seq ASC`
	if err := r.db.SelectContext(ctx, &logs, query); err != nil {
		return nil, err
	}
	return logs, nil
}
