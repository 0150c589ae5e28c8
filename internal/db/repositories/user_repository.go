// Package repositories implements the data access layer (repository pattern) for SecureLMS.
// Each repository type encapsulates all database queries for a domain entity.
// Handlers never issue SQL directly; all database access goes through this layer.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/securelms/securelms/internal/db/models"
)

// UserRepository handles user database operations. The login-state
// mutations (failure counter, lockout, reset) are single conditional
// statements so concurrent attempts against one account serialize in the
// database rather than in application code.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, password_hash, role, clearance_level, department,
		failed_login_count, locked_until, mfa_enabled, mfa_secret, created_at, updated_at`

// CreateUser creates a new user account
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()

	query := `
		INSERT INTO users (id, email, password_hash, role, clearance_level, department,
			failed_login_count, locked_until, mfa_enabled, mfa_secret, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.ClearanceLevel,
		user.Department,
		user.FailedLoginCount,
		user.LockedUntil,
		user.MFAEnabled,
		user.MFASecret,
		user.CreatedAt,
		user.UpdatedAt,
	)

	return err
}

// GetUserByID retrieves a user by ID
func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	err := r.db.GetContext(ctx, &user, query, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmail retrieves a user by email. Callers pass the address already
// normalized to lower case.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	err := r.db.GetContext(ctx, &user, query, email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// RecordFailedLogin applies the failed-attempt transition in one statement:
// increment the counter and, when the new count reaches threshold, open the
// lockout window. Returns the post-increment count and whether this call
// engaged the lock.
func (r *UserRepository) RecordFailedLogin(ctx context.Context, userID string, threshold int, lockFor time.Duration) (int, bool, error) {
	query := `
		UPDATE users
		SET failed_login_count = failed_login_count + 1,
		    locked_until = CASE
		        WHEN failed_login_count + 1 >= $2
		        THEN NOW() + make_interval(secs => $3)
		        ELSE locked_until
		    END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_count
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, userID, threshold, lockFor.Seconds()).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, false, sql.ErrNoRows
	}
	if err != nil {
		return 0, false, err
	}

	return count, count >= threshold, nil
}

// ResetLoginState clears the failure counter and any lockout after a
// successful authentication.
func (r *UserRepository) ResetLoginState(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET failed_login_count = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID)
	return err
}

// UpdatePassword replaces the stored hash. The reset of the login state is
// deliberate: a password change proves control of the account.
func (r *UserRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, failed_login_count = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID, passwordHash)
	return err
}

// SetPendingMFASecret stores a freshly generated secret without enabling
// MFA. Login ignores the secret until activation flips mfa_enabled.
func (r *UserRepository) SetPendingMFASecret(ctx context.Context, userID, secret string) error {
	query := `
		UPDATE users
		SET mfa_enabled = FALSE, mfa_secret = $2, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, userID, secret)
	return err
}

// ActivateMFA enables MFA for an account that holds a pending secret. The
// guard condition keeps activation from enabling MFA with no secret stored.
func (r *UserRepository) ActivateMFA(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET mfa_enabled = TRUE, updated_at = NOW()
		WHERE id = $1 AND mfa_secret IS NOT NULL
	`
	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("no pending MFA secret for user %s", userID)
	}
	return nil
}

// CountUsers returns the total number of accounts (seed idempotency check)
func (r *UserRepository) CountUsers(ctx context.Context) (int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`)
	return total, err
}

// ListUsers retrieves a paginated list of users
func (r *UserRepository) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	var users []*models.User
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	err := r.db.SelectContext(ctx, &users, query, limit, offset)
	if users == nil {
		users = make([]*models.User, 0)
	}
	return users, err
}
