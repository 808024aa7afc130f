package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/voltaudit/voltaudit/pkg/models"
)

// UserRepository persists user accounts.
type UserRepository struct {
	db *sqlx.DB
}

// Create inserts a new user. A duplicate email maps to InvalidInput.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, active, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.PasswordHash, user.Active, user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.E(models.KindInvalidInput, "AUTH_002", "email already registered")
		}
		return models.Wrap(models.KindInternal, "AUTH_500", "failed to create user", err)
	}
	return nil
}

// GetByEmail fetches a user by email for credential checks.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`SELECT id, email, password_hash, active, created_at FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.E(models.KindNotFound, "AUTH_404", "user not found")
	}
	if err != nil {
		return nil, models.Wrap(models.KindInternal, "AUTH_500", "failed to load user", err)
	}
	return &user, nil
}

// GetByID fetches a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`SELECT id, email, password_hash, active, created_at FROM users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.E(models.KindNotFound, "AUTH_404", "user not found")
	}
	if err != nil {
		return nil, models.Wrap(models.KindInternal, "AUTH_500", "failed to load user", err)
	}
	return &user, nil
}

// isUniqueViolation detects PostgreSQL unique constraint errors without
// depending on a specific driver error type.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate key value")
}
