package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clinic-queue-api/internal/models"
)

// StaffUserRepository handles staff account lookups for authentication.
type StaffUserRepository struct {
	db *sqlx.DB
}

// NewStaffUserRepository constructs the repository.
func NewStaffUserRepository(db *sqlx.DB) *StaffUserRepository {
	return &StaffUserRepository{db: db}
}

// FindByEmail fetches an account by email (case-insensitive).
func (r *StaffUserRepository) FindByEmail(ctx context.Context, email string) (*models.StaffUser, error) {
	const query = `SELECT id, email, password_hash, full_name, role, active, last_login FROM staff_users WHERE LOWER(email) = LOWER($1)`
	var user models.StaffUser
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateLastLogin stamps a successful login.
func (r *StaffUserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE staff_users SET last_login = $1 WHERE id = $2`, ts, id); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}
