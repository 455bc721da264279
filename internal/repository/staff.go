package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"telya.io/werkstatt/internal/domain"
	apperrors "telya.io/werkstatt/internal/pkg/errors"
)

func scanStaff(row pgx.Row) (*domain.StaffUser, error) {
	var (
		u     domain.StaffUser
		roles []string
	)
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.PasswordHash,
		&roles, &u.Active, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		u.Roles = append(u.Roles, domain.StaffRole(r))
	}
	return &u, nil
}

// StaffByUsername loads an active staff user for login.
func (r *Repository) StaffByUsername(ctx context.Context, username string) (*domain.StaffUser, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, display_name, password_hash, roles, active, created_at
		 FROM staff_users
		 WHERE username = $1 AND active`, username)

	user, err := scanStaff(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load staff user %s: %w", username, err)
	}
	return user, nil
}

// StaffByID loads a staff user by primary key.
func (r *Repository) StaffByID(ctx context.Context, id string) (*domain.StaffUser, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, display_name, password_hash, roles, active, created_at
		 FROM staff_users
		 WHERE id = $1`, id)

	user, err := scanStaff(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load staff user %s: %w", id, err)
	}
	return user, nil
}

// CreateStaff inserts a staff user. Used by the seed path and admin surface.
func (r *Repository) CreateStaff(ctx context.Context, u *domain.StaffUser) error {
	roles := make([]string, 0, len(u.Roles))
	for _, role := range u.Roles {
		roles = append(roles, string(role))
	}
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO staff_users (id, username, display_name, password_hash, roles, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.DisplayName, u.PasswordHash, roles, u.Active, u.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert staff user %s: %w", u.Username, err)
	}
	return nil
}

// ActiveStaffIDsByRoles returns the distinct ids of active staff users who
// hold at least one of the given roles. Feeds the notification fan-out; the
// DISTINCT guarantees one row per user even with overlapping roles.
func (r *Repository) ActiveStaffIDsByRoles(ctx context.Context, roles []domain.StaffRole) ([]string, error) {
	wanted := make([]string, 0, len(roles))
	for _, role := range roles {
		wanted = append(wanted, string(role))
	}

	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT id FROM staff_users
		 WHERE active AND roles && $1::text[]
		 ORDER BY id`, wanted)
	if err != nil {
		return nil, fmt.Errorf("load staff by roles: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan staff id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
