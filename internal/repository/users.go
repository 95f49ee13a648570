package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/wildid/wildid-server/internal/models"
)

// PostgresUserRepository implements UserRepository using PostgreSQL.
type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

// GetOrCreateByEmail returns the user owning email, creating it on first login.
func (r *PostgresUserRepository) GetOrCreateByEmail(ctx context.Context, email string, now time.Time) (*models.User, error) {
	query := `
		INSERT INTO users (id, email, created_at, is_active)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, created_at, last_login, is_active`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, uuid.New(), strings.ToLower(email), now))
	if err != nil {
		return nil, errors.Wrap(err, "repository.User.GetOrCreateByEmail")
	}
	return u, nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, email, created_at, last_login, is_active
		FROM users
		WHERE id = $1`
	u, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "repository.User.GetByID")
	}
	return u, nil
}

func (r *PostgresUserRepository) RecordLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE users SET last_login = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return errors.Wrap(err, "repository.User.RecordLogin")
	}
	return nil
}

// Delete removes the user; identifications go with it through the foreign key.
func (r *PostgresUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "repository.User.Delete")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "repository.User.Delete.RowsAffected")
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var lastLogin sql.NullTime
	if err := row.Scan(&u.ID, &u.Email, &u.CreatedAt, &lastLogin, &u.IsActive); err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return u, nil
}
