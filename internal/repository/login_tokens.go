package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/wildid/wildid-server/internal/models"
)

// PostgresLoginTokenStore implements LoginTokenStore using PostgreSQL.
type PostgresLoginTokenStore struct {
	db *sql.DB
}

func NewPostgresLoginTokenStore(db *sql.DB) *PostgresLoginTokenStore {
	return &PostgresLoginTokenStore{db: db}
}

func (s *PostgresLoginTokenStore) CreateLoginToken(ctx context.Context, t *models.LoginToken) error {
	query := `
		INSERT INTO login_tokens (id, email, token_hash, request_ip, created_at, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, $6, false)`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.Email, t.TokenHash, t.RequestIP, t.CreatedAt, t.ExpiresAt,
	)
	return errors.Wrap(err, "repository.LoginToken.Create")
}

// ConsumeLoginToken flips used in the same statement that checks it, so of
// two concurrent consumers exactly one gets the row back.
func (s *PostgresLoginTokenStore) ConsumeLoginToken(ctx context.Context, tokenHash string, now time.Time) (*models.LoginToken, error) {
	query := `
		UPDATE login_tokens
		SET used = true, used_at = $2
		WHERE token_hash = $1 AND used = false AND expires_at > $2
		RETURNING id, email, request_ip, created_at, expires_at`
	t := &models.LoginToken{TokenHash: tokenHash, Used: true, UsedAt: &now}
	err := s.db.QueryRowContext(ctx, query, tokenHash, now).Scan(
		&t.ID, &t.Email, &t.RequestIP, &t.CreatedAt, &t.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "repository.LoginToken.Consume")
	}
	return t, nil
}
