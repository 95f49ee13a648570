// Package repository holds the storage interfaces of the server and their
// PostgreSQL, Redis and in-memory implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wildid/wildid-server/internal/models"
)

// ErrNotFound is returned when a lookup or a conditional update matched no row.
var ErrNotFound = errors.New("repository: not found")

// TrustUpdateFunc computes the next record from the current one. It may be
// called more than once when an optimistic transaction is retried.
type TrustUpdateFunc func(current models.TrustRecord) (models.TrustRecord, error)

// TrustStore persists trust records. Update is an atomic read-modify-write
// for one key.
type TrustStore interface {
	Get(ctx context.Context, key string) (models.TrustRecord, bool, error)
	Update(ctx context.Context, key string, fn TrustUpdateFunc) (models.TrustRecord, error)
}

// ChallengeResolveFunc inspects and may mutate a challenge. Returning
// remove=true deletes it, otherwise the mutated challenge is stored back.
// The returned error is passed through to the caller of Resolve after the
// mutation is applied.
type ChallengeResolveFunc func(ch *models.CaptchaChallenge) (remove bool, err error)

// ChallengeStore persists CAPTCHA challenges. Resolve runs under a per-id
// lock so that one challenge is never consumed twice.
type ChallengeStore interface {
	Save(ctx context.Context, ch *models.CaptchaChallenge) error
	Resolve(ctx context.Context, id string, fn ChallengeResolveFunc) error
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// TokenBlacklist tracks revoked auth tokens by jti until they expire.
type TokenBlacklist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// UserRepository defines user persistence.
type UserRepository interface {
	GetOrCreateByEmail(ctx context.Context, email string, now time.Time) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	RecordLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// LoginTokenStore persists magic-link tokens. ConsumeLoginToken marks a
// token used only if it is unused and unexpired, in one atomic step.
type LoginTokenStore interface {
	CreateLoginToken(ctx context.Context, token *models.LoginToken) error
	ConsumeLoginToken(ctx context.Context, tokenHash string, now time.Time) (*models.LoginToken, error)
}

// IdentificationRepository defines identification history persistence.
type IdentificationRepository interface {
	Create(ctx context.Context, ident *models.Identification) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Identification, error)
	Get(ctx context.Context, id, userID uuid.UUID) (*models.Identification, error)
	SetFeedback(ctx context.Context, id, userID uuid.UUID, feedback, comment string, at time.Time) error
}
