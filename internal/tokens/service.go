// Package tokens issues and redeems single-use magic-link login tokens.
package tokens

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/wildid/wildid-server/internal/metrics"
	"github.com/wildid/wildid-server/internal/models"
	"github.com/wildid/wildid-server/internal/repository"
	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

// Service manages login token lifecycles.
type Service struct {
	store   repository.LoginTokenStore
	ttl     time.Duration
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(store repository.LoginTokenStore, ttl time.Duration, m *metrics.Metrics, log zerolog.Logger) *Service {
	return &Service{
		store:   store,
		ttl:     ttl,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// TTL returns how long issued tokens stay valid.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Generate creates a token for email and returns the plaintext. Only its
// hash is persisted.
func (s *Service) Generate(ctx context.Context, email, requestIP string) (string, error) {
	email = NormalizeEmail(email)
	if !IsValidEmail(email) {
		return "", appErrors.ErrInvalidEmail
	}

	plaintext, err := generateToken()
	if err != nil {
		return "", errors.Wrap(err, "tokens.Generate.random")
	}

	now := s.now().UTC()
	tok := &models.LoginToken{
		ID:        uuid.New(),
		Email:     email,
		TokenHash: HashToken(plaintext),
		RequestIP: requestIP,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateLoginToken(ctx, tok); err != nil {
		return "", errors.Wrap(err, "tokens.Generate.Create")
	}

	s.metrics.LoginToken("issued")
	s.log.Info().Str("token_id", tok.ID.String()).Str("ip", requestIP).Msg("login token issued")
	return plaintext, nil
}

// Verify redeems a plaintext token and returns the email it was issued for.
// Unknown, used and expired tokens all yield ErrInvalidToken.
func (s *Service) Verify(ctx context.Context, plaintext string) (string, error) {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return "", appErrors.ErrInvalidToken
	}

	tok, err := s.store.ConsumeLoginToken(ctx, HashToken(plaintext), s.now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		s.metrics.LoginToken("rejected")
		return "", appErrors.ErrInvalidToken
	}
	if err != nil {
		return "", errors.Wrap(err, "tokens.Verify.Consume")
	}

	s.metrics.LoginToken("consumed")
	s.log.Info().Str("token_id", tok.ID.String()).Msg("login token consumed")
	return tok.Email, nil
}

// HashToken returns the stored form of a plaintext token.
func HashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsValidEmail is a structural check: something before the @ and a dot
// somewhere after it.
func IsValidEmail(email string) bool {
	if len(email) > 254 || strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	at := strings.Index(email, "@")
	if at < 1 || strings.Count(email, "@") != 1 {
		return false
	}
	dot := strings.LastIndex(email, ".")
	return dot >= at+2 && dot < len(email)-1
}
