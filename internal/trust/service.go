package trust

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/wildid/wildid-server/internal/models"
	"github.com/wildid/wildid-server/internal/repository"
)

// Service applies the policy to records held in a TrustStore. Every mutation
// goes through the store's atomic Update.
type Service struct {
	store  repository.TrustStore
	policy Policy
	log    zerolog.Logger
	now    func() time.Time
}

// NewService creates a trust service.
func NewService(store repository.TrustStore, policy Policy, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		policy: policy,
		log:    log,
		now:    time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Policy returns the configured policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// Admit checks and counts one action for key.
func (s *Service) Admit(ctx context.Context, key, fingerprint string, action Action) (models.TrustRecord, Decision, error) {
	var decision Decision
	rec, err := s.store.Update(ctx, key, func(rec models.TrustRecord) (models.TrustRecord, error) {
		rec.BrowserFingerprint = fingerprint
		var next models.TrustRecord
		next, decision = s.policy.Admit(rec, action, s.now())
		return next, nil
	})
	if err != nil {
		return models.TrustRecord{}, Decision{}, err
	}
	if !decision.Allowed {
		s.log.Info().Str("fingerprint", fingerprint).Int("request_count", rec.RequestCount).Msg("identify denied, captcha required")
	}
	return rec, decision, nil
}

// Status returns the current record with time-driven transitions applied.
// It does not write.
func (s *Service) Status(ctx context.Context, key, fingerprint string) (models.TrustRecord, error) {
	rec, _, err := s.store.Get(ctx, key)
	if err != nil {
		return models.TrustRecord{}, err
	}
	rec = s.policy.Refresh(rec, s.now())
	rec.BrowserFingerprint = fingerprint
	return rec, nil
}

// Elevate grants trust to key.
func (s *Service) Elevate(ctx context.Context, key, fingerprint string) (models.TrustRecord, error) {
	rec, err := s.store.Update(ctx, key, func(rec models.TrustRecord) (models.TrustRecord, error) {
		rec.BrowserFingerprint = fingerprint
		return s.policy.Elevate(rec, s.now()), nil
	})
	if err != nil {
		return models.TrustRecord{}, err
	}
	s.log.Info().Str("fingerprint", fingerprint).Time("trusted_until", rec.TrustedUntil).Msg("browser trusted")
	return rec, nil
}

// Gate forces key into the rate-limited state unless it is trusted.
func (s *Service) Gate(ctx context.Context, key, fingerprint string) (models.TrustRecord, error) {
	return s.store.Update(ctx, key, func(rec models.TrustRecord) (models.TrustRecord, error) {
		rec.BrowserFingerprint = fingerprint
		return s.policy.Gate(rec, s.now()), nil
	})
}

// ToStatus renders rec for clients.
func (s *Service) ToStatus(rec models.TrustRecord, csrfToken string) *models.SecurityStatus {
	return &models.SecurityStatus{
		IsTrusted:          rec.IsTrusted,
		RateLimited:        rec.RateLimited,
		RequestCount:       rec.RequestCount,
		RateLimitThreshold: s.policy.Threshold,
		BrowserFingerprint: rec.BrowserFingerprint,
		CSRFToken:          csrfToken,
	}
}
