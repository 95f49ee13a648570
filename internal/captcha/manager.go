// Package captcha issues and verifies the arithmetic challenges that lift a
// rate-limited browser into the trusted state.
package captcha

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/wildid/wildid-server/internal/metrics"
	"github.com/wildid/wildid-server/internal/models"
	"github.com/wildid/wildid-server/internal/repository"
	"github.com/wildid/wildid-server/internal/trust"
	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

// Manager issues and verifies challenges.
type Manager struct {
	store       repository.ChallengeStore
	trust       *trust.Service
	metrics     *metrics.Metrics
	log         zerolog.Logger
	ttl         time.Duration
	maxAttempts int
	rand        io.Reader
	now         func() time.Time
}

// Config holds the challenge parameters.
type Config struct {
	TTL         time.Duration
	MaxAttempts int
}

// NewManager creates a challenge manager. m may be nil.
func NewManager(store repository.ChallengeStore, trustSvc *trust.Service, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Manager {
	return &Manager{
		store:       store,
		trust:       trustSvc,
		metrics:     m,
		log:         log,
		ttl:         cfg.TTL,
		maxAttempts: cfg.MaxAttempts,
		rand:        rand.Reader,
		now:         time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Session identifies the browser a challenge belongs to.
type Session struct {
	Key         string
	Fingerprint string
}

// Create issues a challenge for the session. An untrusted session is put into
// the rate-limited state so the challenge has to be solved before the next
// identify request.
func (m *Manager) Create(ctx context.Context, sess Session) (*models.CaptchaResponse, error) {
	m.purge(ctx)

	p, err := newProblem(m.rand)
	if err != nil {
		return nil, errors.Wrap(err, "captcha.Create.newProblem")
	}

	now := m.now()
	ch := &models.CaptchaChallenge{
		ID:          uuid.NewString(),
		AnswerHash:  hashInt(p.answer),
		Fingerprint: sess.Fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.ttl),
	}
	if err := m.store.Save(ctx, ch); err != nil {
		return nil, errors.Wrap(err, "captcha.Create.Save")
	}

	if _, err := m.trust.Gate(ctx, sess.Key, sess.Fingerprint); err != nil {
		return nil, errors.Wrap(err, "captcha.Create.Gate")
	}

	m.metrics.CaptchaIssued()
	m.log.Info().Str("captcha_id", ch.ID).Str("fingerprint", sess.Fingerprint).Msg("captcha issued")

	return &models.CaptchaResponse{
		CaptchaID: ch.ID,
		Question:  p.question(),
		Timeout:   int(m.ttl / time.Second),
	}, nil
}

// Verify checks answer against challenge id. On success the challenge is
// consumed and the session becomes trusted. Failures are returned as
// AppErrors from pkg/errors.
func (m *Manager) Verify(ctx context.Context, sess Session, id, answer string) (models.TrustRecord, error) {
	m.purge(ctx)

	now := m.now()
	given := HashAnswer(strings.TrimSpace(answer))
	solved := false

	err := m.store.Resolve(ctx, id, func(ch *models.CaptchaChallenge) (bool, error) {
		switch {
		case ch.Fingerprint != sess.Fingerprint:
			return true, appErrors.ErrInvalidCaptcha
		case !now.Before(ch.ExpiresAt):
			return true, appErrors.ErrExpiredCaptcha
		case ch.Attempts >= m.maxAttempts:
			return true, appErrors.ErrTooManyAttempts
		}

		if subtle.ConstantTimeCompare([]byte(given), []byte(ch.AnswerHash)) == 1 {
			solved = true
			return true, nil
		}

		ch.Attempts++
		if ch.Attempts >= m.maxAttempts {
			return true, appErrors.ErrTooManyAttempts
		}
		return false, appErrors.ErrIncorrectAnswer
	})
	if errors.Is(err, repository.ErrNotFound) {
		err = appErrors.ErrInvalidCaptcha
	}
	if err != nil {
		m.metrics.CaptchaVerified(string(appErrors.CodeOf(err)))
		m.log.Info().Str("captcha_id", id).Str("outcome", string(appErrors.CodeOf(err))).Msg("captcha verification failed")
		if _, ok := appErrors.As(err); ok {
			return models.TrustRecord{}, err
		}
		return models.TrustRecord{}, errors.Wrap(err, "captcha.Verify.Resolve")
	}
	if !solved {
		return models.TrustRecord{}, appErrors.ErrInvalidCaptcha
	}

	rec, err := m.trust.Elevate(ctx, sess.Key, sess.Fingerprint)
	if err != nil {
		return models.TrustRecord{}, errors.Wrap(err, "captcha.Verify.Elevate")
	}
	m.metrics.CaptchaVerified("success")
	return rec, nil
}

func (m *Manager) purge(ctx context.Context) {
	n, err := m.store.PurgeExpired(ctx, m.now())
	if err != nil {
		m.log.Warn().Err(err).Msg("purge expired captchas")
		return
	}
	if n > 0 {
		m.log.Debug().Int("purged", n).Msg("expired captchas purged")
	}
}
