package captcha

import (
	"context"
	"crypto/rand"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildid/wildid-server/internal/models"
	"github.com/wildid/wildid-server/internal/repository"
	"github.com/wildid/wildid-server/internal/trust"
	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	mgr   *Manager
	store *repository.MemoryChallengeStore
	trust *trust.Service
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: repository.NewMemoryChallengeStore(time.Hour),
		now:   t0,
	}
	clock := func() time.Time { return f.now }
	policy := trust.Policy{Window: time.Hour, Threshold: 2, TrustDuration: 30 * 24 * time.Hour}
	f.trust = trust.NewService(repository.NewMemoryTrustStore(time.Hour), policy, zerolog.Nop()).WithClock(clock)
	f.mgr = NewManager(f.store, f.trust, Config{TTL: 5 * time.Minute, MaxAttempts: 3}, nil, zerolog.Nop()).WithClock(clock)
	return f
}

var sess = Session{Key: "10.0.0.1:fp", Fingerprint: "fp"}

func solve(t *testing.T, question string) string {
	t.Helper()
	var (
		a, b int
		op   string
	)
	_, err := fmt.Sscanf(question, "What is %d %s %d?", &a, &op, &b)
	require.NoError(t, err, question)
	switch op {
	case "+":
		return strconv.Itoa(a + b)
	case "-":
		return strconv.Itoa(a - b)
	case "×":
		return strconv.Itoa(a * b)
	}
	t.Fatalf("unknown operator %q", op)
	return ""
}

func (f *fixture) seed(t *testing.T, id, answer string) {
	t.Helper()
	require.NoError(t, f.store.Save(context.Background(), &models.CaptchaChallenge{
		ID:          id,
		AnswerHash:  HashAnswer(answer),
		Fingerprint: sess.Fingerprint,
		CreatedAt:   f.now,
		ExpiresAt:   f.now.Add(5 * time.Minute),
	}))
}

func TestManager_CreateGatesUntrustedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.mgr.Create(ctx, sess)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.CaptchaID)
	assert.Regexp(t, `^What is [1-9] [+\-×] [1-9]\?$`, resp.Question)
	assert.Equal(t, 300, resp.Timeout)

	rec, err := f.trust.Status(ctx, sess.Key, sess.Fingerprint)
	require.NoError(t, err)
	assert.True(t, rec.RateLimited)
}

func TestManager_SolveGrantsTrustOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.mgr.Create(ctx, sess)
	require.NoError(t, err)

	rec, err := f.mgr.Verify(ctx, sess, resp.CaptchaID, solve(t, resp.Question))
	require.NoError(t, err)
	assert.True(t, rec.IsTrusted)
	assert.False(t, rec.RateLimited)
	assert.Zero(t, rec.RequestCount)
	assert.Equal(t, t0, rec.LastCaptchaPassed)

	_, err = f.mgr.Verify(ctx, sess, resp.CaptchaID, solve(t, resp.Question))
	assert.ErrorIs(t, err, appErrors.ErrInvalidCaptcha)
}

func TestManager_AnswerNormalisation(t *testing.T) {
	cases := []struct {
		answer string
		want   error
	}{
		{"7", nil},
		{" 7 ", nil},
		{"07", appErrors.ErrIncorrectAnswer},
		{"seven", appErrors.ErrIncorrectAnswer},
	}
	for _, tc := range cases {
		t.Run(strconv.Quote(tc.answer), func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "c1", "7")

			_, err := f.mgr.Verify(context.Background(), sess, "c1", tc.answer)
			if tc.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}
		})
	}
}

func TestManager_AttemptExhaustion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "c1", "7")

	_, err := f.mgr.Verify(ctx, sess, "c1", "1")
	assert.ErrorIs(t, err, appErrors.ErrIncorrectAnswer)
	_, err = f.mgr.Verify(ctx, sess, "c1", "2")
	assert.ErrorIs(t, err, appErrors.ErrIncorrectAnswer)
	_, err = f.mgr.Verify(ctx, sess, "c1", "3")
	assert.ErrorIs(t, err, appErrors.ErrTooManyAttempts)

	_, err = f.mgr.Verify(ctx, sess, "c1", "7")
	assert.ErrorIs(t, err, appErrors.ErrInvalidCaptcha, "exhausted challenge is gone")
}

func TestManager_ExpiredChallenge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "c1", "7")

	f.now = f.now.Add(5 * time.Minute)
	_, err := f.mgr.Verify(ctx, sess, "c1", "7")
	assert.ErrorIs(t, err, appErrors.ErrInvalidCaptcha)
}

func TestManager_ExpiredButNotPurged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "c1", "7")

	// A store that never purges, like Redis between key expiry checks.
	f.mgr.store = noPurge{f.store}
	f.now = f.now.Add(6 * time.Minute)

	_, err := f.mgr.Verify(ctx, sess, "c1", "7")
	assert.ErrorIs(t, err, appErrors.ErrExpiredCaptcha)
}

func TestManager_ForeignFingerprint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "c1", "7")

	other := Session{Key: "10.0.0.2:other", Fingerprint: "other"}
	_, err := f.mgr.Verify(ctx, other, "c1", "7")
	assert.ErrorIs(t, err, appErrors.ErrInvalidCaptcha)

	_, err = f.mgr.Verify(ctx, sess, "c1", "7")
	assert.ErrorIs(t, err, appErrors.ErrInvalidCaptcha, "challenge is discarded")
}

func TestManager_UnknownID(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Verify(context.Background(), sess, "does-not-exist", "7")
	assert.ErrorIs(t, err, appErrors.ErrInvalidCaptcha)
}

func TestManager_ConcurrentCorrectAnswersSucceedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "c1", "7")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.mgr.Verify(ctx, sess, "c1", "7"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestNewProblem_AnswersAreNonNegative(t *testing.T) {
	for i := 0; i < 500; i++ {
		p, err := newProblem(rand.Reader)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p.answer, 0, p.question())
		assert.True(t, p.a >= 1 && p.a <= 9 && p.b >= 1 && p.b <= 9, p.question())
	}
}

type noPurge struct {
	repository.ChallengeStore
}

func (noPurge) PurgeExpired(context.Context, time.Time) (int, error) { return 0, nil }
