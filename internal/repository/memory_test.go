package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildid/wildid-server/internal/models"
)

func TestMemoryTrustStore_UpdateIsAtomicPerKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTrustStore(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "1.2.3.4:abc", func(rec models.TrustRecord) (models.TrustRecord, error) {
				rec.RequestCount++
				return rec, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, found, err := store.Get(ctx, "1.2.3.4:abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 100, rec.RequestCount)
}

func TestMemoryTrustStore_UpdateErrorLeavesRecord(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTrustStore(time.Hour)
	boom := errors.New("boom")

	_, err := store.Update(ctx, "k", func(rec models.TrustRecord) (models.TrustRecord, error) {
		rec.RequestCount = 5
		return rec, boom
	})
	assert.ErrorIs(t, err, boom)

	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryChallengeStore_Resolve(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChallengeStore(time.Hour)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, &models.CaptchaChallenge{ID: "c1", CreatedAt: now, ExpiresAt: now.Add(5 * time.Minute)}))

	t.Run("mutations persist", func(t *testing.T) {
		err := store.Resolve(ctx, "c1", func(ch *models.CaptchaChallenge) (bool, error) {
			ch.Attempts++
			return false, nil
		})
		require.NoError(t, err)

		err = store.Resolve(ctx, "c1", func(ch *models.CaptchaChallenge) (bool, error) {
			assert.Equal(t, 1, ch.Attempts)
			return false, nil
		})
		require.NoError(t, err)
	})

	t.Run("removal passes the callback error through", func(t *testing.T) {
		sentinel := errors.New("done")
		err := store.Resolve(ctx, "c1", func(*models.CaptchaChallenge) (bool, error) {
			return true, sentinel
		})
		assert.ErrorIs(t, err, sentinel)

		err = store.Resolve(ctx, "c1", func(*models.CaptchaChallenge) (bool, error) { return false, nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMemoryChallengeStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryChallengeStore(time.Hour)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, &models.CaptchaChallenge{ID: "old", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, store.Save(ctx, &models.CaptchaChallenge{ID: "edge", ExpiresAt: now}))
	require.NoError(t, store.Save(ctx, &models.CaptchaChallenge{ID: "live", ExpiresAt: now.Add(time.Minute)}))

	purged, err := store.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	noop := func(*models.CaptchaChallenge) (bool, error) { return false, nil }
	assert.ErrorIs(t, store.Resolve(ctx, "old", noop), ErrNotFound)
	assert.ErrorIs(t, store.Resolve(ctx, "edge", noop), ErrNotFound)
	assert.NoError(t, store.Resolve(ctx, "live", noop))
}

func TestMemoryBlacklist(t *testing.T) {
	ctx := context.Background()
	bl := NewMemoryBlacklist()

	require.NoError(t, bl.Revoke(ctx, "jti-1", time.Minute))
	require.NoError(t, bl.Revoke(ctx, "jti-expired", 0))

	revoked, err := bl.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = bl.IsRevoked(ctx, "jti-expired")
	require.NoError(t, err)
	assert.False(t, revoked)
}
