package repository

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/wildid/wildid-server/internal/models"
)

// keyedMutex serialises work on one key without a global lock.
type keyedMutex struct {
	shards [64]sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &k.shards[h.Sum32()%uint32(len(k.shards))]
	m.Lock()
	return m.Unlock
}

// ---------------------------------------------------------------------------
// Trust records (in-memory)
// ---------------------------------------------------------------------------

// MemoryTrustStore keeps trust records in process memory.
type MemoryTrustStore struct {
	cache *cache.Cache
	locks keyedMutex
	ttl   time.Duration
}

// NewMemoryTrustStore creates a store whose idle records expire after ttl.
func NewMemoryTrustStore(ttl time.Duration) *MemoryTrustStore {
	return &MemoryTrustStore{
		cache: cache.New(ttl, 10*time.Minute),
		ttl:   ttl,
	}
}

func (s *MemoryTrustStore) Get(_ context.Context, key string) (models.TrustRecord, bool, error) {
	v, ok := s.cache.Get(key)
	if !ok {
		return models.TrustRecord{}, false, nil
	}
	return v.(models.TrustRecord), true, nil
}

func (s *MemoryTrustStore) Update(ctx context.Context, key string, fn TrustUpdateFunc) (models.TrustRecord, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	current, _, _ := s.Get(ctx, key)
	next, err := fn(current)
	if err != nil {
		return models.TrustRecord{}, err
	}
	s.cache.Set(key, next, s.ttl)
	return next, nil
}

// ---------------------------------------------------------------------------
// CAPTCHA challenges (in-memory)
// ---------------------------------------------------------------------------

// MemoryChallengeStore keeps challenges in process memory. The cache janitor
// drops entries after retention; PurgeExpired removes them as soon as they
// pass their own expiry.
type MemoryChallengeStore struct {
	cache *cache.Cache
	locks keyedMutex
}

// NewMemoryChallengeStore creates a store that retains entries at most
// retention regardless of their expiry.
func NewMemoryChallengeStore(retention time.Duration) *MemoryChallengeStore {
	return &MemoryChallengeStore{
		cache: cache.New(retention, time.Minute),
	}
}

func (s *MemoryChallengeStore) Save(_ context.Context, ch *models.CaptchaChallenge) error {
	unlock := s.locks.lock(ch.ID)
	defer unlock()
	s.cache.Set(ch.ID, *ch, cache.DefaultExpiration)
	return nil
}

func (s *MemoryChallengeStore) Resolve(_ context.Context, id string, fn ChallengeResolveFunc) error {
	unlock := s.locks.lock(id)
	defer unlock()

	v, ok := s.cache.Get(id)
	if !ok {
		return ErrNotFound
	}
	ch := v.(models.CaptchaChallenge)
	remove, err := fn(&ch)
	if remove {
		s.cache.Delete(id)
	} else {
		s.cache.Set(id, ch, cache.DefaultExpiration)
	}
	return err
}

func (s *MemoryChallengeStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	purged := 0
	for id, item := range s.cache.Items() {
		ch, ok := item.Object.(models.CaptchaChallenge)
		if !ok || now.Before(ch.ExpiresAt) {
			continue
		}
		unlock := s.locks.lock(id)
		if v, found := s.cache.Get(id); found && !now.Before(v.(models.CaptchaChallenge).ExpiresAt) {
			s.cache.Delete(id)
			purged++
		}
		unlock()
	}
	return purged, nil
}

// ---------------------------------------------------------------------------
// Token blacklist (in-memory)
// ---------------------------------------------------------------------------

// MemoryBlacklist keeps revoked token ids until their expiry.
type MemoryBlacklist struct {
	cache *cache.Cache
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{cache: cache.New(cache.NoExpiration, 10*time.Minute)}
}

func (b *MemoryBlacklist) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	b.cache.Set(jti, struct{}{}, ttl)
	return nil
}

func (b *MemoryBlacklist) IsRevoked(_ context.Context, jti string) (bool, error) {
	_, ok := b.cache.Get(jti)
	return ok, nil
}
