package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/wildid/wildid-server/internal/models"
)

const (
	trustPrefix     = "trust:"
	captchaPrefix   = "captcha:"
	blacklistPrefix = "blacklist:"

	// maxTxRetries bounds optimistic transaction retries on contended keys.
	maxTxRetries = 50
)

// errContention is returned when a WATCH transaction kept failing.
var errContention = errors.New("too much contention")

// watchRetry runs txf under WATCH on keys until it commits.
func watchRetry(ctx context.Context, client *redis.Client, txf func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := client.Watch(ctx, txf, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errContention
}

// ---------------------------------------------------------------------------
// Trust records (Redis)
// ---------------------------------------------------------------------------

// RedisTrustStore keeps trust records as JSON values with a sliding TTL.
type RedisTrustStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTrustStore creates a store whose idle records expire after ttl.
func NewRedisTrustStore(client *redis.Client, ttl time.Duration) *RedisTrustStore {
	return &RedisTrustStore{client: client, ttl: ttl}
}

func (s *RedisTrustStore) Get(ctx context.Context, key string) (models.TrustRecord, bool, error) {
	rec, found, err := readTrust(ctx, s.client, trustPrefix+key)
	if err != nil {
		return models.TrustRecord{}, false, errors.Wrap(err, "repository.RedisTrustStore.Get")
	}
	return rec, found, nil
}

func (s *RedisTrustStore) Update(ctx context.Context, key string, fn TrustUpdateFunc) (models.TrustRecord, error) {
	rkey := trustPrefix + key
	var (
		next  models.TrustRecord
		fnErr error
	)

	txf := func(tx *redis.Tx) error {
		current, _, err := readTrust(ctx, tx, rkey)
		if err != nil {
			return err
		}
		next, fnErr = fn(current)
		if fnErr != nil {
			return nil
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, data, s.ttl)
			return nil
		})
		return err
	}

	if err := watchRetry(ctx, s.client, txf, rkey); err != nil {
		return models.TrustRecord{}, errors.Wrap(err, "repository.RedisTrustStore.Update")
	}
	if fnErr != nil {
		return models.TrustRecord{}, fnErr
	}
	return next, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readTrust(ctx context.Context, c getter, key string) (models.TrustRecord, bool, error) {
	var rec models.TrustRecord
	data, err := c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

// ---------------------------------------------------------------------------
// CAPTCHA challenges (Redis)
// ---------------------------------------------------------------------------

// RedisChallengeStore keeps challenges as JSON values that Redis expires at
// the challenge deadline.
type RedisChallengeStore struct {
	client *redis.Client
}

func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{client: client}
}

func (s *RedisChallengeStore) Save(ctx context.Context, ch *models.CaptchaChallenge) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return errors.Wrap(err, "repository.RedisChallengeStore.Save.Marshal")
	}
	ttl := ch.ExpiresAt.Sub(ch.CreatedAt)
	if ttl <= 0 {
		return errors.New("repository.RedisChallengeStore.Save: challenge already expired")
	}
	if err := s.client.Set(ctx, captchaPrefix+ch.ID, data, ttl).Err(); err != nil {
		return errors.Wrap(err, "repository.RedisChallengeStore.Save.Set")
	}
	return nil
}

func (s *RedisChallengeStore) Resolve(ctx context.Context, id string, fn ChallengeResolveFunc) error {
	rkey := captchaPrefix + id
	var fnErr error

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, rkey).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var ch models.CaptchaChallenge
		if err := json.Unmarshal(data, &ch); err != nil {
			return err
		}

		var remove bool
		remove, fnErr = fn(&ch)

		updated, err := json.Marshal(&ch)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if remove {
				pipe.Del(ctx, rkey)
			} else {
				pipe.Set(ctx, rkey, updated, redis.KeepTTL)
			}
			return nil
		})
		return err
	}

	err := watchRetry(ctx, s.client, txf, rkey)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "repository.RedisChallengeStore.Resolve")
	}
	return fnErr
}

// PurgeExpired is a no-op: Redis drops challenges at their deadline.
func (s *RedisChallengeStore) PurgeExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

// ---------------------------------------------------------------------------
// Token blacklist (Redis)
// ---------------------------------------------------------------------------

// RedisBlacklist stores revoked token ids until the token would have expired.
type RedisBlacklist struct {
	client *redis.Client
}

func NewRedisBlacklist(client *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{client: client}
}

func (b *RedisBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return errors.Wrap(b.client.Set(ctx, blacklistPrefix+jti, "1", ttl).Err(), "repository.RedisBlacklist.Revoke")
}

func (b *RedisBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	val, err := b.client.Exists(ctx, blacklistPrefix+jti).Result()
	if err != nil {
		return false, errors.Wrap(err, "repository.RedisBlacklist.IsRevoked")
	}
	return val > 0, nil
}
