package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/hospitalauth/internal/failure"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned by Get for a missing or expired key.
	ErrNotFound = errors.New("counter key not found")
	// ErrConflict is returned by Update when optimistic retries are exhausted.
	ErrConflict = errors.New("counter key update conflict")
)

// Mutation describes what Update writes back. The zero value leaves the key
// untouched.
type Mutation struct {
	Value  []byte
	TTL    time.Duration
	Delete bool
}

func (m Mutation) noop() bool {
	return !m.Delete && m.Value == nil
}

// UpdateFunc receives the current value (nil when absent) and returns the
// mutation to apply. The mutation is applied even when err is non-nil, so a
// rejected attempt can still persist its bookkeeping.
type UpdateFunc func(current []byte) (Mutation, error)

// Store is the Counter Store contract.
type Store interface {
	// Increment atomically adds one to key and arms ttl when the key is new.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Count returns the integer value of key, zero when absent.
	Count(ctx context.Context, key string) (int64, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent writes value only when key does not exist and reports
	// whether it did.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Update(ctx context.Context, key string, fn UpdateFunc) error
	Delete(ctx context.Context, keys ...string) error
}

const incrementScript = `
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`

var incrementLua = redis.NewScript(incrementScript)

const maxUpdateRetries = 4

// RedisStore implements Store on a Redis client.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisStore creates a [RedisStore]. An empty prefix defaults to "ha".
func NewRedisStore(redisClient redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ha"
	}
	return &RedisStore{redis: redisClient, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}

// Increment adds one to key and returns the new count. The TTL is set only
// when the key is created, so the window is fixed from the first hit.
func (s *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("counter: increment %q requires a positive ttl", key)
	}
	n, err := incrementLua.Run(ctx, s.redis, []string{s.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// Count returns the current value of key, or 0 when it does not exist.
func (s *RedisStore) Count(ctx context.Context, key string) (int64, error) {
	n, err := s.redis.Get(ctx, s.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, unavailable(err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// Get returns the raw value of key or [ErrNotFound].
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	return data, nil
}

// Set stores value under key with ttl, replacing any previous value.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("counter: set %q requires a positive ttl", key)
	}
	if err := s.redis.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// SetIfAbsent stores value only when key does not exist and reports
// whether it did.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("counter: set %q requires a positive ttl", key)
	}
	ok, err := s.redis.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// Update applies fn to the current value of key inside a WATCH
// transaction, retrying when another writer got there first.
func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	full := s.key(key)

	for i := 0; i < maxUpdateRetries; i++ {
		var fnErr error
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, full).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if errors.Is(err, redis.Nil) {
				current = nil
			}

			var m Mutation
			m, fnErr = fn(current)
			if m.noop() {
				return nil
			}
			if !m.Delete && m.TTL <= 0 {
				return fmt.Errorf("counter: update %q requires a positive ttl", key)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if m.Delete {
					pipe.Del(ctx, full)
					return nil
				}
				pipe.Set(ctx, full, m.Value, m.TTL)
				return nil
			})
			return err
		}, full)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return unavailable(err)
		}
		return fnErr
	}

	return ErrConflict
}

// Delete removes keys. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, s.key(k))
	}
	if err := s.redis.Del(ctx, full...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", failure.ErrStoreUnavailable, err)
}
