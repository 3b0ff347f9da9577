package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// DefaultRedisStateTTL expires bucket state nobody has touched for a while.
	// An expired bucket starts full again.
	DefaultRedisStateTTL = 10 * time.Minute

	defaultRedisTxRetries = 10
)

// ErrStoreContention is returned when the optimistic transaction kept losing
// against concurrent writers.
var ErrStoreContention = errors.New("bucket state contention: too many concurrent writers")

// RedisStore keeps bucket state in a Redis hash so several processes can share
// one quota. Updates run as WATCH/MULTI transactions and are retried when a
// concurrent writer touched the key.
type RedisStore struct {
	redis   *redis.Client
	key     string
	ttl     time.Duration
	retries int
	logger  zerolog.Logger
}

// NewRedisStore creates a Redis-backed store for the named bucket.
func NewRedisStore(redisClient *redis.Client, name string, logger zerolog.Logger) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis:   redisClient,
		key:     RedisKeyPrefix + name,
		ttl:     DefaultRedisStateTTL,
		retries: defaultRedisTxRetries,
		logger:  logger,
	}
}

// Key returns the Redis key holding the bucket state.
func (r *RedisStore) Key() string {
	return r.key
}

// Update implements Store.
func (r *RedisStore) Update(ctx context.Context, fn func(*BucketState) error) error {
	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, r.key).Result()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("get bucket state: %w", err)
		}

		state, err := decodeBucketState(fields)
		if err != nil {
			return err
		}

		if err := fn(&state); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.key,
				RedisFieldTokens, strconv.FormatFloat(state.Tokens, 'f', -1, 64),
				RedisFieldLastRefill, strconv.FormatInt(state.LastRefill.UnixNano(), 10),
			)
			pipe.Expire(ctx, r.key, r.ttl)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= r.retries; attempt++ {
		err := r.redis.Watch(ctx, txf, r.key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			r.logger.Debug().
				Str("key", r.key).
				Int("attempt", attempt).
				Msg("Bucket state changed concurrently, retrying transaction")
			continue
		}
		return err
	}

	r.logger.Warn().Str("key", r.key).Int("retries", r.retries).Msg("Bucket state transaction retries exhausted")
	return ErrStoreContention
}

func decodeBucketState(fields map[string]string) (BucketState, error) {
	var state BucketState
	if len(fields) == 0 {
		return state, nil
	}

	tokens, err := strconv.ParseFloat(fields[RedisFieldTokens], 64)
	if err != nil {
		return state, fmt.Errorf("parse bucket tokens: %w", err)
	}
	lastRefill, err := strconv.ParseInt(fields[RedisFieldLastRefill], 10, 64)
	if err != nil {
		return state, fmt.Errorf("parse bucket last refill: %w", err)
	}

	state.Tokens = tokens
	state.LastRefill = time.Unix(0, lastRefill)
	return state, nil
}
