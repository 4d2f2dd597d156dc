package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/maltehedderich/rate-governor/internal/logger"
)

// RedisStore implements CounterStore with plain Redis INCR, EXPIRE and GET.
// It is the store to use when several governor instances share limits.
type RedisStore struct {
	client redis.UniversalClient
}

// RedisConfig contains configuration for Redis storage.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Timeout bounds dial, read and write operations.
	Timeout time.Duration
	// ConnectTimeout bounds the startup ping retries.
	ConnectTimeout time.Duration
}

// NewRedisStore connects to Redis, retrying the initial ping with
// exponential backoff until ConnectTimeout elapses.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	log := logger.Get().WithComponent("ratelimit")

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = cfg.ConnectTimeout

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s after %d attempts: %w", cfg.Addr, attempt, err)
	}

	log.Info("connected to Redis", logger.Fields{
		"addr":     cfg.Addr,
		"db":       cfg.DB,
		"attempts": attempt,
	})

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing client, e.g. a cluster client.
func NewRedisStoreWithClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Incr increments key.
func (rs *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	n, err := rs.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment key in Redis: %w", err)
	}
	return n, nil
}

// Expire sets key's TTL.
func (rs *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := rs.client.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set expiry in Redis: %w", err)
	}
	return nil
}

// Get returns key's value.
func (rs *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	n, err := rs.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get key from Redis: %w", err)
	}
	return n, true, nil
}

// Close closes the Redis connection.
func (rs *RedisStore) Close() error {
	return rs.client.Close()
}

// Ping checks if Redis is available.
func (rs *RedisStore) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}
