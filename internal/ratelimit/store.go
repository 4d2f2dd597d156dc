package ratelimit

import (
	"context"
	"time"
)

// CounterStore is the shared key/value store holding bucket counters.
// All governor instances of one deployment must point at the same store.
type CounterStore interface {
	// Incr atomically increments key, creating it at 0 first, and returns
	// the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire sets the key's time to live.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Get returns the key's value. ok is false when the key does not exist.
	Get(ctx context.Context, key string) (value int64, ok bool, err error)

	// Ping checks the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
