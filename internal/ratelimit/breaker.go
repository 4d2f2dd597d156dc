package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/maltehedderich/rate-governor/internal/circuitbreaker"
)

// BreakerStore guards a CounterStore with a circuit breaker so that an
// unreachable store fails fast instead of adding its timeout to every
// request.
type BreakerStore struct {
	store   CounterStore
	breaker *circuitbreaker.CircuitBreaker
}

// NewBreakerStore wraps store.
func NewBreakerStore(store CounterStore, breaker *circuitbreaker.CircuitBreaker) *BreakerStore {
	return &BreakerStore{store: store, breaker: breaker}
}

// Breaker returns the underlying circuit breaker.
func (b *BreakerStore) Breaker() *circuitbreaker.CircuitBreaker {
	return b.breaker
}

// call runs fn through the breaker. A caller giving up is not held against
// the store.
func (b *BreakerStore) call(ctx context.Context, fn func() error) error {
	return b.breaker.ExecuteIgnoring(fn, func(err error) bool {
		return ctx.Err() != nil && errors.Is(err, ctx.Err())
	})
}

// Incr increments key.
func (b *BreakerStore) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := b.call(ctx, func() error {
		var err error
		n, err = b.store.Incr(ctx, key)
		return err
	})
	return n, err
}

// Expire sets key's TTL.
func (b *BreakerStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.call(ctx, func() error {
		return b.store.Expire(ctx, key, ttl)
	})
}

// Get returns key's value.
func (b *BreakerStore) Get(ctx context.Context, key string) (int64, bool, error) {
	var (
		n  int64
		ok bool
	)
	err := b.call(ctx, func() error {
		var err error
		n, ok, err = b.store.Get(ctx, key)
		return err
	})
	return n, ok, err
}

// Ping bypasses the breaker so health checks see the store's real state.
func (b *BreakerStore) Ping(ctx context.Context) error {
	return b.store.Ping(ctx)
}

// Close closes the wrapped store.
func (b *BreakerStore) Close() error {
	return b.store.Close()
}
