package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process CounterStore.
// Counters are not shared between processes, so it only suits single
// instance deployments and tests.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counterEntry
	now      func() time.Time
	stopCh   chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

type counterEntry struct {
	value  int64
	expiry time.Time // zero means no expiry
}

func (e *counterEntry) expired(now time.Time) bool {
	return !e.expiry.IsZero() && !now.Before(e.expiry)
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock sets the clock used for expiry.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(ms *MemoryStore) {
		ms.now = now
	}
}

// NewMemoryStore creates a MemoryStore and starts its cleanup loop.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	ms := &MemoryStore{
		counters: make(map[string]*counterEntry),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ms)
	}

	ms.wg.Add(1)
	go ms.cleanupLoop()

	return ms
}

// Incr increments key.
func (ms *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, ok := ms.counters[key]
	if !ok || entry.expired(ms.now()) {
		entry = &counterEntry{}
		ms.counters[key] = entry
	}
	entry.value++
	return entry.value, nil
}

// Expire sets key's TTL. Missing keys are ignored.
func (ms *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	entry, ok := ms.counters[key]
	if !ok || entry.expired(now) {
		return nil
	}
	entry.expiry = now.Add(ttl)
	return nil
}

// Get returns key's value.
func (ms *MemoryStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, ok := ms.counters[key]
	if !ok || entry.expired(ms.now()) {
		return 0, false, nil
	}
	return entry.value, true, nil
}

// TTL returns the time left before key expires. ok is false when the key
// does not exist or has no expiry.
func (ms *MemoryStore) TTL(key string) (time.Duration, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	entry, exists := ms.counters[key]
	if !exists || entry.expired(now) || entry.expiry.IsZero() {
		return 0, false
	}
	return entry.expiry.Sub(now), true
}

// Len returns the number of stored counters, expired ones included until
// the next cleanup.
func (ms *MemoryStore) Len() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.counters)
}

// Ping always succeeds.
func (ms *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close stops the cleanup loop.
func (ms *MemoryStore) Close() error {
	ms.once.Do(func() {
		close(ms.stopCh)
	})
	ms.wg.Wait()
	return nil
}

func (ms *MemoryStore) cleanupLoop() {
	defer ms.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.cleanup()
		case <-ms.stopCh:
			return
		}
	}
}

func (ms *MemoryStore) cleanup() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	for key, entry := range ms.counters {
		if entry.expired(now) {
			delete(ms.counters, key)
		}
	}
}
