package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/maltehedderich/rate-governor/internal/audit"
	"github.com/maltehedderich/rate-governor/internal/logger"
)

func init() {
	logger.Init(logger.InfoLevel, "json", io.Discard)
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(ms int64) *testClock {
	return &testClock{now: time.UnixMilli(ms)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.UnixMilli(ms)
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingAuditor collects submitted records.
type recordingAuditor struct {
	mu      sync.Mutex
	records []audit.Record
	reject  bool
}

func (a *recordingAuditor) Submit(rec audit.Record) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reject {
		return false
	}
	a.records = append(a.records, rec)
	return true
}

func (a *recordingAuditor) Records() []audit.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Record(nil), a.records...)
}

// faultyStore fails selected operations.
type faultyStore struct {
	*MemoryStore
	incrErr   error
	expireErr error
	getErr    error
	pingErr   error
}

func (s *faultyStore) Incr(ctx context.Context, key string) (int64, error) {
	if s.incrErr != nil {
		return 0, s.incrErr
	}
	return s.MemoryStore.Incr(ctx, key)
}

func (s *faultyStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if s.expireErr != nil {
		return s.expireErr
	}
	return s.MemoryStore.Expire(ctx, key, ttl)
}

func (s *faultyStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if s.getErr != nil {
		return 0, false, s.getErr
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *faultyStore) Ping(ctx context.Context) error {
	if s.pingErr != nil {
		return s.pingErr
	}
	return s.MemoryStore.Ping(ctx)
}
