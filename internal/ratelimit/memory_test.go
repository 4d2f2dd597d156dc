package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_IncrGet(t *testing.T) {
	ms := NewMemoryStore()
	defer func() { _ = ms.Close() }()

	ctx := context.Background()

	if _, ok, err := ms.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := ms.Incr(ctx, "k")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}

	v, ok, err := ms.Get(ctx, "k")
	if err != nil || !ok || v != 3 {
		t.Errorf("expected 3, got %d ok=%v err=%v", v, ok, err)
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	clock := newTestClock(1_000_000)
	ms := NewMemoryStore(WithMemoryClock(clock.Now))
	defer func() { _ = ms.Close() }()

	ctx := context.Background()

	_, _ = ms.Incr(ctx, "k")
	if err := ms.Expire(ctx, "k", 2*time.Second); err != nil {
		t.Fatalf("expire: %v", err)
	}

	ttl, ok := ms.TTL("k")
	if !ok || ttl != 2*time.Second {
		t.Errorf("expected 2s ttl, got %v ok=%v", ttl, ok)
	}

	clock.Advance(1999 * time.Millisecond)
	if _, ok, _ := ms.Get(ctx, "k"); !ok {
		t.Error("expected key to exist before expiry")
	}

	clock.Advance(time.Millisecond)
	if _, ok, _ := ms.Get(ctx, "k"); ok {
		t.Error("expected key to be expired")
	}

	got, _ := ms.Incr(ctx, "k")
	if got != 1 {
		t.Errorf("expected expired counter to restart at 1, got %d", got)
	}
	if _, ok := ms.TTL("k"); ok {
		t.Error("expected restarted counter to have no expiry")
	}
}

func TestMemoryStore_ExpireMissingKey(t *testing.T) {
	ms := NewMemoryStore()
	defer func() { _ = ms.Close() }()

	if err := ms.Expire(context.Background(), "missing", time.Second); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if ms.Len() != 0 {
		t.Errorf("expected expire not to create a key, got %d keys", ms.Len())
	}
}

func TestMemoryStore_Cleanup(t *testing.T) {
	clock := newTestClock(1_000_000)
	ms := NewMemoryStore(WithMemoryClock(clock.Now))
	defer func() { _ = ms.Close() }()

	ctx := context.Background()
	_, _ = ms.Incr(ctx, "short")
	_ = ms.Expire(ctx, "short", time.Second)
	_, _ = ms.Incr(ctx, "long")
	_ = ms.Expire(ctx, "long", time.Hour)

	clock.Advance(2 * time.Second)
	ms.cleanup()

	if ms.Len() != 1 {
		t.Errorf("expected 1 key after cleanup, got %d", ms.Len())
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ms := NewMemoryStore()
	defer func() { _ = ms.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := ms.Incr(ctx, "k"); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestMemoryStore_ConcurrentIncr(t *testing.T) {
	ms := NewMemoryStore()
	defer func() { _ = ms.Close() }()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ms.Incr(ctx, "k")
		}()
	}
	wg.Wait()

	v, _, _ := ms.Get(ctx, "k")
	if v != 200 {
		t.Errorf("expected 200, got %d", v)
	}
}

func TestMemoryStore_CloseTwice(t *testing.T) {
	ms := NewMemoryStore()
	if err := ms.Close(); err != nil {
		t.Fatal(err)
	}
	if err := ms.Close(); err != nil {
		t.Fatal(err)
	}
}
