package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ---------------------------------------------------------------------------
// TTL
// ---------------------------------------------------------------------------

func TestTTLBoundary(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	ttl := 2 * time.Hour
	c := NewTTL[string]("test", ttl, WithClock[string](clock.Now))

	c.Set("k", "v")

	clock.Advance(ttl - time.Millisecond)
	if got, ok := c.Get("k"); !ok || got != "v" {
		t.Fatalf("expected hit just before expiry, got %q %v", got, ok)
	}

	clock.Advance(2 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss just after expiry")
	}
}

func TestTTLExpiredReadBehavesLikeMiss(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewTTL[int]("test", time.Minute, WithClock[int](clock.Now))
	c.Set("k", 1)
	clock.Advance(2 * time.Minute)

	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry to be dropped, len=%d", c.Len())
	}
}

func TestTTLTrimRemovesExpiredFirstThenOldest(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	c := NewTTL[int]("test", time.Hour, WithClock[int](clock.Now), WithMaxEntries[int](3))

	c.Set("expired", 0)
	clock.Advance(2 * time.Hour)
	c.Set("a", 1)
	clock.Advance(time.Second)
	c.Set("b", 2)
	clock.Advance(time.Second)
	c.Set("c", 3)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected expired entry to be trimmed before live ones")
	}

	clock.Advance(time.Second)
	c.Set("d", 4)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected oldest entry to be evicted")
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", c.Len())
	}
}

func TestTTLConcurrentAccess(t *testing.T) {
	c := NewTTL[int]("test", time.Minute, WithMaxEntries[int](50))
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (n+j)%80)
				c.Set(key, j)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() > 50 {
		t.Fatalf("expected at most 50 entries, got %d", c.Len())
	}
}

// ---------------------------------------------------------------------------
// Timestamped
// ---------------------------------------------------------------------------

func TestTimestampedHonoursCompanionTimestamp(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := NewTimestamped(NewMemoryKV(), 6*time.Hour).WithClock(clock.Now)
	ctx := context.Background()

	if err := store.SetJSON(ctx, "zh|Movie|dune", []string{"a", "b"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got []string
	clock.Advance(6*time.Hour - time.Millisecond)
	if !store.GetJSON(ctx, "zh|Movie|dune", &got) || len(got) != 2 {
		t.Fatalf("expected hit, got %v", got)
	}

	clock.Advance(2 * time.Millisecond)
	if store.GetJSON(ctx, "zh|Movie|dune", &got) {
		t.Fatal("expected stale payload to be ignored")
	}
}

func TestTimestampedMissingTimestampIsMiss(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()
	_ = kv.Set(ctx, "k", `["x"]`)
	store := NewTimestamped(kv, time.Hour)

	var got []string
	if store.GetJSON(ctx, "k", &got) {
		t.Fatal("expected miss without timestamp key")
	}
}

func TestTieredWithoutRedisUsesMemory(t *testing.T) {
	tiered := NewTiered[[]int](NewTTL[[]int]("tiered", time.Minute), nil)
	ctx := context.Background()
	tiered.Set(ctx, "k", []int{1, 2})
	got, ok := tiered.Get(ctx, "k")
	if !ok || len(got) != 2 {
		t.Fatalf("expected memory hit, got %v %v", got, ok)
	}
}

// clockedStore is an in-process stand-in for Redis that expires keys on the
// shared fake clock.
type clockedStore struct {
	clock   *fakeClock
	mu      sync.Mutex
	values  map[string][]byte
	expires map[string]time.Time
}

func newClockedStore(clock *fakeClock) *clockedStore {
	return &clockedStore{clock: clock, values: map[string][]byte{}, expires: map[string]time.Time{}}
}

func (s *clockedStore) GetJSON(_ context.Context, key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.values[key]
	if !ok || !s.clock.Now().Before(s.expires[key]) {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

func (s *clockedStore) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = data
	s.expires[key] = s.clock.Now().Add(ttl)
	return nil
}

func TestTieredPromotedEntryKeepsOriginalExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	ttl := 300 * time.Millisecond
	store := newClockedStore(clock)
	ctx := context.Background()

	writer := &Tiered[string]{memory: NewTTL[string]("web", ttl, WithClock[string](clock.Now)), redis: store}
	writer.Set(ctx, "k", "v")

	// A second process sees the value only through Redis.
	reader := &Tiered[string]{memory: NewTTL[string]("web", ttl, WithClock[string](clock.Now)), redis: store}
	clock.Advance(250 * time.Millisecond)
	if got, ok := reader.Get(ctx, "k"); !ok || got != "v" {
		t.Fatalf("expected redis hit, got %q %v", got, ok)
	}

	clock.Advance(150 * time.Millisecond)
	if got, ok := reader.Get(ctx, "k"); ok {
		t.Fatalf("entry served past its ttl: %q", got)
	}
}

func TestTieredIgnoresStaleRedisPayload(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	store := newClockedStore(clock)
	ctx := context.Background()

	// Written by a process with a longer ttl than the reader's.
	_ = store.SetJSON(ctx, "web:k", stamped[string]{StoredAt: clock.Now().UnixMilli(), Value: "v"}, time.Hour)
	reader := &Tiered[string]{memory: NewTTL[string]("web", time.Minute, WithClock[string](clock.Now)), redis: store}

	clock.Advance(2 * time.Minute)
	if _, ok := reader.Get(ctx, "k"); ok {
		t.Fatal("expected payload older than the reader ttl to be a miss")
	}
	if reader.memory.Len() != 0 {
		t.Fatal("stale payload must not be promoted")
	}
}
