package cache

import (
	"context"
	"encoding/json"
	"time"
)

// jsonStore is the slice of RedisStore the tiered cache needs.
type jsonStore interface {
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// stamped is the Redis payload of a tiered entry. StoredAt travels with the
// value so a copy promoted into memory expires when the original does.
type stamped[V any] struct {
	StoredAt int64 `json:"storedAt"`
	Value    V     `json:"value"`
}

// Tiered reads Redis first and falls back to the in-memory TTL cache. Writes go
// to both. A Redis failure is never surfaced; the memory tier keeps working.
type Tiered[V any] struct {
	memory *TTL[V]
	redis  jsonStore
}

func NewTiered[V any](memory *TTL[V], redis *RedisStore) *Tiered[V] {
	t := &Tiered[V]{memory: memory}
	if redis != nil {
		t.redis = redis
	}
	return t
}

func (t *Tiered[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	if t == nil {
		return zero, false
	}
	if t.redis != nil {
		var payload stamped[V]
		found, err := t.redis.GetJSON(ctx, t.memory.Name()+":"+key, &payload)
		if err == nil && found {
			storedAt := time.UnixMilli(payload.StoredAt)
			if t.memory.expired(storedAt) {
				return zero, false
			}
			// Keep a local copy so a later Redis outage still has something to serve.
			t.memory.setStoredAt(key, payload.Value, storedAt)
			return payload.Value, true
		}
	}
	return t.memory.Get(key)
}

func (t *Tiered[V]) Set(ctx context.Context, key string, value V) {
	if t == nil {
		return
	}
	now := t.memory.now()
	if t.redis != nil {
		payload := stamped[V]{StoredAt: now.UnixMilli(), Value: value}
		_ = t.redis.SetJSON(ctx, t.memory.Name()+":"+key, payload, t.memory.TTL())
	}
	t.memory.setStoredAt(key, value, now)
}

// Timestamped persists string payloads together with a companion "<key>:ts"
// entry and treats anything older than ttl as absent.
type Timestamped struct {
	kv  KV
	ttl time.Duration
	now func() time.Time
}

func NewTimestamped(kv KV, ttl time.Duration) *Timestamped {
	return &Timestamped{kv: kv, ttl: ttl, now: time.Now}
}

func (s *Timestamped) WithClock(now func() time.Time) *Timestamped {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Timestamped) GetJSON(ctx context.Context, key string, out any) bool {
	if s == nil || s.kv == nil {
		return false
	}
	rawTS, ok, err := s.kv.Get(ctx, key+":ts")
	if err != nil || !ok {
		return false
	}
	storedAt, ok := parseTimestamp(rawTS)
	if !ok || s.now().After(storedAt.Add(s.ttl)) {
		return false
	}
	payload, ok, err := s.kv.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	return json.Unmarshal([]byte(payload), out) == nil
}

func (s *Timestamped) SetJSON(ctx context.Context, key string, value any) error {
	if s == nil || s.kv == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, key, string(data)); err != nil {
		return err
	}
	return s.kv.Set(ctx, key+":ts", formatTimestamp(s.now()))
}
