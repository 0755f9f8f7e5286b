package logsink

import (
	"context"
	"sync"
)

// Ring keeps the most recent entries in memory for the logs endpoint.
type Ring struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	head     int
	count    int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 500
	}
	return &Ring{entries: make([]Entry, capacity), capacity: capacity}
}

func (r *Ring) Write(_ context.Context, entries []Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range entries {
		r.entries[r.head] = entry
		r.head = (r.head + 1) % r.capacity
		if r.count < r.capacity {
			r.count++
		}
	}
	return nil
}

// Recent returns up to limit entries, newest first. A limit of zero or less
// returns everything held.
func (r *Ring) Recent(limit int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (r.head - 1 - i + r.capacity) % r.capacity
		out = append(out, r.entries[idx])
	}
	return out
}
