package search

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"mediatracker/searchservice/internal/metrics"
)

const (
	LimiterAPI    = "api"
	LimiterSearch = "search"

	defaultAPIConcurrency    = 2
	defaultSearchConcurrency = 4
)

// Limiter bounds concurrent calls of one class. Waiters are admitted in the
// order they arrived.
type Limiter struct {
	name    string
	max     int64
	sem     *semaphore.Weighted
	inUse   atomic.Int64
	waiting atomic.Int64
}

func NewLimiter(name string, max int) *Limiter {
	if max <= 0 {
		max = 1
	}
	return &Limiter{name: name, max: int64(max), sem: semaphore.NewWeighted(int64(max))}
}

// Acquire blocks until a slot is free or ctx ends. The returned release is
// safe to call more than once.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	l.waiting.Add(1)
	metrics.LimiterWaiting.WithLabelValues(l.name).Inc()
	started := time.Now()
	err := l.sem.Acquire(ctx, 1)
	l.waiting.Add(-1)
	metrics.LimiterWaiting.WithLabelValues(l.name).Dec()
	metrics.LimiterWaitDuration.WithLabelValues(l.name).Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, err
	}

	l.inUse.Add(1)
	metrics.LimiterInUse.WithLabelValues(l.name).Inc()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.inUse.Add(-1)
			metrics.LimiterInUse.WithLabelValues(l.name).Dec()
			l.sem.Release(1)
		})
	}, nil
}

// Do runs fn while holding a slot. The slot is released on every exit path,
// including a panic in fn.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

func (l *Limiter) Name() string { return l.name }
func (l *Limiter) Max() int     { return int(l.max) }
func (l *Limiter) InUse() int   { return int(l.inUse.Load()) }
func (l *Limiter) Waiting() int { return int(l.waiting.Load()) }
