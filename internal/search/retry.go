package search

import (
	"context"
	"math/rand/v2"
	"time"

	"mediatracker/searchservice/internal/metrics"
	"mediatracker/searchservice/internal/providers/common"
)

// RetryConfig is the backoff schedule for one upstream call.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig makes 3 attempts waiting roughly 500ms then 1s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.Multiplier < 1 {
		c.Multiplier = 1
	}
	return c
}

// retrier repeats provider calls. sleep and jitter are swapped out in tests.
type retrier struct {
	cfg    RetryConfig
	jitter func(time.Duration) time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
}

func newRetrier(cfg RetryConfig) retrier {
	return retrier{cfg: cfg.normalized(), jitter: spread, sleep: sleepCtx}
}

// Retry calls fn until it succeeds or returns an error that is not worth
// repeating (see common.IsRetryable), the attempts run out, or ctx ends.
// A Retry-After hint from the upstream replaces the computed wait, capped at
// MaxDelay. attempt starts at 1.
func Retry(ctx context.Context, cfg RetryConfig, provider string, fn func(attempt int) error) error {
	return newRetrier(cfg).run(ctx, provider, fn)
}

func (r retrier) run(ctx context.Context, provider string, fn func(attempt int) error) error {
	next := r.cfg.InitialDelay
	var err error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err = fn(attempt); err == nil || !common.IsRetryable(err) {
			return err
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		wait := r.jitter(next)
		if hint := common.RetryAfterOf(err); hint > 0 {
			wait = hint
		}
		wait = r.capped(wait)
		next = r.capped(time.Duration(float64(next) * r.cfg.Multiplier))

		if provider != "" {
			metrics.ProviderRetriesTotal.WithLabelValues(provider).Inc()
		}
		if sleepErr := r.sleep(ctx, wait); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

func (r retrier) capped(d time.Duration) time.Duration {
	if r.cfg.MaxDelay > 0 && d > r.cfg.MaxDelay {
		return r.cfg.MaxDelay
	}
	return d
}

// spread scatters d by ±25% so callers rejected together do not return together.
func spread(d time.Duration) time.Duration {
	return time.Duration(float64(d) * (0.75 + rand.Float64()*0.5))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
