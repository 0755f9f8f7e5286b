package search

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/metrics"
	"mediatracker/searchservice/internal/providers/common"
)

const (
	breakerThreshold = 3
	breakerBlockBase = 2 * time.Minute
	breakerBlockMax  = 15 * time.Minute
)

var errProviderBlocked = errors.New("provider temporarily blocked")

// BlockedError is returned instead of calling a provider whose breaker is open.
type BlockedError struct {
	Provider  string
	Until     time.Time
	LastError string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s: blocked until %s (last error: %s)", e.Provider, e.Until.Format(time.RFC3339), e.LastError)
}

func (e *BlockedError) Unwrap() error { return errProviderBlocked }

// breaker is the state of one provider.
type breaker struct {
	failures     int
	blockedUntil time.Time
	lastError    string
	lastSuccess  time.Time
	lastFailure  time.Time
	lastLatency  time.Duration
	lastQuery    string
	unconfigured bool

	requests, failed, timeouts, quotaHits int64
}

func (b *breaker) state(now time.Time) domain.ProviderState {
	switch {
	case b == nil || b.requests == 0:
		return domain.ProviderIdle
	case b.unconfigured:
		return domain.ProviderUnconfigured
	case !b.blockedUntil.IsZero() && now.Before(b.blockedUntil):
		return domain.ProviderBlocked
	case b.failures > 0:
		return domain.ProviderDegraded
	default:
		return domain.ProviderHealthy
	}
}

// open blocks the provider. Once past the threshold every further failure
// doubles the block, up to breakerBlockMax. A quota error carrying a
// Retry-After hint blocks at least that long, even below the threshold.
func (b *breaker) open(now time.Time, err error) {
	var block time.Duration
	if b.failures >= breakerThreshold {
		block = breakerBlockBase << min(b.failures-breakerThreshold, 4)
	}
	if common.IsQuota(err) {
		block = max(block, common.RetryAfterOf(err))
	}
	if block <= 0 {
		return
	}
	b.blockedUntil = now.Add(min(block, breakerBlockMax))
}

// healthTracker holds one breaker per provider. It is shared by every stage
// that calls out so a provider failing in web search is also skipped by
// enrichment.
type healthTracker struct {
	mu       sync.Mutex
	breakers map[string]*breaker
}

func newHealthTracker() *healthTracker {
	return &healthTracker{breakers: make(map[string]*breaker)}
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// check returns a *BlockedError while provider's breaker is open.
func (h *healthTracker) check(provider string, now time.Time) error {
	if h == nil {
		return nil
	}
	key := providerKey(provider)
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.breakers[key]
	if b == nil || b.blockedUntil.IsZero() || !now.Before(b.blockedUntil) {
		return nil
	}
	return &BlockedError{Provider: key, Until: b.blockedUntil, LastError: b.lastError}
}

// record feeds one finished call into the provider's breaker. Missing
// credentials mark the provider unconfigured without counting as a failure.
func (h *healthTracker) record(provider, query string, err error, latency time.Duration, now time.Time) {
	if h == nil {
		return
	}
	key := providerKey(provider)
	if key == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	b := h.breakers[key]
	if b == nil {
		b = &breaker{}
		h.breakers[key] = b
	}
	b.requests++
	b.lastQuery = strings.TrimSpace(query)
	if latency > 0 {
		b.lastLatency = latency
		metrics.ProviderRequestDuration.WithLabelValues(key).Observe(latency.Seconds())
	}

	switch {
	case err == nil:
		b.failures = 0
		b.blockedUntil = time.Time{}
		b.lastError = ""
		b.lastSuccess = now
		b.unconfigured = false
		metrics.ProviderRequestsTotal.WithLabelValues(key, "ok").Inc()
		metrics.ProviderAvailable.WithLabelValues(key).Set(1)
		return
	case errors.Is(err, common.ErrMissingCredentials):
		b.unconfigured = true
		b.lastError = err.Error()
		metrics.ProviderRequestsTotal.WithLabelValues(key, "unconfigured").Inc()
		return
	}

	b.unconfigured = false
	b.failures++
	b.failed++
	b.lastFailure = now
	b.lastError = err.Error()

	status := "error"
	switch {
	case common.IsQuota(err):
		b.quotaHits++
		status = "quota"
	case common.IsTimeout(err):
		b.timeouts++
		status = "timeout"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(key, status).Inc()

	b.open(now, err)
	if !b.blockedUntil.IsZero() && now.Before(b.blockedUntil) {
		metrics.ProviderAvailable.WithLabelValues(key).Set(0)
	}
}

// diagnostics reports every provider in names sorted by name. Providers that
// were never called are reported idle.
func (h *healthTracker) diagnostics(names []string, now time.Time) []domain.ProviderDiagnostics {
	h.mu.Lock()
	defer h.mu.Unlock()

	items := make([]domain.ProviderDiagnostics, 0, len(names))
	for _, raw := range names {
		key := providerKey(raw)
		b := h.breakers[key]
		item := domain.ProviderDiagnostics{Name: key, State: b.state(now)}
		if b != nil {
			item.ConsecutiveFailures = b.failures
			item.BlockedUntil = timePtr(b.blockedUntil)
			item.LastError = b.lastError
			item.LastSuccessAt = timePtr(b.lastSuccess)
			item.LastFailureAt = timePtr(b.lastFailure)
			item.LastLatencyMS = b.lastLatency.Milliseconds()
			item.LastQuery = b.lastQuery
			item.Requests = b.requests
			item.Failures = b.failed
			item.Timeouts = b.timeouts
			item.QuotaHits = b.quotaHits
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
