package search

import (
	"strings"
	"sync"
	"time"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/metrics"
)

const (
	defaultQuotaWindow = 60 * time.Second
	maxRecentQuota     = 20
)

// QuotaSink receives quota events that passed the per-provider window.
type QuotaSink func(domain.QuotaEvent)

// QuotaNotifier surfaces a provider's quota errors at most once per window.
type QuotaNotifier struct {
	window time.Duration
	sink   QuotaSink
	now    func() time.Time

	mu     sync.Mutex
	last   map[string]time.Time
	recent []domain.QuotaEvent
}

func NewQuotaNotifier(window time.Duration, sink QuotaSink) *QuotaNotifier {
	if window <= 0 {
		window = defaultQuotaWindow
	}
	return &QuotaNotifier{
		window: window,
		sink:   sink,
		now:    time.Now,
		last:   make(map[string]time.Time),
	}
}

func (q *QuotaNotifier) withClock(now func() time.Time) *QuotaNotifier {
	if now != nil {
		q.now = now
	}
	return q
}

// Notify records a quota error for provider and reports whether it was
// emitted. Repeats inside the window are swallowed.
func (q *QuotaNotifier) Notify(provider string, err error) bool {
	if q == nil || err == nil {
		return false
	}
	name := strings.ToLower(strings.TrimSpace(provider))
	now := q.now()

	q.mu.Lock()
	if last, ok := q.last[name]; ok && now.Sub(last) < q.window {
		q.mu.Unlock()
		return false
	}
	q.last[name] = now
	event := domain.QuotaEvent{Provider: name, Message: err.Error(), At: now}
	q.recent = append(q.recent, event)
	if len(q.recent) > maxRecentQuota {
		q.recent = q.recent[len(q.recent)-maxRecentQuota:]
	}
	sink := q.sink
	q.mu.Unlock()

	metrics.QuotaNotificationsTotal.WithLabelValues(name).Inc()
	if sink != nil {
		sink(event)
	}
	return true
}

// Recent returns the emitted events, newest last.
func (q *QuotaNotifier) Recent() []domain.QuotaEvent {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.QuotaEvent(nil), q.recent...)
}
