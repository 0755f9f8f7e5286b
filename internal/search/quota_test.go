package search

import (
	"errors"
	"testing"
	"time"

	"mediatracker/searchservice/internal/domain"
)

func TestQuotaNotifierOncePerWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var events []domain.QuotaEvent
	notifier := NewQuotaNotifier(time.Minute, func(event domain.QuotaEvent) {
		events = append(events, event)
	}).withClock(func() time.Time { return now })

	quotaErr := errors.New("429 too many requests")
	if !notifier.Notify("Serper", quotaErr) {
		t.Fatalf("expected first quota error to be emitted")
	}
	for i := 0; i < 10; i++ {
		now = now.Add(5 * time.Second)
		if notifier.Notify("serper", quotaErr) {
			t.Fatalf("expected repeat %d inside the window to be swallowed", i)
		}
	}
	if !notifier.Notify("google", quotaErr) {
		t.Fatalf("expected other providers to have their own window")
	}

	now = now.Add(11 * time.Second)
	if !notifier.Notify("serper", quotaErr) {
		t.Fatalf("expected emission after the window")
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Provider != "serper" {
		t.Fatalf("expected normalized provider name, got %q", events[0].Provider)
	}
	if got := notifier.Recent(); len(got) != 3 {
		t.Fatalf("expected recent events to be kept, got %d", len(got))
	}
}

func TestQuotaNotifierNilSafe(t *testing.T) {
	var notifier *QuotaNotifier
	if notifier.Notify("serper", errors.New("quota")) {
		t.Fatalf("nil notifier must not emit")
	}
	if notifier.Recent() != nil {
		t.Fatalf("nil notifier has no events")
	}
}
