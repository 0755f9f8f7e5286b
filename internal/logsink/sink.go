// Package logsink records per-call search telemetry off the critical path.
// Appending never blocks and never fails; entries are dropped when the
// buffer is full and write errors are only logged.
package logsink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mediatracker/searchservice/internal/metrics"
)

const (
	defaultBuffer    = 256
	defaultBatchSize = 32
	flushInterval    = 2 * time.Second
	writeTimeout     = 5 * time.Second
)

// Entry is one provider call or pipeline stage.
type Entry struct {
	Time       time.Time `json:"time" bson:"time"`
	Provider   string    `json:"provider" bson:"provider"`
	Query      string    `json:"query" bson:"query"`
	Request    string    `json:"request,omitempty" bson:"request,omitempty"`
	Response   string    `json:"response,omitempty" bson:"response,omitempty"`
	DurationMS int64     `json:"durationMs" bson:"durationMs"`
	Error      string    `json:"error,omitempty" bson:"error,omitempty"`
}

// Sink accepts entries without blocking.
type Sink interface {
	Append(entry Entry)
}

// Writer persists a batch of entries.
type Writer interface {
	Write(ctx context.Context, entries []Entry) error
}

// Async buffers entries and hands them to its writers in batches from a
// single background goroutine.
type Async struct {
	entries chan Entry
	writers []Writer
	logger  *slog.Logger

	batchSize int
	closeOnce sync.Once
	done      chan struct{}
}

func NewAsync(buffer int, logger *slog.Logger, writers ...Writer) *Async {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		entries:   make(chan Entry, buffer),
		writers:   writers,
		logger:    logger,
		batchSize: defaultBatchSize,
		done:      make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Append(entry Entry) {
	if a == nil {
		return
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	defer func() {
		// Append after Close lands on a closed channel.
		if recover() != nil {
			metrics.LogSinkDroppedTotal.Inc()
		}
	}()
	select {
	case a.entries <- entry:
	default:
		metrics.LogSinkDroppedTotal.Inc()
	}
}

// Close flushes what is buffered and stops the background goroutine.
func (a *Async) Close() {
	if a == nil {
		return
	}
	a.closeOnce.Do(func() {
		close(a.entries)
		<-a.done
	})
}

func (a *Async) run() {
	defer close(a.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, a.batchSize)
	for {
		select {
		case entry, ok := <-a.entries:
			if !ok {
				a.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= a.batchSize {
				a.flush(batch)
				batch = make([]Entry, 0, a.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = make([]Entry, 0, a.batchSize)
			}
		}
	}
}

func (a *Async) flush(batch []Entry) {
	if len(batch) == 0 {
		return
	}
	for _, writer := range a.writers {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := writer.Write(ctx, batch); err != nil {
			a.logger.Warn("log sink write failed",
				slog.Int("entries", len(batch)),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

// SlogWriter echoes entries to a structured logger at debug level.
type SlogWriter struct {
	Logger *slog.Logger
}

func (w SlogWriter) Write(_ context.Context, entries []Entry) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, entry := range entries {
		logger.Debug("search log",
			slog.String("provider", entry.Provider),
			slog.String("query", entry.Query),
			slog.Int64("durationMs", entry.DurationMS),
			slog.String("error", entry.Error),
		)
	}
	return nil
}
