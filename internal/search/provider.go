package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

var (
	ErrInvalidQuery    = errors.New("query is required")
	ErrUnknownProvider = errors.New("unknown provider")
)

// MetadataSource is a catalog that can both search and return details for a
// record it owns, such as TMDB or Bangumi.
type MetadataSource interface {
	Name() string
	Enabled() bool
	SearchItems(ctx context.Context, query string, mediaType domain.MediaType, lang domain.Language) ([]domain.MediaItem, error)
	DetailItem(ctx context.Context, ref domain.ExternalRef, lang domain.Language) (domain.MediaItem, error)
}

// apiCaller runs metadata calls under the api limiter with retries, the
// circuit breaker and quota notification.
type apiCaller struct {
	limiter *Limiter
	health  *healthTracker
	quota   *QuotaNotifier
	retry   RetryConfig
	logger  *slog.Logger
}

func (c *apiCaller) call(ctx context.Context, provider, query string, fn func(ctx context.Context) error) error {
	if err := c.health.check(provider, time.Now()); err != nil {
		return err
	}
	startedAt := time.Now()
	err := c.limiter.Do(ctx, func(ctx context.Context) error {
		return Retry(ctx, c.retry, provider, func(int) error {
			return fn(ctx)
		})
	})
	latency := time.Since(startedAt)
	c.health.record(provider, query, err, latency, time.Now())
	if err != nil {
		if common.IsQuota(err) {
			c.quota.Notify(provider, err)
		}
		c.logger.Warn("provider call failed",
			slog.String("provider", provider),
			slog.String("query", query),
			slog.Int64("durationMs", latency.Milliseconds()),
			slog.String("error", err.Error()),
		)
		return err
	}
	c.logger.Debug("provider call",
		slog.String("provider", provider),
		slog.String("query", query),
		slog.Int64("durationMs", latency.Milliseconds()),
	)
	return nil
}

func sourceIndex(sources []MetadataSource) map[string]MetadataSource {
	index := make(map[string]MetadataSource, len(sources))
	for _, source := range sources {
		if source == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(source.Name()))
		if name != "" {
			index[name] = source
		}
	}
	return index
}
