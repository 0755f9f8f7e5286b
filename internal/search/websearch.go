package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"mediatracker/searchservice/internal/cache"
	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/metrics"
	"mediatracker/searchservice/internal/providers/common"
	"mediatracker/searchservice/internal/providers/websearch"
)

const (
	defaultWebCacheTTL     = 2 * time.Hour
	defaultWebCacheEntries = 512
)

type WebSearcherConfig struct {
	Backends map[string]websearch.Backend
	// Settings supplies the credentials for each call.
	Settings     func() domain.Settings
	Limiter      *Limiter
	Health       *healthTracker
	Quota        *QuotaNotifier
	Retry        RetryConfig
	CacheTTL     time.Duration
	CacheEntries int
	Redis        *cache.RedisStore
	Logger       *slog.Logger
}

// WebSearcher runs one query against the configured backend with caching,
// retries, the search limiter and DuckDuckGo fallback. It never fails: any
// error degrades to fewer or no results.
type WebSearcher struct {
	backends map[string]websearch.Backend
	settings func() domain.Settings
	limiter  *Limiter
	health   *healthTracker
	quota    *QuotaNotifier
	retry    RetryConfig
	cache    *cache.Tiered[[]domain.WebResult]
	logger   *slog.Logger
}

func NewWebSearcher(cfg WebSearcherConfig) *WebSearcher {
	settings := cfg.Settings
	if settings == nil {
		settings = func() domain.Settings { return domain.Settings{} }
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = NewLimiter(LimiterSearch, defaultSearchConcurrency)
	}
	health := cfg.Health
	if health == nil {
		health = newHealthTracker()
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultWebCacheTTL
	}
	entries := cfg.CacheEntries
	if entries <= 0 {
		entries = defaultWebCacheEntries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	memory := cache.NewTTL[[]domain.WebResult]("web_search", ttl, cache.WithMaxEntries[[]domain.WebResult](entries))
	return &WebSearcher{
		backends: cfg.Backends,
		settings: settings,
		limiter:  limiter,
		health:   health,
		quota:    cfg.Quota,
		retry:    retry,
		cache:    cache.NewTiered(memory, cfg.Redis),
		logger:   logger,
	}
}

func webCacheKey(provider string, kind domain.SearchKind, creds domain.WebSearchCredentials, query string) string {
	return fmt.Sprintf("p=%s;t=%s;cx=%s;u=%s;q=%s", provider, kind, creds.CX, creds.User, query)
}

// Search runs query with the credentials from the current settings.
func (w *WebSearcher) Search(ctx context.Context, query string, kind domain.SearchKind) []domain.WebResult {
	return w.SearchWith(ctx, query, kind, w.settings().WebSearch)
}

// SearchWith runs query against the backend creds select.
func (w *WebSearcher) SearchWith(ctx context.Context, query string, kind domain.SearchKind, creds domain.WebSearchCredentials) []domain.WebResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	creds = cleanCredentials(creds)
	backend := w.backend(creds.Provider)
	if backend == nil {
		return nil
	}
	primary := backend.Name()

	if !backend.Ready(creds) {
		if kind == domain.SearchKindImage {
			return nil
		}
		metrics.FallbackTotal.WithLabelValues(primary, "credentials").Inc()
		w.logger.Debug("web search credentials missing, using fallback",
			slog.String("provider", primary),
		)
		backend = w.backends[websearch.ProviderDuckDuckGo]
		if backend == nil {
			return nil
		}
	}
	if kind == domain.SearchKindImage && !backend.SupportsImages() {
		return nil
	}

	key := webCacheKey(backend.Name(), kind, creds, query)
	if cached, ok := w.cache.Get(ctx, key); ok {
		return cached
	}

	results, err := w.run(ctx, backend, query, kind, creds)
	if (err != nil || len(results) == 0) && kind == domain.SearchKindText && backend.Name() != websearch.ProviderDuckDuckGo {
		if fallback := w.backends[websearch.ProviderDuckDuckGo]; fallback != nil {
			reason := "empty"
			switch {
			case common.IsQuota(err):
				reason = "quota"
			case err != nil:
				reason = "error"
			}
			metrics.FallbackTotal.WithLabelValues(backend.Name(), reason).Inc()
			w.logger.Info("web search falling back",
				slog.String("provider", backend.Name()),
				slog.String("reason", reason),
			)
			results, err = w.run(ctx, fallback, query, kind, creds)
		}
	}
	if err != nil || len(results) == 0 {
		return nil
	}
	w.cache.Set(ctx, key, results)
	return results
}

func (w *WebSearcher) backend(provider string) websearch.Backend {
	if backend, ok := w.backends[provider]; ok {
		return backend
	}
	return w.backends[websearch.ProviderDuckDuckGo]
}

// run performs one backend call under the search limiter, retrying retryable
// failures, and feeds the outcome to the breaker and the quota notifier.
func (w *WebSearcher) run(ctx context.Context, backend websearch.Backend, query string, kind domain.SearchKind, creds domain.WebSearchCredentials) ([]domain.WebResult, error) {
	name := backend.Name()
	if err := w.health.check(name, time.Now()); err != nil {
		w.logger.Debug("web search provider blocked", slog.String("provider", name), slog.String("error", err.Error()))
		return nil, err
	}

	startedAt := time.Now()
	var results []domain.WebResult
	err := w.limiter.Do(ctx, func(ctx context.Context) error {
		return Retry(ctx, w.retry, name, func(int) error {
			var callErr error
			results, callErr = backend.Search(ctx, query, kind, creds)
			return callErr
		})
	})
	latency := time.Since(startedAt)
	w.health.record(name, query, err, latency, time.Now())

	if err != nil {
		if common.IsQuota(err) {
			w.quota.Notify(name, err)
		}
		w.logger.Warn("web search failed",
			slog.String("provider", name),
			slog.String("query", query),
			slog.Int64("durationMs", latency.Milliseconds()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	w.logger.Debug("web search",
		slog.String("provider", name),
		slog.String("query", query),
		slog.Int64("durationMs", latency.Milliseconds()),
		slog.Int("count", len(results)),
	)
	return results, nil
}

// SearchPlan runs every variant concurrently and concatenates the results in
// plan order, so ranking ties resolve the same way regardless of timing.
func (w *WebSearcher) SearchPlan(ctx context.Context, plan QueryPlan, kind domain.SearchKind) []domain.WebResult {
	perVariant := make([][]domain.WebResult, len(plan.Variants))
	var wg sync.WaitGroup
	for i, variant := range plan.Variants {
		wg.Add(1)
		go func(index int, query string) {
			defer wg.Done()
			perVariant[index] = w.Search(ctx, query, kind)
		}(i, variant.Query)
	}
	wg.Wait()

	var all []domain.WebResult
	for _, results := range perVariant {
		all = append(all, results...)
	}
	return all
}

// Test queries backend provider directly, bypassing cache and fallback.
func (w *WebSearcher) Test(ctx context.Context, creds domain.WebSearchCredentials) (int, error) {
	creds = cleanCredentials(creds)
	backend, ok := w.backends[creds.Provider]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownProvider, creds.Provider)
	}
	if !backend.Ready(creds) {
		return 0, fmt.Errorf("%s: %w", backend.Name(), common.ErrMissingCredentials)
	}
	results, err := backend.Search(ctx, "test", domain.SearchKindText, creds)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

// Backends lists the configured backends by name.
func (w *WebSearcher) Backends() []websearch.Backend {
	out := make([]websearch.Backend, 0, len(w.backends))
	for _, backend := range w.backends {
		out = append(out, backend)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func cleanCredentials(creds domain.WebSearchCredentials) domain.WebSearchCredentials {
	provider := strings.ToLower(domain.CleanCredential(creds.Provider))
	if provider == "" {
		provider = websearch.ProviderDuckDuckGo
	}
	return domain.WebSearchCredentials{
		Provider: provider,
		APIKey:   domain.CleanCredential(creds.APIKey),
		CX:       domain.CleanCredential(creds.CX),
		User:     domain.CleanCredential(creds.User),
	}
}
