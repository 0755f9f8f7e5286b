package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "search",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 20, 40},
	}, []string{"method", "path"})

	ProviderRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "provider_requests_total",
		Help:      "Total outbound provider requests by provider name and result status.",
	}, []string{"provider", "status"})

	ProviderRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "search",
		Name:      "provider_request_duration_seconds",
		Help:      "Outbound provider request duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
	}, []string{"provider"})

	ProviderAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "search",
		Name:      "provider_available",
		Help:      "Whether a provider is available (1) or blocked by circuit breaker (0).",
	}, []string{"provider"})

	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "cache_hits_total",
		Help:      "Total cache hits by cache name.",
	}, []string{"cache"})

	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "cache_misses_total",
		Help:      "Total cache misses by cache name.",
	}, []string{"cache"})

	ProviderRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "provider_retries_total",
		Help:      "Upstream calls repeated after a retryable failure, by provider.",
	}, []string{"provider"})

	LimiterInUse = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "search",
		Name:      "limiter_in_use",
		Help:      "Permits currently held per concurrency limiter.",
	}, []string{"limiter"})

	LimiterWaiting = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "search",
		Name:      "limiter_waiting",
		Help:      "Callers queued per concurrency limiter.",
	}, []string{"limiter"})

	LimiterWaitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "search",
		Name:      "limiter_wait_seconds",
		Help:      "Time spent waiting for a limiter permit.",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"limiter"})

	QuotaNotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "quota_notifications_total",
		Help:      "Quota exhaustion notices surfaced to users, by provider.",
	}, []string{"provider"})

	FallbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "web_search_fallback_total",
		Help:      "Web searches answered by the fallback backend, by primary backend and reason.",
	}, []string{"provider", "reason"})

	EnrichmentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "enrichment_items_total",
		Help:      "Enrichment outcomes per item.",
	}, []string{"outcome"})

	PosterSourceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "poster_resolved_total",
		Help:      "Posters resolved per chain source.",
	}, []string{"source"})

	AIToolCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "ai_tool_calls_total",
		Help:      "Tool invocations requested by the model, by tool name and status.",
	}, []string{"tool", "status"})

	PluginCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "plugin_calls_total",
		Help:      "Plugin search calls by plugin and status.",
	}, []string{"plugin", "status"})

	LogSinkDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "search",
		Name:      "log_sink_dropped_total",
		Help:      "Search log entries dropped because the sink buffer was full.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProviderRequestsTotal,
		ProviderRequestDuration,
		ProviderAvailable,
		ProviderRetriesTotal,
		CacheHitsTotal,
		CacheMissesTotal,
		LimiterInUse,
		LimiterWaiting,
		LimiterWaitDuration,
		QuotaNotificationsTotal,
		FallbackTotal,
		EnrichmentTotal,
		PosterSourceTotal,
		AIToolCallsTotal,
		PluginCallsTotal,
		LogSinkDroppedTotal,
	)
}
