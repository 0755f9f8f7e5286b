package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"mediatracker/searchservice/internal/cache"
	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/logsink"
	"mediatracker/searchservice/internal/providers/common"
	"mediatracker/searchservice/internal/providers/plugin"
	"mediatracker/searchservice/internal/providers/websearch"
	"mediatracker/searchservice/internal/telemetry"
)

const (
	defaultSearchTimeout = 30 * time.Second
	defaultResultTTL     = 2 * time.Hour
	maxItemsPerSource    = 10
	maxMediaItems        = 20
	maxLogSnapshot       = 2000
)

// PluginRunner runs every enabled user plugin for one query.
type PluginRunner interface {
	Names() []string
	SearchAll(ctx context.Context, req plugin.Request, enabled func(name string) bool) []plugin.Outcome
}

// Completer is an OpenAI-style chat completion capability.
type Completer interface {
	Enabled() bool
	Complete(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
}

// Service is the media search orchestrator. It owns the limiters, caches and
// breaker state shared by every stage.
type Service struct {
	settings   func() domain.Settings
	classifier *Classifier
	planner    *Planner
	scorer     *Scorer
	web        *WebSearcher
	sources    []MetadataSource
	plugins    PluginRunner
	ai         Completer
	posters    *PosterResolver
	enricher   *Enricher
	results    *cache.Timestamped
	policy     MergePolicy
	caller     *apiCaller
	health     *healthTracker
	quota      *QuotaNotifier
	logs       logsink.Sink
	testers    map[string]ConnectionTester
	connCache  *cache.TTL[domain.ConnectionResult]
	timeout    time.Duration
	newID      func() string
	logger     *slog.Logger

	backends      map[string]websearch.Backend
	redis         *cache.RedisStore
	resultKV      cache.KV
	resultTTL     time.Duration
	finder        PosterFinder
	apiMax        int
	searchMax     int
	retry         RetryConfig
	enrichWorkers int
	enrichTimeout time.Duration
	quotaSink     QuotaSink
	now           func() time.Time
}

type ServiceOption func(*Service)

// WithSettings sets the credential store read on every call.
func WithSettings(settings func() domain.Settings) ServiceOption {
	return func(s *Service) {
		if settings != nil {
			s.settings = settings
		}
	}
}

func WithClassifier(classifier *Classifier) ServiceOption {
	return func(s *Service) {
		if classifier != nil {
			s.classifier = classifier
		}
	}
}

func WithWebBackends(backends map[string]websearch.Backend) ServiceOption {
	return func(s *Service) {
		s.backends = backends
	}
}

// WithMetadataSources registers catalogs such as TMDB and Bangumi. Each
// source's name is also its merge family.
func WithMetadataSources(sources ...MetadataSource) ServiceOption {
	return func(s *Service) {
		for _, source := range sources {
			if source != nil {
				s.sources = append(s.sources, source)
			}
		}
	}
}

func WithPlugins(runner PluginRunner) ServiceOption {
	return func(s *Service) {
		s.plugins = runner
	}
}

func WithCompleter(completer Completer) ServiceOption {
	return func(s *Service) {
		s.ai = completer
	}
}

func WithPosterFinder(finder PosterFinder) ServiceOption {
	return func(s *Service) {
		s.finder = finder
	}
}

// WithRedisCache adds Redis as the shared tier of the web search cache.
func WithRedisCache(store *cache.RedisStore) ServiceOption {
	return func(s *Service) {
		s.redis = store
	}
}

// WithResultStore persists final result lists across restarts.
func WithResultStore(kv cache.KV, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		s.resultKV = kv
		if ttl > 0 {
			s.resultTTL = ttl
		}
	}
}

func WithMergePolicy(policy MergePolicy) ServiceOption {
	return func(s *Service) {
		if len(policy) > 0 {
			s.policy = policy
		}
	}
}

func WithLogSink(sink logsink.Sink) ServiceOption {
	return func(s *Service) {
		s.logs = sink
	}
}

// WithConnectionTester registers a connectivity probe for a non-web provider.
func WithConnectionTester(name string, tester ConnectionTester) ServiceOption {
	return func(s *Service) {
		if tester != nil {
			s.testers[strings.ToLower(strings.TrimSpace(name))] = tester
		}
	}
}

// WithConcurrency sizes the api and search limiters.
func WithConcurrency(api, search int) ServiceOption {
	return func(s *Service) {
		if api > 0 {
			s.apiMax = api
		}
		if search > 0 {
			s.searchMax = search
		}
	}
}

func WithRetry(cfg RetryConfig) ServiceOption {
	return func(s *Service) {
		if cfg.MaxAttempts > 0 {
			s.retry = cfg
		}
	}
}

func WithEnrichment(workers int, itemTimeout time.Duration) ServiceOption {
	return func(s *Service) {
		s.enrichWorkers = workers
		s.enrichTimeout = itemTimeout
	}
}

func WithQuotaSink(sink QuotaSink) ServiceOption {
	return func(s *Service) {
		s.quotaSink = sink
	}
}

func WithTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func withClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(opts ...ServiceOption) *Service {
	svc := &Service{
		settings:  func() domain.Settings { return domain.Settings{} },
		policy:    DefaultMergePolicy(),
		testers:   make(map[string]ConnectionTester),
		timeout:   defaultSearchTimeout,
		newID:     uuid.NewString,
		logger:    slog.Default(),
		resultTTL: defaultResultTTL,
		apiMax:    defaultAPIConcurrency,
		searchMax: defaultSearchConcurrency,
		retry:     DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.classifier == nil {
		svc.classifier = DefaultClassifier()
	}
	svc.planner = NewPlanner(svc.classifier)
	svc.scorer = NewScorer(svc.classifier)
	svc.health = newHealthTracker()
	svc.quota = NewQuotaNotifier(defaultQuotaWindow, svc.quotaSink)
	if svc.now != nil {
		svc.quota.withClock(svc.now)
	}
	svc.caller = &apiCaller{
		limiter: NewLimiter(LimiterAPI, svc.apiMax),
		health:  svc.health,
		quota:   svc.quota,
		retry:   svc.retry,
		logger:  svc.logger,
	}
	if svc.backends == nil {
		svc.backends = websearch.NewBackends(websearch.Clients{}, websearch.Endpoints{})
	}
	svc.web = NewWebSearcher(WebSearcherConfig{
		Backends: svc.backends,
		Settings: svc.settings,
		Limiter:  NewLimiter(LimiterSearch, svc.searchMax),
		Health:   svc.health,
		Quota:    svc.quota,
		Retry:    svc.retry,
		Redis:    svc.redis,
		Logger:   svc.logger,
	})
	if svc.finder != nil {
		svc.posters = NewPosterResolver(svc.finder, svc.web, svc.classifier, svc.logger)
	}
	svc.enricher = newEnricher(EnricherConfig{
		Sources:     svc.sources,
		Posters:     svc.posters,
		Workers:     svc.enrichWorkers,
		ItemTimeout: svc.enrichTimeout,
		Logger:      svc.logger,
	}, svc.caller)

	kv := svc.resultKV
	if kv == nil {
		kv = cache.NewMemoryKV()
	}
	svc.results = cache.NewTimestamped(kv, svc.resultTTL)
	if svc.now != nil {
		svc.results.WithClock(svc.now)
	}
	svc.connCache = cache.NewTTL[domain.ConnectionResult]("connectivity", connectivityTTL)
	return svc
}

func resultCacheKey(lang domain.Language, mediaType domain.MediaType, query string) string {
	return fmt.Sprintf("media:%s|%s|%s", lang, mediaType, strings.ToLower(query))
}

type fanOutResult struct {
	groups   map[string][]domain.MediaItem
	statuses []domain.ProviderStatus
	context  []domain.ScoredResult
}

// SearchMedia answers one media query. Apart from an empty query it never
// fails: provider errors only shrink the result.
func (s *Service) SearchMedia(ctx context.Context, req domain.MediaSearchRequest) (domain.MediaSearchResponse, error) {
	query := strings.Join(strings.Fields(req.Query), " ")
	if query == "" {
		return domain.MediaSearchResponse{}, ErrInvalidQuery
	}
	startedAt := time.Now()
	settings := s.settings()
	lang := req.Language
	if lang == "" {
		lang = settings.Language
	}
	if lang == "" {
		lang = domain.DetectLanguage(query)
	}
	mediaType := req.Type
	if mediaType == "" {
		mediaType = domain.MediaTypeAll
	}
	response := domain.MediaSearchResponse{Query: query, Type: mediaType, Language: lang}

	ctx, span := telemetry.StartSpan(ctx, "search.media",
		attribute.String("search.query", query),
		attribute.String("search.type", string(mediaType)),
		attribute.String("search.lang", string(lang)),
	)
	defer span.End()

	key := resultCacheKey(lang, mediaType, query)
	if !req.NoCache {
		var cached []domain.MediaItem
		if s.results.GetJSON(ctx, key, &cached) {
			span.SetAttributes(attribute.Bool("search.cached", true))
			response.Items = cached
			response.Cached = true
			response.ElapsedMS = time.Since(startedAt).Milliseconds()
			return response, nil
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	plan := s.planner.Plan(query, mediaType, lang)
	fan := s.fanOut(runCtx, plan, settings)
	if items := s.askAI(runCtx, plan, fan.context); len(items) > 0 {
		fan.groups[FamilyAI] = items
		fan.statuses = append(fan.statuses, domain.ProviderStatus{Name: FamilyAI, OK: true, Count: len(items)})
	}

	merged := s.mergeGroups(fan.groups)
	if len(merged) == 0 && len(fan.context) > 0 {
		s.logger.Info("no provider results, using web placeholders",
			slog.String("query", query),
			slog.Int("count", len(fan.context)),
		)
		merged = s.mergeGroups(map[string][]domain.MediaItem{
			FamilyWeb: s.scorer.PlaceholderItems(plan, fan.context),
		})
	}
	if len(merged) > maxMediaItems {
		merged = merged[:maxMediaItems]
	}

	enrichCtx, enrichSpan := telemetry.StartSpan(runCtx, "search.enrich", attribute.Int("search.items", len(merged)))
	items := s.enricher.Enrich(enrichCtx, merged, lang)
	enrichSpan.End()

	if len(items) > 0 {
		if err := s.results.SetJSON(ctx, key, items); err != nil {
			s.logger.Warn("result cache write failed", slog.String("error", err.Error()))
		}
	}
	if items == nil {
		items = []domain.MediaItem{}
	}
	response.Items = items
	response.Providers = fan.statuses
	response.ElapsedMS = time.Since(startedAt).Milliseconds()
	span.SetAttributes(attribute.Int("search.results", len(items)))
	return response, nil
}

// fanOut runs the catalogs, the plugins and the grounding web search at the
// same time and waits for all of them.
func (s *Service) fanOut(ctx context.Context, plan QueryPlan, settings domain.Settings) fanOutResult {
	result := fanOutResult{groups: make(map[string][]domain.MediaItem)}
	var mu sync.Mutex
	record := func(family string, items []domain.MediaItem, status domain.ProviderStatus) {
		mu.Lock()
		defer mu.Unlock()
		if len(items) > 0 {
			result.groups[family] = append(result.groups[family], items...)
		}
		result.statuses = append(result.statuses, status)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, source := range s.sources {
		if !source.Enabled() {
			continue
		}
		g.Go(func() error {
			items, err := s.searchSource(gctx, source, plan)
			record(source.Name(), items, statusOf(source.Name(), len(items), err))
			return nil
		})
	}
	if s.plugins != nil && len(s.plugins.Names()) > 0 {
		g.Go(func() error {
			startedAt := time.Now()
			req := plugin.Request{Query: plan.Query, Type: string(plan.Type), Language: string(plan.Language)}
			if !plan.Declared {
				req.Type = ""
			}
			for _, outcome := range s.plugins.SearchAll(gctx, req, settings.PluginEnabled) {
				s.logCall(plugin.SourcePrefix+outcome.Plugin, plan.Query, req, len(outcome.Items), time.Since(startedAt), outcome.Err)
				record(FamilyPlugin, outcome.Items, statusOf(plugin.SourcePrefix+outcome.Plugin, len(outcome.Items), outcome.Err))
			}
			return nil
		})
	}
	g.Go(func() error {
		startedAt := time.Now()
		raw := s.web.SearchPlan(gctx, plan, domain.SearchKindText)
		scored := s.scorer.Rank(plan, raw)
		s.logCall(FamilyWeb, plan.Query, plan.Variants, len(scored), time.Since(startedAt), nil)
		mu.Lock()
		result.context = scored
		result.statuses = append(result.statuses, domain.ProviderStatus{Name: FamilyWeb, OK: true, Count: len(scored)})
		mu.Unlock()
		return nil
	})
	_ = g.Wait()
	return result
}

func (s *Service) searchSource(ctx context.Context, source MetadataSource, plan QueryPlan) ([]domain.MediaItem, error) {
	ctx, span := telemetry.StartSpan(ctx, "search.source", attribute.String("search.provider", source.Name()))
	startedAt := time.Now()
	mediaType := plan.Type
	if !plan.Declared {
		mediaType = domain.MediaTypeAll
	}
	var items []domain.MediaItem
	err := s.caller.call(ctx, source.Name(), plan.Query, func(ctx context.Context) error {
		var err error
		items, err = source.SearchItems(ctx, plan.Query, mediaType, plan.Language)
		return err
	})
	telemetry.EndSpan(span, err)
	s.logCall(source.Name(), plan.Query, mediaType, len(items), time.Since(startedAt), err)
	if err != nil {
		return nil, err
	}
	if len(items) > maxItemsPerSource {
		items = items[:maxItemsPerSource]
	}
	return items, nil
}

func statusOf(name string, count int, err error) domain.ProviderStatus {
	status := domain.ProviderStatus{Name: name, OK: err == nil, Count: count}
	if err != nil {
		status.Error = err.Error()
	}
	return status
}

// WebSearchResult is a planned, scored web search.
type WebSearchResult struct {
	Plan    QueryPlan             `json:"plan"`
	Results []domain.ScoredResult `json:"results"`
}

// WebSearch runs the planner, the web backend and the scorer for one query.
func (s *Service) WebSearch(ctx context.Context, query string, mediaType domain.MediaType, lang domain.Language, kind domain.SearchKind) (WebSearchResult, error) {
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		return WebSearchResult{}, ErrInvalidQuery
	}
	if lang == "" {
		lang = s.settings().Language
	}
	ctx, span := telemetry.StartSpan(ctx, "search.web", attribute.String("search.query", query))
	defer span.End()

	plan := s.planner.Plan(query, mediaType, lang)
	ranking := plan
	if kind == domain.SearchKindImage {
		// Image results carry no snippet worth filtering on.
		ranking.Declared = true
	}
	results := s.scorer.Rank(ranking, s.web.SearchPlan(ctx, plan, kind))
	if results == nil {
		results = []domain.ScoredResult{}
	}
	return WebSearchResult{Plan: plan, Results: results}, nil
}

// Providers lists every provider the service can call.
func (s *Service) Providers() []domain.ProviderInfo {
	settings := s.settings()
	creds := cleanCredentials(settings.WebSearch)
	var items []domain.ProviderInfo
	for _, backend := range s.web.Backends() {
		items = append(items, domain.ProviderInfo{
			Name:    backend.Name(),
			Label:   backend.Label(),
			Kind:    "web",
			Enabled: backend.Name() == creds.Provider && backend.Ready(creds),
		})
	}
	for _, source := range s.sources {
		items = append(items, domain.ProviderInfo{
			Name:    source.Name(),
			Label:   providerLabel(source.Name()),
			Kind:    "metadata",
			Enabled: source.Enabled(),
		})
	}
	if s.plugins != nil {
		for _, name := range s.plugins.Names() {
			items = append(items, domain.ProviderInfo{
				Name:    plugin.SourcePrefix + name,
				Label:   name,
				Kind:    "plugin",
				Enabled: settings.PluginEnabled(name),
			})
		}
	}
	if s.ai != nil {
		items = append(items, domain.ProviderInfo{Name: FamilyAI, Label: "AI", Kind: "ai", Enabled: s.ai.Enabled()})
	}
	return items
}

func providerLabel(name string) string {
	switch name {
	case "tmdb":
		return "TMDB"
	case "bangumi":
		return "Bangumi"
	default:
		return name
	}
}

// ProviderHealth reports breaker state for every provider that can be called.
func (s *Service) ProviderHealth() []domain.ProviderDiagnostics {
	providers := s.Providers()
	names := make([]string, 0, len(providers))
	for _, info := range providers {
		if info.Kind == "plugin" {
			continue
		}
		names = append(names, info.Name)
	}
	return s.health.diagnostics(names, time.Now())
}

// QuotaEvents returns the quota notifications emitted recently.
func (s *Service) QuotaEvents() []domain.QuotaEvent {
	return s.quota.Recent()
}

func (s *Service) logCall(provider, query string, request any, count int, duration time.Duration, err error) {
	if s.logs == nil {
		return
	}
	entry := logsink.Entry{
		Provider:   provider,
		Query:      query,
		Request:    snapshot(request),
		Response:   fmt.Sprintf(`{"count":%d}`, count),
		DurationMS: duration.Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
		var statusErr *common.StatusError
		if errors.As(err, &statusErr) {
			entry.Response = common.Truncate(statusErr.Body, maxLogSnapshot)
		}
	}
	s.logs.Append(entry)
}

func snapshot(value any) string {
	if value == nil {
		return ""
	}
	data, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return common.Truncate(string(data), maxLogSnapshot)
}
