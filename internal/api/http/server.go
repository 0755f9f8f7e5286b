// Package apihttp is the JSON bridge the desktop UI calls. It validates input
// and maps errors; all search behavior lives in the search package.
package apihttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/logsink"
	"mediatracker/searchservice/internal/providers/common"
	"mediatracker/searchservice/internal/search"
	"mediatracker/searchservice/internal/settings"
)

type SearchService interface {
	SearchMedia(ctx context.Context, req domain.MediaSearchRequest) (domain.MediaSearchResponse, error)
	WebSearch(ctx context.Context, query string, mediaType domain.MediaType, lang domain.Language, kind domain.SearchKind) (search.WebSearchResult, error)
	Chat(ctx context.Context, messages []domain.ChatMessage, temperature float64) (domain.ChatMessage, error)
	Providers() []domain.ProviderInfo
	ProviderHealth() []domain.ProviderDiagnostics
	QuotaEvents() []domain.QuotaEvent
	TestConnection(ctx context.Context, provider string, patch domain.Settings) (domain.ConnectionResult, error)
}

type SettingsService interface {
	Masked() domain.Settings
	Update(ctx context.Context, patch settings.Patch) (domain.Settings, error)
}

type LogReader interface {
	Recent(limit int) []logsink.Entry
}

const (
	maxQueryLength   = 500
	defaultLogLimit  = 100
	maxLogLimit      = 2000
	maxChatMessages  = 50
	defaultChatTemp  = 0.3
	defaultRateRPS   = 20
	defaultRateBurst = 40
)

type Server struct {
	search     SearchService
	settings   SettingsService
	logs       LogReader
	imageGuard common.URLGuard
	rps        float64
	burst      int
	logger     *slog.Logger
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func WithSettings(service SettingsService) ServerOption {
	return func(s *Server) { s.settings = service }
}

func WithLogs(logs LogReader) ServerOption {
	return func(s *Server) { s.logs = logs }
}

// WithImageGuard replaces the SSRF guard of the image proxy.
func WithImageGuard(guard common.URLGuard) ServerOption {
	return func(s *Server) { s.imageGuard = guard }
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 {
			s.rps = rps
		}
		if burst > 0 {
			s.burst = burst
		}
	}
}

func NewServer(searchService SearchService, options ...ServerOption) *Server {
	s := &Server{search: searchService, rps: defaultRateRPS, burst: defaultRateBurst}
	for _, option := range options {
		if option != nil {
			option(s)
		}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /search/media", s.requireSearch(s.handleSearchMedia))
	mux.HandleFunc("POST /search/media", s.requireSearch(s.handleSearchMedia))
	mux.HandleFunc("GET /search/web", s.requireSearch(s.handleWebSearch))
	mux.HandleFunc("POST /ai/chat", s.requireSearch(s.handleChat))
	mux.HandleFunc("GET /search/providers", s.requireSearch(s.handleProviders))
	mux.HandleFunc("GET /search/providers/health", s.requireSearch(s.handleProvidersHealth))
	mux.HandleFunc("GET /search/providers/quota", s.requireSearch(s.handleProvidersQuota))
	mux.HandleFunc("POST /search/providers/test", s.requireSearch(s.handleProviderTest))

	mux.HandleFunc("GET /search/settings", s.handleSettingsRead)
	mux.HandleFunc("PATCH /search/settings", s.handleSettingsPatch)
	mux.HandleFunc("GET /search/logs", s.handleLogs)
	mux.Handle("GET /search/image", newImageProxy(s.imageGuard))

	var handler http.Handler = mux
	if s.rps > 0 {
		handler = rateLimitMiddleware(s.rps, s.burst, handler)
	}
	handler = observeMiddleware(s.logger, handler)
	handler = otelhttp.NewHandler(handler, "media-search",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return lookupRoute(r.URL.Path).class != classOpen
		}),
	)
	return recoveryMiddleware(s.logger, handler)
}

func (s *Server) requireSearch(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.search == nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "search service is not configured")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

type mediaSearchBody struct {
	Query   string `json:"query"`
	Type    string `json:"type"`
	Lang    string `json:"lang"`
	NoCache bool   `json:"noCache"`
}

// handleSearchMedia accepts the query string on GET and a JSON body on POST.
func (s *Server) handleSearchMedia(w http.ResponseWriter, r *http.Request) {
	var body mediaSearchBody
	if r.Method == http.MethodPost {
		if err := readJSON(w, r, &body); err != nil {
			badRequest(w, err.Error())
			return
		}
	} else {
		q := r.URL.Query()
		body = mediaSearchBody{
			Query:   q.Get("q"),
			Type:    q.Get("type"),
			Lang:    q.Get("lang"),
			NoCache: queryFlag(q.Get("nocache"), q.Get("noCache")),
		}
	}

	query, err := searchText(body.Query)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	response, err := s.search.SearchMedia(r.Context(), domain.MediaSearchRequest{
		Query:    query,
		Type:     domain.ParseMediaType(body.Type),
		Language: domain.NormalizeLanguage(body.Lang),
		NoCache:  body.NoCache,
	})
	if err != nil {
		s.logger.Warn("media search failed", slog.String("query", truncate(query, 80)), slog.String("error", err.Error()))
		s.writeServiceError(w, err)
		return
	}

	var failed []string
	for _, status := range response.Providers {
		if !status.OK {
			failed = append(failed, status.Name)
		}
	}
	s.logger.Info("media search completed",
		slog.String("query", truncate(query, 80)),
		slog.String("type", string(response.Type)),
		slog.Int("items", len(response.Items)),
		slog.Bool("cached", response.Cached),
		slog.Int64("elapsedMs", response.ElapsedMS),
		slog.Any("failedProviders", failed),
	)
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleWebSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query, err := searchText(q.Get("q"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	kind := domain.NormalizeSearchKind(strings.ToLower(strings.TrimSpace(q.Get("searchType"))))
	result, err := s.search.WebSearch(r.Context(), query, domain.ParseMediaType(q.Get("type")), domain.NormalizeLanguage(q.Get("lang")), kind)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeItems(w, result.Results, map[string]any{
		"query":      query,
		"searchType": kind,
		"plan":       result.Plan,
	})
}

type chatBody struct {
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature *float64             `json:"temperature"`
}

func (b chatBody) validate() (float64, error) {
	switch {
	case len(b.Messages) == 0:
		return 0, errors.New("messages are required")
	case len(b.Messages) > maxChatMessages:
		return 0, fmt.Errorf("too many messages (max %d)", maxChatMessages)
	case b.Temperature == nil:
		return defaultChatTemp, nil
	case *b.Temperature < 0 || *b.Temperature > 2:
		return 0, errors.New("temperature must be between 0 and 2")
	}
	return *b.Temperature, nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body chatBody
	if err := readJSON(w, r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	temperature, err := body.validate()
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	message, err := s.search.Chat(r.Context(), body.Messages, temperature)
	if err != nil {
		s.logger.Warn("chat failed", slog.Int("messages", len(body.Messages)), slog.String("error", err.Error()))
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": message})
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	writeItems(w, s.search.Providers(), nil)
}

func (s *Server) handleProvidersHealth(w http.ResponseWriter, _ *http.Request) {
	writeItems(w, s.search.ProviderHealth(), map[string]any{"checkedAt": time.Now().UTC()})
}

func (s *Server) handleProvidersQuota(w http.ResponseWriter, _ *http.Request) {
	writeItems(w, s.search.QuotaEvents(), nil)
}

// handleProviderTest probes one provider with unsaved credentials from the
// settings form. A failed probe is still a 200; the result carries the error.
func (s *Server) handleProviderTest(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider    string          `json:"provider"`
		Credentials domain.Settings `json:"credentials"`
	}
	if err := readJSON(w, r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	provider := strings.ToLower(strings.TrimSpace(body.Provider))
	if provider == "" {
		badRequest(w, "provider is required")
		return
	}

	result, err := s.search.TestConnection(r.Context(), provider, body.Credentials)
	if errors.Is(err, search.ErrUnknownProvider) {
		badRequest(w, err.Error())
		return
	}
	if !result.OK {
		s.logger.Info("provider connection test failed",
			slog.String("provider", provider),
			slog.Int("status", result.Status),
			slog.String("error", result.Error),
		)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSettingsRead(w http.ResponseWriter, _ *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "settings service is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.settings.Masked())
}

func (s *Server) handleSettingsPatch(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "settings service is not configured")
		return
	}
	var patch settings.Patch
	if err := readJSON(w, r, &patch); err != nil {
		badRequest(w, err.Error())
		return
	}
	updated, err := s.settings.Update(r.Context(), patch)
	switch {
	case errors.Is(err, settings.ErrInvalidSettings):
		badRequest(w, err.Error())
	case err != nil:
		s.logger.Warn("settings update failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to save settings")
	default:
		writeJSON(w, http.StatusOK, updated)
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "log sink is not configured")
		return
	}
	limit, err := queryLimit(r, defaultLogLimit, maxLogLimit)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	writeItems(w, s.logs.Recent(limit), nil)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var statusErr *common.StatusError
	switch {
	case errors.Is(err, search.ErrInvalidQuery), errors.Is(err, search.ErrUnknownProvider):
		badRequest(w, err.Error())
	case errors.Is(err, search.ErrAIDisabled):
		writeError(w, http.StatusServiceUnavailable, "ai_disabled", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "upstream timed out")
	case errors.As(err, &statusErr):
		writeError(w, http.StatusBadGateway, "upstream_error", statusErr.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "request failed")
	}
}
