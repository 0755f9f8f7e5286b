package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/plugin"
	"mediatracker/searchservice/internal/providers/websearch"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

// ---------------------------------------------------------------------------
// Web backends
// ---------------------------------------------------------------------------

type fakeBackend struct {
	name   string
	ready  bool
	images bool
	search func(query string, kind domain.SearchKind) ([]domain.WebResult, error)

	mu      sync.Mutex
	queries []string
}

func (b *fakeBackend) Name() string  { return b.name }
func (b *fakeBackend) Label() string { return strings.ToUpper(b.name) }
func (b *fakeBackend) Ready(domain.WebSearchCredentials) bool {
	return b.ready
}
func (b *fakeBackend) SupportsImages() bool { return b.images }

func (b *fakeBackend) Search(_ context.Context, query string, kind domain.SearchKind, _ domain.WebSearchCredentials) ([]domain.WebResult, error) {
	b.mu.Lock()
	b.queries = append(b.queries, query)
	b.mu.Unlock()
	if b.search == nil {
		return nil, nil
	}
	return b.search(query, kind)
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queries)
}

func staticResults(source string, results ...domain.WebResult) func(string, domain.SearchKind) ([]domain.WebResult, error) {
	return func(string, domain.SearchKind) ([]domain.WebResult, error) {
		out := make([]domain.WebResult, len(results))
		for i, result := range results {
			result.Source = source
			out[i] = result
		}
		return out, nil
	}
}

func backendSet(backends ...*fakeBackend) map[string]websearch.Backend {
	out := make(map[string]websearch.Backend, len(backends))
	for _, backend := range backends {
		out[backend.name] = backend
	}
	return out
}

// ---------------------------------------------------------------------------
// Metadata sources
// ---------------------------------------------------------------------------

type fakeSource struct {
	name     string
	disabled bool
	items    []domain.MediaItem
	details  map[string]domain.MediaItem
	err      error
	delay    time.Duration

	mu          sync.Mutex
	searches    int
	detailCalls int
}

func (s *fakeSource) Name() string  { return s.name }
func (s *fakeSource) Enabled() bool { return !s.disabled }

func (s *fakeSource) SearchItems(ctx context.Context, _ string, _ domain.MediaType, _ domain.Language) ([]domain.MediaItem, error) {
	s.mu.Lock()
	s.searches++
	s.mu.Unlock()
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return domain.CloneItems(s.items), nil
}

func (s *fakeSource) DetailItem(ctx context.Context, ref domain.ExternalRef, _ domain.Language) (domain.MediaItem, error) {
	s.mu.Lock()
	s.detailCalls++
	s.mu.Unlock()
	if err := s.wait(ctx); err != nil {
		return domain.MediaItem{}, err
	}
	item, ok := s.details[ref.ID]
	if !ok {
		return domain.MediaItem{}, errors.New("not found")
	}
	return item.Clone(), nil
}

func (s *fakeSource) wait(ctx context.Context) error {
	if s.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *fakeSource) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.searches, s.detailCalls
}

// ---------------------------------------------------------------------------
// Plugins
// ---------------------------------------------------------------------------

type fakePlugins struct {
	outcomes []plugin.Outcome
}

func (p *fakePlugins) Names() []string {
	names := make([]string, 0, len(p.outcomes))
	for _, outcome := range p.outcomes {
		names = append(names, outcome.Plugin)
	}
	return names
}

func (p *fakePlugins) SearchAll(_ context.Context, _ plugin.Request, enabled func(name string) bool) []plugin.Outcome {
	var out []plugin.Outcome
	for _, outcome := range p.outcomes {
		if enabled != nil && !enabled(outcome.Plugin) {
			continue
		}
		outcome.Items = domain.CloneItems(outcome.Items)
		out = append(out, outcome)
	}
	return out
}

// ---------------------------------------------------------------------------
// Completion
// ---------------------------------------------------------------------------

type fakeCompleter struct {
	reply func(turn int, req domain.ChatRequest) (domain.ChatResponse, error)

	mu       sync.Mutex
	requests []domain.ChatRequest
}

func (c *fakeCompleter) Enabled() bool { return true }

func (c *fakeCompleter) Complete(_ context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	c.mu.Lock()
	turn := len(c.requests)
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	return c.reply(turn, req)
}

func (c *fakeCompleter) calls() []domain.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.ChatRequest(nil), c.requests...)
}

func toolCallReply(query string) domain.ChatResponse {
	return domain.ChatResponse{Message: domain.ChatMessage{
		Role: domain.RoleAssistant,
		ToolCalls: []domain.ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: domain.FunctionCall{Name: webSearchTool, Arguments: `{"query":"` + query + `"}`},
		}},
	}}
}

func textReply(content string) domain.ChatResponse {
	return domain.ChatResponse{Message: domain.ChatMessage{Role: domain.RoleAssistant, Content: content}}
}

// ---------------------------------------------------------------------------
// Posters
// ---------------------------------------------------------------------------

// fakeFinder answers each lookup from a map keyed by source name and accepts
// every probe except the URLs listed in broken. Sources listed in slow block
// until their context ends.
type fakeFinder struct {
	answers map[string]string
	broken  map[string]bool
	slow    map[string]bool

	mu     sync.Mutex
	asked  []string
	probed []string
}

func (f *fakeFinder) answer(ctx context.Context, source string) (string, error) {
	f.mu.Lock()
	f.asked = append(f.asked, source)
	f.mu.Unlock()
	if f.slow[source] {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if found, ok := f.answers[source]; ok {
		return found, nil
	}
	return "", errors.New("no poster")
}

func (f *fakeFinder) OGImage(ctx context.Context, _ string) (string, error) {
	return f.answer(ctx, "og_image")
}
func (f *fakeFinder) Douban(ctx context.Context, _ string) (string, error) {
	return f.answer(ctx, "douban")
}
func (f *fakeFinder) Wikipedia(ctx context.Context, _ string, _ domain.Language) (string, error) {
	return f.answer(ctx, "wikipedia")
}
func (f *fakeFinder) OMDb(ctx context.Context, _, _ string) (string, error) {
	return f.answer(ctx, "omdb")
}
func (f *fakeFinder) OpenLibrary(ctx context.Context, _, _ string) (string, error) {
	return f.answer(ctx, "openlibrary")
}
func (f *fakeFinder) MusicBrainz(ctx context.Context, _, _ string) (string, error) {
	return f.answer(ctx, "musicbrainz")
}
func (f *fakeFinder) ITunes(ctx context.Context, _ string, _ domain.MediaType) (string, error) {
	return f.answer(ctx, "itunes")
}

func (f *fakeFinder) Probe(_ context.Context, rawURL string) error {
	f.mu.Lock()
	f.probed = append(f.probed, rawURL)
	f.mu.Unlock()
	if f.broken[rawURL] {
		return errors.New("not an image")
	}
	return nil
}

func (f *fakeFinder) sources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.asked...)
}

func (f *fakeFinder) probes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.probed...)
}
