// Package websearch holds the interchangeable general web search backends.
// Each backend is a plain HTTP client: caching, retries, concurrency limits
// and fallback are applied by the caller.
package websearch

import (
	"context"
	"net/http"
	"strings"

	"mediatracker/searchservice/internal/domain"
)

const (
	ProviderGoogle     = "google"
	ProviderSerper     = "serper"
	ProviderYandex     = "yandex"
	ProviderDuckDuckGo = "duckduckgo"

	// maxResults is what every backend asks for per request.
	maxResults = 8
)

// Backend is one general search engine.
type Backend interface {
	Name() string
	Label() string
	// Ready reports whether creds carry everything this backend needs.
	Ready(creds domain.WebSearchCredentials) bool
	SupportsImages() bool
	Search(ctx context.Context, query string, kind domain.SearchKind, creds domain.WebSearchCredentials) ([]domain.WebResult, error)
}

// Clients separates outbound traffic that may need a proxy from traffic to
// hosts that must be reached directly.
type Clients struct {
	Proxy  *http.Client
	Direct *http.Client
}

func (c Clients) proxy() *http.Client {
	if c.Proxy != nil {
		return c.Proxy
	}
	if c.Direct != nil {
		return c.Direct
	}
	return http.DefaultClient
}

func (c Clients) direct() *http.Client {
	if c.Direct != nil {
		return c.Direct
	}
	return c.proxy()
}

// Endpoints overrides backend base URLs, mostly for tests.
type Endpoints struct {
	Google         string
	Serper         string
	Yandex         string
	DuckDuckGoAPI  string
	DuckDuckGoHTML string
}

// NewBackends builds every supported backend keyed by provider name.
func NewBackends(clients Clients, endpoints Endpoints) map[string]Backend {
	return map[string]Backend{
		ProviderGoogle:     NewGoogle(clients.proxy(), endpoints.Google),
		ProviderSerper:     NewSerper(clients.proxy(), endpoints.Serper),
		ProviderYandex:     NewYandex(clients.direct(), endpoints.Yandex),
		ProviderDuckDuckGo: NewDuckDuckGo(clients.proxy(), endpoints.DuckDuckGoAPI, endpoints.DuckDuckGoHTML),
	}
}

func cleanCreds(creds domain.WebSearchCredentials) domain.WebSearchCredentials {
	return domain.WebSearchCredentials{
		Provider: strings.ToLower(domain.CleanCredential(creds.Provider)),
		APIKey:   domain.CleanCredential(creds.APIKey),
		CX:       domain.CleanCredential(creds.CX),
		User:     domain.CleanCredential(creds.User),
	}
}

func baseOr(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return strings.TrimRight(value, "/")
}

func isImageURL(raw string) bool {
	lower := strings.ToLower(raw)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp", ".gif"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
