package domain

import "time"

// SearchKind selects the request shape sent to a web search backend.
type SearchKind string

const (
	SearchKindText  SearchKind = "text"
	SearchKindImage SearchKind = "image"
)

func NormalizeSearchKind(raw string) SearchKind {
	if SearchKind(raw) == SearchKindImage {
		return SearchKindImage
	}
	return SearchKindText
}

type MediaSearchRequest struct {
	Query    string
	Type     MediaType
	Language Language
	NoCache  bool
}

type MediaSearchResponse struct {
	Query     string           `json:"query"`
	Type      MediaType        `json:"type"`
	Language  Language         `json:"lang"`
	Items     []MediaItem      `json:"items"`
	Cached    bool             `json:"cached"`
	ElapsedMS int64            `json:"elapsedMs"`
	Providers []ProviderStatus `json:"providers,omitempty"`
}

type WebSearchRequest struct {
	Query       string
	Kind        SearchKind
	Credentials WebSearchCredentials
}

// WebResult is the raw, per-adapter result shape. It is never persisted.
type WebResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Link    string `json:"link"`
	Image   string `json:"image,omitempty"`
	Source  string `json:"source,omitempty"`
	Domain  string `json:"domain,omitempty"`
}

// ScoredResult is a WebResult after cleanup, scoring and grouping.
type ScoredResult struct {
	WebResult
	CleanTitle string `json:"cleanTitle"`
	Year       int    `json:"year,omitempty"`
	Score      int    `json:"score"`
	Key        string `json:"key"`
}

type ProviderInfo struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

type ProviderStatus struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// ProviderState summarizes a provider's circuit breaker for the settings UI.
type ProviderState string

const (
	ProviderIdle         ProviderState = "idle"
	ProviderHealthy      ProviderState = "healthy"
	ProviderDegraded     ProviderState = "degraded"
	ProviderBlocked      ProviderState = "blocked"
	ProviderUnconfigured ProviderState = "unconfigured"
)

type ProviderDiagnostics struct {
	Name                string        `json:"name"`
	State               ProviderState `json:"state"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	BlockedUntil        *time.Time    `json:"blockedUntil,omitempty"`
	LastError           string        `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time    `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time    `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64         `json:"lastLatencyMs"`
	LastQuery           string        `json:"lastQuery,omitempty"`
	Requests            int64         `json:"requests"`
	Failures            int64         `json:"failures"`
	Timeouts            int64         `json:"timeouts"`
	QuotaHits           int64         `json:"quotaHits"`
}

// ConnectionResult is what a provider connectivity probe reports to the settings UI.
type ConnectionResult struct {
	Provider  string `json:"provider"`
	OK        bool   `json:"ok"`
	Status    int    `json:"status,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	Count     int    `json:"count,omitempty"`
	Poster    string `json:"poster,omitempty"`
	Error     string `json:"error,omitempty"`
}

// QuotaEvent is surfaced to the user-visible layer at most once per window per provider.
type QuotaEvent struct {
	Provider string    `json:"provider"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}
