package domain

import "strings"

type WebSearchCredentials struct {
	Provider string `json:"provider" bson:"provider"`
	APIKey   string `json:"apiKey,omitempty" bson:"apiKey,omitempty"`
	CX       string `json:"cx,omitempty" bson:"cx,omitempty"`
	User     string `json:"user,omitempty" bson:"user,omitempty"`
}

type AISettings struct {
	Enabled bool   `json:"enabled" bson:"enabled"`
	BaseURL string `json:"baseUrl,omitempty" bson:"baseUrl,omitempty"`
	APIKey  string `json:"apiKey,omitempty" bson:"apiKey,omitempty"`
	Model   string `json:"model,omitempty" bson:"model,omitempty"`
}

type ProxySettings struct {
	URL       string `json:"url,omitempty" bson:"url,omitempty"`
	UseSystem bool   `json:"useSystem" bson:"useSystem"`
}

// Settings is the read-only credential and provider-selection snapshot used for one call.
type Settings struct {
	WebSearch      WebSearchCredentials `json:"webSearch" bson:"webSearch"`
	TMDBAPIKey     string               `json:"tmdbApiKey,omitempty" bson:"tmdbApiKey,omitempty"`
	OMDbAPIKey     string               `json:"omdbApiKey,omitempty" bson:"omdbApiKey,omitempty"`
	BangumiToken   string               `json:"bangumiToken,omitempty" bson:"bangumiToken,omitempty"`
	AI             AISettings           `json:"ai" bson:"ai"`
	Proxy          ProxySettings        `json:"proxy" bson:"proxy"`
	Language       Language             `json:"language,omitempty" bson:"language,omitempty"`
	DisabledPlugin []string             `json:"disabledPlugins,omitempty" bson:"disabledPlugins,omitempty"`
}

// Overlay returns s with every non-empty field of patch applied on top.
func (s Settings) Overlay(patch Settings) Settings {
	out := s
	if CleanCredential(patch.WebSearch.Provider) != "" {
		out.WebSearch.Provider = strings.ToLower(CleanCredential(patch.WebSearch.Provider))
	}
	out.WebSearch.APIKey = overlayString(out.WebSearch.APIKey, patch.WebSearch.APIKey)
	out.WebSearch.CX = overlayString(out.WebSearch.CX, patch.WebSearch.CX)
	out.WebSearch.User = overlayString(out.WebSearch.User, patch.WebSearch.User)
	out.TMDBAPIKey = overlayString(out.TMDBAPIKey, patch.TMDBAPIKey)
	out.OMDbAPIKey = overlayString(out.OMDbAPIKey, patch.OMDbAPIKey)
	out.BangumiToken = overlayString(out.BangumiToken, patch.BangumiToken)
	if patch.AI.Enabled {
		out.AI.Enabled = true
	}
	out.AI.BaseURL = overlayString(out.AI.BaseURL, patch.AI.BaseURL)
	out.AI.APIKey = overlayString(out.AI.APIKey, patch.AI.APIKey)
	out.AI.Model = overlayString(out.AI.Model, patch.AI.Model)
	out.Proxy.URL = overlayString(out.Proxy.URL, patch.Proxy.URL)
	if patch.Proxy.UseSystem {
		out.Proxy.UseSystem = true
	}
	if patch.Language != "" {
		out.Language = patch.Language
	}
	if patch.DisabledPlugin != nil {
		out.DisabledPlugin = append([]string(nil), patch.DisabledPlugin...)
	}
	return out
}

// Masked hides secrets for display.
func (s Settings) Masked() Settings {
	out := s
	out.WebSearch.APIKey = maskSecret(s.WebSearch.APIKey)
	out.TMDBAPIKey = maskSecret(s.TMDBAPIKey)
	out.OMDbAPIKey = maskSecret(s.OMDbAPIKey)
	out.BangumiToken = maskSecret(s.BangumiToken)
	out.AI.APIKey = maskSecret(s.AI.APIKey)
	return out
}

func (s Settings) PluginEnabled(name string) bool {
	for _, disabled := range s.DisabledPlugin {
		if strings.EqualFold(strings.TrimSpace(disabled), name) {
			return false
		}
	}
	return true
}

// CleanCredential trims a credential and treats the UI's "undefined"/"null" leftovers as empty.
func CleanCredential(raw string) string {
	value := strings.TrimSpace(raw)
	switch strings.ToLower(value) {
	case "undefined", "null":
		return ""
	}
	return value
}

func overlayString(current, patch string) string {
	if value := CleanCredential(patch); value != "" {
		return value
	}
	return current
}

func maskSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 6 {
		return "******"
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}
