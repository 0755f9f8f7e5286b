package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"mediatracker/searchservice/internal/domain"
)

var ErrInvalidSettings = errors.New("invalid settings")

const persistTimeout = 3 * time.Second

// Patch is a partial settings update. Nil fields are left unchanged; an empty
// string clears the value.
type Patch struct {
	WebSearch       *WebSearchPatch `json:"webSearch,omitempty"`
	TMDBAPIKey      *string         `json:"tmdbApiKey,omitempty"`
	OMDbAPIKey      *string         `json:"omdbApiKey,omitempty"`
	BangumiToken    *string         `json:"bangumiToken,omitempty"`
	AI              *AIPatch        `json:"ai,omitempty"`
	Proxy           *ProxyPatch     `json:"proxy,omitempty"`
	Language        *string         `json:"language,omitempty"`
	DisabledPlugins *[]string       `json:"disabledPlugins,omitempty"`
}

type WebSearchPatch struct {
	Provider *string `json:"provider,omitempty"`
	APIKey   *string `json:"apiKey,omitempty"`
	CX       *string `json:"cx,omitempty"`
	User     *string `json:"user,omitempty"`
}

type AIPatch struct {
	Enabled *bool   `json:"enabled,omitempty"`
	BaseURL *string `json:"baseUrl,omitempty"`
	APIKey  *string `json:"apiKey,omitempty"`
	Model   *string `json:"model,omitempty"`
}

type ProxyPatch struct {
	URL       *string `json:"url,omitempty"`
	UseSystem *bool   `json:"useSystem,omitempty"`
}

// Service holds the effective runtime settings: env defaults with the
// persisted document laid on top. Readers get a copy per call.
type Service struct {
	mu       sync.RWMutex
	current  domain.Settings
	defaults domain.Settings
	repo     Repository
	logger   *slog.Logger
}

func NewService(defaults domain.Settings, repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if repo == nil {
		repo = NewMemoryRepository()
	}
	s := &Service{
		current:  clone(defaults),
		defaults: clone(defaults),
		repo:     repo,
		logger:   logger,
	}
	s.restore()
	return s
}

func (s *Service) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	stored, found, err := s.repo.Load(ctx)
	if err != nil {
		s.logger.Warn("settings restore failed, using defaults", slog.String("error", err.Error()))
		return
	}
	if !found {
		return
	}
	s.current = withDefaults(stored, s.defaults)
}

// withDefaults fills empty credentials of a stored document from the env
// defaults. Switches and the plugin list are taken from the document as is.
func withDefaults(stored, defaults domain.Settings) domain.Settings {
	out := defaults.Overlay(stored)
	out.AI.Enabled = stored.AI.Enabled
	out.Proxy.UseSystem = stored.Proxy.UseSystem
	out.DisabledPlugin = append([]string(nil), stored.DisabledPlugin...)
	return out
}

// Snapshot returns a copy of the effective settings.
func (s *Service) Snapshot() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.current)
}

func (s *Service) Masked() domain.Settings {
	return s.Snapshot().Masked()
}

// Update applies patch, persists the result and returns it masked.
// Masked secrets echoed back by a client leave the stored secret untouched.
func (s *Service) Update(ctx context.Context, patch Patch) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := apply(s.current, patch)
	if err != nil {
		return s.current.Masked(), err
	}
	saveCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := s.repo.Save(saveCtx, next); err != nil {
		return s.current.Masked(), fmt.Errorf("persist settings: %w", err)
	}
	s.current = next
	s.logger.Info("settings updated", slog.String("webSearchProvider", next.WebSearch.Provider), slog.Bool("aiEnabled", next.AI.Enabled))
	return clone(next).Masked(), nil
}

func apply(current domain.Settings, patch Patch) (domain.Settings, error) {
	out := clone(current)
	masked := current.Masked()

	if w := patch.WebSearch; w != nil {
		if w.Provider != nil {
			out.WebSearch.Provider = strings.ToLower(domain.CleanCredential(*w.Provider))
		}
		setSecret(&out.WebSearch.APIKey, masked.WebSearch.APIKey, w.APIKey)
		setString(&out.WebSearch.CX, w.CX)
		setString(&out.WebSearch.User, w.User)
	}
	setSecret(&out.TMDBAPIKey, masked.TMDBAPIKey, patch.TMDBAPIKey)
	setSecret(&out.OMDbAPIKey, masked.OMDbAPIKey, patch.OMDbAPIKey)
	setSecret(&out.BangumiToken, masked.BangumiToken, patch.BangumiToken)

	if a := patch.AI; a != nil {
		if a.Enabled != nil {
			out.AI.Enabled = *a.Enabled
		}
		setString(&out.AI.BaseURL, a.BaseURL)
		setSecret(&out.AI.APIKey, masked.AI.APIKey, a.APIKey)
		setString(&out.AI.Model, a.Model)
		if out.AI.BaseURL != "" {
			if err := validateURL(out.AI.BaseURL); err != nil {
				return current, fmt.Errorf("%w: ai base url: %v", ErrInvalidSettings, err)
			}
		}
	}

	if p := patch.Proxy; p != nil {
		setString(&out.Proxy.URL, p.URL)
		if p.UseSystem != nil {
			out.Proxy.UseSystem = *p.UseSystem
		}
		if out.Proxy.URL != "" {
			if err := validateURL(out.Proxy.URL); err != nil {
				return current, fmt.Errorf("%w: proxy url: %v", ErrInvalidSettings, err)
			}
		}
	}

	if patch.Language != nil {
		raw := strings.TrimSpace(*patch.Language)
		lang := domain.NormalizeLanguage(raw)
		if raw != "" && lang == "" {
			return current, fmt.Errorf("%w: unsupported language %q", ErrInvalidSettings, raw)
		}
		out.Language = lang
	}

	if patch.DisabledPlugins != nil {
		out.DisabledPlugin = out.DisabledPlugin[:0:0]
		seen := make(map[string]struct{})
		for _, name := range *patch.DisabledPlugins {
			key := strings.ToLower(strings.TrimSpace(name))
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out.DisabledPlugin = append(out.DisabledPlugin, key)
		}
	}
	return out, nil
}

func setString(dst *string, patch *string) {
	if patch == nil {
		return
	}
	*dst = domain.CleanCredential(*patch)
}

func setSecret(dst *string, masked string, patch *string) {
	if patch == nil {
		return
	}
	value := domain.CleanCredential(*patch)
	if value != "" && value == masked {
		return
	}
	*dst = value
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return errors.New("url must include scheme and host")
	}
	return nil
}
