package settings

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"mediatracker/searchservice/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

type failingRepository struct {
	loadErr error
	saveErr error
	saves   int
}

func (r *failingRepository) Load(context.Context) (domain.Settings, bool, error) {
	return domain.Settings{}, false, r.loadErr
}

func (r *failingRepository) Save(context.Context, domain.Settings) error {
	r.saves++
	return r.saveErr
}

func envDefaults() domain.Settings {
	return domain.Settings{
		WebSearch:  domain.WebSearchCredentials{Provider: "duckduckgo"},
		TMDBAPIKey: "env-tmdb-key",
		AI:         domain.AISettings{Enabled: true, BaseURL: "https://api.moonshot.cn/v1", Model: "moonshot-v1-8k"},
		Language:   domain.LanguageEN,
	}
}

// ---------------------------------------------------------------------------
// Restore
// ---------------------------------------------------------------------------

func TestServiceWithoutStoredDocumentUsesDefaults(t *testing.T) {
	svc := NewService(envDefaults(), NewMemoryRepository(), quietLogger())
	got := svc.Snapshot()
	if got.TMDBAPIKey != "env-tmdb-key" || got.WebSearch.Provider != "duckduckgo" || !got.AI.Enabled {
		t.Fatalf("expected env defaults, got %+v", got)
	}
}

func TestServiceRestoreOverlaysStoredDocument(t *testing.T) {
	repo := NewMemoryRepository()
	_ = repo.Save(context.Background(), domain.Settings{
		WebSearch:      domain.WebSearchCredentials{Provider: "serper", APIKey: "stored-serper"},
		AI:             domain.AISettings{Enabled: false},
		DisabledPlugin: []string{"openlibrary"},
	})

	got := NewService(envDefaults(), repo, quietLogger()).Snapshot()
	if got.WebSearch.Provider != "serper" || got.WebSearch.APIKey != "stored-serper" {
		t.Fatalf("expected stored web search settings, got %+v", got.WebSearch)
	}
	if got.TMDBAPIKey != "env-tmdb-key" {
		t.Fatalf("expected empty stored credential to fall back to env, got %q", got.TMDBAPIKey)
	}
	if got.AI.Enabled {
		t.Fatalf("expected stored switch to win over env default")
	}
	if got.AI.Model != "moonshot-v1-8k" {
		t.Fatalf("expected env model, got %q", got.AI.Model)
	}
	if got.PluginEnabled("openlibrary") {
		t.Fatalf("expected plugin to stay disabled")
	}
}

func TestServiceRestoreErrorKeepsDefaults(t *testing.T) {
	svc := NewService(envDefaults(), &failingRepository{loadErr: errors.New("connection refused")}, quietLogger())
	if svc.Snapshot().TMDBAPIKey != "env-tmdb-key" {
		t.Fatalf("expected defaults after failed restore")
	}
}

// ---------------------------------------------------------------------------
// Update
// ---------------------------------------------------------------------------

func TestServiceUpdatePersistsAndMasks(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(envDefaults(), repo, quietLogger())

	masked, err := svc.Update(context.Background(), Patch{
		WebSearch: &WebSearchPatch{Provider: ptr(" Google "), APIKey: ptr("google-secret-key"), CX: ptr("cx-1")},
		Language:  ptr("zh-CN"),
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if masked.WebSearch.APIKey == "google-secret-key" || masked.WebSearch.APIKey == "" {
		t.Fatalf("expected masked key, got %q", masked.WebSearch.APIKey)
	}

	got := svc.Snapshot()
	if got.WebSearch.Provider != "google" || got.WebSearch.APIKey != "google-secret-key" || got.WebSearch.CX != "cx-1" {
		t.Fatalf("unexpected web search settings %+v", got.WebSearch)
	}
	if got.Language != domain.LanguageZH {
		t.Fatalf("expected zh, got %q", got.Language)
	}
	stored, found, _ := repo.Load(context.Background())
	if !found || stored.WebSearch.APIKey != "google-secret-key" {
		t.Fatalf("expected persisted settings, got %+v", stored)
	}
}

func TestServiceUpdateIgnoresEchoedMaskedSecret(t *testing.T) {
	svc := NewService(envDefaults(), NewMemoryRepository(), quietLogger())
	echoed := svc.Masked().TMDBAPIKey

	if _, err := svc.Update(context.Background(), Patch{TMDBAPIKey: ptr(echoed)}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := svc.Snapshot().TMDBAPIKey; got != "env-tmdb-key" {
		t.Fatalf("expected secret to survive a masked echo, got %q", got)
	}

	if _, err := svc.Update(context.Background(), Patch{TMDBAPIKey: ptr("")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := svc.Snapshot().TMDBAPIKey; got != "" {
		t.Fatalf("expected empty string to clear the key, got %q", got)
	}
}

func TestServiceUpdateTreatsUndefinedAsEmpty(t *testing.T) {
	svc := NewService(envDefaults(), NewMemoryRepository(), quietLogger())
	if _, err := svc.Update(context.Background(), Patch{OMDbAPIKey: ptr("undefined")}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := svc.Snapshot().OMDbAPIKey; got != "" {
		t.Fatalf("expected undefined to be dropped, got %q", got)
	}
}

func TestServiceUpdateRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		patch Patch
	}{
		{"proxy without scheme", Patch{Proxy: &ProxyPatch{URL: ptr("127.0.0.1:7890")}}},
		{"ai base url without host", Patch{AI: &AIPatch{BaseURL: ptr("moonshot")}}},
		{"unsupported language", Patch{Language: ptr("fr")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &failingRepository{}
			svc := NewService(envDefaults(), repo, quietLogger())
			if _, err := svc.Update(context.Background(), tt.patch); !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("expected ErrInvalidSettings, got %v", err)
			}
			if repo.saves != 0 {
				t.Fatalf("invalid patch must not be persisted")
			}
		})
	}
}

func TestServiceUpdateSaveFailureKeepsCurrent(t *testing.T) {
	svc := NewService(envDefaults(), &failingRepository{saveErr: errors.New("write timeout")}, quietLogger())
	if _, err := svc.Update(context.Background(), Patch{TMDBAPIKey: ptr("new-key")}); err == nil {
		t.Fatalf("expected persist error")
	}
	if got := svc.Snapshot().TMDBAPIKey; got != "env-tmdb-key" {
		t.Fatalf("expected unchanged settings after failed save, got %q", got)
	}
}

func TestServiceUpdateNormalizesDisabledPlugins(t *testing.T) {
	svc := NewService(envDefaults(), NewMemoryRepository(), quietLogger())
	list := []string{" OpenLibrary", "openlibrary", "", "discogs"}
	if _, err := svc.Update(context.Background(), Patch{
		DisabledPlugins: &list,
		AI:              &AIPatch{Enabled: ptr(false)},
		Proxy:           &ProxyPatch{URL: ptr("http://127.0.0.1:7890"), UseSystem: ptr(true)},
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got := svc.Snapshot()
	if len(got.DisabledPlugin) != 2 || got.DisabledPlugin[0] != "openlibrary" || got.DisabledPlugin[1] != "discogs" {
		t.Fatalf("unexpected plugin list %v", got.DisabledPlugin)
	}
	if got.AI.Enabled {
		t.Fatalf("expected AI to be switched off")
	}
	if got.Proxy.URL != "http://127.0.0.1:7890" || !got.Proxy.UseSystem {
		t.Fatalf("unexpected proxy %+v", got.Proxy)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	defaults := envDefaults()
	defaults.DisabledPlugin = []string{"a"}
	svc := NewService(defaults, nil, quietLogger())

	snap := svc.Snapshot()
	snap.DisabledPlugin[0] = "mutated"
	if svc.Snapshot().DisabledPlugin[0] != "a" {
		t.Fatalf("snapshot must not alias service state")
	}
}

// ---------------------------------------------------------------------------
// Redis hash decoding
// ---------------------------------------------------------------------------

func TestDecodeFieldSkipsCorruptSections(t *testing.T) {
	items := map[string]string{
		fieldWebSearch: `{"provider":"serper","apiKey":"k"}`,
		fieldAI:        `{not json`,
	}
	var ws domain.WebSearchCredentials
	decodeField(items, fieldWebSearch, &ws)
	if ws.Provider != "serper" || ws.APIKey != "k" {
		t.Fatalf("unexpected decode %+v", ws)
	}
	ai := domain.AISettings{Model: "keep"}
	decodeField(items, fieldAI, &ai)
	if ai.Model != "keep" {
		t.Fatalf("corrupt section must leave the default, got %+v", ai)
	}
}
