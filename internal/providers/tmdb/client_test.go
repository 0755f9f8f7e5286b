package tmdb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{APIKey: common.StaticKey("key"), BaseURL: server.URL, Client: server.Client()})
}

func TestSearchMultiKeepsMoviesAndShows(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/multi" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("language") != "en-US" || r.URL.Query().Get("api_key") != "key" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"results":[
			{"id":438631,"title":"Dune","media_type":"movie","release_date":"2021-09-15","poster_path":"/d5.jpg","vote_average":7.8},
			{"id":1,"name":"Someone","media_type":"person"},
			{"id":90228,"name":"Dune: Prophecy","media_type":"tv","first_air_date":"2024-11-17"}
		]}`))
	})

	results, err := client.Search(context.Background(), "Dune", KindMulti, domain.LanguageEN)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	item := results[0].MediaItem()
	if item.Type != domain.MediaTypeMovie || item.ReleaseDate != "2021-09-15" || item.Rating != "7.8" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.PosterURL != "https://image.tmdb.org/t/p/w500/d5.jpg" {
		t.Fatalf("unexpected poster: %q", item.PosterURL)
	}
	if item.ExternalRef == nil || item.ExternalRef.ID != "438631" || item.ExternalRef.Kind != KindMovie {
		t.Fatalf("unexpected ref: %+v", item.ExternalRef)
	}
	if results[1].MediaItem().Type != domain.MediaTypeTVSeries {
		t.Fatal("expected tv result to map to TV Series")
	}
}

func TestSearchByKindSetsMediaType(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search/tv" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"results":[{"id":1399,"name":"Game of Thrones"}]}`))
	})
	results, err := client.Search(context.Background(), "got", KindTV, domain.LanguageZH)
	if err != nil || len(results) != 1 || results[0].MediaType != KindTV {
		t.Fatalf("unexpected results %+v err %v", results, err)
	}
}

func TestDetailsFallsBackToOtherLanguageOverview(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Query().Get("append_to_response") != "credits" {
			t.Errorf("expected credits to be appended")
		}
		switch r.URL.Query().Get("language") {
		case "zh-CN":
			_, _ = w.Write([]byte(`{"id":438631,"title":"沙丘","overview":"","release_date":"2021-10-22",
				"credits":{"cast":[{"name":"Timothée Chalamet"},{"name":"Zendaya"}],"crew":[{"name":"Denis Villeneuve","job":"Director"},{"name":"Hans Zimmer","job":"Original Music Composer"}]}}`))
		case "en-US":
			_, _ = w.Write([]byte(`{"id":438631,"title":"Dune","overview":"Paul Atreides, a brilliant and gifted young man born into a great destiny."}`))
		}
	})

	details, err := client.Details(context.Background(), "438631", KindMovie, domain.LanguageZH)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if details.Title != "沙丘" || details.Overview == "" {
		t.Fatalf("expected zh title with en overview, got %+v", details)
	}
	item := details.MediaItem()
	if item.DirectorOrAuthor != "Denis Villeneuve" || len(item.Cast) != 2 || item.ReleaseDate != "2021-10-22" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 upstream calls, got %d", calls.Load())
	}

	if _, err := client.Details(context.Background(), "438631", KindMovie, domain.LanguageZH); err != nil {
		t.Fatalf("cached details: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected cached details, got %d calls", calls.Load())
	}
}

func TestDetailsTVUsesCreators(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":1399,"name":"Game of Thrones","overview":"Seven noble families fight for control of the mythical land of Westeros.","first_air_date":"2011-04-17","created_by":[{"name":"David Benioff"},{"name":"D. B. Weiss"}]}`))
	})
	details, err := client.Details(context.Background(), "1399", KindTV, domain.LanguageEN)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	item := details.MediaItem()
	if item.DirectorOrAuthor != "David Benioff, D. B. Weiss" || item.Type != domain.MediaTypeTVSeries {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestBearerTokenAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer eyJtoken" || r.URL.Query().Get("api_key") != "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"images":{}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Client: server.Client()})
	if err := client.TestConnection(context.Background(), "eyJtoken"); err != nil {
		t.Fatalf("expected bearer auth to succeed: %v", err)
	}
}

func TestDisabledWithoutKey(t *testing.T) {
	client := NewClient(Config{APIKey: common.StaticKey("undefined ")})
	if _, err := client.Search(context.Background(), "x", KindMulti, domain.LanguageEN); !errors.Is(err, common.ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}
