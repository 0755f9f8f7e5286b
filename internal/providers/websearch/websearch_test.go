package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

// ---------------------------------------------------------------------------
// Google
// ---------------------------------------------------------------------------

func TestGoogleTextSearch(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"items":[
			{"title":"Dune (2021 film) - Wikipedia","snippet":"Dune is a 2021 American epic science fiction film","link":"https://en.wikipedia.org/wiki/Dune_(2021_film)",
			 "pagemap":{"cse_image":[{"src":"https://upload.wikimedia.org/dune.jpg"}]}}
		]}`))
	}))
	defer server.Close()

	g := NewGoogle(server.Client(), server.URL)
	results, err := g.Search(context.Background(), "Dune", domain.SearchKindText, domain.WebSearchCredentials{APIKey: "k", CX: "cx"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Image != "https://upload.wikimedia.org/dune.jpg" || results[0].Domain != "en.wikipedia.org" {
		t.Fatalf("unexpected result: %+v", results[0])
	}
	if !strings.Contains(gotQuery, "num=8") || strings.Contains(gotQuery, "searchType") {
		t.Fatalf("unexpected query string: %s", gotQuery)
	}
}

func TestGoogleImageSearchUsesContextLink(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("searchType") != "image" {
			t.Errorf("expected image search type")
		}
		_, _ = w.Write([]byte(`{"items":[{"title":"Dune poster","link":"https://m.media-amazon.com/images/dune.jpg","image":{"contextLink":"https://www.imdb.com/title/tt1160419/"}}]}`))
	}))
	defer server.Close()

	g := NewGoogle(server.Client(), server.URL)
	results, err := g.Search(context.Background(), "Dune poster", domain.SearchKindImage, domain.WebSearchCredentials{APIKey: "k", CX: "cx"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if results[0].Image != "https://m.media-amazon.com/images/dune.jpg" || results[0].Link != "https://www.imdb.com/title/tt1160419/" {
		t.Fatalf("unexpected image result: %+v", results[0])
	}
}

func TestGoogleTreatsUndefinedCredentialsAsMissing(t *testing.T) {
	g := NewGoogle(http.DefaultClient, "http://127.0.0.1:1")
	creds := domain.WebSearchCredentials{APIKey: "undefined", CX: "null"}
	if g.Ready(creds) {
		t.Fatal("expected backend not ready")
	}
	if _, err := g.Search(context.Background(), "x", domain.SearchKindText, creds); !errors.Is(err, common.ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestGoogleQuotaIsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	g := NewGoogle(server.Client(), server.URL)
	_, err := g.Search(context.Background(), "x", domain.SearchKindText, domain.WebSearchCredentials{APIKey: "k", CX: "cx"})
	if !common.IsQuota(err) {
		t.Fatalf("expected quota error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Serper
// ---------------------------------------------------------------------------

func TestSerperSearchAndImages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body serperRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Num != 8 || body.Q == "" {
			t.Errorf("unexpected request body: %+v", body)
		}
		switch r.URL.Path {
		case "/search":
			_, _ = w.Write([]byte(`{"organic":[{"title":"Dune","snippet":"Epic","link":"https://www.imdb.com/title/tt1160419/","date":"Oct 22, 2021"}]}`))
		case "/images":
			_, _ = w.Write([]byte(`{"images":[{"title":"Dune","domain":"imdb.com","link":"https://www.imdb.com/x","imageUrl":"https://m.media-amazon.com/p.jpg"},{"title":"broken"}]}`))
		}
	}))
	defer server.Close()

	s := NewSerper(server.Client(), server.URL)
	creds := domain.WebSearchCredentials{APIKey: "secret"}

	text, err := s.Search(context.Background(), "Dune", domain.SearchKindText, creds)
	if err != nil || len(text) != 1 {
		t.Fatalf("text search: %v %v", text, err)
	}
	if !strings.HasPrefix(text[0].Snippet, "Oct 22, 2021") {
		t.Fatalf("expected date prefixed snippet, got %q", text[0].Snippet)
	}

	images, err := s.Search(context.Background(), "Dune", domain.SearchKindImage, creds)
	if err != nil || len(images) != 1 {
		t.Fatalf("image search: %v %v", images, err)
	}
	if images[0].Image != "https://m.media-amazon.com/p.jpg" {
		t.Fatalf("unexpected image: %+v", images[0])
	}

	if _, err := s.Search(context.Background(), "Dune", domain.SearchKindText, domain.WebSearchCredentials{APIKey: "wrong"}); common.IsRetryable(err) {
		t.Fatalf("expected auth failure to be final, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Yandex
// ---------------------------------------------------------------------------

const yandexFixture = `<?xml version="1.0" encoding="utf-8"?>
<yandexsearch version="1.0"><response><results><grouping>
<group><doc><url>https://www.kinopoisk.ru/film/409424/</url><domain>www.kinopoisk.ru</domain>
<title><hlword>Дюна</hlword> (2021)</title><passages><passage>Фильм <hlword>Дюна</hlword></passage></passages></doc></group>
<group><doc><url>https://en.wikipedia.org/wiki/Dune</url><domain>en.wikipedia.org</domain><title>Dune - Wikipedia</title></doc></group>
</grouping></results></response></yandexsearch>`

func TestYandexParsesXML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("user") != "u" || r.URL.Query().Get("key") != "k" {
			t.Errorf("missing credentials in %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(yandexFixture))
	}))
	defer server.Close()

	y := NewYandex(server.Client(), server.URL)
	results, err := y.Search(context.Background(), "Дюна", domain.SearchKindText, domain.WebSearchCredentials{APIKey: "k", User: "u"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Title != "Дюна (2021)" || results[0].Snippet != "Фильм Дюна" || results[0].Domain != "kinopoisk.ru" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
}

func TestYandexLimitErrorIsQuota(t *testing.T) {
	_, err := parseYandex([]byte(`<yandexsearch><response><error code="32">Daily limit exceeded</error></response></yandexsearch>`))
	if !common.IsQuota(err) {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestYandexRejectsImageSearch(t *testing.T) {
	y := NewYandex(http.DefaultClient, "")
	if y.SupportsImages() {
		t.Fatal("yandex should not support images")
	}
	if _, err := y.Search(context.Background(), "x", domain.SearchKindImage, domain.WebSearchCredentials{APIKey: "k", User: "u"}); err == nil {
		t.Fatal("expected error for image search")
	}
}

// ---------------------------------------------------------------------------
// DuckDuckGo
// ---------------------------------------------------------------------------

const duckHTMLFixture = `<html><body>
<div class="result results_links"><h2 class="result__title">
<a rel="nofollow" class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.imdb.com%2Ftitle%2Ftt1160419%2F&amp;rut=abc">Dune (2021) - <b>IMDb</b></a></h2>
<a class="result__snippet" href="#">Feature adaptation of Frank Herbert's novel.</a></div>
<div class="result"><h2><a class="result__a" href="https://movie.douban.com/subject/3001114/">沙丘 (豆瓣)</a></h2>
<div class="result__snippet">导演: 丹尼斯·维伦纽瓦</div></div>
<div class="result"><a class="result__a" href="/relative">skip me</a></div>
</body></html>`

func TestDuckDuckGoFallsBackToHTML(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Heading":"","AbstractText":"","AbstractURL":"","RelatedTopics":[]}`))
	})
	mux.HandleFunc("/html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(duckHTMLFixture))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	d := NewDuckDuckGo(server.Client(), server.URL+"/api", server.URL+"/html")
	results, err := d.Search(context.Background(), "dune", domain.SearchKindText, domain.WebSearchCredentials{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %+v", results)
	}
	if results[0].Link != "https://www.imdb.com/title/tt1160419/" || results[0].Title != "Dune (2021) - IMDb" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
	if results[0].Snippet != "Feature adaptation of Frank Herbert's novel." {
		t.Fatalf("unexpected snippet: %q", results[0].Snippet)
	}
	if results[1].Snippet != "导演: 丹尼斯·维伦纽瓦" {
		t.Fatalf("unexpected second snippet: %q", results[1].Snippet)
	}
}

func TestDuckDuckGoInstantAnswerWithoutHTML(t *testing.T) {
	htmlCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Heading":"Dune","AbstractText":"Dune is a novel by Frank Herbert.","AbstractURL":"https://en.wikipedia.org/wiki/Dune_(novel)",
			"RelatedTopics":[{"Text":"Dune (film)","FirstURL":"https://duckduckgo.com/Dune_(film)"},{"Name":"Games","Topics":[{"Text":"Dune II","FirstURL":"https://duckduckgo.com/Dune_II"}]}]}`))
	})
	mux.HandleFunc("/html", func(w http.ResponseWriter, r *http.Request) {
		htmlCalls++
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	d := NewDuckDuckGo(server.Client(), server.URL+"/api", server.URL+"/html")
	results, err := d.Search(context.Background(), "dune", domain.SearchKindText, domain.WebSearchCredentials{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected abstract plus 2 topics, got %d", len(results))
	}
	if htmlCalls != 0 {
		t.Fatalf("expected no html call, got %d", htmlCalls)
	}
}

func TestDuckDuckGoImageSearchIsEmpty(t *testing.T) {
	d := NewDuckDuckGo(http.DefaultClient, "http://127.0.0.1:1", "http://127.0.0.1:1")
	results, err := d.Search(context.Background(), "x", domain.SearchKindImage, domain.WebSearchCredentials{})
	if err != nil || len(results) != 0 {
		t.Fatalf("expected empty image results, got %v %v", results, err)
	}
}
