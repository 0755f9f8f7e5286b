package poster

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

func newTestFinder(server *httptest.Server, omdbKey string) *Finder {
	return NewFinder(Config{
		Proxy:   server.Client(),
		Direct:  server.Client(),
		Guard:   common.URLGuard{AllowPrivate: true},
		OMDbKey: common.StaticKey(omdbKey),
		Endpoints: Endpoints{
			Wikipedia:         server.URL + "/{lang}/w/api.php",
			DoubanMovie:       server.URL + "/movie",
			DoubanBook:        server.URL + "/book",
			DoubanWeb:         server.URL + "/web",
			OMDb:              server.URL + "/omdb",
			OpenLibrary:       server.URL + "/ol",
			OpenLibraryCovers: "https://covers.openlibrary.org",
			MusicBrainz:       server.URL + "/mb",
			CoverArtArchive:   "https://coverartarchive.org",
			ITunes:            server.URL + "/itunes",
		},
	})
}

// ---------------------------------------------------------------------------
// Page metadata
// ---------------------------------------------------------------------------

func TestOGImageResolvesRelativeURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><meta property="og:image" content="/img/poster.jpg"></head><body></body></html>`))
	}))
	defer server.Close()

	finder := newTestFinder(server, "")
	image, err := finder.OGImage(context.Background(), server.URL+"/title/tt1160419/")
	if err != nil {
		t.Fatalf("og image: %v", err)
	}
	if image != server.URL+"/img/poster.jpg" {
		t.Fatalf("unexpected image %q", image)
	}
}

func TestOGImageRejectsPrivateTargets(t *testing.T) {
	finder := NewFinder(Config{})
	if _, err := finder.OGImage(context.Background(), "http://127.0.0.1/admin"); !errors.Is(err, common.ErrBlockedURL) {
		t.Fatalf("expected blocked url, got %v", err)
	}
}

func TestDoubanFollowsFirstSubject(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/movie/subject_search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<div>no results</div>`))
	})
	mux.HandleFunc("/book/subject_search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cat") != "1001" {
			t.Errorf("unexpected cat %q", r.URL.Query().Get("cat"))
		}
		_, _ = w.Write([]byte(`<a href="https://book.douban.com/subject/2567698/">三体</a>`))
	})
	mux.HandleFunc("/book/subject/2567698/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><meta property="og:image" content="https://img1.doubanio.com/view/subject/l/public/s2768378.jpg"></head></html>`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	image, err := newTestFinder(server, "").Douban(context.Background(), "三体")
	if err != nil {
		t.Fatalf("douban: %v", err)
	}
	if image != "https://img1.doubanio.com/view/subject/l/public/s2768378.jpg" {
		t.Fatalf("unexpected image %q", image)
	}
}

// ---------------------------------------------------------------------------
// Encyclopedia
// ---------------------------------------------------------------------------

func TestWikipediaFallsBackToSecondEdition(t *testing.T) {
	var zhCalls, enCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/zh/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		zhCalls.Add(1)
		if r.URL.Query().Get("prop") != "pageimages" || r.URL.Query().Get("pithumbsize") != "1024" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"query":{"pages":{"-1":{"title":"沙丘"}}}}`))
	})
	mux.HandleFunc("/en/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		enCalls.Add(1)
		_, _ = w.Write([]byte(`{"query":{"pages":{"123":{"title":"Dune","thumbnail":{"source":"https://upload.wikimedia.org/thumb.jpg"}}}}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	image, err := newTestFinder(server, "").Wikipedia(context.Background(), "沙丘", "")
	if err != nil {
		t.Fatalf("wikipedia: %v", err)
	}
	if image != "https://upload.wikimedia.org/thumb.jpg" {
		t.Fatalf("unexpected image %q", image)
	}
	if zhCalls.Load() != 1 || enCalls.Load() != 1 {
		t.Fatalf("expected one call per edition, got zh=%d en=%d", zhCalls.Load(), enCalls.Load())
	}
}

func TestWikipediaRetriesThroughProxyOnFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"query":{"pages":{"9":{"original":{"source":"https://upload.wikimedia.org/orig.jpg"}}}}}`))
	}))
	defer server.Close()

	image, err := newTestFinder(server, "").Wikipedia(context.Background(), "Dune", domain.LanguageEN)
	if err != nil || image != "https://upload.wikimedia.org/orig.jpg" {
		t.Fatalf("expected original image after retry, got %q %v", image, err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected direct then proxy attempt, got %d calls", calls.Load())
	}
}

// ---------------------------------------------------------------------------
// Cover APIs
// ---------------------------------------------------------------------------

func TestOMDbPoster(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("apikey") != "key" {
			_, _ = w.Write([]byte(`{"Response":"False","Error":"Invalid API key!"}`))
			return
		}
		if query.Get("t") == "Inception" && query.Get("y") == "2010" {
			_, _ = w.Write([]byte(`{"Response":"True","Title":"Inception","Poster":"https://m.media-amazon.com/images/M/inception.jpg"}`))
			return
		}
		if query.Get("t") == "Nothing" {
			_, _ = w.Write([]byte(`{"Response":"False","Error":"Movie not found!"}`))
			return
		}
		_, _ = w.Write([]byte(`{"Response":"True","Title":"X","Poster":"N/A"}`))
	}))
	defer server.Close()

	finder := newTestFinder(server, "key")
	poster, err := finder.TestOMDb(context.Background(), "key")
	if err != nil || !strings.HasSuffix(poster, "inception.jpg") {
		t.Fatalf("unexpected test result %q %v", poster, err)
	}

	_, err = finder.TestOMDb(context.Background(), "wrong")
	var statusErr *common.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized status error, got %v", err)
	}

	if poster, err := finder.OMDb(context.Background(), "Nothing", ""); err != nil || poster != "" {
		t.Fatalf("expected not-found to be empty, got %q %v", poster, err)
	}
	if poster, err := finder.OMDb(context.Background(), "Other", ""); err != nil || poster != "" {
		t.Fatalf("expected N/A poster to be empty, got %q %v", poster, err)
	}
}

func TestOMDbWithoutKey(t *testing.T) {
	finder := NewFinder(Config{OMDbKey: common.StaticKey("undefined")})
	if _, err := finder.OMDb(context.Background(), "Dune", ""); !errors.Is(err, common.ErrMissingCredentials) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
}

func TestOpenLibraryCover(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ol/search.json" || r.URL.Query().Get("author") != "Frank Herbert" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"docs":[{"cover_i":0},{"cover_i":8231856}]}`))
	}))
	defer server.Close()

	cover, err := newTestFinder(server, "").OpenLibrary(context.Background(), "Dune", "Frank Herbert")
	if err != nil || cover != "https://covers.openlibrary.org/b/id/8231856-L.jpg" {
		t.Fatalf("unexpected cover %q %v", cover, err)
	}
}

func TestMusicBrainzIgnoresWeakMatches(t *testing.T) {
	var score atomic.Int32
	score.Store(100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != musicBrainzUserAgent {
			t.Errorf("expected musicbrainz user agent, got %q", r.Header.Get("User-Agent"))
		}
		if !strings.Contains(r.URL.Query().Get("query"), `artist:"Pink Floyd"`) {
			t.Errorf("unexpected query %q", r.URL.Query().Get("query"))
		}
		if score.Load() == 100 {
			_, _ = w.Write([]byte(`{"release-groups":[{"id":"f5093c06","score":100}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"release-groups":[{"id":"aaaa","score":40}]}`))
	}))
	defer server.Close()

	finder := newTestFinder(server, "")
	cover, err := finder.MusicBrainz(context.Background(), "The Dark Side of the Moon", "Pink Floyd")
	if err != nil || cover != "https://coverartarchive.org/release-group/f5093c06/front-500" {
		t.Fatalf("unexpected cover %q %v", cover, err)
	}

	score.Store(40)
	cover, err = finder.MusicBrainz(context.Background(), "Something", "Pink Floyd")
	if err != nil || cover != "" {
		t.Fatalf("expected weak match to be ignored, got %q %v", cover, err)
	}
}

func TestITunesArtworkUpscaled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("entity") != "album" {
			t.Errorf("expected album entity, got %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"results":[{"artworkUrl100":"https://is1-ssl.mzstatic.com/image/thumb/a/100x100bb.jpg"}]}`))
	}))
	defer server.Close()

	finder := newTestFinder(server, "")
	artwork, err := finder.ITunes(context.Background(), "Thriller", domain.MediaTypeMusic)
	if err != nil || artwork != "https://is1-ssl.mzstatic.com/image/thumb/a/600x600bb.jpg" {
		t.Fatalf("unexpected artwork %q %v", artwork, err)
	}
	if artwork, _ := finder.ITunes(context.Background(), "Dune", domain.MediaTypeMovie); artwork != "" {
		t.Fatalf("expected no lookup for movies, got %q", artwork)
	}
}

// ---------------------------------------------------------------------------
// Probe
// ---------------------------------------------------------------------------

func TestProbe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/poster.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
	})
	mux.HandleFunc("/nohead.png", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Range") != "bytes=0-0" {
			t.Errorf("expected ranged GET")
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusPartialContent)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	finder := newTestFinder(server, "")
	ctx := context.Background()
	if err := finder.Probe(ctx, server.URL+"/poster.jpg"); err != nil {
		t.Fatalf("expected image to pass: %v", err)
	}
	if err := finder.Probe(ctx, server.URL+"/nohead.png"); err != nil {
		t.Fatalf("expected ranged GET fallback to pass: %v", err)
	}
	if err := finder.Probe(ctx, server.URL+"/page"); !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected non-image to fail, got %v", err)
	}
	if err := finder.Probe(ctx, server.URL+"/missing.jpg"); err == nil {
		t.Fatal("expected 404 to fail")
	}
	if err := finder.Probe(ctx, "https://via.placeholder.com/300x450"); !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected placeholder host to be blocked, got %v", err)
	}
}

func TestHostLists(t *testing.T) {
	if !IsTrustedHost("https://img9.doubanio.com/view/photo/s_ratio_poster/public/p1.jpg") {
		t.Fatal("expected doubanio subdomain to be trusted")
	}
	if IsTrustedHost("https://example.com/poster.jpg") {
		t.Fatal("expected arbitrary host to be untrusted")
	}
	if !IsBlocked("https://gd1.alicdn.com/x.jpg") || IsBlocked("https://image.tmdb.org/t/p/w500/x.jpg") {
		t.Fatal("unexpected block list result")
	}
}
