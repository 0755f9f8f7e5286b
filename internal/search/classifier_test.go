package search

import (
	"os"
	"path/filepath"
	"testing"

	"mediatracker/searchservice/internal/domain"
)

func TestClassifierInfer(t *testing.T) {
	c := DefaultClassifier()
	tests := []struct {
		text string
		want domain.MediaType
	}{
		{"三体 小说", domain.MediaTypeBook},
		{"Breaking Bad season 1", domain.MediaTypeTVSeries},
		{"The Beatles album", domain.MediaTypeMusic},
		{"进击的巨人 manga", domain.MediaTypeComic},
		{"霸道总裁 短剧", domain.MediaTypeShortDrama},
		{"Dune", domain.MediaTypeAll},
		{"Fillmore", domain.MediaTypeAll},
	}
	for _, tt := range tests {
		if got := c.Infer(tt.text); got != tt.want {
			t.Errorf("Infer(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestClassifierTermsAndDomains(t *testing.T) {
	c := DefaultClassifier()
	if got := c.TypeTerm(domain.MediaTypeMovie, domain.LanguageZH); got != "电影" {
		t.Fatalf("unexpected zh movie term %q", got)
	}
	if got := c.TypeTerm(domain.MediaTypeOther, domain.LanguageEN); got != "" {
		t.Fatalf("expected no term for Other, got %q", got)
	}
	domains := c.TrustedDomains(domain.MediaTypeOther, domain.LanguageEN)
	if len(domains) == 0 || domains[0] != "imdb.com" {
		t.Fatalf("expected All domains as fallback, got %v", domains)
	}
	if !c.IsAuthoritative("https://www.imdb.com/title/tt1160419/", domain.MediaTypeMovie) {
		t.Fatalf("expected imdb to be authoritative for movies")
	}
	if c.IsAuthoritative("https://example.com/dune", domain.MediaTypeMovie) {
		t.Fatalf("expected unknown host to be untrusted")
	}
}

func TestClassifierMediaCandidate(t *testing.T) {
	c := DefaultClassifier()
	if !c.IsMediaCandidate("Dune is a 2021 film directed by Denis Villeneuve", domain.LanguageEN) {
		t.Fatalf("expected film result to be a candidate")
	}
	if c.IsMediaCandidate("Dune buggy rental prices near you", domain.LanguageEN) {
		t.Fatalf("expected unrelated result to be filtered")
	}
	if !c.IsMediaCandidate("沙丘 Dune film", domain.LanguageZH) {
		t.Fatalf("expected zh search to accept english media keywords")
	}
}

func TestLoadClassifierFileOverridesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classifier.yaml")
	content := `rules:
  - type: Movie
    lang: en
    keywords: [flick]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write table: %v", err)
	}
	c, err := LoadClassifierFile(path)
	if err != nil {
		t.Fatalf("LoadClassifierFile: %v", err)
	}
	if got := c.Infer("a late night flick"); got != domain.MediaTypeMovie {
		t.Fatalf("expected overridden rule to match, got %q", got)
	}
	if got := c.Infer("三体 小说"); got != domain.MediaTypeAll {
		t.Fatalf("expected default rules to be replaced, got %q", got)
	}
	if got := c.TypeTerm(domain.MediaTypeBook, domain.LanguageEN); got != "book" {
		t.Fatalf("expected default type terms to survive, got %q", got)
	}
}

func TestLoadClassifierFileErrors(t *testing.T) {
	if _, err := LoadClassifierFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("rules: [unclosed"), 0o600); err != nil {
		t.Fatalf("write table: %v", err)
	}
	if _, err := LoadClassifierFile(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
