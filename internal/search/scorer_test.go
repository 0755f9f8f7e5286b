package search

import (
	"fmt"
	"testing"

	"mediatracker/searchservice/internal/domain"
)

func TestRankPrefersExactAuthoritativeTitle(t *testing.T) {
	plan := NewPlanner(nil).Plan("Dune", domain.MediaTypeMovie, domain.LanguageEN)
	results := []domain.WebResult{
		{Title: "Dune Messiah: the sequel novel explained", Snippet: "A blog post about the book", Link: "https://blog.example.com/dune-messiah"},
		{Title: "Dune (2021 film) — Wikipedia", Snippet: "Dune is a 2021 American epic science fiction film directed by Denis Villeneuve.", Link: "https://en.wikipedia.org/wiki/Dune_(2021_film)"},
	}
	ranked := NewScorer(nil).Rank(plan, results)
	if len(ranked) != 2 {
		t.Fatalf("expected 2 results, got %d", len(ranked))
	}
	top := ranked[0]
	if top.CleanTitle != "Dune" || top.Year != 2021 {
		t.Fatalf("unexpected top result: %+v", top)
	}
	if top.Score != scoreExactTitle+scoreHasYear+scoreAuthoritative {
		t.Fatalf("unexpected top score %d", top.Score)
	}
	if top.Domain != "en.wikipedia.org" {
		t.Fatalf("expected domain to be filled, got %q", top.Domain)
	}
}

func TestRankCollapsesSameTitleAndYear(t *testing.T) {
	plan := NewPlanner(nil).Plan("Dune", domain.MediaTypeMovie, domain.LanguageEN)
	results := []domain.WebResult{
		{Title: "Dune (2021) - IMDb", Snippet: "", Link: "https://www.imdb.com/title/tt1160419/", Source: "serper"},
		{Title: "Dune (2021 film)", Snippet: "Paul Atreides leads a rebellion.", Link: "https://example.com/dune", Image: "https://example.com/dune.jpg", Source: "serper"},
	}
	ranked := NewScorer(nil).Rank(plan, results)
	if len(ranked) != 1 {
		t.Fatalf("expected one grouped result, got %+v", ranked)
	}
	if ranked[0].Link != "https://www.imdb.com/title/tt1160419/" {
		t.Fatalf("expected best scored result to be kept, got %q", ranked[0].Link)
	}
	if ranked[0].Snippet == "" || ranked[0].Image == "" {
		t.Fatalf("expected empty fields to be filled from the duplicate, got %+v", ranked[0])
	}
}

func TestRankCapsDistinctKeys(t *testing.T) {
	plan := NewPlanner(nil).Plan("Dune", domain.MediaTypeMovie, domain.LanguageEN)
	var results []domain.WebResult
	for i := 0; i < 12; i++ {
		results = append(results, domain.WebResult{
			Title:   fmt.Sprintf("Dune Chronicle %d", i),
			Snippet: "film",
			Link:    fmt.Sprintf("https://example.com/%d", i),
		})
	}
	if ranked := NewScorer(nil).Rank(plan, results); len(ranked) != maxCanonicalKeys {
		t.Fatalf("expected %d keys, got %d", maxCanonicalKeys, len(ranked))
	}
}

func TestRankFiltersNonMediaWhenUndeclared(t *testing.T) {
	plan := NewPlanner(nil).Plan("Dune", "", domain.LanguageEN)
	results := []domain.WebResult{
		{Title: "Dune buggy rentals", Snippet: "Cheap rates this weekend", Link: "https://rentals.example.com"},
		{Title: "Dune", Snippet: "Dune is a 1965 novel by Frank Herbert", Link: "https://www.goodreads.com/book/show/44767458-dune"},
	}
	ranked := NewScorer(nil).Rank(plan, results)
	if len(ranked) != 1 || ranked[0].Year != 1965 {
		t.Fatalf("expected only the novel to survive, got %+v", ranked)
	}
}

func TestPlaceholderItemsAreInferred(t *testing.T) {
	plan := NewPlanner(nil).Plan("Dune", "", domain.LanguageEN)
	scored := []domain.ScoredResult{{
		WebResult:  domain.WebResult{Title: "Dune", Snippet: "Dune is a 1965 novel", Link: "https://example.com", Source: "duckduckgo"},
		CleanTitle: "Dune",
		Year:       1965,
	}}
	items := NewScorer(nil).PlaceholderItems(plan, scored)
	if len(items) != 1 {
		t.Fatalf("expected one placeholder, got %d", len(items))
	}
	item := items[0]
	if item.Origin != domain.TrustInferred || item.Type != domain.MediaTypeBook || item.ReleaseDate != "1965" {
		t.Fatalf("unexpected placeholder: %+v", item)
	}
	if len(item.Sources) != 1 || item.Sources[0] != "web:duckduckgo" {
		t.Fatalf("unexpected sources %v", item.Sources)
	}
}
