package search

import (
	"testing"

	"mediatracker/searchservice/internal/domain"
)

func TestPlanDeclaredTypeOrdersPrecisionFirst(t *testing.T) {
	plan := NewPlanner(nil).Plan("  Dune  ", domain.MediaTypeMovie, domain.LanguageEN)
	if plan.Query != "Dune" || !plan.Declared || plan.Type != domain.MediaTypeMovie {
		t.Fatalf("unexpected plan header: %+v", plan)
	}
	want := []string{
		"site:imdb.com Dune",
		"site:themoviedb.org Dune",
		"site:en.wikipedia.org Dune",
		"Dune movie",
		"Dune",
	}
	if len(plan.Variants) != len(want) {
		t.Fatalf("expected %d variants, got %+v", len(want), plan.Variants)
	}
	for i, variant := range plan.Variants {
		if variant.Query != want[i] {
			t.Fatalf("variant %d: expected %q, got %q", i, want[i], variant.Query)
		}
	}
	if plan.Variants[0].Domain != "imdb.com" || !plan.Variants[3].Hinted {
		t.Fatalf("expected domain and hint markers, got %+v", plan.Variants)
	}
}

func TestPlanInfersTypeAndSkipsRedundantHint(t *testing.T) {
	plan := NewPlanner(nil).Plan("三体 小说", domain.MediaTypeAll, "")
	if plan.Declared {
		t.Fatalf("expected inferred plan")
	}
	if plan.Type != domain.MediaTypeBook || plan.Language != domain.LanguageZH {
		t.Fatalf("unexpected inference: %+v", plan)
	}
	for _, variant := range plan.Variants {
		if variant.Hinted {
			t.Fatalf("hint already present in query, got %+v", plan.Variants)
		}
	}
	if last := plan.Variants[len(plan.Variants)-1]; last.Query != "三体 小说" {
		t.Fatalf("expected base query last, got %q", last.Query)
	}
}

func TestPlanKeepsUserSiteRestriction(t *testing.T) {
	plan := NewPlanner(nil).Plan("site:imdb.com Dune", domain.MediaTypeMovie, domain.LanguageEN)
	if len(plan.Variants) != 2 {
		t.Fatalf("expected hint and base variants only, got %+v", plan.Variants)
	}
	if plan.Variants[0].Domain != "" {
		t.Fatalf("expected no added site restriction, got %+v", plan.Variants[0])
	}
}

func TestPlanFlagsShortQueries(t *testing.T) {
	plan := NewPlanner(nil).Plan("42", "", domain.LanguageEN)
	if !plan.Short {
		t.Fatalf("expected short query flag")
	}
	if len(plan.Variants) == 0 {
		t.Fatalf("short queries are still searched")
	}
}
