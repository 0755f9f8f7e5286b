package search

import (
	"testing"

	"mediatracker/searchservice/internal/domain"
)

func TestCleanTitleStripsSiteAndDescriptor(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"Dune (2021 film) — Wikipedia", "Dune"},
		{"Inception (2010) - IMDb", "Inception"},
		{"《三体》 - 豆瓣读书", "三体"},
		{"<b>Breaking Bad</b> | Netflix", "Breaking Bad"},
		{"Heat (Japanese band)", "Heat (Japanese band)"},
		{"Dune: Part Two", "Dune: Part Two"},
	}
	for _, tt := range tests {
		if got := CleanTitle(tt.raw); got != tt.want {
			t.Errorf("CleanTitle(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestNormalizeTitleFoldsWidthAndPunctuation(t *testing.T) {
	full := normalizeTitle("ＤＵＮＥ　Ｐａｒｔ　Ｔｗｏ")
	ascii := normalizeTitle("Dune: Part Two")
	if full != ascii {
		t.Fatalf("expected width-folded titles to match, got %q vs %q", full, ascii)
	}
	if ascii != "dune part two" {
		t.Fatalf("unexpected normalized title %q", ascii)
	}
}

func TestMergeKeyUsesTitleAndYear(t *testing.T) {
	if got := MergeKey("Dune", "2021"); got != "dune|2021" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := MergeKey("  ", "2021"); got != "" {
		t.Fatalf("expected empty key for blank title, got %q", got)
	}
	item := domain.MediaItem{Title: "Dune (2021 film)", ReleaseDate: "2021-10-22"}
	if got := ItemKey(item); got != "dune|2021" {
		t.Fatalf("unexpected item key %q", got)
	}
	if ItemKey(domain.MediaItem{Title: "Dune", ReleaseDate: "1984"}) == ItemKey(item) {
		t.Fatalf("expected different years to produce different keys")
	}
}

func TestIsShortQuery(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"ab", true},
		{"2021", true},
		{"三体", true},
		{"Dune", false},
		{"三体 小说", false},
	}
	for _, tt := range tests {
		if got := isShortQuery(tt.query); got != tt.want {
			t.Errorf("isShortQuery(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}
