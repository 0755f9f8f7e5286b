package search

import (
	"sort"
	"strconv"
	"strings"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

const (
	scoreExactTitle    = 20
	scoreTitleContains = 10
	scoreHasYear       = 5
	scoreAuthoritative = 15

	maxCanonicalKeys = 8
)

type Scorer struct {
	classifier *Classifier
	maxKeys    int
}

func NewScorer(classifier *Classifier) *Scorer {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	return &Scorer{classifier: classifier, maxKeys: maxCanonicalKeys}
}

// Rank filters, scores, sorts and groups raw results. The output holds one
// result per merge key, best first, and at most maxKeys of them.
func (s *Scorer) Rank(plan QueryPlan, results []domain.WebResult) []domain.ScoredResult {
	query := normalizeTitle(plan.Query)
	scored := make([]domain.ScoredResult, 0, len(results))
	for _, result := range results {
		title := CleanTitle(result.Title)
		if title == "" {
			continue
		}
		snippet := common.CleanHTMLText(result.Snippet)
		if !plan.Declared && !s.classifier.IsMediaCandidate(result.Title+" "+snippet, plan.Language) {
			continue
		}
		year := common.ExtractYear(result.Title + " " + snippet)
		yearKey := ""
		if year > 0 {
			yearKey = strconv.Itoa(year)
		}
		result.Title = strings.TrimSpace(result.Title)
		result.Snippet = snippet
		if result.Domain == "" {
			result.Domain = common.HostOf(result.Link)
		}
		scored = append(scored, domain.ScoredResult{
			WebResult:  result,
			CleanTitle: title,
			Year:       year,
			Score:      s.score(query, title, year, result.Link, plan.Type),
			Key:        MergeKey(title, yearKey),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return s.dedupe(scored)
}

func (s *Scorer) score(query, title string, year int, link string, mediaType domain.MediaType) int {
	score := 0
	normalized := normalizeTitle(title)
	switch {
	case query != "" && normalized == query:
		score += scoreExactTitle
	case query != "" && strings.Contains(normalized, query):
		score += scoreTitleContains
	}
	if year > 0 {
		score += scoreHasYear
	}
	if s.classifier.IsAuthoritative(link, mediaType) {
		score += scoreAuthoritative
	}
	return score
}

// dedupe keeps the first result per key. Later results for a kept key only
// fill its empty fields. Collection stops once maxKeys keys are held.
func (s *Scorer) dedupe(sorted []domain.ScoredResult) []domain.ScoredResult {
	out := make([]domain.ScoredResult, 0, s.maxKeys)
	index := make(map[string]int, s.maxKeys)
	for _, candidate := range sorted {
		if i, ok := index[candidate.Key]; ok {
			fillScored(&out[i], candidate)
			continue
		}
		if len(out) >= s.maxKeys {
			continue
		}
		index[candidate.Key] = len(out)
		out = append(out, candidate)
	}
	return out
}

func fillScored(dst *domain.ScoredResult, src domain.ScoredResult) {
	if strings.TrimSpace(dst.Snippet) == "" {
		dst.Snippet = src.Snippet
	}
	if strings.TrimSpace(dst.Image) == "" {
		dst.Image = src.Image
	}
	if strings.TrimSpace(dst.Link) == "" {
		dst.Link = src.Link
		dst.Domain = src.Domain
	}
}

// PlaceholderItems turns scored web results into minimal inferred records.
// It is the last resort when no provider produced anything.
func (s *Scorer) PlaceholderItems(plan QueryPlan, scored []domain.ScoredResult) []domain.MediaItem {
	items := make([]domain.MediaItem, 0, len(scored))
	for _, result := range scored {
		mediaType := plan.Type
		if !plan.Declared {
			if inferred := s.classifier.Infer(result.Title + " " + result.Snippet); inferred != domain.MediaTypeAll {
				mediaType = inferred
			}
		}
		if mediaType == domain.MediaTypeAll || mediaType == "" {
			mediaType = domain.MediaTypeOther
		}
		date := ""
		if result.Year > 0 {
			date = strconv.Itoa(result.Year)
		}
		source := "web"
		if result.Source != "" {
			source = "web:" + result.Source
		}
		items = append(items, domain.MediaItem{
			Title:       result.CleanTitle,
			Type:        mediaType,
			ReleaseDate: date,
			Description: common.Truncate(result.Snippet, 400),
			PosterURL:   result.Image,
			SourceURL:   result.Link,
			Sources:     []string{source},
			Origin:      domain.TrustInferred,
		})
	}
	return items
}
