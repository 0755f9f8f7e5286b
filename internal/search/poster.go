package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/metrics"
	"mediatracker/searchservice/internal/providers/poster"
)

const (
	posterSourceExisting    = "existing"
	posterSourceImageSearch = "image_search"
	defaultPosterStepBudget = 8 * time.Second
)

// PosterFinder is the set of poster lookups the resolver chains together.
type PosterFinder interface {
	OGImage(ctx context.Context, pageURL string) (string, error)
	Douban(ctx context.Context, title string) (string, error)
	Wikipedia(ctx context.Context, title string, lang domain.Language) (string, error)
	OMDb(ctx context.Context, title, year string) (string, error)
	OpenLibrary(ctx context.Context, title, author string) (string, error)
	MusicBrainz(ctx context.Context, title, artist string) (string, error)
	ITunes(ctx context.Context, title string, mediaType domain.MediaType) (string, error)
	Probe(ctx context.Context, rawURL string) error
}

type imageSearcher interface {
	Search(ctx context.Context, query string, kind domain.SearchKind) []domain.WebResult
}

type posterStep struct {
	source string
	lookup func(ctx context.Context) ([]string, error)
}

// PosterResolver walks an ordered chain of poster sources and accepts the
// first candidate that is not blacklisted and actually loads as an image.
type PosterResolver struct {
	finder     PosterFinder
	images     imageSearcher
	classifier *Classifier
	stepBudget time.Duration
	logger     *slog.Logger
}

func NewPosterResolver(finder PosterFinder, images imageSearcher, classifier *Classifier, logger *slog.Logger) *PosterResolver {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PosterResolver{
		finder:     finder,
		images:     images,
		classifier: classifier,
		stepBudget: defaultPosterStepBudget,
		logger:     logger,
	}
}

// Resolve returns a verified poster URL for item and the source that produced
// it, or two empty strings.
func (r *PosterResolver) Resolve(ctx context.Context, item domain.MediaItem, lang domain.Language) (string, string) {
	if r == nil || r.finder == nil {
		return "", ""
	}
	steps := r.chain(item, lang)
	for i, step := range steps {
		if ctx.Err() != nil {
			return "", ""
		}
		stepCtx, cancel := context.WithTimeout(ctx, r.stepTimeout(ctx, len(steps)-i))
		candidates, err := step.lookup(stepCtx)
		if err != nil {
			r.logger.Debug("poster lookup failed",
				slog.String("source", step.source),
				slog.String("title", item.Title),
				slog.String("error", err.Error()),
			)
		}
		for _, candidate := range candidates {
			if r.accept(stepCtx, candidate) {
				cancel()
				metrics.PosterSourceTotal.WithLabelValues(step.source).Inc()
				return strings.TrimSpace(candidate), step.source
			}
		}
		cancel()
	}
	metrics.PosterSourceTotal.WithLabelValues("none").Inc()
	return "", ""
}

// stepTimeout splits what is left of ctx's deadline evenly over the steps
// still to run, capped at the per-step budget. One slow source cannot use up
// the whole item.
func (r *PosterResolver) stepTimeout(ctx context.Context, stepsLeft int) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok || stepsLeft <= 0 {
		return r.stepBudget
	}
	return min(r.stepBudget, time.Until(deadline)/time.Duration(stepsLeft))
}

func (r *PosterResolver) accept(ctx context.Context, candidate string) bool {
	candidate = strings.TrimSpace(candidate)
	if domain.IsPlaceholderPoster(candidate) || poster.IsBlocked(candidate) {
		return false
	}
	return r.finder.Probe(ctx, candidate) == nil
}

// chain orders the sources for item. Books, comics and music try the
// dedicated cover APIs before anything generic.
func (r *PosterResolver) chain(item domain.MediaItem, lang domain.Language) []posterStep {
	title := CleanTitle(item.Title)
	year := domain.YearOf(item.ReleaseDate)
	creator := firstCredit(item.DirectorOrAuthor)
	one := func(lookup func(ctx context.Context) (string, error)) func(ctx context.Context) ([]string, error) {
		return func(ctx context.Context) ([]string, error) {
			found, err := lookup(ctx)
			if found == "" {
				return nil, err
			}
			return []string{found}, err
		}
	}

	var steps []posterStep
	if !domain.IsPlaceholderPoster(item.PosterURL) {
		existing := item.PosterURL
		steps = append(steps, posterStep{source: posterSourceExisting, lookup: func(context.Context) ([]string, error) {
			return []string{existing}, nil
		}})
	}

	switch item.Type {
	case domain.MediaTypeBook:
		steps = append(steps,
			posterStep{source: poster.SourceOpenLibrary, lookup: one(func(ctx context.Context) (string, error) {
				return r.finder.OpenLibrary(ctx, title, creator)
			})},
			posterStep{source: poster.SourceITunes, lookup: one(func(ctx context.Context) (string, error) {
				return r.finder.ITunes(ctx, title, item.Type)
			})},
		)
	case domain.MediaTypeComic:
		steps = append(steps,
			posterStep{source: poster.SourceITunes, lookup: one(func(ctx context.Context) (string, error) {
				return r.finder.ITunes(ctx, title, item.Type)
			})},
			posterStep{source: poster.SourceOpenLibrary, lookup: one(func(ctx context.Context) (string, error) {
				return r.finder.OpenLibrary(ctx, title, creator)
			})},
		)
	case domain.MediaTypeMusic:
		steps = append(steps,
			posterStep{source: poster.SourceMusicBrainz, lookup: one(func(ctx context.Context) (string, error) {
				return r.finder.MusicBrainz(ctx, title, creator)
			})},
			posterStep{source: poster.SourceITunes, lookup: one(func(ctx context.Context) (string, error) {
				return r.finder.ITunes(ctx, title, item.Type)
			})},
		)
	case domain.MediaTypeMovie, domain.MediaTypeTVSeries:
		steps = append(steps, posterStep{source: poster.SourceOMDb, lookup: one(func(ctx context.Context) (string, error) {
			return r.finder.OMDb(ctx, title, year)
		})})
	}

	if r.images != nil {
		query := strings.TrimSpace(title + " " + r.classifier.TypeTerm(item.Type, lang) + " poster")
		steps = append(steps, posterStep{source: posterSourceImageSearch, lookup: func(ctx context.Context) ([]string, error) {
			return trustedImages(r.images.Search(ctx, query, domain.SearchKindImage)), nil
		}})
	}
	if strings.TrimSpace(item.SourceURL) != "" {
		page := item.SourceURL
		steps = append(steps, posterStep{source: poster.SourceOGImage, lookup: one(func(ctx context.Context) (string, error) {
			return r.finder.OGImage(ctx, page)
		})})
	}
	if lang == domain.LanguageZH || domain.DetectLanguage(title) == domain.LanguageZH {
		steps = append(steps, posterStep{source: poster.SourceDouban, lookup: one(func(ctx context.Context) (string, error) {
			return r.finder.Douban(ctx, title)
		})})
	}
	steps = append(steps, posterStep{source: poster.SourceWikipedia, lookup: one(func(ctx context.Context) (string, error) {
		return r.finder.Wikipedia(ctx, title, lang)
	})})
	return steps
}

// trustedImages keeps image results whose image or page lives on a curated
// poster host.
func trustedImages(results []domain.WebResult) []string {
	out := make([]string, 0, len(results))
	for _, result := range results {
		image := strings.TrimSpace(result.Image)
		if image == "" {
			continue
		}
		if poster.IsTrustedHost(image) || poster.IsTrustedHost(result.Link) {
			out = append(out, image)
		}
	}
	return out
}

func firstCredit(raw string) string {
	if domain.IsMissing(raw) {
		return ""
	}
	for _, sep := range []string{",", "，", "、", "/", ";"} {
		if idx := strings.Index(raw, sep); idx > 0 {
			raw = raw[:idx]
		}
	}
	return strings.TrimSpace(raw)
}
