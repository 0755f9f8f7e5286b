package search

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/metrics"
)

const (
	defaultEnrichWorkers     = 3
	defaultEnrichItemTimeout = 8 * time.Second

	// tmdbSource is the source whose references can be resolved by a title
	// search when a record lacks one.
	tmdbSource = "tmdb"
)

type EnricherConfig struct {
	Sources     []MetadataSource
	Posters     *PosterResolver
	Workers     int
	ItemTimeout time.Duration
	Logger      *slog.Logger
}

// Enricher backfills missing fields on canonical records through a small
// fixed worker pool.
type Enricher struct {
	sources     map[string]MetadataSource
	posters     *PosterResolver
	caller      *apiCaller
	workers     int
	itemTimeout time.Duration
	logger      *slog.Logger
}

func newEnricher(cfg EnricherConfig, caller *apiCaller) *Enricher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultEnrichWorkers
	}
	timeout := cfg.ItemTimeout
	if timeout <= 0 {
		timeout = defaultEnrichItemTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		sources:     sourceIndex(cfg.Sources),
		posters:     cfg.Posters,
		caller:      caller,
		workers:     workers,
		itemTimeout: timeout,
		logger:      logger,
	}
}

// Enrich returns a copy of items with gaps filled where lookups succeeded.
// An item whose lookups exceed the per-item timeout is returned as it was.
func (e *Enricher) Enrich(ctx context.Context, items []domain.MediaItem, lang domain.Language) []domain.MediaItem {
	out := domain.CloneItems(items)
	if len(out) == 0 {
		return out
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := e.workers
	if workers > len(out) {
		workers = len(out)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = e.enrichWithTimeout(ctx, out[i], lang)
			}
		}()
	}
	for i := range out {
		if len(out[i].Gaps()) == 0 {
			metrics.EnrichmentTotal.WithLabelValues("complete").Inc()
			continue
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
		}
	}
	close(jobs)
	wg.Wait()
	return out
}

// progress holds the most complete state of one item seen so far, so a
// timeout still returns what was already merged.
type progress struct {
	mu   sync.Mutex
	item domain.MediaItem
	set  bool
}

func (p *progress) publish(item domain.MediaItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.item = item.Clone()
	p.set = true
}

func (p *progress) latest(fallback domain.MediaItem) (domain.MediaItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.set {
		return fallback, false
	}
	return p.item, true
}

func (e *Enricher) enrichWithTimeout(ctx context.Context, item domain.MediaItem, lang domain.Language) domain.MediaItem {
	itemCtx, cancel := context.WithTimeout(ctx, e.itemTimeout)
	defer cancel()

	var partial progress
	done := make(chan domain.MediaItem, 1)
	go func() {
		done <- e.enrichOne(itemCtx, item.Clone(), lang, partial.publish)
	}()

	select {
	case enriched := <-done:
		outcome := "unchanged"
		if len(enriched.Gaps()) < len(item.Gaps()) {
			outcome = "enriched"
		}
		metrics.EnrichmentTotal.WithLabelValues(outcome).Inc()
		return enriched
	case <-itemCtx.Done():
		latest, ok := partial.latest(item)
		outcome := "timeout"
		if ok {
			outcome = "partial"
		}
		metrics.EnrichmentTotal.WithLabelValues(outcome).Inc()
		e.logger.Debug("enrichment timed out",
			slog.String("title", item.Title),
			slog.Duration("timeout", e.itemTimeout),
			slog.Bool("detailsMerged", ok),
		)
		return latest
	}
}

// enrichOne fills details first and publishes the merged item before the
// poster chain runs. A detail poster is not trusted as is; it becomes the
// resolver's first candidate and must pass the same checks as any other.
func (e *Enricher) enrichOne(ctx context.Context, item domain.MediaItem, lang domain.Language, publish func(domain.MediaItem)) domain.MediaItem {
	var detailPoster string
	if needsDetails(item) {
		if source, ref := e.resolveRef(ctx, &item, lang); source != nil {
			var details domain.MediaItem
			err := e.caller.call(ctx, source.Name(), ref.ID, func(ctx context.Context) error {
				var err error
				details, err = source.DetailItem(ctx, ref, lang)
				return err
			})
			if err == nil {
				detailPoster = details.PosterURL
				details.PosterURL = ""
				domain.Merge(&item, details)
				publish(item)
			}
		}
	}
	if !item.NeedsPoster() {
		return item
	}
	if e.posters == nil {
		if !domain.IsPlaceholderPoster(detailPoster) {
			domain.Merge(&item, domain.MediaItem{PosterURL: detailPoster, Origin: domain.TrustCatalog})
		}
		return item
	}
	lookup := item
	if !domain.IsPlaceholderPoster(detailPoster) {
		lookup.PosterURL = detailPoster
	}
	if found, _ := e.posters.Resolve(ctx, lookup, lang); found != "" {
		domain.Merge(&item, domain.MediaItem{PosterURL: found, Origin: domain.TrustCatalog})
	}
	return item
}

// needsDetails reports gaps a detail fetch could fill, ignoring the poster
// which has its own chain.
func needsDetails(item domain.MediaItem) bool {
	for _, gap := range item.Gaps() {
		if gap != "posterUrl" {
			return true
		}
	}
	return false
}

// resolveRef returns the source and reference to fetch details from. Movies
// and series without a reference get one from a TMDB title search when the
// top hit has the same merge key.
func (e *Enricher) resolveRef(ctx context.Context, item *domain.MediaItem, lang domain.Language) (MetadataSource, domain.ExternalRef) {
	if item.ExternalRef.Valid() {
		source, ok := e.sources[strings.ToLower(item.ExternalRef.Source)]
		if !ok || !source.Enabled() {
			return nil, domain.ExternalRef{}
		}
		return source, *item.ExternalRef
	}
	if !item.Type.IsVideo() {
		return nil, domain.ExternalRef{}
	}
	source, ok := e.sources[tmdbSource]
	if !ok || !source.Enabled() {
		return nil, domain.ExternalRef{}
	}

	title := CleanTitle(item.Title)
	var candidates []domain.MediaItem
	err := e.caller.call(ctx, source.Name(), title, func(ctx context.Context) error {
		var err error
		candidates, err = source.SearchItems(ctx, title, item.Type, lang)
		return err
	})
	if err != nil {
		return nil, domain.ExternalRef{}
	}
	wantTitle := normalizeTitle(title)
	wantYear := domain.YearOf(item.ReleaseDate)
	for _, candidate := range candidates {
		if !candidate.ExternalRef.Valid() || normalizeTitle(CleanTitle(candidate.Title)) != wantTitle {
			continue
		}
		if wantYear != "" && domain.YearOf(candidate.ReleaseDate) != wantYear {
			continue
		}
		ref := *candidate.ExternalRef
		item.ExternalRef = &ref
		return source, ref
	}
	return nil, domain.ExternalRef{}
}
