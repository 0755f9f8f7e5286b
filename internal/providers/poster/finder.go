// Package poster looks up cover and poster images from page metadata,
// encyclopedias and dedicated cover APIs. Every lookup returns "" with a nil
// error when nothing was found.
package poster

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mediatracker/searchservice/internal/providers/common"
)

const (
	SourceOGImage     = "og_image"
	SourceDouban      = "douban"
	SourceWikipedia   = "wikipedia"
	SourceOMDb        = "omdb"
	SourceOpenLibrary = "openlibrary"
	SourceMusicBrainz = "musicbrainz"
	SourceITunes      = "itunes"

	musicBrainzUserAgent = "MediaSearch/1.0 (https://github.com/mediatracker)"
)

// Endpoints can be pointed at test servers. Wikipedia contains a {lang}
// placeholder.
type Endpoints struct {
	Wikipedia         string
	DoubanMovie       string
	DoubanBook        string
	DoubanWeb         string
	OMDb              string
	OpenLibrary       string
	OpenLibraryCovers string
	MusicBrainz       string
	CoverArtArchive   string
	ITunes            string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Wikipedia:         "https://{lang}.wikipedia.org/w/api.php",
		DoubanMovie:       "https://movie.douban.com",
		DoubanBook:        "https://book.douban.com",
		DoubanWeb:         "https://www.douban.com",
		OMDb:              "https://www.omdbapi.com/",
		OpenLibrary:       "https://openlibrary.org",
		OpenLibraryCovers: "https://covers.openlibrary.org",
		MusicBrainz:       "https://musicbrainz.org/ws/2",
		CoverArtArchive:   "https://coverartarchive.org",
		ITunes:            "https://itunes.apple.com",
	}
}

type Config struct {
	// Proxy is used for sites that need the configured proxy; Direct for
	// domestic hosts that break behind it.
	Proxy     *http.Client
	Direct    *http.Client
	Guard     common.URLGuard
	OMDbKey   common.KeySource
	Endpoints Endpoints
	Logger    *slog.Logger
}

type Finder struct {
	proxy     *http.Client
	direct    *http.Client
	guard     common.URLGuard
	omdbKey   common.KeySource
	endpoints Endpoints
	logger    *slog.Logger

	// musicbrainz asks for at most one request per second
	mbLimiter *rate.Limiter
}

func NewFinder(cfg Config) *Finder {
	proxy := cfg.Proxy
	if proxy == nil {
		proxy = common.DefaultClient(12 * time.Second)
	}
	direct := cfg.Direct
	if direct == nil {
		direct = common.DefaultClient(8 * time.Second)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Finder{
		proxy:     proxy,
		direct:    direct,
		guard:     cfg.Guard,
		omdbKey:   cfg.OMDbKey,
		endpoints: withDefaults(cfg.Endpoints),
		logger:    logger,
		mbLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

func withDefaults(e Endpoints) Endpoints {
	d := DefaultEndpoints()
	pick := func(value, fallback string) string {
		if value = strings.TrimSpace(value); value != "" {
			return strings.TrimRight(value, "/")
		}
		return strings.TrimRight(fallback, "/")
	}
	return Endpoints{
		Wikipedia:         pick(e.Wikipedia, d.Wikipedia),
		DoubanMovie:       pick(e.DoubanMovie, d.DoubanMovie),
		DoubanBook:        pick(e.DoubanBook, d.DoubanBook),
		DoubanWeb:         pick(e.DoubanWeb, d.DoubanWeb),
		OMDb:              pick(e.OMDb, d.OMDb),
		OpenLibrary:       pick(e.OpenLibrary, d.OpenLibrary),
		OpenLibraryCovers: pick(e.OpenLibraryCovers, d.OpenLibraryCovers),
		MusicBrainz:       pick(e.MusicBrainz, d.MusicBrainz),
		CoverArtArchive:   pick(e.CoverArtArchive, d.CoverArtArchive),
		ITunes:            pick(e.ITunes, d.ITunes),
	}
}
