package domain

import (
	"strings"
	"unicode"
)

type MediaType string

const (
	MediaTypeAll        MediaType = "All"
	MediaTypeBook       MediaType = "Book"
	MediaTypeMovie      MediaType = "Movie"
	MediaTypeTVSeries   MediaType = "TV Series"
	MediaTypeComic      MediaType = "Comic"
	MediaTypeShortDrama MediaType = "Short Drama"
	MediaTypeMusic      MediaType = "Music"
	MediaTypeOther      MediaType = "Other"
)

var MediaTypes = []MediaType{
	MediaTypeBook,
	MediaTypeMovie,
	MediaTypeTVSeries,
	MediaTypeComic,
	MediaTypeShortDrama,
	MediaTypeMusic,
	MediaTypeOther,
}

// ParseMediaType accepts canonical names plus the loose spellings providers and
// models return. Unknown values map to Other; empty maps to All.
func ParseMediaType(raw string) MediaType {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "", "all", "any", "全部":
		return MediaTypeAll
	case "book", "books", "novel", "ebook", "书", "书籍", "小说":
		return MediaTypeBook
	case "movie", "movies", "film", "电影":
		return MediaTypeMovie
	case "tv series", "tv", "tv show", "series", "show", "anime", "电视剧", "剧集", "动画", "番剧":
		return MediaTypeTVSeries
	case "comic", "comics", "manga", "manhua", "漫画":
		return MediaTypeComic
	case "short drama", "shortdrama", "short-drama", "短剧":
		return MediaTypeShortDrama
	case "music", "album", "song", "音乐", "专辑":
		return MediaTypeMusic
	default:
		return MediaTypeOther
	}
}

func (t MediaType) IsVideo() bool {
	return t == MediaTypeMovie || t == MediaTypeTVSeries
}

type Language string

const (
	LanguageZH Language = "zh"
	LanguageEN Language = "en"
)

func NormalizeLanguage(raw string) Language {
	value := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasPrefix(value, "zh") {
		return LanguageZH
	}
	if strings.HasPrefix(value, "en") {
		return LanguageEN
	}
	return ""
}

// DetectLanguage reports zh when the text contains any Han character.
func DetectLanguage(text string) Language {
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			return LanguageZH
		}
	}
	return LanguageEN
}

// Trust ranks where a value came from. Higher trust may replace lower-trust
// values that are already present; equal or lower trust only fills gaps.
type Trust int

const (
	TrustInferred Trust = iota + 1
	TrustCatalog
	TrustAuthoritative
)

// ExternalRef points at a record in a metadata service. Once set on a
// canonical record it is used for every later detail lookup.
type ExternalRef struct {
	Source string `json:"source"`
	ID     string `json:"id"`
	Kind   string `json:"kind,omitempty"`
}

func (r *ExternalRef) Valid() bool {
	return r != nil && strings.TrimSpace(r.Source) != "" && strings.TrimSpace(r.ID) != ""
}

type MediaItem struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	Type             MediaType    `json:"type"`
	ReleaseDate      string       `json:"releaseDate"`
	DirectorOrAuthor string       `json:"directorOrAuthor"`
	Description      string       `json:"description"`
	Cast             []string     `json:"cast,omitempty"`
	Rating           string       `json:"rating,omitempty"`
	PosterURL        string       `json:"posterUrl,omitempty"`
	SourceURL        string       `json:"sourceUrl,omitempty"`
	ExternalRef      *ExternalRef `json:"externalRef,omitempty"`
	Sources          []string     `json:"sources,omitempty"`

	// Origin is the trust of the adapter that produced the record.
	Origin Trust `json:"-"`

	fieldTrust map[string]Trust
}

const minDescriptionLength = 60

var missingTokens = map[string]struct{}{
	"unknown": {}, "n/a": {}, "na": {}, "none": {}, "null": {}, "undefined": {},
	"-": {}, "--": {}, "?": {}, "tbd": {}, "tba": {}, "未知": {}, "暂无": {}, "无": {},
}

// IsMissing reports whether a text field holds a "missing" sentinel.
func IsMissing(value string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return true
	}
	_, ok := missingTokens[trimmed]
	return ok
}

func isMissingRating(value string) bool {
	if IsMissing(value) {
		return true
	}
	trimmed := strings.TrimSpace(value)
	return trimmed == "0" || trimmed == "0.0" || trimmed == "0/10"
}

var placeholderMarkers = []string{
	"placeholder", "no-image", "noimage", "no_image", "nopicture", "no-poster", "noposter",
	"default-poster", "default_cover", "blank.gif", "spacer.gif", "1x1.",
}

// IsPlaceholderPoster reports whether a poster URL is absent or a known stock placeholder.
func IsPlaceholderPoster(raw string) bool {
	value := strings.ToLower(strings.TrimSpace(raw))
	if IsMissing(value) {
		return true
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") && !strings.HasPrefix(value, "data:image/") {
		return true
	}
	for _, marker := range placeholderMarkers {
		if strings.Contains(value, marker) {
			return true
		}
	}
	return false
}

// Gaps lists the enrichable fields that are still missing or low quality.
func (m MediaItem) Gaps() []string {
	var gaps []string
	if DatePrecisionOf(m.ReleaseDate) < DatePrecisionDay {
		gaps = append(gaps, "releaseDate")
	}
	if IsMissing(m.DirectorOrAuthor) {
		gaps = append(gaps, "directorOrAuthor")
	}
	if descriptionQuality(m.Description) < 2 {
		gaps = append(gaps, "description")
	}
	if len(cleanCast(m.Cast)) == 0 {
		gaps = append(gaps, "cast")
	}
	if IsPlaceholderPoster(m.PosterURL) {
		gaps = append(gaps, "posterUrl")
	}
	return gaps
}

func (m MediaItem) NeedsPoster() bool {
	return IsPlaceholderPoster(m.PosterURL)
}

// Clone returns a deep copy so callers may mutate it freely.
func (m MediaItem) Clone() MediaItem {
	cloned := m
	cloned.Cast = append([]string(nil), m.Cast...)
	cloned.Sources = append([]string(nil), m.Sources...)
	if m.ExternalRef != nil {
		ref := *m.ExternalRef
		cloned.ExternalRef = &ref
	}
	if m.fieldTrust != nil {
		cloned.fieldTrust = make(map[string]Trust, len(m.fieldTrust))
		for key, value := range m.fieldTrust {
			cloned.fieldTrust[key] = value
		}
	}
	return cloned
}

func CloneItems(items []MediaItem) []MediaItem {
	if items == nil {
		return nil
	}
	out := make([]MediaItem, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}
