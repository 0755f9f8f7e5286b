package tmdb

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mediatracker/searchservice/internal/cache"
	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

const (
	ProviderName = "tmdb"

	defaultBaseURL = "https://api.themoviedb.org/3"
	posterBaseURL  = "https://image.tmdb.org/t/p/w500"

	KindMovie = "movie"
	KindTV    = "tv"
	KindMulti = "multi"

	maxCast = 8
)

type Client struct {
	key     common.KeySource
	baseURL string
	http    *http.Client
	details *cache.Tiered[Details]
}

type Config struct {
	APIKey   common.KeySource
	BaseURL  string
	Client   *http.Client
	Redis    *cache.RedisStore
	CacheTTL time.Duration
}

type SearchResult struct {
	ID           int     `json:"id"`
	Title        string  `json:"title,omitempty"`
	Name         string  `json:"name,omitempty"`
	Overview     string  `json:"overview,omitempty"`
	PosterPath   string  `json:"poster_path,omitempty"`
	VoteAverage  float64 `json:"vote_average,omitempty"`
	ReleaseDate  string  `json:"release_date,omitempty"`
	FirstAirDate string  `json:"first_air_date,omitempty"`
	MediaType    string  `json:"media_type,omitempty"`
}

func (r SearchResult) DisplayTitle() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Name
}

func (r SearchResult) Date() string {
	if r.ReleaseDate != "" {
		return r.ReleaseDate
	}
	return r.FirstAirDate
}

func (r SearchResult) PosterURL() string {
	return posterURL(r.PosterPath)
}

// MediaItem converts a search hit into a catalog-trust canonical candidate.
func (r SearchResult) MediaItem() domain.MediaItem {
	kind := r.MediaType
	if kind == "" {
		kind = KindMovie
	}
	date, _ := domain.NormalizeDate(r.Date())
	return domain.MediaItem{
		Title:       strings.TrimSpace(r.DisplayTitle()),
		Type:        mediaTypeOf(kind),
		ReleaseDate: date,
		Description: strings.TrimSpace(r.Overview),
		Rating:      common.FormatRating(r.VoteAverage),
		PosterURL:   r.PosterURL(),
		SourceURL:   fmt.Sprintf("https://www.themoviedb.org/%s/%d", kind, r.ID),
		ExternalRef: &domain.ExternalRef{Source: ProviderName, ID: strconv.Itoa(r.ID), Kind: kind},
		Sources:     []string{ProviderName},
		Origin:      domain.TrustAuthoritative,
	}
}

type Details struct {
	ID           int     `json:"id"`
	Title        string  `json:"title,omitempty"`
	Name         string  `json:"name,omitempty"`
	Overview     string  `json:"overview,omitempty"`
	PosterPath   string  `json:"poster_path,omitempty"`
	VoteAverage  float64 `json:"vote_average,omitempty"`
	ReleaseDate  string  `json:"release_date,omitempty"`
	FirstAirDate string  `json:"first_air_date,omitempty"`
	CreatedBy    []struct {
		Name string `json:"name"`
	} `json:"created_by,omitempty"`
	Credits struct {
		Cast []struct {
			Name string `json:"name"`
		} `json:"cast"`
		Crew []struct {
			Name string `json:"name"`
			Job  string `json:"job"`
		} `json:"crew"`
	} `json:"credits"`
	Kind string `json:"kind,omitempty"`
}

// MediaItem converts a detail record into an authoritative enrichment source.
func (d Details) MediaItem() domain.MediaItem {
	title := d.Title
	if title == "" {
		title = d.Name
	}
	date := d.ReleaseDate
	if date == "" {
		date = d.FirstAirDate
	}
	date, _ = domain.NormalizeDate(date)

	var directors []string
	for _, member := range d.Credits.Crew {
		if member.Job == "Director" && member.Name != "" {
			directors = append(directors, member.Name)
		}
	}
	if len(directors) == 0 {
		for _, creator := range d.CreatedBy {
			if creator.Name != "" {
				directors = append(directors, creator.Name)
			}
		}
	}
	if len(directors) > 2 {
		directors = directors[:2]
	}

	cast := make([]string, 0, maxCast)
	for _, member := range d.Credits.Cast {
		if len(cast) == maxCast {
			break
		}
		if name := strings.TrimSpace(member.Name); name != "" {
			cast = append(cast, name)
		}
	}

	kind := d.Kind
	if kind == "" {
		kind = KindMovie
	}
	return domain.MediaItem{
		Title:            strings.TrimSpace(title),
		Type:             mediaTypeOf(kind),
		ReleaseDate:      date,
		DirectorOrAuthor: strings.Join(directors, ", "),
		Description:      strings.TrimSpace(d.Overview),
		Cast:             cast,
		Rating:           common.FormatRating(d.VoteAverage),
		PosterURL:        posterURL(d.PosterPath),
		ExternalRef:      &domain.ExternalRef{Source: ProviderName, ID: strconv.Itoa(d.ID), Kind: kind},
		Sources:          []string{ProviderName},
		Origin:           domain.TrustAuthoritative,
	}
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = common.DefaultClient(10 * time.Second)
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 7 * 24 * time.Hour
	}
	return &Client{
		key:     cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		details: cache.NewTiered(cache.NewTTL[Details]("tmdb_details", cacheTTL, cache.WithMaxEntries[Details](2000)), cfg.Redis),
	}
}

func (c *Client) Name() string { return ProviderName }

func (c *Client) Enabled() bool {
	return c.key.Get() != ""
}

// Search queries /search/{kind}. Results without an id are dropped; multi
// searches keep only movies and TV shows.
func (c *Client) Search(ctx context.Context, query, kind string, lang domain.Language) ([]SearchResult, error) {
	if !c.Enabled() {
		return nil, common.ErrMissingCredentials
	}
	kind = normalizeKind(kind)
	params := url.Values{
		"query":         {strings.TrimSpace(query)},
		"language":      {languageTag(lang)},
		"include_adult": {"false"},
	}

	var response searchResponse
	if err := c.get(ctx, "/search/"+kind, params, &response); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(response.Results))
	for _, r := range response.Results {
		if r.ID == 0 {
			continue
		}
		if kind != KindMulti {
			r.MediaType = kind
		}
		if r.MediaType == KindMovie || r.MediaType == KindTV {
			results = append(results, r)
		}
	}
	return results, nil
}

// Details fetches one record with credits. When the overview is empty in the
// requested language, the other supported language is fetched and its
// overview merged in.
func (c *Client) Details(ctx context.Context, id, kind string, lang domain.Language) (Details, error) {
	if !c.Enabled() {
		return Details{}, common.ErrMissingCredentials
	}
	if kind != KindTV {
		kind = KindMovie
	}
	if lang != domain.LanguageEN {
		lang = domain.LanguageZH
	}
	cacheKey := fmt.Sprintf("%s:%s:%s", kind, id, lang)
	if cached, ok := c.details.Get(ctx, cacheKey); ok {
		return cached, nil
	}

	details, err := c.fetchDetails(ctx, id, kind, lang)
	if err != nil {
		return Details{}, err
	}
	if strings.TrimSpace(details.Overview) == "" {
		other := domain.LanguageEN
		if lang == domain.LanguageEN {
			other = domain.LanguageZH
		}
		if fallback, err := c.fetchDetails(ctx, id, kind, other); err == nil {
			details.Overview = fallback.Overview
			if details.Title == "" && details.Name == "" {
				details.Title, details.Name = fallback.Title, fallback.Name
			}
		}
	}
	c.details.Set(ctx, cacheKey, details)
	return details, nil
}

func (c *Client) fetchDetails(ctx context.Context, id, kind string, lang domain.Language) (Details, error) {
	if _, err := strconv.Atoi(strings.TrimSpace(id)); err != nil {
		return Details{}, fmt.Errorf("tmdb: invalid id %q", id)
	}
	params := url.Values{
		"language":           {languageTag(lang)},
		"append_to_response": {"credits"},
	}
	var details Details
	if err := c.get(ctx, "/"+kind+"/"+strings.TrimSpace(id), params, &details); err != nil {
		return Details{}, err
	}
	details.Kind = kind
	return details, nil
}

// TestConnection checks a key against /configuration.
func (c *Client) TestConnection(ctx context.Context, apiKey string) error {
	apiKey = domain.CleanCredential(apiKey)
	if apiKey == "" {
		apiKey = c.key.Get()
	}
	if apiKey == "" {
		return common.ErrMissingCredentials
	}
	req, err := c.newRequest(ctx, apiKey, "/configuration", nil)
	if err != nil {
		return err
	}
	_, err = common.Fetch(c.http, ProviderName, req, 64*1024)
	return err
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := c.newRequest(ctx, c.key.Get(), path, params)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	body, err := common.Fetch(c.http, ProviderName, req, 0)
	if err != nil {
		return err
	}
	return common.DecodeJSON(ProviderName, body, out)
}

// newRequest authenticates with a v4 read token as a bearer header, or with a
// v3 key as the api_key parameter.
func (c *Client) newRequest(ctx context.Context, apiKey, path string, params url.Values) (*http.Request, error) {
	if params == nil {
		params = url.Values{}
	}
	bearer := strings.HasPrefix(apiKey, "eyJ")
	if !bearer {
		params.Set("api_key", apiKey)
	}
	reqURL := c.baseURL + path
	if encoded := params.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if bearer {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

// SearchItems searches the endpoint matching mediaType. Types TMDB does not
// catalogue yield nothing.
func (c *Client) SearchItems(ctx context.Context, query string, mediaType domain.MediaType, lang domain.Language) ([]domain.MediaItem, error) {
	switch mediaType {
	case domain.MediaTypeBook, domain.MediaTypeComic, domain.MediaTypeMusic:
		return nil, nil
	}
	results, err := c.Search(ctx, query, KindFor(mediaType), lang)
	if err != nil {
		return nil, err
	}
	items := make([]domain.MediaItem, 0, len(results))
	for _, result := range results {
		items = append(items, result.MediaItem())
	}
	return items, nil
}

// DetailItem fetches the record ref points at.
func (c *Client) DetailItem(ctx context.Context, ref domain.ExternalRef, lang domain.Language) (domain.MediaItem, error) {
	details, err := c.Details(ctx, ref.ID, ref.Kind, lang)
	if err != nil {
		return domain.MediaItem{}, err
	}
	return details.MediaItem(), nil
}

// KindFor maps a media type to the search endpoint that can answer it.
func KindFor(mediaType domain.MediaType) string {
	switch mediaType {
	case domain.MediaTypeMovie:
		return KindMovie
	case domain.MediaTypeTVSeries, domain.MediaTypeShortDrama:
		return KindTV
	default:
		return KindMulti
	}
}

func normalizeKind(kind string) string {
	switch kind {
	case KindMovie, KindTV:
		return kind
	default:
		return KindMulti
	}
}

func mediaTypeOf(kind string) domain.MediaType {
	if kind == KindTV {
		return domain.MediaTypeTVSeries
	}
	return domain.MediaTypeMovie
}

func languageTag(lang domain.Language) string {
	if lang == domain.LanguageEN {
		return "en-US"
	}
	return "zh-CN"
}

func posterURL(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	return posterBaseURL + path
}
