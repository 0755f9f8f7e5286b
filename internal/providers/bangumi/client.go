// Package bangumi talks to the bgm.tv API for anime, books, music, games and
// live-action subjects.
package bangumi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

const (
	ProviderName = "bangumi"

	defaultBaseURL   = "https://api.bgm.tv"
	defaultUserAgent = "mediatracker/media-search (https://github.com/mediatracker)"
)

// SubjectType is bgm.tv's subject category code.
type SubjectType int

const (
	SubjectAny   SubjectType = 0
	SubjectBook  SubjectType = 1
	SubjectAnime SubjectType = 2
	SubjectMusic SubjectType = 3
	SubjectGame  SubjectType = 4
	SubjectReal  SubjectType = 6
)

// SubjectTypeFor maps a media type to the subject code worth querying.
// Zero means the search is not restricted.
func SubjectTypeFor(mediaType domain.MediaType) SubjectType {
	switch mediaType {
	case domain.MediaTypeBook, domain.MediaTypeComic:
		return SubjectBook
	case domain.MediaTypeTVSeries:
		return SubjectAnime
	case domain.MediaTypeMusic:
		return SubjectMusic
	case domain.MediaTypeMovie, domain.MediaTypeShortDrama:
		return SubjectReal
	default:
		return SubjectAny
	}
}

type Client struct {
	token   common.KeySource
	baseURL string
	http    *http.Client
}

type Config struct {
	Token   common.KeySource
	BaseURL string
	Client  *http.Client
}

type Images struct {
	Large  string `json:"large"`
	Common string `json:"common"`
	Medium string `json:"medium"`
}

func (i Images) Best() string {
	for _, candidate := range []string{i.Large, i.Common, i.Medium} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			return strings.Replace(candidate, "http://", "https://", 1)
		}
	}
	return ""
}

type Subject struct {
	ID      int         `json:"id"`
	URL     string      `json:"url"`
	Type    SubjectType `json:"type"`
	Name    string      `json:"name"`
	NameCN  string      `json:"name_cn"`
	Summary string      `json:"summary"`
	AirDate string      `json:"air_date"`
	Images  Images      `json:"images"`
	Rating  struct {
		Score float64 `json:"score"`
	} `json:"rating"`
}

type searchResponse struct {
	Results int       `json:"results"`
	List    []Subject `json:"list"`
}

// SubjectDetails is the /v0/subjects/{id} shape.
type SubjectDetails struct {
	ID       int          `json:"id"`
	Type     SubjectType  `json:"type"`
	Name     string       `json:"name"`
	NameCN   string       `json:"name_cn"`
	Summary  string       `json:"summary"`
	Date     string       `json:"date"`
	Platform string       `json:"platform"`
	Images   Images       `json:"images"`
	Infobox  []InfoboxRow `json:"infobox"`
	Rating   struct {
		Score float64 `json:"score"`
	} `json:"rating"`
}

// InfoboxRow values are either a plain string or a list of {k?, v} objects.
type InfoboxRow struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (r InfoboxRow) Values() []string {
	var single string
	if err := json.Unmarshal(r.Value, &single); err == nil {
		return splitNames(single)
	}
	var list []struct {
		V string `json:"v"`
	}
	if err := json.Unmarshal(r.Value, &list); err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, entry := range list {
		out = append(out, splitNames(entry.V)...)
	}
	return out
}

func splitNames(raw string) []string {
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == '、' || r == '，' || r == ',' || r == '/' || r == '\n'
	})
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var (
	creatorKeys = []string{"导演", "监督", "作者", "原作", "作画", "艺术家", "作曲", "开发", "Director", "Author"}
	castKeys    = []string{"主演", "演员", "声优", "CV", "Cast"}
)

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = common.DefaultClient(10 * time.Second)
	}
	return &Client{token: cfg.Token, baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) Name() string { return ProviderName }

// Search works without a token; a token only raises rate limits.
func (c *Client) Search(ctx context.Context, query string, subjectType SubjectType) ([]Subject, error) {
	params := url.Values{"responseGroup": {"large"}}
	if subjectType != SubjectAny {
		params.Set("type", strconv.Itoa(int(subjectType)))
	}
	endpoint := c.baseURL + "/search/subject/" + url.PathEscape(strings.TrimSpace(query)) + "?" + params.Encode()

	var response searchResponse
	if err := common.GetJSON(ctx, c.http, ProviderName, endpoint, c.headers(c.token.Get()), &response); err != nil {
		var statusErr *common.StatusError
		// bgm.tv answers 404 for "no results".
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return []Subject{}, nil
		}
		return nil, err
	}
	out := make([]Subject, 0, len(response.List))
	for _, subject := range response.List {
		if subject.ID != 0 {
			out = append(out, subject)
		}
	}
	return out, nil
}

func (c *Client) Details(ctx context.Context, id string) (SubjectDetails, error) {
	if _, err := strconv.Atoi(strings.TrimSpace(id)); err != nil {
		return SubjectDetails{}, fmt.Errorf("bangumi: invalid subject id %q", id)
	}
	var details SubjectDetails
	err := common.GetJSON(ctx, c.http, ProviderName, c.baseURL+"/v0/subjects/"+strings.TrimSpace(id), c.headers(c.token.Get()), &details)
	return details, err
}

// TestConnection uses /v0/me with a token and the public calendar without one.
func (c *Client) TestConnection(ctx context.Context, token string) error {
	token = domain.CleanCredential(token)
	path := "/calendar"
	if token != "" {
		path = "/v0/me"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	for key, values := range c.headers(token) {
		req.Header[key] = values
	}
	_, err = common.Fetch(c.http, ProviderName, req, 512*1024)
	return err
}

func (c *Client) headers(token string) http.Header {
	headers := http.Header{"User-Agent": {defaultUserAgent}}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}
	return headers
}

// Enabled is always true; the public API works without a token.
func (c *Client) Enabled() bool { return true }

// SearchItems searches the subject category matching mediaType.
func (c *Client) SearchItems(ctx context.Context, query string, mediaType domain.MediaType, _ domain.Language) ([]domain.MediaItem, error) {
	subjects, err := c.Search(ctx, query, SubjectTypeFor(mediaType))
	if err != nil {
		return nil, err
	}
	items := make([]domain.MediaItem, 0, len(subjects))
	for _, subject := range subjects {
		items = append(items, subject.MediaItem())
	}
	return items, nil
}

// DetailItem fetches the subject ref points at.
func (c *Client) DetailItem(ctx context.Context, ref domain.ExternalRef, _ domain.Language) (domain.MediaItem, error) {
	details, err := c.Details(ctx, ref.ID)
	if err != nil {
		return domain.MediaItem{}, err
	}
	return details.MediaItem(), nil
}

// MediaItem converts a search hit into a catalog-trust canonical candidate.
func (s Subject) MediaItem() domain.MediaItem {
	date, _ := domain.NormalizeDate(s.AirDate)
	sourceURL := strings.TrimSpace(s.URL)
	if sourceURL == "" {
		sourceURL = fmt.Sprintf("https://bgm.tv/subject/%d", s.ID)
	}
	return domain.MediaItem{
		Title:       displayTitle(s.NameCN, s.Name),
		Type:        mediaTypeOf(s.Type, ""),
		ReleaseDate: date,
		Description: strings.TrimSpace(s.Summary),
		Rating:      common.FormatRating(s.Rating.Score),
		PosterURL:   s.Images.Best(),
		SourceURL:   strings.Replace(sourceURL, "http://", "https://", 1),
		ExternalRef: &domain.ExternalRef{Source: ProviderName, ID: strconv.Itoa(s.ID), Kind: strconv.Itoa(int(s.Type))},
		Sources:     []string{ProviderName},
		Origin:      domain.TrustCatalog,
	}
}

// MediaItem converts a detail record, pulling creators and cast out of the infobox.
func (d SubjectDetails) MediaItem() domain.MediaItem {
	date, _ := domain.NormalizeDate(d.Date)
	return domain.MediaItem{
		Title:            displayTitle(d.NameCN, d.Name),
		Type:             mediaTypeOf(d.Type, d.Platform),
		ReleaseDate:      date,
		DirectorOrAuthor: strings.Join(d.infobox(creatorKeys, 2), ", "),
		Description:      strings.TrimSpace(d.Summary),
		Cast:             d.infobox(castKeys, 8),
		Rating:           common.FormatRating(d.Rating.Score),
		PosterURL:        d.Images.Best(),
		SourceURL:        fmt.Sprintf("https://bgm.tv/subject/%d", d.ID),
		ExternalRef:      &domain.ExternalRef{Source: ProviderName, ID: strconv.Itoa(d.ID), Kind: strconv.Itoa(int(d.Type))},
		Sources:          []string{ProviderName},
		Origin:           domain.TrustCatalog,
	}
}

func (d SubjectDetails) infobox(keys []string, limit int) []string {
	for _, key := range keys {
		for _, row := range d.Infobox {
			if !strings.EqualFold(strings.TrimSpace(row.Key), key) {
				continue
			}
			values := row.Values()
			if len(values) > limit {
				values = values[:limit]
			}
			if len(values) > 0 {
				return values
			}
		}
	}
	return nil
}

func mediaTypeOf(subjectType SubjectType, platform string) domain.MediaType {
	platform = strings.TrimSpace(platform)
	switch subjectType {
	case SubjectBook:
		if platform == "漫画" {
			return domain.MediaTypeComic
		}
		return domain.MediaTypeBook
	case SubjectAnime:
		if platform == "剧场版" {
			return domain.MediaTypeMovie
		}
		return domain.MediaTypeTVSeries
	case SubjectMusic:
		return domain.MediaTypeMusic
	case SubjectReal:
		if platform == "电影" {
			return domain.MediaTypeMovie
		}
		return domain.MediaTypeTVSeries
	default:
		return domain.MediaTypeOther
	}
}

func displayTitle(nameCN, name string) string {
	if value := strings.TrimSpace(nameCN); value != "" {
		return value
	}
	return strings.TrimSpace(name)
}
