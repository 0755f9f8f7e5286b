package poster

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

type omdbResponse struct {
	Response string `json:"Response"`
	Error    string `json:"Error"`
	Title    string `json:"Title"`
	Poster   string `json:"Poster"`
}

// OMDb returns the poster OMDb lists for title (and year when known).
func (f *Finder) OMDb(ctx context.Context, title, year string) (string, error) {
	key := f.omdbKey.Get()
	if key == "" {
		return "", fmt.Errorf("omdb: %w", common.ErrMissingCredentials)
	}
	return f.omdbPoster(ctx, key, title, year)
}

// TestOMDb checks key against a well-known title and reports its poster.
func (f *Finder) TestOMDb(ctx context.Context, key string) (string, error) {
	key = domain.CleanCredential(key)
	if key == "" {
		return "", fmt.Errorf("omdb: %w", common.ErrMissingCredentials)
	}
	return f.omdbPoster(ctx, key, "Inception", "2010")
}

func (f *Finder) omdbPoster(ctx context.Context, key, title, year string) (string, error) {
	params := url.Values{"t": {strings.TrimSpace(title)}, "apikey": {key}}
	if year = strings.TrimSpace(year); year != "" {
		params.Set("y", year)
	}
	var response omdbResponse
	if err := common.GetJSON(ctx, f.proxy, SourceOMDb, f.endpoints.OMDb+"/?"+params.Encode(), nil, &response); err != nil {
		return "", err
	}
	if !strings.EqualFold(response.Response, "True") {
		message := strings.TrimSpace(response.Error)
		lower := strings.ToLower(message)
		switch {
		case strings.Contains(lower, "not found"):
			return "", nil
		case strings.Contains(lower, "limit"):
			return "", &common.StatusError{Provider: SourceOMDb, StatusCode: http.StatusTooManyRequests, Body: message}
		case strings.Contains(lower, "api key"):
			return "", &common.StatusError{Provider: SourceOMDb, StatusCode: http.StatusUnauthorized, Body: message}
		}
		return "", fmt.Errorf("omdb: %s", message)
	}
	if domain.IsMissing(response.Poster) {
		return "", nil
	}
	return strings.TrimSpace(response.Poster), nil
}

// OpenLibrary returns a large cover for the best matching book.
func (f *Finder) OpenLibrary(ctx context.Context, title, author string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", nil
	}
	params := url.Values{"title": {title}, "limit": {"1"}, "fields": {"cover_i,title"}}
	if author = strings.TrimSpace(author); author != "" && !domain.IsMissing(author) {
		params.Set("author", author)
	}
	var response struct {
		Docs []struct {
			CoverID int `json:"cover_i"`
		} `json:"docs"`
	}
	if err := common.GetJSON(ctx, f.proxy, SourceOpenLibrary, f.endpoints.OpenLibrary+"/search.json?"+params.Encode(), nil, &response); err != nil {
		return "", err
	}
	for _, doc := range response.Docs {
		if doc.CoverID > 0 {
			return fmt.Sprintf("%s/b/id/%d-L.jpg", f.endpoints.OpenLibraryCovers, doc.CoverID), nil
		}
	}
	return "", nil
}

// MusicBrainz resolves a release group and points at its Cover Art Archive
// front image. Weak matches are ignored.
func (f *Finder) MusicBrainz(ctx context.Context, title, artist string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", nil
	}
	query := fmt.Sprintf(`releasegroup:"%s"`, escapeLucene(title))
	if artist = strings.TrimSpace(artist); artist != "" && !domain.IsMissing(artist) {
		query += fmt.Sprintf(` AND artist:"%s"`, escapeLucene(artist))
	}
	if err := f.mbLimiter.Wait(ctx); err != nil {
		return "", err
	}

	params := url.Values{"query": {query}, "fmt": {"json"}, "limit": {"1"}}
	var response struct {
		ReleaseGroups []struct {
			ID    string `json:"id"`
			Score int    `json:"score"`
		} `json:"release-groups"`
	}
	headers := http.Header{"User-Agent": {musicBrainzUserAgent}}
	if err := common.GetJSON(ctx, f.proxy, SourceMusicBrainz, f.endpoints.MusicBrainz+"/release-group/?"+params.Encode(), headers, &response); err != nil {
		return "", err
	}
	for _, group := range response.ReleaseGroups {
		if group.ID != "" && group.Score >= 80 {
			return f.endpoints.CoverArtArchive + "/release-group/" + group.ID + "/front-500", nil
		}
	}
	return "", nil
}

func escapeLucene(value string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)
}

// ITunes returns 600px artwork for an album or ebook.
func (f *Finder) ITunes(ctx context.Context, title string, mediaType domain.MediaType) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", nil
	}
	params := url.Values{"term": {title}, "limit": {"1"}}
	switch mediaType {
	case domain.MediaTypeMusic:
		params.Set("media", "music")
		params.Set("entity", "album")
	case domain.MediaTypeBook, domain.MediaTypeComic:
		params.Set("media", "ebook")
	default:
		return "", nil
	}
	var response struct {
		Results []struct {
			ArtworkURL100 string `json:"artworkUrl100"`
		} `json:"results"`
	}
	if err := common.GetJSON(ctx, f.proxy, SourceITunes, f.endpoints.ITunes+"/search?"+params.Encode(), nil, &response); err != nil {
		return "", err
	}
	for _, result := range response.Results {
		if artwork := strings.TrimSpace(result.ArtworkURL100); artwork != "" {
			return strings.Replace(artwork, "100x100", "600x600", 1), nil
		}
	}
	return "", nil
}
