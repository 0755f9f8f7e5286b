// Command openlibrary-plugin is a reference search plugin. Build it into the
// service's PLUGIN_DIR to add Open Library book results.
package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"mediatracker/searchservice/internal/providers/plugin"
)

const (
	searchEndpoint = "https://openlibrary.org/search.json"
	coverEndpoint  = "https://covers.openlibrary.org/b/id/%d-L.jpg"
	maxResults     = 8
)

type openLibrary struct{}

type searchResponse struct {
	Docs []struct {
		Key              string   `json:"key"`
		Title            string   `json:"title"`
		AuthorName       []string `json:"author_name"`
		FirstPublishYear int      `json:"first_publish_year"`
		CoverID          int      `json:"cover_i"`
		RatingsAverage   float64  `json:"ratings_average"`
		FirstSentence    []string `json:"first_sentence"`
	} `json:"docs"`
}

func (openLibrary) Info() plugin.Info {
	return plugin.Info{
		Name:        "openlibrary",
		Version:     "1.0.0",
		Description: "Open Library book search",
	}
}

func (openLibrary) Search(host plugin.Host, req plugin.Request) ([]plugin.Result, error) {
	mediaType := strings.ToLower(strings.TrimSpace(req.Type))
	if mediaType != "" && mediaType != "all" && mediaType != "book" && mediaType != "comic" {
		return nil, nil
	}

	params := url.Values{
		"q":      {req.Query},
		"limit":  {strconv.Itoa(maxResults)},
		"fields": {"key,title,author_name,first_publish_year,cover_i,ratings_average,first_sentence"},
	}
	resp, err := host.Fetch(plugin.FetchRequest{
		URL:     searchEndpoint + "?" + params.Encode(),
		Headers: map[string]string{"Accept": "application/json"},
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != 200 {
		return nil, fmt.Errorf("openlibrary: status %d", resp.Status)
	}

	var payload searchResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("openlibrary: decode: %w", err)
	}
	host.Log("debug", fmt.Sprintf("openlibrary: %d docs for %q", len(payload.Docs), req.Query))

	out := make([]plugin.Result, 0, len(payload.Docs))
	for _, doc := range payload.Docs {
		if strings.TrimSpace(doc.Title) == "" {
			continue
		}
		result := plugin.Result{
			Title:     doc.Title,
			Type:      "Book",
			SourceURL: "https://openlibrary.org" + doc.Key,
		}
		if doc.FirstPublishYear > 0 {
			result.ReleaseDate = strconv.Itoa(doc.FirstPublishYear)
		}
		if len(doc.AuthorName) > 0 {
			result.DirectorOrAuthor = strings.Join(doc.AuthorName[:min(len(doc.AuthorName), 2)], ", ")
		}
		if len(doc.FirstSentence) > 0 {
			result.Description = doc.FirstSentence[0]
		}
		if doc.CoverID > 0 {
			result.PosterURL = fmt.Sprintf(coverEndpoint, doc.CoverID)
		}
		if doc.RatingsAverage > 0 {
			result.Rating = strconv.FormatFloat(doc.RatingsAverage, 'f', 1, 64)
		}
		out = append(out, result)
	}
	return out, nil
}

func main() {
	plugin.Serve(openLibrary{})
}
