package websearch

import (
	"context"
	"net/http"
	"strings"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

const defaultSerperEndpoint = "https://google.serper.dev"

type Serper struct {
	client   *http.Client
	endpoint string
}

type serperRequest struct {
	Q    string `json:"q"`
	Safe string `json:"safe"`
	Num  int    `json:"num"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
		Link    string `json:"link"`
		Date    string `json:"date"`
	} `json:"organic"`
	Images []struct {
		Title    string `json:"title"`
		Domain   string `json:"domain"`
		Link     string `json:"link"`
		ImageURL string `json:"imageUrl"`
	} `json:"images"`
}

func NewSerper(client *http.Client, endpoint string) *Serper {
	return &Serper{client: client, endpoint: baseOr(endpoint, defaultSerperEndpoint)}
}

func (s *Serper) Name() string  { return ProviderSerper }
func (s *Serper) Label() string { return "Serper" }

func (s *Serper) SupportsImages() bool { return true }

func (s *Serper) Ready(creds domain.WebSearchCredentials) bool {
	return cleanCreds(creds).APIKey != ""
}

func (s *Serper) Search(ctx context.Context, query string, kind domain.SearchKind, creds domain.WebSearchCredentials) ([]domain.WebResult, error) {
	creds = cleanCreds(creds)
	if creds.APIKey == "" {
		return nil, common.ErrMissingCredentials
	}
	path := "/search"
	if kind == domain.SearchKindImage {
		path = "/images"
	}
	headers := http.Header{"X-API-KEY": {creds.APIKey}}

	var response serperResponse
	err := common.PostJSON(ctx, s.client, ProviderSerper, s.endpoint+path, headers,
		serperRequest{Q: strings.TrimSpace(query), Safe: "off", Num: maxResults}, &response)
	if err != nil {
		return nil, err
	}

	if kind == domain.SearchKindImage {
		results := make([]domain.WebResult, 0, len(response.Images))
		for _, item := range response.Images {
			if strings.TrimSpace(item.ImageURL) == "" {
				continue
			}
			results = append(results, domain.WebResult{
				Title:   strings.TrimSpace(item.Title),
				Snippet: strings.TrimSpace(item.Domain),
				Link:    strings.TrimSpace(item.Link),
				Image:   strings.TrimSpace(item.ImageURL),
				Source:  ProviderSerper,
				Domain:  common.HostOf(item.Link),
			})
		}
		return results, nil
	}

	results := make([]domain.WebResult, 0, len(response.Organic))
	for _, item := range response.Organic {
		if strings.TrimSpace(item.Link) == "" {
			continue
		}
		snippet := strings.TrimSpace(item.Snippet)
		if item.Date != "" && !strings.Contains(snippet, item.Date) {
			snippet = common.JoinNonEmpty(" · ", item.Date, snippet)
		}
		results = append(results, domain.WebResult{
			Title:   strings.TrimSpace(item.Title),
			Snippet: snippet,
			Link:    strings.TrimSpace(item.Link),
			Source:  ProviderSerper,
			Domain:  common.HostOf(item.Link),
		})
	}
	return results, nil
}
