package websearch

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

const defaultGoogleEndpoint = "https://www.googleapis.com/customsearch/v1"

// Google queries a Programmable Search Engine (CSE).
type Google struct {
	client   *http.Client
	endpoint string
}

type googleResponse struct {
	Items []struct {
		Title       string `json:"title"`
		Snippet     string `json:"snippet"`
		Link        string `json:"link"`
		DisplayLink string `json:"displayLink"`
		Image       struct {
			ContextLink string `json:"contextLink"`
		} `json:"image"`
		Pagemap struct {
			CSEImage []struct {
				Src string `json:"src"`
			} `json:"cse_image"`
		} `json:"pagemap"`
	} `json:"items"`
}

func NewGoogle(client *http.Client, endpoint string) *Google {
	return &Google{client: client, endpoint: baseOr(endpoint, defaultGoogleEndpoint)}
}

func (g *Google) Name() string  { return ProviderGoogle }
func (g *Google) Label() string { return "Google Custom Search" }

func (g *Google) SupportsImages() bool { return true }

func (g *Google) Ready(creds domain.WebSearchCredentials) bool {
	creds = cleanCreds(creds)
	return creds.APIKey != "" && creds.CX != ""
}

func (g *Google) Search(ctx context.Context, query string, kind domain.SearchKind, creds domain.WebSearchCredentials) ([]domain.WebResult, error) {
	creds = cleanCreds(creds)
	if creds.APIKey == "" || creds.CX == "" {
		return nil, common.ErrMissingCredentials
	}
	params := url.Values{
		"key":  {creds.APIKey},
		"cx":   {creds.CX},
		"q":    {strings.TrimSpace(query)},
		"safe": {"off"},
		"num":  {strconv.Itoa(maxResults)},
	}
	if kind == domain.SearchKindImage {
		params.Set("searchType", "image")
	}

	var response googleResponse
	if err := common.GetJSON(ctx, g.client, ProviderGoogle, g.endpoint+"?"+params.Encode(), nil, &response); err != nil {
		return nil, err
	}

	results := make([]domain.WebResult, 0, len(response.Items))
	for _, item := range response.Items {
		result := domain.WebResult{
			Title:   common.CleanHTMLText(item.Title),
			Snippet: common.CleanHTMLText(item.Snippet),
			Link:    strings.TrimSpace(item.Link),
			Source:  ProviderGoogle,
		}
		if len(item.Pagemap.CSEImage) > 0 {
			result.Image = strings.TrimSpace(item.Pagemap.CSEImage[0].Src)
		}
		if kind == domain.SearchKindImage {
			// Image results link the picture itself; the page is the context link.
			if isImageURL(item.Link) || result.Image == "" {
				result.Image = strings.TrimSpace(item.Link)
			}
			if item.Image.ContextLink != "" {
				result.Link = strings.TrimSpace(item.Image.ContextLink)
			}
		}
		result.Domain = common.HostOf(result.Link)
		if result.Link == "" && result.Image == "" {
			continue
		}
		results = append(results, result)
	}
	return results, nil
}
