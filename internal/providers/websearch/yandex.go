package websearch

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

const defaultYandexEndpoint = "https://yandex.com/search/xml"

// Yandex speaks the XML search API. It has no image mode.
type Yandex struct {
	client   *http.Client
	endpoint string
}

type yandexResponse struct {
	Response struct {
		Error *struct {
			Code string `xml:"code,attr"`
			Text string `xml:",chardata"`
		} `xml:"error"`
		Groups []struct {
			Docs []yandexDoc `xml:"doc"`
		} `xml:"results>grouping>group"`
	} `xml:"response"`
}

type yandexDoc struct {
	URL      string       `xml:"url"`
	Domain   string       `xml:"domain"`
	Title    yandexText   `xml:"title"`
	Passages []yandexText `xml:"passages>passage"`
}

// yandexText keeps inner markup such as <hlword> so it can be flattened.
type yandexText struct {
	Inner string `xml:",innerxml"`
}

// Yandex reports daily limit exhaustion with these error codes inside a 200 response.
var yandexQuotaCodes = map[string]struct{}{"32": {}, "55": {}}

func NewYandex(client *http.Client, endpoint string) *Yandex {
	return &Yandex{client: client, endpoint: baseOr(endpoint, defaultYandexEndpoint)}
}

func (y *Yandex) Name() string  { return ProviderYandex }
func (y *Yandex) Label() string { return "Yandex XML" }

func (y *Yandex) SupportsImages() bool { return false }

func (y *Yandex) Ready(creds domain.WebSearchCredentials) bool {
	creds = cleanCreds(creds)
	return creds.APIKey != "" && creds.User != ""
}

func (y *Yandex) Search(ctx context.Context, query string, kind domain.SearchKind, creds domain.WebSearchCredentials) ([]domain.WebResult, error) {
	if kind == domain.SearchKindImage {
		return nil, fmt.Errorf("yandex: image search not supported")
	}
	creds = cleanCreds(creds)
	if creds.APIKey == "" || creds.User == "" {
		return nil, common.ErrMissingCredentials
	}
	params := url.Values{
		"user":   {creds.User},
		"key":    {creds.APIKey},
		"l10n":   {"en"},
		"filter": {"none"},
		"query":  {strings.TrimSpace(query)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/xml,text/xml")
	payload, err := common.Fetch(y.client, ProviderYandex, req, 0)
	if err != nil {
		return nil, err
	}
	return parseYandex(payload)
}

func parseYandex(payload []byte) ([]domain.WebResult, error) {
	var response yandexResponse
	if err := xml.Unmarshal(payload, &response); err != nil {
		return nil, fmt.Errorf("yandex: %w: %v", common.ErrMalformedResponse, err)
	}
	if apiErr := response.Response.Error; apiErr != nil {
		message := strings.TrimSpace(apiErr.Text)
		if _, quota := yandexQuotaCodes[apiErr.Code]; quota {
			return nil, &common.StatusError{Provider: ProviderYandex, StatusCode: http.StatusTooManyRequests, Body: message}
		}
		if apiErr.Code == "15" {
			// "Sorry, there are no results for this search"
			return []domain.WebResult{}, nil
		}
		return nil, fmt.Errorf("yandex error %s: %s", apiErr.Code, message)
	}

	results := make([]domain.WebResult, 0, maxResults)
	for _, group := range response.Response.Groups {
		for _, doc := range group.Docs {
			title := common.CleanHTMLText(doc.Title.Inner)
			link := strings.TrimSpace(doc.URL)
			if title == "" && link == "" {
				continue
			}
			snippet := ""
			if len(doc.Passages) > 0 {
				snippet = common.CleanHTMLText(doc.Passages[0].Inner)
			}
			domainName := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(doc.Domain)), "www.")
			if domainName == "" {
				domainName = common.HostOf(link)
			}
			results = append(results, domain.WebResult{
				Title:   title,
				Snippet: snippet,
				Link:    link,
				Source:  ProviderYandex,
				Domain:  domainName,
			})
		}
	}
	return results, nil
}
