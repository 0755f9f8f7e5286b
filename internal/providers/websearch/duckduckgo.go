package websearch

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

const (
	defaultDuckDuckGoAPI  = "https://api.duckduckgo.com/"
	defaultDuckDuckGoHTML = "https://html.duckduckgo.com/html/"

	maxHTMLResults = 10
)

// DuckDuckGo needs no key. It combines the Instant Answer API with the HTML
// endpoint, which is the only one that honours site: filters.
type DuckDuckGo struct {
	client  *http.Client
	apiURL  string
	htmlURL string
}

type duckAnswer struct {
	Heading       string      `json:"Heading"`
	AbstractText  string      `json:"AbstractText"`
	AbstractURL   string      `json:"AbstractURL"`
	Image         string      `json:"Image"`
	RelatedTopics []duckTopic `json:"RelatedTopics"`
}

type duckTopic struct {
	Text     string      `json:"Text"`
	FirstURL string      `json:"FirstURL"`
	Topics   []duckTopic `json:"Topics"`
}

func NewDuckDuckGo(client *http.Client, apiURL, htmlURL string) *DuckDuckGo {
	return &DuckDuckGo{
		client:  client,
		apiURL:  strings.TrimSpace(firstNonEmpty(apiURL, defaultDuckDuckGoAPI)),
		htmlURL: strings.TrimSpace(firstNonEmpty(htmlURL, defaultDuckDuckGoHTML)),
	}
}

func (d *DuckDuckGo) Name() string  { return ProviderDuckDuckGo }
func (d *DuckDuckGo) Label() string { return "DuckDuckGo" }

func (d *DuckDuckGo) SupportsImages() bool { return false }

func (d *DuckDuckGo) Ready(domain.WebSearchCredentials) bool { return true }

func (d *DuckDuckGo) Search(ctx context.Context, query string, kind domain.SearchKind, _ domain.WebSearchCredentials) ([]domain.WebResult, error) {
	if kind == domain.SearchKindImage {
		return []domain.WebResult{}, nil
	}
	query = strings.TrimSpace(query)

	results, apiErr := d.instantAnswer(ctx, query)
	needHTML := len(results) == 0 || strings.Contains(strings.ToLower(query), "site:")
	if !needHTML {
		return results, nil
	}

	extra, htmlErr := d.htmlSearch(ctx, query)
	if htmlErr != nil {
		if len(results) > 0 {
			return results, nil
		}
		if apiErr != nil {
			return nil, apiErr
		}
		return nil, htmlErr
	}
	seen := make(map[string]struct{}, len(results))
	for _, r := range results {
		seen[r.Link] = struct{}{}
	}
	for _, r := range extra {
		if _, dup := seen[r.Link]; dup || r.Link == "" {
			continue
		}
		seen[r.Link] = struct{}{}
		results = append(results, r)
	}
	return results, nil
}

func (d *DuckDuckGo) instantAnswer(ctx context.Context, query string) ([]domain.WebResult, error) {
	params := url.Values{
		"q":             {query},
		"format":        {"json"},
		"no_html":       {"1"},
		"skip_disambig": {"1"},
	}
	var answer duckAnswer
	if err := common.GetJSON(ctx, d.client, ProviderDuckDuckGo, d.apiURL+"?"+params.Encode(), nil, &answer); err != nil {
		return nil, err
	}

	results := make([]domain.WebResult, 0, maxResults)
	if answer.AbstractText != "" && answer.AbstractURL != "" {
		title := answer.Heading
		if title == "" {
			title = answer.AbstractText
		}
		results = append(results, domain.WebResult{
			Title:   title,
			Snippet: answer.AbstractText,
			Link:    answer.AbstractURL,
			Image:   common.ResolveURL("https://duckduckgo.com/", answer.Image),
			Source:  ProviderDuckDuckGo,
			Domain:  common.HostOf(answer.AbstractURL),
		})
	}
	for _, topic := range flattenTopics(answer.RelatedTopics) {
		if len(results) >= maxResults {
			break
		}
		results = append(results, domain.WebResult{
			Title:   topic.Text,
			Snippet: topic.Text,
			Link:    topic.FirstURL,
			Source:  ProviderDuckDuckGo,
			Domain:  common.HostOf(topic.FirstURL),
		})
	}
	return results, nil
}

func flattenTopics(topics []duckTopic) []duckTopic {
	out := make([]duckTopic, 0, len(topics))
	for _, topic := range topics {
		if len(topic.Topics) > 0 {
			out = append(out, flattenTopics(topic.Topics)...)
			continue
		}
		if topic.Text != "" && topic.FirstURL != "" {
			out = append(out, topic)
		}
	}
	return out
}

func (d *DuckDuckGo) htmlSearch(ctx context.Context, query string) ([]domain.WebResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.htmlURL+"?"+url.Values{"q": {query}}.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://html.duckduckgo.com/")
	doc, err := common.FetchHTML(d.client, ProviderDuckDuckGo, req)
	if err != nil {
		return nil, err
	}
	return parseDuckHTML(doc), nil
}

// parseDuckHTML reads result__a anchors and pairs each with the next
// result__snippet in document order.
func parseDuckHTML(doc *html.Node) []domain.WebResult {
	results := make([]domain.WebResult, 0, maxHTMLResults)
	pendingSnippet := false
	common.Walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || len(results) >= maxHTMLResults && !pendingSnippet {
			return true
		}
		switch {
		case n.Data == "a" && common.HasClass(n, "result__a"):
			if len(results) >= maxHTMLResults {
				return false
			}
			link := decodeDuckLink(common.Attr(n, "href"))
			if link == "" {
				return false
			}
			results = append(results, domain.WebResult{
				Title:  common.TextContent(n),
				Link:   link,
				Source: ProviderDuckDuckGo,
				Domain: common.HostOf(link),
			})
			pendingSnippet = true
			return false
		case common.HasClass(n, "result__snippet"):
			if pendingSnippet && len(results) > 0 {
				results[len(results)-1].Snippet = common.TextContent(n)
				pendingSnippet = false
			}
			return false
		}
		return true
	})
	return results
}

// decodeDuckLink unwraps the //duckduckgo.com/l/?uddg=<target> redirect.
func decodeDuckLink(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return common.ResolveURL("", target)
	}
	if parsed.Scheme == "http" || parsed.Scheme == "https" {
		return href
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
