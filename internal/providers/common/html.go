package common

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

const maxHTMLBody = 4 * 1024 * 1024

// FetchHTML executes req and parses the response as HTML, decoding legacy
// charsets (GBK pages on Chinese sites are common) to UTF-8 first.
func FetchHTML(client *http.Client, provider string, req *http.Request) (*html.Node, error) {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", DefaultUserAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, NewStatusError(provider, resp, body)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxHTMLBody))
	if err != nil {
		return nil, err
	}
	return ParseHTML(payload, resp.Header.Get("Content-Type"))
}

func ParseHTML(payload []byte, contentType string) (*html.Node, error) {
	reader, err := charset.NewReader(bytes.NewReader(payload), contentType)
	if err != nil {
		reader = bytes.NewReader(payload)
	}
	return html.Parse(reader)
}

// Walk visits n and its descendants in document order. Returning false from
// visit skips the node's children.
func Walk(n *html.Node, visit func(*html.Node) bool) {
	if n == nil {
		return
	}
	if !visit(n) {
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		Walk(child, visit)
	}
}

func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, key) {
			return attr.Val
		}
	}
	return ""
}

func HasClass(n *html.Node, class string) bool {
	for _, value := range strings.Fields(Attr(n, "class")) {
		if value == class {
			return true
		}
	}
	return false
}

// TextContent returns the whitespace-collapsed text of n.
func TextContent(n *html.Node) string {
	var b strings.Builder
	Walk(n, func(node *html.Node) bool {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			b.WriteByte(' ')
		}
		return node.Type != html.ElementNode || (node.Data != "script" && node.Data != "style")
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

var metaImageKeys = []string{
	"og:image",
	"og:image:url",
	"og:image:secure_url",
	"twitter:image",
	"twitter:image:src",
}

// MetaImage returns the page's representative image from its og:/twitter:
// meta tags, in priority order. Relative URLs are resolved against pageURL.
func MetaImage(doc *html.Node, pageURL string) string {
	found := make(map[string]string, len(metaImageKeys))
	Walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "meta" {
			return true
		}
		key := strings.ToLower(strings.TrimSpace(Attr(n, "property")))
		if key == "" {
			key = strings.ToLower(strings.TrimSpace(Attr(n, "name")))
		}
		content := strings.TrimSpace(Attr(n, "content"))
		if key != "" && content != "" {
			if _, ok := found[key]; !ok {
				found[key] = content
			}
		}
		return true
	})
	for _, key := range metaImageKeys {
		if value, ok := found[key]; ok {
			if resolved := ResolveURL(pageURL, value); resolved != "" {
				return resolved
			}
		}
	}
	return ""
}
