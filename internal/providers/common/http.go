package common

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 media-search/1.0"

	maxJSONBody  = 2 * 1024 * 1024
	maxErrorBody = 2048
)

// KeySource returns the current credential for a provider. Settings can change
// at runtime, so adapters ask for the key on every call.
type KeySource func() string

func StaticKey(value string) KeySource {
	value = strings.TrimSpace(value)
	return func() string { return value }
}

func (k KeySource) Get() string {
	if k == nil {
		return ""
	}
	value := strings.TrimSpace(k())
	switch strings.ToLower(value) {
	case "undefined", "null":
		return ""
	}
	return value
}

// DefaultClient is used by adapters constructed without an explicit client.
func DefaultClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// Fetch executes req and returns the body of a 2xx response. Anything else is
// reported as *StatusError so callers can classify it.
func Fetch(client *http.Client, provider string, req *http.Request, limit int64) ([]byte, error) {
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
	if limit <= 0 {
		limit = maxJSONBody
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// GetJSON issues a GET and decodes a JSON response into out.
func GetJSON(ctx context.Context, client *http.Client, provider, rawURL string, headers http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	body, err := Fetch(client, provider, req, maxJSONBody)
	if err != nil {
		return err
	}
	return DecodeJSON(provider, body, out)
}

// PostJSON issues a POST with a JSON body and decodes a JSON response into out.
func PostJSON(ctx context.Context, client *http.Client, provider, rawURL string, headers http.Header, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	body, err := Fetch(client, provider, req, maxJSONBody)
	if err != nil {
		return err
	}
	return DecodeJSON(provider, body, out)
}

func DecodeJSON(provider string, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %v", provider, ErrMalformedResponse, err)
	}
	return nil
}

// ResolveURL resolves ref against base. It returns "" when either side is
// unusable or the result is not http(s).
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if !refURL.IsAbs() {
		baseURL, err := url.Parse(strings.TrimSpace(base))
		if err != nil || !baseURL.IsAbs() {
			return ""
		}
		refURL = baseURL.ResolveReference(refURL)
	}
	if refURL.Scheme != "http" && refURL.Scheme != "https" {
		return ""
	}
	return refURL.String()
}

// HostOf returns the lowercase host of rawURL without a leading "www.".
func HostOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// HostMatches reports whether host equals domain or is a subdomain of it.
func HostMatches(host, domain string) bool {
	host = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(host)), "www.")
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}
