package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// ---------------------------------------------------------------------------
// CleanHTMLText / ExtractYear
// ---------------------------------------------------------------------------

func TestCleanHTMLText(t *testing.T) {
	got := CleanHTMLText("  <b>Dune</b> &amp; <i>Dune:&nbsp;Part Two</i>  ")
	if got != "Dune & Dune: Part Two" {
		t.Fatalf("unexpected cleaned text: %q", got)
	}
}

func TestExtractYear(t *testing.T) {
	cases := map[string]int{
		"Dune (2021 film)":     2021,
		"Released in 1965":     1965,
		"no year here":         0,
		"code 12345 not year":  0,
		"第一季 2019年10月":        2019,
		"The year 2150 is far": 0,
	}
	for input, want := range cases {
		if got := ExtractYear(input); got != want {
			t.Errorf("ExtractYear(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestFormatRating(t *testing.T) {
	if got := FormatRating(7.84); got != "7.8" {
		t.Fatalf("expected 7.8, got %q", got)
	}
	if got := FormatRating(0); got != "" {
		t.Fatalf("expected empty rating, got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Error classification
// ---------------------------------------------------------------------------

func TestIsQuota(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{err: &StatusError{Provider: "google", StatusCode: 429}, want: true},
		{err: &StatusError{Provider: "google", StatusCode: 403, Body: `{"error":{"reason":"dailyLimitExceeded"}}`}, want: true},
		{err: &StatusError{Provider: "google", StatusCode: 403, Body: "forbidden"}, want: false},
		{err: &StatusError{Provider: "tmdb", StatusCode: 500}, want: false},
		{err: fmt.Errorf("wrapped: %w", &StatusError{StatusCode: 429}), want: true},
		{err: errors.New("Quota exceeded for this key"), want: true},
		{err: nil, want: false},
	}
	for i, tc := range cases {
		if got := IsQuota(tc.err); got != tc.want {
			t.Errorf("case %d: IsQuota(%v) = %v, want %v", i, tc.err, got, tc.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{err: &StatusError{StatusCode: 429}, want: true},
		{err: &StatusError{StatusCode: 503}, want: true},
		{err: &StatusError{StatusCode: 401}, want: false},
		{err: &StatusError{StatusCode: 404}, want: false},
		{err: fmt.Errorf("x: %w", ErrMalformedResponse), want: false},
		{err: errors.New("read: connection reset by peer"), want: true},
		{err: context.DeadlineExceeded, want: true},
		{err: context.Canceled, want: false},
	}
	for i, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("case %d: IsRetryable(%v) = %v, want %v", i, tc.err, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

func TestGetJSONReturnsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer server.Close()

	var out map[string]any
	err := GetJSON(context.Background(), server.Client(), "demo", server.URL, nil, &out)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests || statusErr.Body != "slow down" {
		t.Fatalf("unexpected status error: %+v", statusErr)
	}
	if !IsQuota(err) {
		t.Fatal("expected 429 to be a quota error")
	}
}

func TestGetJSONMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer server.Close()

	var out map[string]any
	err := GetJSON(context.Background(), server.Client(), "demo", server.URL, nil, &out)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestResolveURLAndHost(t *testing.T) {
	if got := ResolveURL("https://example.com/movies/dune", "/img/poster.jpg"); got != "https://example.com/img/poster.jpg" {
		t.Fatalf("unexpected resolved url %q", got)
	}
	if got := ResolveURL("https://example.com/", "javascript:alert(1)"); got != "" {
		t.Fatalf("expected non-http url to be rejected, got %q", got)
	}
	if got := HostOf("https://www.IMDb.com/title/tt1160419/"); got != "imdb.com" {
		t.Fatalf("unexpected host %q", got)
	}
	if !HostMatches("en.wikipedia.org", "wikipedia.org") || HostMatches("notwikipedia.org", "wikipedia.org") {
		t.Fatal("unexpected HostMatches result")
	}
}
