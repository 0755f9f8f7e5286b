package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrMalformedResponse  = errors.New("malformed response")
)

// StatusError is a non-2xx answer from an upstream API.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	// RetryAfter is the upstream Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

// NewStatusError builds a StatusError from resp, reading the Retry-After hint.
func NewStatusError(provider string, resp *http.Response, body []byte) *StatusError {
	return &StatusError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

// ParseRetryAfter accepts both delta-seconds and HTTP-date forms.
func ParseRetryAfter(raw string, now time.Time) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	at, err := http.ParseTime(raw)
	if err != nil || !at.After(now) {
		return 0
	}
	return at.Sub(now)
}

// RetryAfterOf returns the Retry-After hint carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	return 0
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200]
	}
	if body == "" {
		return fmt.Sprintf("%s HTTP %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s HTTP %d: %s", e.Provider, e.StatusCode, body)
}

var quotaPhrases = []string{
	"quota",
	"rate limit",
	"ratelimit",
	"too many requests",
	"limit exceeded",
	"dailylimitexceeded",
	"insufficient_quota",
}

// IsQuota reports an HTTP 429 or a provider-specific quota message.
func IsQuota(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		if statusErr.StatusCode == http.StatusForbidden || statusErr.StatusCode == http.StatusPaymentRequired {
			return containsQuotaPhrase(statusErr.Body)
		}
		return false
	}
	return containsQuotaPhrase(err.Error())
}

func containsQuotaPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range quotaPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// IsRetryable reports rate-limit, server-side and transient network failures.
// Auth failures and parse errors are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrMissingCredentials) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	return IsTransient(err)
}

// IsTransient returns true for network errors that may succeed on retry:
// timeouts, connection resets, EOF, TLS handshake failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "deadline exceeded") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "tls") ||
		strings.Contains(lower, "eof")
}

// IsTimeout reports whether err came from a deadline rather than the upstream.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
