package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"mediatracker/searchservice/internal/providers/common"
)

const (
	maxFetchBody  = 1 << 20
	maxLogMessage = 2000
)

// httpHost is the capability set one plugin call runs with. It is bound to the
// call's context so a timed-out search also aborts the plugin's fetches.
type httpHost struct {
	ctx    context.Context
	plugin string
	client *http.Client
	guard  common.URLGuard
	logger *slog.Logger
}

func (h *httpHost) Fetch(req FetchRequest) (FetchResponse, error) {
	target, err := h.guard.ValidateString(h.ctx, req.URL)
	if err != nil {
		return FetchResponse{}, fmt.Errorf("fetch %q: %w", req.URL, err)
	}
	httpReq, err := http.NewRequestWithContext(h.ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return FetchResponse{}, err
	}
	for key, value := range req.Headers {
		if strings.EqualFold(key, "Host") || strings.EqualFold(key, "Cookie") {
			continue
		}
		httpReq.Header.Set(key, value)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", common.DefaultUserAgent)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return FetchResponse{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody+1))
	if err != nil {
		return FetchResponse{}, err
	}
	if len(body) > maxFetchBody {
		return FetchResponse{}, errors.New("fetch: response body too large")
	}
	return FetchResponse{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func (h *httpHost) Log(level, message string) {
	if len(message) > maxLogMessage {
		message = message[:maxLogMessage]
	}
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	h.logger.Log(h.ctx, lvl, message, slog.String("plugin", h.plugin))
}

// guardedClient copies base so that every redirect hop is also validated.
func guardedClient(base *http.Client, guard common.URLGuard) *http.Client {
	client := *base
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return errors.New("too many redirects")
		}
		return guard.Validate(req.Context(), req.URL)
	}
	return &client
}
