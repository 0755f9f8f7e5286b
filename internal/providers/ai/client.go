// Package ai is an OpenAI-compatible chat completion client.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

const (
	ProviderName = "ai"

	DefaultBaseURL = "https://api.moonshot.cn/v1"
	DefaultModel   = "moonshot-v1-8k"

	maxResponseBody = 4 * 1024 * 1024
)

var ErrDisabled = errors.New("ai completion is disabled")

var defaultBackoff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

// versionedHosts serve their API under /v1 even when the user omits it.
var versionedHosts = []string{"openai.com", "deepseek.com", "mistral.ai", "moonshot.cn"}

// directHosts are reached without the configured proxy.
var directHosts = []string{"moonshot.cn", "aliyuncs.com", "aliyun.com", "baidu.com", "baidubce.com", "deepseek.com", "volces.com", "volcengine.com", "tencent.com", "tencentcloudapi.com", "localhost", "127.0.0.1"}

type Config struct {
	// Settings is read on every call so runtime changes apply immediately.
	Settings func() domain.AISettings
	Proxy    *http.Client
	Direct   *http.Client
	// RequestsPerSecond throttles completions; zero means 1/s with a burst of 2.
	RequestsPerSecond float64
	Backoff           []time.Duration
	Logger            *slog.Logger
}

type Client struct {
	settings func() domain.AISettings
	proxy    *http.Client
	direct   *http.Client
	limiter  *rate.Limiter
	backoff  []time.Duration
	logger   *slog.Logger
}

func NewClient(cfg Config) *Client {
	settings := cfg.Settings
	if settings == nil {
		settings = func() domain.AISettings { return domain.AISettings{} }
	}
	proxy := cfg.Proxy
	if proxy == nil {
		proxy = common.DefaultClient(60 * time.Second)
	}
	direct := cfg.Direct
	if direct == nil {
		direct = common.DefaultClient(60 * time.Second)
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = defaultBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		settings: settings,
		proxy:    proxy,
		direct:   direct,
		limiter:  rate.NewLimiter(rate.Limit(rps), 2),
		backoff:  backoff,
		logger:   logger,
	}
}

// Enabled reports whether completions can be attempted with current settings.
func (c *Client) Enabled() bool {
	settings := c.settings()
	return settings.Enabled && domain.CleanCredential(settings.APIKey) != ""
}

// NormalizeBaseURL strips stray quoting and appends /v1 for hosts that need it.
func NormalizeBaseURL(raw string) string {
	base := strings.Trim(strings.TrimSpace(raw), "\"'`) ")
	if base == "" {
		return DefaultBaseURL
	}
	base = strings.TrimRight(base, "/")
	if strings.Contains(base, "/openai/") || strings.HasSuffix(base, "/v1") || strings.Contains(base, "/v1/") {
		return base
	}
	host := common.HostOf(base)
	for _, versioned := range versionedHosts {
		if common.HostMatches(host, versioned) {
			return base + "/v1"
		}
	}
	return base
}

func (c *Client) clientFor(base string) *http.Client {
	host := common.HostOf(base)
	for _, direct := range directHosts {
		if common.HostMatches(host, direct) {
			return c.direct
		}
	}
	return c.proxy
}

type completionRequest struct {
	Model       string                  `json:"model"`
	Messages    []domain.ChatMessage    `json:"messages"`
	Temperature float64                 `json:"temperature"`
	Tools       []domain.ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string                  `json:"tool_choice,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message domain.ChatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat completion. 429 and 5xx answers are retried after
// each backoff step.
func (c *Client) Complete(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	settings := c.settings()
	if !settings.Enabled {
		return domain.ChatResponse{}, ErrDisabled
	}
	apiKey := domain.CleanCredential(settings.APIKey)
	if apiKey == "" {
		return domain.ChatResponse{}, fmt.Errorf("ai: %w", common.ErrMissingCredentials)
	}
	base := NormalizeBaseURL(settings.BaseURL)
	model := strings.TrimSpace(settings.Model)
	if model == "" {
		model = DefaultModel
	}

	payload := completionRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	}
	if len(req.Tools) > 0 {
		payload.Tools = req.Tools
		payload.ToolChoice = "auto"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.ChatResponse{}, err
	}

	client := c.clientFor(base)
	var body []byte
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.ChatResponse{}, err
		}
		body, err = c.post(ctx, client, base+"/chat/completions", apiKey, data)
		if err == nil {
			break
		}
		if !common.IsRetryable(err) || attempt >= len(c.backoff) {
			return domain.ChatResponse{}, err
		}
		c.logger.Warn("ai completion retry",
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", c.backoff[attempt]),
			slog.String("error", err.Error()),
		)
		timer := time.NewTimer(c.backoff[attempt])
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.ChatResponse{}, ctx.Err()
		case <-timer.C:
		}
	}
	return parseCompletion(body)
}

func (c *Client) post(ctx context.Context, client *http.Client, endpoint, apiKey string, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return common.Fetch(client, ProviderName, req, maxResponseBody)
}

// parseCompletion accepts gateways that answer with plain text instead of a
// completion object.
func parseCompletion(body []byte) (domain.ChatResponse, error) {
	var response completionResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return domain.ChatResponse{Message: domain.ChatMessage{
			Role:    domain.RoleAssistant,
			Content: strings.TrimSpace(string(body)),
		}}, nil
	}
	if len(response.Choices) == 0 {
		return domain.ChatResponse{}, fmt.Errorf("ai: %w: no choices", common.ErrMalformedResponse)
	}
	message := response.Choices[0].Message
	if message.Role == "" {
		message.Role = domain.RoleAssistant
	}
	return domain.ChatResponse{Message: message}, nil
}

// TestConnection lists models with the given settings.
func (c *Client) TestConnection(ctx context.Context, settings domain.AISettings) (int, error) {
	apiKey := domain.CleanCredential(settings.APIKey)
	if apiKey == "" {
		return 0, fmt.Errorf("ai: %w", common.ErrMissingCredentials)
	}
	base := NormalizeBaseURL(settings.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/models", nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	body, err := common.Fetch(c.clientFor(base), ProviderName, req, maxResponseBody)
	if err != nil {
		return 0, err
	}
	var models struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &models); err != nil {
		return 0, nil
	}
	return len(models.Data), nil
}
