package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/providers/common"
)

const ProxyProbeURL = "https://www.google.com/generate_204"

var ErrInvalidProxy = errors.New("invalid proxy url")

// Clients are the two outbound HTTP clients. Proxy follows the proxy
// settings at request time; Direct never uses a proxy.
type Clients struct {
	Proxy  *http.Client
	Direct *http.Client
}

func NewClients(timeout time.Duration, settings func() domain.ProxySettings) Clients {
	proxyTransport := baseTransport()
	proxyTransport.Proxy = func(req *http.Request) (*url.URL, error) {
		if settings == nil {
			return nil, nil
		}
		return proxyFor(settings(), req)
	}
	directTransport := baseTransport()
	directTransport.Proxy = nil

	return Clients{
		Proxy:  &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(proxyTransport)},
		Direct: &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(directTransport)},
	}
}

func baseTransport() *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ForceAttemptHTTP2 = true
	return transport
}

// proxyFor resolves the proxy for one request. An explicit URL wins over the
// system environment; neither means a direct connection.
func proxyFor(settings domain.ProxySettings, req *http.Request) (*url.URL, error) {
	if raw := domain.CleanCredential(settings.URL); raw != "" {
		return ParseProxyURL(raw)
	}
	if settings.UseSystem {
		return http.ProxyFromEnvironment(req)
	}
	return nil, nil
}

func ParseProxyURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		if err == nil {
			err = errors.New("missing scheme or host")
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidProxy, err)
	}
	return parsed, nil
}

// TestProxy sends one request through settings to probeURL and expects 204.
func TestProxy(ctx context.Context, settings domain.ProxySettings, probeURL string, timeout time.Duration) error {
	if domain.CleanCredential(settings.URL) == "" && !settings.UseSystem {
		return fmt.Errorf("%w: no proxy configured", ErrInvalidProxy)
	}
	if probeURL == "" {
		probeURL = ProxyProbeURL
	}
	transport := baseTransport()
	transport.Proxy = func(req *http.Request) (*url.URL, error) {
		return proxyFor(settings, req)
	}
	defer transport.CloseIdleConnections()
	client := &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(transport)}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode != http.StatusNoContent {
		return &common.StatusError{Provider: "proxy", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}
