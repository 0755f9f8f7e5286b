package common

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

var ErrBlockedURL = errors.New("blocked url host")

// blockedHostnames are docker service names and loopback aliases that must never
// be reachable through a user-supplied URL.
var blockedHostnames = map[string]struct{}{
	"localhost": {}, "127.0.0.1": {}, "::1": {},
	"media-search": {}, "mongo": {}, "redis": {}, "traefik": {},
}

// URLGuard rejects URLs that resolve to the local network. AllowPrivate turns
// the check off for tests against httptest servers.
type URLGuard struct {
	AllowPrivate bool
}

func (g URLGuard) Validate(ctx context.Context, u *url.URL) error {
	if u == nil {
		return errors.New("invalid url")
	}
	scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
	if scheme != "http" && scheme != "https" {
		return errors.New("unsupported url scheme")
	}
	host := strings.ToLower(strings.TrimSpace(u.Hostname()))
	if host == "" {
		return errors.New("invalid url host")
	}
	if g.AllowPrivate {
		return nil
	}

	if _, blocked := blockedHostnames[host]; blocked {
		return ErrBlockedURL
	}
	if strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".localhost") || strings.HasSuffix(host, ".internal") {
		return ErrBlockedURL
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return ErrBlockedURL
		}
		return nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	addrs, err := net.DefaultResolver.LookupIPAddr(lookupCtx, host)
	if err != nil || len(addrs) == 0 {
		return errors.New("failed to resolve url host")
	}
	for _, addr := range addrs {
		if isBlockedIP(addr.IP) {
			return ErrBlockedURL
		}
	}
	return nil
}

// ValidateString parses raw and validates it.
func (g URLGuard) ValidateString(ctx context.Context, raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, errors.New("invalid url")
	}
	if err := g.Validate(ctx, parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

func isBlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsMulticast() || ip.IsUnspecified()
}
