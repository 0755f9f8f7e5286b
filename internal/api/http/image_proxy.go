package apihttp

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"mediatracker/searchservice/internal/cache"
	"mediatracker/searchservice/internal/providers/common"
)

const (
	maxProxiedImageBytes = 20 << 20
	maxCachedImageBytes  = 512 << 10
	maxImageRedirects    = 5
	imageCacheTTL        = 30 * time.Minute
	imageCacheEntries    = 256
)

var (
	errImageTooLarge = errors.New("image too large")
	errNotImage      = errors.New("not an image")
)

// hotlinkReferers maps image hosts that check the Referer to the page origin
// they expect. Other hosts get their own origin.
var hotlinkReferers = []struct {
	host    string
	referer string
}{
	{"doubanio.com", "https://movie.douban.com/"},
	{"hdslb.com", "https://www.bilibili.com/"},
	{"sinaimg.cn", "https://weibo.com/"},
}

type proxiedImage struct {
	contentType string
	etag        string
	body        []byte
}

// imageProxy loads poster images for the UI, which cannot load
// hotlink-protected hosts directly. Concurrent requests for one poster share
// a single upstream fetch and small posters are kept for a while.
type imageProxy struct {
	guard  common.URLGuard
	client *http.Client
	recent *cache.TTL[proxiedImage]
	flight singleflight.Group
}

func newImageProxy(guard common.URLGuard) *imageProxy {
	return &imageProxy{
		guard:  guard,
		client: newImageProxyClient(guard),
		recent: cache.NewTTL[proxiedImage]("poster_image", imageCacheTTL, cache.WithMaxEntries[proxiedImage](imageCacheEntries)),
	}
}

func (p *imageProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		badRequest(w, "missing url")
		return
	}
	target, err := p.guard.ValidateString(r.Context(), raw)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	key := target.String()
	image, ok := p.recent.Get(key)
	if !ok {
		// The shared fetch must outlive the first caller's request.
		fetchCtx := context.WithoutCancel(r.Context())
		value, err, _ := p.flight.Do(key, func() (any, error) {
			return p.fetch(fetchCtx, target)
		})
		if err != nil {
			writeImageError(w, err)
			return
		}
		image = value.(proxiedImage)
		if len(image.body) <= maxCachedImageBytes {
			p.recent.Set(key, image)
		}
	}

	w.Header().Set("ETag", image.etag)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if match := r.Header.Get("If-None-Match"); match != "" && match == image.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", image.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(image.body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(image.body)
}

func (p *imageProxy) fetch(ctx context.Context, target *url.URL) (proxiedImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return proxiedImage{}, err
	}
	req.Header.Set("User-Agent", common.DefaultUserAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Referer", refererFor(target))

	resp, err := p.client.Do(req)
	if err != nil {
		return proxiedImage{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return proxiedImage{}, &common.StatusError{Provider: "image", StatusCode: resp.StatusCode}
	}
	if resp.ContentLength > maxProxiedImageBytes {
		return proxiedImage{}, errImageTooLarge
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProxiedImageBytes+1))
	if err != nil {
		return proxiedImage{}, err
	}
	if len(body) > maxProxiedImageBytes {
		return proxiedImage{}, errImageTooLarge
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(body)
	}
	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return proxiedImage{}, errNotImage
	}
	return proxiedImage{contentType: contentType, etag: imageETag(resp.Header.Get("ETag"), body), body: body}, nil
}

func refererFor(target *url.URL) string {
	host := target.Hostname()
	for _, entry := range hotlinkReferers {
		if common.HostMatches(host, entry.host) {
			return entry.referer
		}
	}
	return target.Scheme + "://" + target.Host + "/"
}

func imageETag(upstream string, body []byte) string {
	if upstream = strings.TrimSpace(upstream); upstream != "" {
		return upstream
	}
	h := fnv.New64a()
	_, _ = h.Write(body)
	return fmt.Sprintf(`"%x"`, h.Sum64())
}

func writeImageError(w http.ResponseWriter, err error) {
	var statusErr *common.StatusError
	switch {
	case errors.Is(err, errImageTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "invalid_request", err.Error())
	case errors.Is(err, errNotImage):
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
	case errors.As(err, &statusErr):
		// Upstream bodies are not forwarded.
		writeError(w, http.StatusBadGateway, "upstream_error", fmt.Sprintf("upstream returned HTTP %d", statusErr.StatusCode))
	default:
		writeError(w, http.StatusBadGateway, "upstream_error", "failed to fetch image")
	}
}

// newImageProxyClient re-validates every redirect hop with guard.
func newImageProxyClient(guard common.URLGuard) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = (&net.Dialer{Timeout: 8 * time.Second, KeepAlive: 30 * time.Second}).DialContext

	return &http.Client{
		Timeout:   12 * time.Second,
		Transport: otelhttp.NewTransport(transport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxImageRedirects {
				return fmt.Errorf("stopped after %d redirects", maxImageRedirects)
			}
			return guard.Validate(req.Context(), req.URL)
		},
	}
}
