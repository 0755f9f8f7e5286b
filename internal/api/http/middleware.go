package apihttp

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"mediatracker/searchservice/internal/metrics"
)

type routeClass int

const (
	// classOpen routes are never throttled.
	classOpen routeClass = iota
	// classAPI routes may reach upstream providers.
	classAPI
	// classImage is the poster proxy; a result grid loads many at once.
	classImage
)

type route struct {
	label string
	class routeClass
}

var routeTable = map[string]route{
	"/health":          {"/health", classOpen},
	"/metrics":         {"/metrics", classOpen},
	"/search/media":    {"/search/media", classAPI},
	"/search/web":      {"/search/web", classAPI},
	"/ai/chat":         {"/ai/chat", classAPI},
	"/search/settings": {"/search/settings", classAPI},
	"/search/logs":     {"/search/logs", classAPI},
	"/search/image":    {"/search/image", classImage},
}

func lookupRoute(path string) route {
	if r, ok := routeTable[path]; ok {
		return r
	}
	if path == "/search/providers" || strings.HasPrefix(path, "/search/providers/") {
		return route{"/search/providers", classAPI}
	}
	return route{"/other", classAPI}
}

// normalizeRoute bounds the metric label cardinality.
func normalizeRoute(path string) string {
	return lookupRoute(path).label
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// observeMiddleware logs each request and records its metrics from a single
// recorder. It runs inside the otel handler so log lines carry the trace id.
func observeMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt := lookupRoute(r.URL.Path)
		if rt.label == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(started)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, rt.label, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, rt.label).Observe(elapsed.Seconds())

		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("route", rt.label),
			slog.Int("status", rec.status),
			slog.Int("bytes", rec.bytes),
			slog.Int64("durationMs", elapsed.Milliseconds()),
			slog.String("clientIP", clientIP(r)),
		}
		// Only the search text is logged; image urls and settings bodies are not.
		if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
			attrs = append(attrs, slog.String("q", truncate(q, 80)))
		}
		if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
			attrs = append(attrs, slog.String("traceId", sc.TraceID().String()))
		}
		logger.LogAttrs(r.Context(), requestLogLevel(rt, rec.status), "http request", attrs...)
	})
}

func requestLogLevel(rt route, status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	case rt.class == classOpen || rt.class == classImage:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			logger.Error("panic recovered",
				slog.Any("error", recovered),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("stack", string(debug.Stack())),
			)
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

const (
	imageRateFactor = 4
	clientIdleTTL   = 10 * time.Minute
)

type clientBucket struct {
	api      *rate.Limiter
	image    *rate.Limiter
	lastSeen time.Time
}

// clientLimiter keeps token buckets per client address. The desktop shell is
// usually the only client; the map keeps a misbehaving second one from
// starving it.
type clientLimiter struct {
	rps   float64
	burst int

	mu      sync.Mutex
	clients map[string]*clientBucket
	swept   time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{rps: rps, burst: burst, clients: make(map[string]*clientBucket)}
}

func (l *clientLimiter) bucket(client string, class routeClass, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > clientIdleTTL {
		for key, b := range l.clients {
			if now.Sub(b.lastSeen) > clientIdleTTL {
				delete(l.clients, key)
			}
		}
		l.swept = now
	}
	b := l.clients[client]
	if b == nil {
		b = &clientBucket{
			api:   rate.NewLimiter(rate.Limit(l.rps), l.burst),
			image: rate.NewLimiter(rate.Limit(l.rps*imageRateFactor), l.burst*imageRateFactor),
		}
		l.clients[client] = b
	}
	b.lastSeen = now
	if class == classImage {
		return b.image
	}
	return b.api
}

// wait reports how long the client must wait before its next request on
// class; zero means the request may proceed now.
func (l *clientLimiter) wait(client string, class routeClass, now time.Time) time.Duration {
	reservation := l.bucket(client, class, now).ReserveN(now, 1)
	if !reservation.OK() {
		return time.Second
	}
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
	}
	return delay
}

func rateLimitMiddleware(rps float64, burst int, next http.Handler) http.Handler {
	limiter := newClientLimiter(rps, burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt := lookupRoute(r.URL.Path)
		if rt.class == classOpen {
			next.ServeHTTP(w, r)
			return
		}
		if delay := limiter.wait(clientIP(r), rt.class, time.Now()); delay > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// truncate cuts on rune boundaries; queries are often CJK.
func truncate(value string, limit int) string {
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
