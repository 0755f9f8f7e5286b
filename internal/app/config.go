package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"mediatracker/searchservice/internal/domain"
)

type Config struct {
	HTTPAddr       string
	RequestTimeout time.Duration
	SearchTimeout  time.Duration
	LogLevel       string
	LogFormat      string
	UserAgent      string

	RedisURL string
	MongoURI string
	MongoDB  string

	TMDBAPIKey     string
	TMDBBaseURL    string
	TMDBCacheTTL   time.Duration
	OMDbAPIKey     string
	BangumiToken   string
	BangumiBaseURL string

	WebSearchProvider string
	WebSearchAPIKey   string
	WebSearchCX       string
	WebSearchUser     string
	WebCacheTTL       time.Duration

	ProxyURL       string
	UseSystemProxy bool

	AIEnabled bool
	AIBaseURL string
	AIAPIKey  string
	AIModel   string
	AIRPS     float64

	ResultCacheTTL  time.Duration
	DefaultLanguage string

	PluginDir         string
	PluginTimeout     time.Duration
	DisabledPlugins   []string
	ClassifierFile    string
	MergePolicy       string
	APIConcurrency    int
	SearchConcurrency int
	EnrichWorkers     int
	EnrichTimeout     time.Duration

	RateLimitRPS   int
	RateLimitBurst int
	LogBufferSize  int
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8090"),
		RequestTimeout: time.Duration(getEnvInt("HTTP_CLIENT_TIMEOUT_SECONDS", 15)) * time.Second,
		SearchTimeout:  time.Duration(getEnvInt("SEARCH_TIMEOUT_SECONDS", 30)) * time.Second,
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:      getEnv("SEARCH_USER_AGENT", "media-search/1.0"),

		RedisURL: getEnv("REDIS_URL", ""),
		MongoURI: getEnv("MONGO_URI", ""),
		MongoDB:  getEnv("MONGO_DB", "mediatracker"),

		TMDBAPIKey:     strings.TrimSpace(os.Getenv("TMDB_API_KEY")),
		TMDBBaseURL:    getEnv("TMDB_BASE_URL", "https://api.themoviedb.org/3"),
		TMDBCacheTTL:   time.Duration(getEnvInt("TMDB_CACHE_TTL_DAYS", 7)) * 24 * time.Hour,
		OMDbAPIKey:     strings.TrimSpace(os.Getenv("OMDB_API_KEY")),
		BangumiToken:   strings.TrimSpace(os.Getenv("BANGUMI_TOKEN")),
		BangumiBaseURL: getEnv("BANGUMI_BASE_URL", "https://api.bgm.tv"),

		WebSearchProvider: strings.ToLower(getEnv("WEB_SEARCH_PROVIDER", "duckduckgo")),
		WebSearchAPIKey:   strings.TrimSpace(os.Getenv("WEB_SEARCH_API_KEY")),
		WebSearchCX:       strings.TrimSpace(os.Getenv("WEB_SEARCH_CX")),
		WebSearchUser:     strings.TrimSpace(os.Getenv("WEB_SEARCH_USER")),
		WebCacheTTL:       time.Duration(getEnvInt("WEB_CACHE_TTL_MINUTES", 120)) * time.Minute,

		ProxyURL:       getEnv("PROXY_URL", ""),
		UseSystemProxy: getEnvBool("USE_SYSTEM_PROXY", false),

		AIEnabled: getEnvBool("AI_ENABLED", true),
		AIBaseURL: getEnv("AI_BASE_URL", "https://api.moonshot.cn/v1"),
		AIAPIKey:  strings.TrimSpace(os.Getenv("AI_API_KEY")),
		AIModel:   getEnv("AI_MODEL", "moonshot-v1-8k"),
		AIRPS:     getEnvFloat("AI_REQUESTS_PER_SECOND", 1),

		ResultCacheTTL:  time.Duration(getEnvInt("RESULT_CACHE_TTL_MINUTES", 120)) * time.Minute,
		DefaultLanguage: getEnv("DEFAULT_LANGUAGE", ""),

		PluginDir:         getEnv("PLUGIN_DIR", ""),
		PluginTimeout:     time.Duration(getEnvInt("PLUGIN_TIMEOUT_SECONDS", 10)) * time.Second,
		DisabledPlugins:   getEnvList("DISABLED_PLUGINS"),
		ClassifierFile:    getEnv("CLASSIFIER_FILE", ""),
		MergePolicy:       getEnv("MERGE_POLICY", ""),
		APIConcurrency:    getEnvInt("API_CONCURRENCY", 2),
		SearchConcurrency: getEnvInt("SEARCH_CONCURRENCY", 4),
		EnrichWorkers:     getEnvInt("ENRICH_WORKERS", 4),
		EnrichTimeout:     time.Duration(getEnvInt("ENRICH_TIMEOUT_SECONDS", 8)) * time.Second,

		RateLimitRPS:   getEnvInt("HTTP_RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("HTTP_RATE_LIMIT_BURST", 40),
		LogBufferSize:  getEnvInt("LOG_BUFFER_SIZE", 500),
	}
}

// DefaultSettings is the env layer of the runtime settings.
func (c Config) DefaultSettings() domain.Settings {
	return domain.Settings{
		WebSearch: domain.WebSearchCredentials{
			Provider: c.WebSearchProvider,
			APIKey:   c.WebSearchAPIKey,
			CX:       c.WebSearchCX,
			User:     c.WebSearchUser,
		},
		TMDBAPIKey:   c.TMDBAPIKey,
		OMDbAPIKey:   c.OMDbAPIKey,
		BangumiToken: c.BangumiToken,
		AI: domain.AISettings{
			Enabled: c.AIEnabled,
			BaseURL: c.AIBaseURL,
			APIKey:  c.AIAPIKey,
			Model:   c.AIModel,
		},
		Proxy: domain.ProxySettings{
			URL:       c.ProxyURL,
			UseSystem: c.UseSystemProxy,
		},
		Language:       domain.NormalizeLanguage(c.DefaultLanguage),
		DisabledPlugin: c.DisabledPlugins,
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.ToLower(strings.TrimSpace(part)); value != "" {
			out = append(out, value)
		}
	}
	return out
}
