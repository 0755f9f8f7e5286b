package settings

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"mediatracker/searchservice/internal/domain"
)

const defaultRedisKey = "msearch:settings:v1"

// Hash fields of the settings document.
const (
	fieldWebSearch      = "webSearch"
	fieldAI             = "ai"
	fieldProxy          = "proxy"
	fieldTMDBAPIKey     = "tmdbApiKey"
	fieldOMDbAPIKey     = "omdbApiKey"
	fieldBangumiToken   = "bangumiToken"
	fieldLanguage       = "language"
	fieldDisabledPlugin = "disabledPlugins"
)

// RedisRepository keeps settings in one hash. Structured sections are stored
// as JSON values, scalar credentials as plain strings.
type RedisRepository struct {
	client redis.UniversalClient
	key    string
}

func NewRedisRepository(client redis.UniversalClient, key string) *RedisRepository {
	if client == nil {
		return nil
	}
	storeKey := strings.TrimSpace(key)
	if storeKey == "" {
		storeKey = defaultRedisKey
	}
	return &RedisRepository{client: client, key: storeKey}
}

func (r *RedisRepository) Load(ctx context.Context) (domain.Settings, bool, error) {
	items, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Settings{}, false, nil
		}
		return domain.Settings{}, false, err
	}
	if len(items) == 0 {
		return domain.Settings{}, false, nil
	}

	var out domain.Settings
	decodeField(items, fieldWebSearch, &out.WebSearch)
	decodeField(items, fieldAI, &out.AI)
	decodeField(items, fieldProxy, &out.Proxy)
	decodeField(items, fieldDisabledPlugin, &out.DisabledPlugin)
	out.TMDBAPIKey = strings.TrimSpace(items[fieldTMDBAPIKey])
	out.OMDbAPIKey = strings.TrimSpace(items[fieldOMDbAPIKey])
	out.BangumiToken = strings.TrimSpace(items[fieldBangumiToken])
	out.Language = domain.NormalizeLanguage(items[fieldLanguage])
	return out, true, nil
}

func (r *RedisRepository) Save(ctx context.Context, settings domain.Settings) error {
	values := map[string]any{
		fieldTMDBAPIKey:   settings.TMDBAPIKey,
		fieldOMDbAPIKey:   settings.OMDbAPIKey,
		fieldBangumiToken: settings.BangumiToken,
		fieldLanguage:     string(settings.Language),
	}
	sections := map[string]any{
		fieldWebSearch:      settings.WebSearch,
		fieldAI:             settings.AI,
		fieldProxy:          settings.Proxy,
		fieldDisabledPlugin: settings.DisabledPlugin,
	}
	for field, section := range sections {
		payload, err := json.Marshal(section)
		if err != nil {
			return err
		}
		values[field] = payload
	}
	return r.client.HSet(ctx, r.key, values).Err()
}

func decodeField(items map[string]string, field string, out any) {
	encoded := strings.TrimSpace(items[field])
	if encoded == "" {
		return
	}
	// A corrupt section falls back to its default.
	_ = json.Unmarshal([]byte(encoded), out)
}
