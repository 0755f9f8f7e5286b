package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "mediatracker/searchservice/internal/api/http"
	"mediatracker/searchservice/internal/app"
	"mediatracker/searchservice/internal/cache"
	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/logsink"
	"mediatracker/searchservice/internal/metrics"
	"mediatracker/searchservice/internal/providers/ai"
	"mediatracker/searchservice/internal/providers/bangumi"
	"mediatracker/searchservice/internal/providers/common"
	"mediatracker/searchservice/internal/providers/plugin"
	"mediatracker/searchservice/internal/providers/poster"
	"mediatracker/searchservice/internal/providers/tmdb"
	"mediatracker/searchservice/internal/providers/websearch"
	"mediatracker/searchservice/internal/search"
	"mediatracker/searchservice/internal/settings"
	"mediatracker/searchservice/internal/telemetry"
)

const serviceName = "media-search"

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), serviceName)
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", serviceName),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.Duration("searchTimeout", cfg.SearchTimeout),
		slog.String("webSearchProvider", cfg.WebSearchProvider),
		slog.Bool("hasRedis", cfg.RedisURL != ""),
		slog.Bool("hasMongo", cfg.MongoURI != ""),
		slog.Bool("hasTMDBKey", cfg.TMDBAPIKey != ""),
		slog.Bool("hasProxy", cfg.ProxyURL != "" || cfg.UseSystemProxy),
		slog.Bool("aiEnabled", cfg.AIEnabled && cfg.AIAPIKey != ""),
		slog.String("pluginDir", cfg.PluginDir),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := connectRedis(rootCtx, cfg, logger)
	mongoClient := connectMongo(rootCtx, cfg, logger)

	settingsService := settings.NewService(cfg.DefaultSettings(), buildSettingsRepository(mongoClient, redisClient, cfg), logger)
	snapshot := settingsService.Snapshot

	clients := app.NewClients(cfg.RequestTimeout, func() domain.ProxySettings { return snapshot().Proxy })
	guard := common.URLGuard{}

	var redisStore *cache.RedisStore
	var resultStore cache.KV
	if redisClient != nil {
		redisStore = cache.NewRedisStore(redisClient, "")
		resultStore = cache.NewRedisKV(redisClient, "")
	}

	tmdbClient := tmdb.NewClient(tmdb.Config{
		APIKey:   func() string { return snapshot().TMDBAPIKey },
		BaseURL:  cfg.TMDBBaseURL,
		Client:   clients.Proxy,
		Redis:    redisStore,
		CacheTTL: cfg.TMDBCacheTTL,
	})
	bangumiClient := bangumi.NewClient(bangumi.Config{
		Token:   func() string { return snapshot().BangumiToken },
		BaseURL: cfg.BangumiBaseURL,
		Client:  clients.Direct,
	})
	finder := poster.NewFinder(poster.Config{
		Proxy:   clients.Proxy,
		Direct:  clients.Direct,
		Guard:   guard,
		OMDbKey: func() string { return snapshot().OMDbAPIKey },
		Logger:  logger,
	})
	aiClient := ai.NewClient(ai.Config{
		Settings:          func() domain.AISettings { return snapshot().AI },
		Proxy:             clients.Proxy,
		Direct:            clients.Direct,
		RequestsPerSecond: cfg.AIRPS,
		Logger:            logger,
	})
	plugins := plugin.NewManager(plugin.Config{
		Dir:        cfg.PluginDir,
		Timeout:    cfg.PluginTimeout,
		HTTPClient: clients.Proxy,
		Guard:      guard,
		Logger:     logger,
	})
	if err := plugins.Discover(); err != nil {
		logger.Warn("plugin discovery failed", slog.String("dir", cfg.PluginDir), slog.String("error", err.Error()))
	}
	defer plugins.Close()

	ring := logsink.NewRing(cfg.LogBufferSize)
	sink := logsink.NewAsync(cfg.LogBufferSize, logger, buildLogWriters(rootCtx, ring, mongoClient, cfg, logger)...)
	defer sink.Close()

	opts := []search.ServiceOption{
		search.WithSettings(snapshot),
		search.WithClassifier(buildClassifier(cfg, logger)),
		search.WithWebBackends(websearch.NewBackends(websearch.Clients{Proxy: clients.Proxy, Direct: clients.Direct}, websearch.Endpoints{})),
		search.WithMetadataSources(tmdbClient, bangumiClient),
		search.WithPlugins(plugins),
		search.WithCompleter(aiClient),
		search.WithPosterFinder(finder),
		search.WithResultStore(resultStore, cfg.ResultCacheTTL),
		search.WithMergePolicy(search.ParseMergePolicy(cfg.MergePolicy)),
		search.WithLogSink(sink),
		search.WithConcurrency(cfg.APIConcurrency, cfg.SearchConcurrency),
		search.WithEnrichment(cfg.EnrichWorkers, cfg.EnrichTimeout),
		search.WithTimeout(cfg.SearchTimeout),
		search.WithQuotaSink(func(event domain.QuotaEvent) {
			logger.Warn("provider quota exhausted", slog.String("provider", event.Provider), slog.String("message", event.Message))
		}),
		search.WithLogger(logger),
		search.WithConnectionTester(tmdb.ProviderName, func(ctx context.Context, st domain.Settings) (int, string, error) {
			return 0, "", tmdbClient.TestConnection(ctx, st.TMDBAPIKey)
		}),
		search.WithConnectionTester(bangumi.ProviderName, func(ctx context.Context, st domain.Settings) (int, string, error) {
			return 0, "", bangumiClient.TestConnection(ctx, st.BangumiToken)
		}),
		search.WithConnectionTester("omdb", func(ctx context.Context, st domain.Settings) (int, string, error) {
			found, err := finder.TestOMDb(ctx, st.OMDbAPIKey)
			return 0, found, err
		}),
		search.WithConnectionTester("ai", func(ctx context.Context, st domain.Settings) (int, string, error) {
			models, err := aiClient.TestConnection(ctx, st.AI)
			return models, "", err
		}),
		search.WithConnectionTester("proxy", func(ctx context.Context, st domain.Settings) (int, string, error) {
			return 0, "", app.TestProxy(ctx, st.Proxy, app.ProxyProbeURL, cfg.RequestTimeout)
		}),
	}
	if redisStore != nil {
		opts = append(opts, search.WithRedisCache(redisStore))
	}
	searchService := search.NewService(opts...)

	handler := apihttp.NewServer(searchService,
		apihttp.WithLogger(logger),
		apihttp.WithSettings(settingsService),
		apihttp.WithLogs(ring),
		apihttp.WithImageGuard(guard),
		apihttp.WithRateLimit(float64(cfg.RateLimitRPS), cfg.RateLimitBurst),
	).Handler()
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// A media search may use its whole budget before the first byte is written.
		WriteTimeout: cfg.SearchTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.Info("media search service started",
		slog.String("addr", cfg.HTTPAddr),
		slog.Any("plugins", plugins.Names()),
	)

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", slog.String("error", err.Error()))
	}
	if mongoClient != nil {
		_ = mongoClient.Disconnect(shutdownCtx)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("media search service stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// connectRedis returns nil when Redis is not configured or not reachable.
func connectRedis(ctx context.Context, cfg app.Config, logger *slog.Logger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid redis url, using in-memory caches only", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(redisOpts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not reachable, using in-memory caches only", slog.String("error", err.Error()))
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", slog.String("addr", redisOpts.Addr))
	return client
}

// connectMongo returns nil when MongoDB is not configured or not reachable.
func connectMongo(ctx context.Context, cfg app.Config, logger *slog.Logger) *mongo.Client {
	if cfg.MongoURI == "" {
		return nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI).SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Warn("mongo connect failed", slog.String("error", err.Error()))
		return nil
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		logger.Warn("mongo ping failed", slog.String("error", err.Error()))
		_ = client.Disconnect(context.Background())
		return nil
	}
	logger.Info("mongo connected", slog.String("db", cfg.MongoDB))
	return client
}

// buildSettingsRepository prefers MongoDB, then Redis, then memory.
func buildSettingsRepository(mongoClient *mongo.Client, redisClient *redis.Client, cfg app.Config) settings.Repository {
	switch {
	case mongoClient != nil:
		return settings.NewMongoRepository(mongoClient, cfg.MongoDB)
	case redisClient != nil:
		return settings.NewRedisRepository(redisClient, "")
	default:
		return settings.NewMemoryRepository()
	}
}

func buildLogWriters(ctx context.Context, ring *logsink.Ring, mongoClient *mongo.Client, cfg app.Config, logger *slog.Logger) []logsink.Writer {
	writers := []logsink.Writer{ring, logsink.SlogWriter{Logger: logger}}
	if mongoClient == nil {
		return writers
	}
	mongoWriter := logsink.NewMongoWriter(mongoClient, cfg.MongoDB)
	indexCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoWriter.EnsureIndexes(indexCtx); err != nil {
		logger.Warn("mongo log indexes failed", slog.String("error", err.Error()))
	}
	return append(writers, mongoWriter)
}

func buildClassifier(cfg app.Config, logger *slog.Logger) *search.Classifier {
	if cfg.ClassifierFile == "" {
		return search.DefaultClassifier()
	}
	classifier, err := search.LoadClassifierFile(cfg.ClassifierFile)
	if err != nil {
		logger.Warn("classifier file ignored", slog.String("path", cfg.ClassifierFile), slog.String("error", err.Error()))
		return search.DefaultClassifier()
	}
	return classifier
}
