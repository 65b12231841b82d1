package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"questkit/adapters/jsonfile"
	mem "questkit/adapters/memory"
	redisAdapter "questkit/adapters/redis"
	sqlxAdapter "questkit/adapters/sqlx"
	"questkit/analytics"
	"questkit/api/httpapi"
	"questkit/catalog"
	"questkit/config"
	"questkit/core"
	"questkit/engine"
	"questkit/integrations/webhook"
	"questkit/leaderboard"
	"questkit/questkit"
	"questkit/realtime"
)

// App aggregates the assembled server components.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	Hub         *realtime.Hub
	Catalog     *catalog.Catalog
	Metrics     *analytics.QuestMetrics
	Leaderboard *leaderboard.Board
	Service     *engine.QuestService
	Handler     http.Handler
	Server      *http.Server
}

// provideConfig reads QUESTKIT_CONFIG_FILE when set, otherwise defaults and
// environment, then resolves secrets.
func provideConfig(ctx context.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := strings.TrimSpace(os.Getenv("QUESTKIT_CONFIG_FILE")); path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.LoadSecretsFromEnv(ctx); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

// provideHub returns nil when realtime streaming is disabled.
func provideHub(cfg *config.Config) *realtime.Hub {
	if !cfg.Events.Realtime {
		return nil
	}
	return realtime.NewHub()
}

func provideStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Storage, func(), error) {
	return setupStorage(ctx, cfg, logger)
}

func provideCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.Quests.CatalogPath == "" {
		return catalog.Empty(), nil
	}
	return catalog.Load(cfg.Quests.CatalogPath)
}

func provideMetrics() *analytics.QuestMetrics {
	return analytics.NewQuestMetrics()
}

func provideLeaderboard() *leaderboard.Board {
	return leaderboard.New()
}

// provideWebhook returns nil when no endpoints are configured.
func provideWebhook(cfg *config.Config, logger *slog.Logger) *webhook.Sink {
	if len(cfg.Webhooks.Endpoints) == 0 {
		return nil
	}
	types := make([]core.EventType, 0, len(cfg.Webhooks.EventTypes))
	for _, t := range cfg.Webhooks.EventTypes {
		types = append(types, core.EventType(t))
	}
	return webhook.New(cfg.Webhooks.Endpoints,
		webhook.WithSecret(cfg.Webhooks.Secret),
		webhook.WithEventTypes(types...),
		webhook.WithLogger(logger),
	)
}

func provideService(
	cfg *config.Config,
	logger *slog.Logger,
	hub *realtime.Hub,
	storage engine.Storage,
	metrics *analytics.QuestMetrics,
	board *leaderboard.Board,
	sink *webhook.Sink,
) (*engine.QuestService, func(), error) {
	loc, err := cfg.Quests.Location()
	if err != nil {
		return nil, nil, err
	}
	mode := engine.DispatchAsync
	if cfg.Events.Dispatch == "sync" {
		mode = engine.DispatchSync
	}
	svc := questkit.New(
		questkit.WithStorage(storage),
		questkit.WithDispatchMode(mode),
		questkit.WithRealtime(hub),
		questkit.WithHooks(metrics, board),
		questkit.WithWebhook(sink),
		questkit.WithLogger(logger),
		questkit.WithDefaultTimezone(loc),
		questkit.WithParallelism(cfg.Quests.MaxParallel),
	)
	return svc, svc.Close, nil
}

func provideHandler(
	svc *engine.QuestService,
	hub *realtime.Hub,
	cfg *config.Config,
	cat *catalog.Catalog,
	metrics *analytics.QuestMetrics,
	board *leaderboard.Board,
	logger *slog.Logger,
) http.Handler {
	return httpapi.NewMux(svc, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitCleanup: cfg.Security.RateLimit.CleanupInterval,
		Catalog:          cat,
		Metrics:          metrics,
		Leaderboard:      board,
		Logger:           logger,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}
	logger := newLogger(out, cfg.Logging)
	slog.SetDefault(logger)
	return logger
}

func newLogger(out io.Writer, lc config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(lc.Level),
	}

	switch lc.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(lc.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(lc.Attributes))
	}
	return slog.New(handler)
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage creates the storage adapter selected by configuration. The
// returned cleanup releases its connections.
func setupStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (engine.Storage, func(), error) {
	noop := func() {}
	switch cfg.Storage.Adapter {
	case "memory":
		return mem.New(), noop, nil
	case "file":
		store, err := jsonfile.New(cfg.Storage.File.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case "redis":
		store, err := redisAdapter.New(cfg.Storage.Redis)
		if err != nil {
			return nil, nil, err
		}
		return store, closer(logger, "redis", store.Close), nil
	case "sql":
		store, err := sqlxAdapter.New(ctx, cfg.Storage.SQL)
		if err != nil {
			return nil, nil, err
		}
		return store, closer(logger, "sql", store.Close), nil
	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}

func closer(logger *slog.Logger, name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			logger.Warn("closing storage failed", "adapter", name, "error", err)
		}
	}
}
