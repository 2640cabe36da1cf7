// Reconciler service: polls due tracking records against the provider on a
// schedule, converging every in-flight fulfillment to a terminal state.
// Runs separately from the API service and scales horizontally; the claim
// query uses FOR UPDATE SKIP LOCKED to keep instances on disjoint rows, and
// the version CAS absorbs the occasional overlapping poll.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/clock"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/config"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/kafka"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/observability"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/provider"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/reconcile"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/repository/postgres"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/resilience"
	"github.com/fosuklisman1-boop/datagod-fulfillment/internal/tracker"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.SlogLevel()),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = int32(cfg.DBMaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	trackingRepo := postgres.NewTrackingRepository(pool)
	settingsRepo := postgres.NewSettingsRepository(pool)

	metrics := observability.NewMetrics("reconciler")

	rateLimiter, circuitBreaker := buildResilience(ctx, cfg, logger)
	factory := buildProviders(cfg, rateLimiter, circuitBreaker, metrics, logger)

	outcomes := kafka.NewOutcomeProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaOutcomesTopic,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	}, logger)
	defer outcomes.Close()

	tr := tracker.New(trackingRepo, settingsRepo, factory, cfg.RetryPolicy(), clock.RealClock{}, logger).
		WithMetrics(metrics).
		WithCollaborators(nil, outcomes)
	if err := tr.ReloadSettings(ctx); err != nil {
		logger.Error("failed to load settings", "error", err)
		os.Exit(1)
	}

	scheduler := reconcile.NewScheduler(
		trackingRepo,
		tr,
		factory,
		cfg.RetryPolicy(),
		reconcile.SchedulerConfig{PollInterval: cfg.ReconcileInterval, BatchSize: cfg.ReconcileBatchSize},
		clock.RealClock{},
		logger,
	).WithMetrics(metrics)

	// Metrics-only HTTP listener; health of this process is its metrics.
	metricsServer := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics server", "addr", cfg.ServerAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	go scheduler.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown metrics server", "error", err)
	}

	logger.Info("shutdown complete")
}

func buildResilience(ctx context.Context, cfg *config.Config, logger *slog.Logger) (resilience.RateLimiter, resilience.CircuitBreaker) {
	limiterConfig := resilience.RateLimiterConfig{
		RequestsPerMinute: cfg.RateLimitPerMinute,
		Burst:             cfg.RateLimitBurst,
	}
	breakerConfig := resilience.CircuitBreakerConfig{
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		Window:           cfg.BreakerWindow,
		CoolDown:         cfg.BreakerCoolDown,
	}

	if cfg.RedisURL == "" {
		logger.Info("REDIS_URL not set, using in-memory resilience")
		return resilience.NewInMemoryRateLimiter(limiterConfig),
			resilience.NewInMemoryCircuitBreaker(breakerConfig)
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("failed to parse REDIS_URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(opt)

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis not available, using in-memory resilience", "error", err)
		return resilience.NewInMemoryRateLimiter(limiterConfig),
			resilience.NewInMemoryCircuitBreaker(breakerConfig)
	}

	logger.Info("connected to Redis")
	return resilience.NewRedisRateLimiter(redisClient, resilience.RedisRateLimiterConfig{
			Window:            time.Minute,
			RequestsPerWindow: cfg.RateLimitPerMinute,
		}, logger),
		resilience.NewRedisCircuitBreaker(redisClient, resilience.RedisCircuitBreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			Window:           cfg.BreakerWindow,
			CoolDown:         cfg.BreakerCoolDown,
		}, logger)
}

func buildProviders(cfg *config.Config, rl resilience.RateLimiter, cb resilience.CircuitBreaker, metrics *observability.Metrics, logger *slog.Logger) *provider.Factory {
	guardedConfig := provider.DefaultGuardedConfig()
	guardedConfig.CallTimeout = cfg.ProviderCallTimeout

	sykes := provider.NewSykesClient(provider.SykesConfig{
		BaseURL: cfg.SykesBaseURL,
		APIKey:  cfg.SykesAPIKey,
		Timeout: cfg.ProviderCallTimeout,
	}, nil)

	datakazina := provider.NewDatakazinaClient(provider.DatakazinaConfig{
		BaseURL: cfg.DatakazinaBaseURL,
		APIKey:  cfg.DatakazinaAPIKey,
		Timeout: cfg.ProviderCallTimeout,
	}, nil)

	return provider.NewFactory(
		provider.NewGuarded(sykes, rl, cb, guardedConfig, logger).WithMetrics(metrics),
		provider.NewGuarded(datakazina, rl, cb, guardedConfig, logger).WithMetrics(metrics),
	)
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
