package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/config"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/handler"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/metrics"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/observability"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/policy"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/ratelimit"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/redisconn"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/repository"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/server"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/service"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/storage"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/violation"
)

func main() {
	// Load env if it exists
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Mode)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	postgres, err := storage.NewPostgres(cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer postgres.Close()

	if err := postgres.AutoMigrate(); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	manager := redisconn.NewManager(cfg.Redis, cfg.Mode, redisconn.DefaultRetryPolicy(), logger)
	if err := manager.Initialize(context.Background()); err != nil {
		logger.Fatal("failed to initialize redis connections", zap.Error(err))
	}
	defer manager.Close()

	registry := prometheus.NewRegistry()
	counters := observability.NewCounters(registry)

	limitRepo := repository.NewTenantRateLimitRepository(postgres)
	violationRepo := repository.NewViolationRepository(postgres)
	metricRepo := repository.NewMetricRepository(postgres)

	defaults := policy.Defaults{
		Tier:            cfg.RateLimit.DefaultTier,
		RequestsPerHour: cfg.RateLimit.DefaultRequestsPerHour,
		BurstSize:       cfg.RateLimit.DefaultBurstSize,
	}
	policies := policy.NewStore(limitRepo, defaults, cfg.RateLimit.PolicyCacheTTL, counters, logger)

	recorder := violation.NewRecorder(violationRepo, counters, logger, cfg.RateLimit.ViolationQueueSize)
	defer recorder.Close()

	var fallback *ratelimit.MemoryLimiter
	if cfg.Mode.FallbackEligible() {
		fallback = ratelimit.NewMemoryLimiter(10 * time.Minute)
		defer fallback.Close()
	}

	store := ratelimit.NewRedisStore(manager)
	enforcer := ratelimit.NewEnforcer(policies, store, recorder, counters, cfg.RateLimit, fallback, logger)

	aggregator := metrics.NewAggregator(
		violationRepo,
		metricRepo,
		metrics.NewRedisStatsReader(manager),
		counters,
		cfg.RateLimit.AggregationInterval,
		cfg.RateLimit.ViolationRetention,
		logger,
	)
	aggregator.Start()
	defer aggregator.Close()

	admin := service.NewPolicyAdminService(limitRepo, policies, defaults)
	adminHandler := handler.NewRateLimitAdminHandler(admin, violationRepo, metricRepo)

	srv := server.New(cfg, logger, manager, postgres, enforcer, adminHandler, registry)

	go func() {
		if err := srv.Run(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}

func newLogger(mode config.ExecutionMode) (*zap.Logger, error) {
	if mode == config.ModeProduction {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
