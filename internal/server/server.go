package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/config"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/handler"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/middleware"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/redisconn"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/storage"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	logger     *zap.Logger
	manager    *redisconn.Manager
	postgres   *storage.Postgres
	httpServer *http.Server
}

func New(cfg *config.Config, logger *zap.Logger, manager *redisconn.Manager, postgres *storage.Postgres, checker middleware.Checker, admin *handler.RateLimitAdminHandler, registry *prometheus.Registry) *Server {
	if cfg.Mode == config.ModeProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	s := &Server{
		router:   router,
		config:   cfg,
		logger:   logger,
		manager:  manager,
		postgres: postgres,
	}

	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.RateLimit(checker))

	router.GET("/health", s.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	adminGroup := router.Group("/admin/rate-limits")
	{
		adminGroup.GET("", admin.List)
		adminGroup.POST("/:tenant_id", admin.Provision)
		adminGroup.GET("/:tenant_id", admin.Get)
		adminGroup.PATCH("/:tenant_id", admin.Update)
		adminGroup.POST("/:tenant_id/bypass", admin.SetBypass)
		adminGroup.DELETE("/:tenant_id/bypass", admin.ClearBypass)
		adminGroup.GET("/:tenant_id/violations", admin.ListViolations)
		adminGroup.GET("/:tenant_id/metrics", admin.ListMetrics)
	}

	return s
}

// healthCheck reports Redis connection state, fallback mode, and database
// reachability. In development fallback mode the service keeps serving, so
// Redis being down only degrades the status. Outside fallback mode a lost
// dependency is a 503.
func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := s.manager.IsConnected()
	fallbackMode := s.manager.IsFallbackMode()

	dbHealthy := true
	if err := s.postgres.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		s.logger.Warn("database health check failed", zap.Error(err))
	}

	status := "healthy"
	statusCode := http.StatusOK

	switch {
	case !dbHealthy:
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	case !redisHealthy && !fallbackMode:
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	case !redisHealthy || fallbackMode:
		status = "degraded"
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "rate-limiter",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":         redisHealthy,
			"fallback_mode": fallbackMode,
			"database":      dbHealthy,
		},
		"redis_pools": s.manager.Stats(),
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	s.logger.Info("starting rate limiter service",
		zap.String("addr", addr),
		zap.String("mode", string(s.config.Mode)))

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
