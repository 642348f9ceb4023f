package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"stagerun/pkg/api/middleware"
	"stagerun/pkg/executor"
	"stagerun/pkg/storage"
)

// Server is the read-only status API for a running workflow.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	log        *zap.Logger

	engine *executor.Engine
	store  storage.ExecutionStore
	logs   storage.LogStore
}

// Config holds API server configuration. Store and Logs are optional.
type Config struct {
	Addr      string
	Engine    *executor.Engine
	Store     storage.ExecutionStore
	Logs      storage.LogStore
	Logger    *zap.Logger
	Tracer    trace.Tracer
	RateLimit middleware.RateLimiterConfig
}

// NewServer wires the middleware stack and routes.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit = middleware.DefaultRateLimiterConfig()
	}

	router := gin.New()
	limiter := middleware.NewRateLimiter(cfg.RateLimit)

	// Order matters: ids and spans first so later layers can log them.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware(cfg.Tracer))
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(cfg.Logger))
	router.Use(limiter.Middleware())

	s := &Server{
		router:  router,
		limiter: limiter,
		log:     cfg.Logger,
		engine:  cfg.Engine,
		store:   cfg.Store,
		logs:    cfg.Logs,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("status server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("status server shutting down")
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/resources", s.listResources)

		tasks := v1.Group("/tasks")
		{
			tasks.GET("", s.listTasks)
			tasks.GET("/:id", s.getTask)
			tasks.GET("/:id/logs", s.getTaskLogs)
		}

		executions := v1.Group("/executions")
		{
			executions.GET("", s.listExecutions)
			executions.GET("/:id", s.getExecution)
		}
	}
}
