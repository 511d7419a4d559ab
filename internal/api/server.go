// Package api provides the HTTP surface of the gateway. It wires the Gin
// engine, the middleware chain (CORS, request IDs, request logging, client
// auth, rate limiting, body limits), and the OpenAI/Claude-dialect routes
// on top of the dispatcher. Configuration changes picked up by the watcher
// take effect without restarting the server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/modelgate/modelgate/internal/api/handlers"
	"github.com/modelgate/modelgate/internal/api/handlers/claude"
	managementHandlers "github.com/modelgate/modelgate/internal/api/handlers/management"
	"github.com/modelgate/modelgate/internal/api/handlers/openai"
	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/credential"
	"github.com/modelgate/modelgate/internal/dispatch"
	"github.com/modelgate/modelgate/internal/metrics"
	"github.com/modelgate/modelgate/internal/ratelimit"
	"github.com/modelgate/modelgate/internal/requestlog"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// Server owns the Gin engine and HTTP listener plus the shared components
// the endpoints consult.
type Server struct {
	engine *gin.Engine
	server *http.Server

	// cfg provides lock-free access to the live configuration.
	cfg *config.Store

	// router holds the credential pools consulted by admin endpoints.
	router *credential.Router

	// metrics aggregates per-provider/per-model usage counters.
	metrics *metrics.Metrics

	// requestLogs is the in-memory ring buffer of completed requests.
	requestLogs *requestlog.Store

	// limiter enforces global and per-key request-per-minute limits.
	limiter *ratelimit.Limiter
}

// NewServer assembles the engine, the middleware chain, and the routes.
func NewServer(cfg *config.Store, dispatcher *dispatch.Dispatcher, router *credential.Router, m *metrics.Metrics, logs *requestlog.Store, limiter *ratelimit.Limiter) *Server {
	boot := cfg.Load()

	if !boot.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		corsMiddleware(),
		requestIDMiddleware(),
		requestLoggingMiddleware(logs),
	)

	s := &Server{
		engine:      engine,
		cfg:         cfg,
		router:      router,
		metrics:     m,
		requestLogs: logs,
		limiter:     limiter,
	}

	s.setupRoutes(dispatcher)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", boot.Host, boot.Port),
		Handler: engine,
	}

	return s
}

// setupRoutes registers every endpoint group on the engine.
func (s *Server) setupRoutes(dispatcher *dispatch.Dispatcher) {
	base := handlers.NewBaseHandler(s.cfg, dispatcher, s.router)
	openaiHandlers := openai.NewHandler(base)
	claudeHandlers := claude.NewHandler(base)
	mgmt := managementHandlers.NewHandler(s.cfg, s.metrics, s.requestLogs)

	s.engine.GET("/health", s.health)
	s.engine.GET("/metrics", s.metricsSnapshot)

	// Unauthenticated read-only admin views.
	admin := s.engine.Group("/admin")
	{
		admin.GET("/config", s.adminConfig)
		admin.GET("/metrics", s.metricsSnapshot)
		admin.GET("/models", s.adminModels)
	}

	// Inference routes. Auth runs before the rate limiter so rejected
	// requests never consume quota; the body cap applies last.
	v1 := s.engine.Group("/v1")
	v1.Use(
		clientAuthMiddleware(s.cfg),
		rateLimitMiddleware(s.limiter, s.cfg),
		bodyLimitMiddleware(s.cfg),
	)
	{
		v1.GET("/models", openaiHandlers.Models)
		v1.POST("/chat/completions", openaiHandlers.ChatCompletions)
		v1.POST("/messages", claudeHandlers.Messages)
		v1.POST("/responses", openaiHandlers.Responses)
	}

	// Management API routes. The group is always registered; the middleware
	// answers 404 while no management keys are configured so a hot-reload
	// that adds keys brings the surface up without a restart.
	management := s.engine.Group("/v0/management")
	management.Use(mgmt.Middleware())
	{
		management.GET("/usage", mgmt.GetUsage)
		management.GET("/request-logs", mgmt.GetRequestLogs)
		management.GET("/request-logs/stats", mgmt.GetRequestLogStats)
	}
}

// Handler exposes the engine as an http.Handler for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves requests until Stop is called; it blocks the caller.
func (s *Server) Start() error {
	cfg := s.cfg.Load()
	if cfg.TLS.Enable {
		log.Infof("starting HTTPS server on %s", s.server.Addr)
		if err := s.server.ListenAndServeTLS(cfg.TLS.Cert, cfg.TLS.Key); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("https server exited: %w", err)
		}
		return nil
	}

	log.Infof("starting HTTP server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server exited: %w", err)
	}

	return nil
}

// Stop drains active connections and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("shutting down API server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	log.Debug("API server shutdown complete")
	return nil
}
