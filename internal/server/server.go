// Package server exposes the operator HTTP API, Prometheus metrics and the
// live WebSocket feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/auctionrfq/internal/domain"
	"github.com/alanyoungcy/auctionrfq/internal/server/handler"
	"github.com/alanyoungcy/auctionrfq/internal/server/middleware"
	"github.com/alanyoungcy/auctionrfq/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Decisions and
// Environment are optional.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Decisions   *handler.DecisionHandler
	Environment *handler.EnvironmentHandler
	Metrics     http.Handler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the authenticated API in auth
// and rate-limit middleware. Health and metrics stay open for probes and
// scrapers. limiter and hub may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	api := http.NewServeMux()
	api.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	api.HandleFunc("GET /api/quotes", handlers.Status.GetQuotes)
	if handlers.Decisions != nil {
		api.HandleFunc("GET /api/decisions", handlers.Decisions.ListRecent)
	}
	if handlers.Environment != nil {
		api.HandleFunc("POST /api/transport/pause", handlers.Environment.Pause)
		api.HandleFunc("POST /api/transport/resume", handlers.Environment.Resume)
		api.HandleFunc("POST /api/transport/offline", handlers.Environment.Offline)
		api.HandleFunc("POST /api/transport/online", handlers.Environment.Online)
	}
	if hub != nil {
		api.HandleFunc("GET /ws", hub.HandleWS)
	}

	var protected http.Handler = api
	protected = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(protected)
	protected = middleware.Auth(cfg.APIKey)(protected)

	root := http.NewServeMux()
	root.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		root.Handle("GET /metrics", handlers.Metrics)
	}
	root.Handle("/", protected)

	var h http.Handler = root
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within the ctx deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
