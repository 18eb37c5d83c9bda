// Package server exposes the screener over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbscreener/internal/domain"
	"github.com/alanyoungcy/arbscreener/internal/metrics"
	"github.com/alanyoungcy/arbscreener/internal/server/handler"
	"github.com/alanyoungcy/arbscreener/internal/server/middleware"
	"github.com/alanyoungcy/arbscreener/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards the ingest endpoint; empty disables authentication.
	APIKey          string
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the HTTP handlers. Optional handlers are nil when the
// backing store is not configured, and their routes are not registered.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Diffs    *handler.DiffHandler
	History  *handler.HistoryHandler
	Alerts   *handler.AlertHandler
	Archives *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
// limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	h := Routes(cfg, handlers, hub, limiter, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the complete handler tree.
func Routes(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	api.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	api.HandleFunc("GET /api/diffs", handlers.Diffs.ListDiffs)
	api.HandleFunc("GET /api/pairs", handlers.Diffs.Pairs)
	api.Handle("POST /api/ingest", middleware.Auth(cfg.APIKey)(http.HandlerFunc(handlers.Diffs.Ingest)))
	if handlers.History != nil {
		api.HandleFunc("GET /api/history", handlers.History.ListHistory)
	}
	if handlers.Alerts != nil {
		api.HandleFunc("GET /api/alerts", handlers.Alerts.ListAlerts)
	}
	if handlers.Archives != nil {
		api.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
	}

	window := cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", middleware.RateLimit(limiter, cfg.RateLimit, window)(api))
	mux.Handle("GET /metrics", metrics.Handler())
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = metrics.InstrumentHandler(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
