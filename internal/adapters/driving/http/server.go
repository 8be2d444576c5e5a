package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/indexsync/internal/core/ports/driven"
	"github.com/custodia-labs/indexsync/internal/core/ports/driving"
)

// Pinger is a simple health check interface
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *http.ServeMux
	version    string
	logger     *slog.Logger

	// Services
	changeHandler driving.ChangeHandler
	reindexer     driving.Reindexer

	// Infrastructure
	auth        driven.AuthAdapter
	taskQueue   driven.TaskQueue
	db          Pinger // PostgreSQL health check
	redisClient Pinger // Redis health check (optional)
	worker      Pinger // in-process worker health check (optional)
	gatherer    prometheus.Gatherer
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	Version string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8080,
		Version: "dev",
	}
}

// Deps holds the services and infrastructure the server exposes
type Deps struct {
	ChangeHandler driving.ChangeHandler
	Reindexer     driving.Reindexer
	Auth          driven.AuthAdapter
	TaskQueue     driven.TaskQueue
	DB            Pinger
	// Redis is optional
	Redis Pinger
	// Worker is set when the worker runs in the same process
	Worker Pinger
	// Gatherer defaults to prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		router:        http.NewServeMux(),
		version:       cfg.Version,
		logger:        logger.With("component", "http"),
		changeHandler: deps.ChangeHandler,
		reindexer:     deps.Reindexer,
		auth:          deps.Auth,
		taskQueue:     deps.TaskQueue,
		db:            deps.DB,
		redisClient:   deps.Redis,
		worker:        deps.Worker,
		gatherer:      gatherer,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	authMiddleware := NewAuthMiddleware(s.auth)

	// Health endpoints (no auth)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /version", s.handleVersion)
	s.router.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// Change events
	s.router.Handle("POST /api/v1/events",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleChangeEvent)))

	// Full reindex
	s.router.Handle("POST /api/v1/reindex",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleTriggerReindex)))
	s.router.Handle("GET /api/v1/reindex/status",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleReindexStatus)))

	// Queue
	s.router.Handle("GET /api/v1/queue/stats",
		authMiddleware.Authenticate(http.HandlerFunc(s.handleQueueStats)))
}

// Handler returns the router wrapped in recovery and request logging
func (s *Server) Handler() http.Handler {
	logging := NewLoggingMiddleware(s.logger)
	recovery := NewRecoveryMiddleware(s.logger)
	return recovery.Handler(logging.Handler(s.router))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}
