// Package server exposes the vault API over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
	"github.com/alanyoungcy/vaultkeeper/internal/server/handler"
	"github.com/alanyoungcy/vaultkeeper/internal/server/middleware"
	"github.com/alanyoungcy/vaultkeeper/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	APIKey       string // if empty, authentication is disabled
	RateLimit    int
	RateWindow   time.Duration
	// WriteTimeout bounds a whole request. It should exceed the worst-case
	// vault operation so a slow mutation is not cut off mid-response.
	// Zero selects defaultWriteTimeout.
	WriteTimeout time.Duration
}

const defaultWriteTimeout = 30 * time.Second

// Handlers aggregates the HTTP handlers that the server registers. Audit is
// nil when Postgres is not configured.
type Handlers struct {
	Health *handler.HealthHandler
	Vaults *handler.VaultHandler
	Audit  *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in the middleware chain.
// limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/vaults", handlers.Vaults.InitVault)
	mux.HandleFunc("GET /api/vaults/{id}", handlers.Vaults.GetVault)
	mux.HandleFunc("POST /api/vaults/{id}/deposit", handlers.Vaults.Deposit)
	mux.HandleFunc("POST /api/vaults/{id}/withdraw", handlers.Vaults.Withdraw)
	mux.HandleFunc("POST /api/vaults/{id}/liquidate", handlers.Vaults.Liquidate)
	mux.HandleFunc("POST /api/vaults/{id}/rebalance", handlers.Vaults.Rebalance)
	mux.HandleFunc("POST /api/vaults/{id}/leverage", handlers.Vaults.Leverage)

	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
		mux.HandleFunc("GET /api/vaults/{id}/operations", handlers.Audit.ListOperations)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
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
