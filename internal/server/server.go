// Package server exposes the terminal's local panel API: REST endpoints for
// mode, balances, books, and arming, plus the WebSocket event stream.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/deskforge/tradeterm/internal/domain"
	"github.com/deskforge/tradeterm/internal/server/handler"
	"github.com/deskforge/tradeterm/internal/server/middleware"
	"github.com/deskforge/tradeterm/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimiter enables per-client rate limiting when non-nil.
	RateLimiter     domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Session *handler.SessionHandler
	Balance *handler.BalanceHandler
	Books   *handler.BooksHandler
	Audit   *handler.AuditHandler // nil when no audit store is configured
}

// Server is the headless HTTP + WebSocket API server for the terminal.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required by convention, auth middleware applies
	// uniformly; desks that need an open health port run without an API key).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Trading mode endpoints.
	mux.HandleFunc("GET /api/session/mode", handlers.Session.GetMode)
	mux.HandleFunc("POST /api/session/mode", handlers.Session.SetMode)
	mux.HandleFunc("POST /api/session/mode/reset", handlers.Session.ResetMode)
	mux.HandleFunc("GET /api/session/mode/history", handlers.Session.ModeHistory)
	mux.HandleFunc("GET /api/session/mode/last_change", handlers.Session.LastModeChange)

	// Live-arming endpoints.
	mux.HandleFunc("GET /api/session/arm", handlers.Session.GetArmState)
	mux.HandleFunc("POST /api/session/arm", handlers.Session.Arm)
	mux.HandleFunc("POST /api/session/disarm", handlers.Session.Disarm)

	// Recovery status.
	mux.HandleFunc("GET /api/session/recovery", handlers.Session.GetRecovery)

	// Balance endpoints.
	mux.HandleFunc("GET /api/balances", handlers.Balance.ListBalances)
	mux.HandleFunc("GET /api/balances/{account}", handlers.Balance.GetBalance)
	mux.HandleFunc("POST /api/balances/{account}/reset", handlers.Balance.ResetBalance)

	// Book endpoints.
	mux.HandleFunc("GET /api/positions", handlers.Books.ListPositions)
	mux.HandleFunc("GET /api/orders", handlers.Books.ListOrders)
	mux.HandleFunc("POST /api/orders", handlers.Books.PlaceOrder)
	mux.HandleFunc("GET /api/brackets", handlers.Books.ListBrackets)

	// Audit log (optional).
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if cfg.RateLimiter != nil {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, cfg.RateLimitWindow)(h)
	}
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

// corsMiddleware returns middleware that sets CORS headers for the allowed
// origins. If no origins are specified, it defaults to allowing all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0 // allow all if none specified
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			// Handle preflight requests.
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
