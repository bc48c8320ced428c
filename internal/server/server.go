// Package server is the HTTP and websocket API of the deal bot.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/0xshikhar/domie-sub000/internal/domain"
	"github.com/0xshikhar/domie-sub000/internal/metrics"
	"github.com/0xshikhar/domie-sub000/internal/server/handler"
	"github.com/0xshikhar/domie-sub000/internal/server/middleware"
	"github.com/0xshikhar/domie-sub000/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port          int
	CORSOrigins   []string
	APIKey        string // if empty, authentication is disabled
	SignedCallers bool
	RateLimit     int
	RateWindow    time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Nil handlers leave their routes unregistered.
type Handlers struct {
	Health     *handler.HealthHandler
	Deals      *handler.DealHandler
	Admin      *handler.AdminHandler
	Governance *handler.GovernanceHandler
	Rooms      *handler.RoomHandler
	Sync       *handler.SyncHandler
	Audit      *handler.AuditHandler
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter and m may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, m *metrics.Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	if d := handlers.Deals; d != nil {
		mux.HandleFunc("GET /api/deals", d.ListDeals)
		mux.HandleFunc("POST /api/deals", d.CreateDeal)
		mux.HandleFunc("GET /api/deals/{id}", d.GetDeal)
		mux.HandleFunc("POST /api/deals/{id}/contribute", d.Contribute)
		mux.HandleFunc("POST /api/deals/{id}/cancel", d.CancelDeal)
		mux.HandleFunc("POST /api/deals/{id}/refund", d.Refund)
		mux.HandleFunc("GET /api/deals/{id}/participants", d.Participants)
		mux.HandleFunc("GET /api/deals/{id}/participants/{address}", d.Participant)
	}
	if a := handlers.Admin; a != nil {
		mux.HandleFunc("POST /api/deals/{id}/purchase", a.MarkPurchased)
		mux.HandleFunc("POST /api/deals/{id}/fractional-token", a.SetFractionalToken)
	}
	if g := handlers.Governance; g != nil {
		mux.HandleFunc("POST /api/deals/{id}/proposals", g.CreateProposal)
		mux.HandleFunc("GET /api/deals/{id}/proposals/{hash}", g.GetProposal)
		mux.HandleFunc("GET /api/deals/{id}/proposals/{hash}/tally", g.Tally)
		mux.HandleFunc("POST /api/deals/{id}/proposals/{hash}/votes", g.Vote)
	}
	if rooms := handlers.Rooms; rooms != nil {
		mux.HandleFunc("GET /api/deals/{id}/messages", rooms.Messages)
	}
	if s := handlers.Sync; s != nil {
		mux.HandleFunc("POST /api/sync", s.TriggerSync)
	}
	if a := handlers.Audit; a != nil {
		mux.HandleFunc("GET /api/audit", a.List)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws/deals/{id}", wsHub.HandleRoom)
	}

	// Build the middleware chain, innermost first.
	h := middleware.Routed(mux)
	h = middleware.CallerSignature(cfg.SignedCallers)(h)
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger, m)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

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
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Handler returns the fully wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
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
