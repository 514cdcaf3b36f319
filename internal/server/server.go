// Package server exposes the venue over HTTP and WebSocket. Reads and
// cranks are open to everyone; anything that moves funds sits behind the
// configured API keys.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/praxismarkets/futarchyd/internal/domain"
	"github.com/praxismarkets/futarchyd/internal/server/handler"
	"github.com/praxismarkets/futarchyd/internal/server/middleware"
	"github.com/praxismarkets/futarchyd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKeys guard mutating routes. Empty disables authentication.
	APIKeys []string
	// RateLimitPerMin is the shared per-IP request budget. Zero disables
	// limiting.
	RateLimitPerMin int
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Markets     *handler.MarketHandler
	Trades      *handler.TradeHandler
	Positions   *handler.PositionHandler
	Ledger      *handler.LedgerHandler
	Proposals   *handler.ProposalHandler
	Cranks      *handler.CrankHandler
	Arb         *handler.ArbHandler
	Settlements *handler.SettlementHandler
}

// Server is the venue's HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux
// and wires up the middleware chain (rate limiting, logging, CORS). Auth
// applies per route: reads stay open so dashboards work without keys, and
// cranks stay open because recombination is deliberately permissionless.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	protect := middleware.Auth(cfg.APIKeys)
	authed := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, protect(fn))
	}

	// Health and status (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Market endpoints.
	mux.HandleFunc("GET /api/markets", handlers.Markets.List)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.Get)
	mux.HandleFunc("GET /api/markets/slug/{slug}", handlers.Markets.GetBySlug)
	mux.HandleFunc("GET /api/markets/{id}/prices", handlers.Markets.Prices)
	authed("POST /api/markets", handlers.Markets.Create)
	authed("POST /api/markets/{id}/halt", handlers.Markets.Halt)
	authed("POST /api/markets/{id}/resume", handlers.Markets.Resume)

	// Trading endpoints.
	mux.HandleFunc("GET /api/markets/{id}/quote", handlers.Trades.Quote)
	mux.HandleFunc("GET /api/markets/{id}/trades", handlers.Trades.ListByMarket)
	mux.HandleFunc("GET /api/trades", handlers.Trades.ListByTrader)
	authed("POST /api/markets/{id}/swap", handlers.Trades.Swap)

	// Liquidity and withdrawal endpoints.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListByOwner)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.Get)
	mux.HandleFunc("GET /api/positions/{id}/preview", handlers.Positions.Preview)
	mux.HandleFunc("GET /api/claims", handlers.Positions.ListClaims)
	mux.HandleFunc("GET /api/claims/{id}", handlers.Positions.GetClaim)
	authed("POST /api/markets/{id}/liquidity", handlers.Positions.AddLiquidity)
	authed("POST /api/positions/{id}/remove", handlers.Positions.RemoveLiquidity)
	authed("POST /api/positions/{id}/mark", handlers.Positions.Mark)
	authed("POST /api/positions/{id}/claim", handlers.Positions.Claim)

	// Conditional-ledger endpoints.
	mux.HandleFunc("GET /api/markets/{id}/balances/{account}", handlers.Ledger.Balances)
	authed("POST /api/markets/{id}/balance-swap", handlers.Ledger.BalanceSwap)
	authed("POST /api/markets/{id}/complete-set/mint", handlers.Ledger.Mint)
	authed("POST /api/markets/{id}/complete-set/burn", handlers.Ledger.Burn)

	// Proposal endpoints.
	mux.HandleFunc("GET /api/proposals", handlers.Proposals.List)
	mux.HandleFunc("GET /api/proposals/{id}", handlers.Proposals.Get)
	mux.HandleFunc("GET /api/markets/{id}/proposal", handlers.Proposals.GetOpenByMarket)
	authed("POST /api/proposals", handlers.Proposals.Open)
	authed("POST /api/proposals/{id}/resolve", handlers.Proposals.Resolve)

	// Crank endpoints. Deliberately unauthenticated: anyone may advance a
	// resolved proposal, and the distributed lock absorbs races.
	mux.HandleFunc("POST /api/cranks/{market}/recombine", handlers.Cranks.Recombine)
	mux.HandleFunc("POST /api/cranks/{market}/transition", handlers.Cranks.Transition)
	mux.HandleFunc("POST /api/cranks/{market}/twap", handlers.Cranks.Twap)

	// Arbitrage endpoints.
	mux.HandleFunc("GET /api/arbitrage/recent", handlers.Arb.ListRecent)
	mux.HandleFunc("GET /api/arbitrage/executions", handlers.Arb.ListExecutions)
	mux.HandleFunc("GET /api/arbitrage/executions/{id}", handlers.Arb.GetExecution)
	mux.HandleFunc("GET /api/arbitrage/profit", handlers.Arb.Profit)

	// Settlement archive endpoints.
	mux.HandleFunc("GET /api/settlements/{market}", handlers.Settlements.List)
	mux.HandleFunc("GET /api/settlements/{market}/{proposal}", handlers.Settlements.Get)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	if limiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMin)(h)
	}

	h = middleware.Logging(logger)(h)
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

// Shutdown gracefully shuts down the server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
