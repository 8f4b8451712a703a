package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marketsettle/internal/crypto"
	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/server/handler"
	"github.com/alanyoungcy/marketsettle/internal/server/middleware"
	"github.com/alanyoungcy/marketsettle/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	AdminAuth       *crypto.RequestAuth // if nil, admin authentication is disabled
	RateLimiter     domain.RateLimiter  // if nil, rate limiting is disabled
	RateLimitPerMin int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Markets *handler.MarketHandler
	Pools   *handler.PoolHandler
	Oracles *handler.OracleHandler
	Archive *handler.ArchiveHandler // optional, admin archive endpoint
}

// Server is the headless HTTP + WebSocket API for the settlement engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, rate limiting, admin auth) and
// attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and status (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Market lifecycle.
	mux.HandleFunc("POST /api/markets/{id}", handlers.Markets.InitializeMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetState)
	mux.HandleFunc("POST /api/markets/{id}/commit", handlers.Markets.CommitPrediction)
	mux.HandleFunc("POST /api/markets/{id}/reveal", handlers.Markets.RevealPrediction)
	mux.HandleFunc("POST /api/markets/{id}/close", handlers.Markets.CloseMarket)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.ResolveMarket)
	mux.HandleFunc("POST /api/markets/{id}/claim", handlers.Markets.ClaimWinnings)
	mux.HandleFunc("POST /api/markets/{id}/dispute", handlers.Markets.DisputeMarket)
	mux.HandleFunc("GET /api/markets/{id}/dispute", handlers.Markets.GetDispute)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Markets.CancelMarket)
	mux.HandleFunc("GET /api/markets/{id}/predictions/{user}", handlers.Markets.GetUserPrediction)
	mux.HandleFunc("GET /api/markets/{id}/pending", handlers.Markets.GetPendingReveals)
	mux.HandleFunc("GET /api/markets/{id}/leaderboard", handlers.Markets.GetLeaderboard)

	// Liquidity pools.
	mux.HandleFunc("POST /api/pools/{id}", handlers.Pools.CreatePool)
	mux.HandleFunc("GET /api/pools/{id}", handlers.Pools.GetPool)
	mux.HandleFunc("POST /api/pools/{id}/buy", handlers.Pools.BuyShares)
	mux.HandleFunc("POST /api/pools/{id}/sell", handlers.Pools.SellShares)
	mux.HandleFunc("POST /api/pools/{id}/liquidity", handlers.Pools.AddLiquidity)
	mux.HandleFunc("DELETE /api/pools/{id}/liquidity", handlers.Pools.RemoveLiquidity)
	mux.HandleFunc("GET /api/pools/{id}/odds", handlers.Pools.GetOdds)
	mux.HandleFunc("GET /api/pools/{id}/prices", handlers.Pools.GetPrices)
	mux.HandleFunc("GET /api/pools/{id}/shares/{user}", handlers.Pools.GetShareBalance)
	mux.HandleFunc("GET /api/pools/{id}/lp/{provider}", handlers.Pools.GetLPBalance)

	// Oracle registry and attestations.
	mux.HandleFunc("POST /api/oracles", handlers.Oracles.RegisterOracle)
	mux.HandleFunc("GET /api/oracles", handlers.Oracles.GetOracleCount)
	mux.HandleFunc("GET /api/oracles/{oracle}", handlers.Oracles.GetOracle)
	mux.HandleFunc("GET /api/oracles/{oracle}/rewards", handlers.Oracles.GetRewards)
	mux.HandleFunc("POST /api/oracles/markets/{id}", handlers.Oracles.RegisterMarket)
	mux.HandleFunc("POST /api/oracles/markets/{id}/attest", handlers.Oracles.SubmitAttestation)
	mux.HandleFunc("GET /api/oracles/markets/{id}/votes", handlers.Oracles.GetVotes)
	mux.HandleFunc("POST /api/oracles/markets/{id}/challenge", handlers.Oracles.ChallengeAttestation)
	mux.HandleFunc("POST /api/oracles/markets/{id}/challenge/resolve", handlers.Oracles.ResolveChallenge)
	mux.HandleFunc("POST /api/oracles/markets/{id}/finalize", handlers.Oracles.FinalizeResolution)
	mux.HandleFunc("GET /api/oracles/markets/{id}/attestations/{oracle}", handlers.Oracles.GetAttestation)
	mux.HandleFunc("GET /api/oracles/markets/{id}/challenges/{oracle}", handlers.Oracles.GetChallenge)

	// Admin endpoints, HMAC-signed.
	adminAuth := middleware.AdminAuth(cfg.AdminAuth)
	if handlers.Archive != nil {
		mux.Handle("POST /api/admin/markets/{id}/archive",
			adminAuth(http.HandlerFunc(handlers.Archive.ArchiveMarket)))
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if cfg.RateLimiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimitPerMin, time.Minute)(h)
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

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
