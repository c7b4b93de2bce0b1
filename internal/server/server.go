package server

import (
	"log/slog"
	"net/http"

	"github.com/farmyield/backend/internal/ipfs"
	"github.com/farmyield/backend/internal/store"
	"github.com/farmyield/backend/internal/verify"
	"github.com/go-chi/chi/v5"
)

// Config holds server configuration.
type Config struct {
	ListenAddr          string
	DBPath              string
	TreasuryServiceURL  string
	TreasuryConfigured  bool
	IPFSAPIURL          string
	IPFSGatewayURL      string
	MaxImageUploadBytes int64
	MaxImagesPerReport  int
	// RequireSignedVotes additionally demands a detached wallet signature
	// over the body of vote requests.
	RequireSignedVotes bool
}

// Server is the FarmYield JSON API server.
type Server struct {
	config Config
	store  store.Store
	engine *verify.Engine
	ipfs   *ipfs.Client
	rl     *RateLimiter
	router chi.Router
	logger *slog.Logger
}

// NewServer creates a new Server from the given config and collaborators.
func NewServer(cfg Config, s store.Store, engine *verify.Engine, ipfsClient *ipfs.Client, logger *slog.Logger) *Server {
	if cfg.MaxImageUploadBytes <= 0 {
		cfg.MaxImageUploadBytes = 10 << 20 // 10MB per file
	}
	if cfg.MaxImagesPerReport <= 0 {
		cfg.MaxImagesPerReport = 5
	}

	srv := &Server{
		config: cfg,
		store:  s,
		engine: engine,
		ipfs:   ipfsClient,
		rl:     NewRateLimiter(DefaultRateLimiterConfig()),
		logger: logger,
	}
	srv.router = srv.routes()
	return srv
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(RecoveryMiddleware(s.logger))
	r.Use(SecurityHeadersMiddleware)
	r.Use(IPRateLimitMiddleware(s.rl, s.rl.config.GeneralRequestsPerMin))

	r.Get("/health", s.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		// Public routes.
		r.Post("/auth/login", s.HandleLogin)
		r.Get("/auth/profile/{wallet}", s.HandleProfile)
		r.Get("/auth/leaderboard", s.HandleLeaderboard)

		r.Get("/reports", s.HandleListReports)
		r.Get("/reports/map/data", s.HandleMapData)
		r.Get("/reports/user/{wallet}", s.HandleUserReports)
		r.Get("/reports/{reportID}", s.HandleGetReport)

		r.Get("/transactions/history/{wallet}", s.HandlePayoutHistory)
		r.Get("/transactions/{signature}", s.HandleGetPayout)

		// Wallet-authenticated routes.
		r.Group(func(r chi.Router) {
			r.Use(WalletAuth)
			r.Post("/reports/submit", s.HandleSubmitReport)
			r.Group(func(r chi.Router) {
				if s.config.RequireSignedVotes {
					r.Use(RequireSignature)
				}
				r.Post("/reports/{reportID}/vote", s.HandleVote)
			})
		})
	})

	return r
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Stop cleans up server resources.
func (s *Server) Stop() {
	s.rl.Stop()
}

// HandleHealth reports liveness and treasury configuration state.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, envelope{
		"status":             "ok",
		"treasuryConfigured": s.config.TreasuryConfigured,
	})
}
