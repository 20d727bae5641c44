// Package server exposes the engine over an HTTP JSON API.
//
// Every mutating request names its signer in the X-Futarchy-Actor header.
// Addresses in paths and bodies are base58.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"futarchy-core/internal/engine"
	"futarchy-core/internal/observability"
	"futarchy-core/internal/server/ws"
	"futarchy-core/internal/storage"
)

// ActorHeader carries the address signing a request.
const ActorHeader = "X-Futarchy-Actor"

// Config configures the HTTP server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// DevFaucet exposes POST /api/faucet, minting as the mint authority.
	DevFaucet bool
}

// Deps are the components the API serves from. Events, Observations and
// Hub are optional; their routes are not registered when nil.
type Deps struct {
	Engine       *engine.Engine
	Events       storage.EventStore
	Observations storage.ObservationStore
	Hub          *ws.Hub
}

// Server is the HTTP front of the engine.
type Server struct {
	cfg          Config
	engine       *engine.Engine
	events       storage.EventStore
	observations storage.ObservationStore
	hub          *ws.Hub
	logger       *zap.Logger
	startedAt    time.Time
	httpServer   *http.Server
}

// New builds the server and its routes.
func New(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	s := &Server{
		cfg:          cfg,
		engine:       deps.Engine,
		events:       deps.Events,
		observations: deps.Observations,
		hub:          deps.Hub,
		logger:       logger.Named("server"),
		startedAt:    time.Now().UTC(),
	}

	var h http.Handler = s.routes()
	h = logging(s.logger)(h)
	h = requestID(h)
	h = recovery(s.logger)(h)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", observability.Handler())
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.HandleWS)
	}

	// Ledger
	mux.HandleFunc("POST /api/mints", s.createMint)
	mux.HandleFunc("GET /api/mints/{mint}", s.getMint)
	mux.HandleFunc("POST /api/mints/{mint}/mint_to", s.mintTo)
	mux.HandleFunc("POST /api/mints/{mint}/transfer", s.transfer)
	mux.HandleFunc("GET /api/accounts/{owner}/balances", s.balances)
	if s.cfg.DevFaucet {
		mux.HandleFunc("POST /api/faucet", s.faucet)
	}

	// AMM
	mux.HandleFunc("POST /api/amms", s.createAmm)
	mux.HandleFunc("GET /api/amms", s.listAmms)
	mux.HandleFunc("GET /api/amms/{amm}", s.getAmm)
	mux.HandleFunc("POST /api/amms/{amm}/add_liquidity", s.addLiquidity)
	mux.HandleFunc("POST /api/amms/{amm}/remove_liquidity", s.removeLiquidity)
	mux.HandleFunc("POST /api/amms/{amm}/swap", s.swap)
	mux.HandleFunc("POST /api/amms/{amm}/crank", s.crankTwap)
	if s.observations != nil {
		mux.HandleFunc("GET /api/amms/{amm}/observations", s.observationsOf)
	}

	// Questions and vaults
	mux.HandleFunc("POST /api/questions", s.initializeQuestion)
	mux.HandleFunc("GET /api/questions", s.listQuestions)
	mux.HandleFunc("GET /api/questions/{question}", s.getQuestion)
	mux.HandleFunc("POST /api/questions/{question}/resolve", s.resolveQuestion)
	mux.HandleFunc("GET /api/questions/{question}/vaults", s.vaultsOf)
	mux.HandleFunc("POST /api/vaults", s.initializeVault)
	mux.HandleFunc("GET /api/vaults/{vault}", s.getVault)
	mux.HandleFunc("POST /api/vaults/{vault}/split", s.splitTokens)
	mux.HandleFunc("POST /api/vaults/{vault}/merge", s.mergeTokens)
	mux.HandleFunc("POST /api/vaults/{vault}/redeem", s.redeemTokens)

	// Governance
	mux.HandleFunc("POST /api/daos", s.initializeDao)
	mux.HandleFunc("GET /api/daos", s.listDaos)
	mux.HandleFunc("GET /api/daos/{dao}", s.getDao)
	mux.HandleFunc("GET /api/daos/{dao}/proposals", s.proposalsOf)
	mux.HandleFunc("POST /api/proposals", s.initializeProposal)
	mux.HandleFunc("GET /api/proposals", s.pendingProposals)
	mux.HandleFunc("GET /api/proposals/{proposal}", s.getProposal)
	mux.HandleFunc("POST /api/proposals/{proposal}/finalize", s.finalizeProposal)
	mux.HandleFunc("POST /api/proposals/{proposal}/execute", s.executeProposal)

	if s.events != nil {
		mux.HandleFunc("GET /api/events/{principal}", s.eventsOf)
	}
	return mux
}

// Run serves until ctx is cancelled, then shuts down within 30s.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse reports daemon state.
type statusResponse struct {
	Slot             uint64 `json:"slot"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	PendingProposals int    `json:"pending_proposals"`
	WSClients        int    `json:"ws_clients"`
	DevFaucet        bool   `json:"dev_faucet"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	pending, err := s.engine.PendingProposals(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := statusResponse{
		Slot:             s.engine.Slot(),
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		PendingProposals: len(pending),
		DevFaucet:        s.cfg.DevFaucet,
	}
	if s.hub != nil {
		resp.WSClients = s.hub.ClientCount()
	}
	writeJSON(w, http.StatusOK, resp)
}
