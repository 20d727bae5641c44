package server

import (
	"net/http"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/engine"
)

type mintToRequest struct {
	Owner  domain.Address `json:"owner"`
	Amount uint64         `json:"amount"`
}

type transferRequest struct {
	To     domain.Address `json:"to"`
	Amount uint64         `json:"amount"`
}

type faucetRequest struct {
	Mint   domain.Address `json:"mint"`
	Owner  domain.Address `json:"owner"`
	Amount uint64         `json:"amount"`
}

// POST /api/mints
func (s *Server) createMint(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateMintParams
	actor, _, err := mutation(r, "", &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.engine.CreateMint(r.Context(), actor, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// GET /api/mints/{mint}
func (s *Server) getMint(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "mint")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.engine.Mint(addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// POST /api/mints/{mint}/mint_to
func (s *Server) mintTo(w http.ResponseWriter, r *http.Request) {
	var req mintToRequest
	actor, mint, err := mutation(r, "mint", &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.MintTo(r.Context(), actor, mint, req.Owner, req.Amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": s.engine.Balance(req.Owner, mint)})
}

// POST /api/mints/{mint}/transfer
func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	actor, mint, err := mutation(r, "mint", &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.Transfer(r.Context(), actor, mint, req.To, req.Amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": s.engine.Balance(actor, mint)})
}

// GET /api/accounts/{owner}/balances
func (s *Server) balances(w http.ResponseWriter, r *http.Request) {
	owner, err := pathAddress(r, "owner")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Balances(owner))
}

// POST /api/faucet mints as the mint's own authority. Development only.
func (s *Server) faucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.engine.Mint(req.Mint)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.engine.MintTo(r.Context(), m.Authority, req.Mint, req.Owner, req.Amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": s.engine.Balance(req.Owner, req.Mint)})
}
