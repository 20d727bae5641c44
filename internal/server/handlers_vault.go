package server

import (
	"context"
	"net/http"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/engine"
	"futarchy-core/internal/vault"
)

type resolveRequest struct {
	PayoutNumerators []uint32 `json:"payout_numerators"`
}

type initializeVaultRequest struct {
	Question       domain.Address `json:"question"`
	UnderlyingMint domain.Address `json:"underlying_mint"`
}

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

// POST /api/questions
func (s *Server) initializeQuestion(w http.ResponseWriter, r *http.Request) {
	var req engine.InitializeQuestionParams
	actor, _, err := mutation(r, "", &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q, err := s.engine.InitializeQuestion(r.Context(), actor, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

// GET /api/questions
func (s *Server) listQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := s.engine.ListQuestions(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

// GET /api/questions/{question}
func (s *Server) getQuestion(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "question")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.engine.GetQuestion(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// POST /api/questions/{question}/resolve
func (s *Server) resolveQuestion(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	actor, addr, err := mutation(r, "question", &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	q, err := s.engine.ResolveQuestion(r.Context(), actor, addr, req.PayoutNumerators)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// GET /api/questions/{question}/vaults
func (s *Server) vaultsOf(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "question")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	vs, err := s.engine.VaultsOf(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

// POST /api/vaults
func (s *Server) initializeVault(w http.ResponseWriter, r *http.Request) {
	var req initializeVaultRequest
	actor, _, err := mutation(r, "", &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.engine.InitializeConditionalVault(r.Context(), actor, req.Question, req.UnderlyingMint)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// GET /api/vaults/{vault}
func (s *Server) getVault(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "vault")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.engine.GetVault(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// POST /api/vaults/{vault}/split
func (s *Server) splitTokens(w http.ResponseWriter, r *http.Request) {
	s.vaultAmountOp(w, r, s.engine.SplitTokens)
}

// POST /api/vaults/{vault}/merge
func (s *Server) mergeTokens(w http.ResponseWriter, r *http.Request) {
	s.vaultAmountOp(w, r, s.engine.MergeTokens)
}

func (s *Server) vaultAmountOp(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, actor, addr domain.Address, amount uint64) (vault.Result, error)) {
	var req amountRequest
	actor, addr, err := mutation(r, "vault", &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := fn(r.Context(), actor, addr, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/vaults/{vault}/redeem
func (s *Server) redeemTokens(w http.ResponseWriter, r *http.Request) {
	actor, addr, err := mutation(r, "vault", nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.RedeemTokens(r.Context(), actor, addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
