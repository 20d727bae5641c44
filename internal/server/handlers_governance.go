package server

import (
	"net/http"

	"futarchy-core/internal/domain"
	"futarchy-core/internal/engine"
)

type executeRequest struct {
	// Accounts supplied to the instruction program. Defaults to the
	// instruction's own account list.
	Accounts []domain.AccountMeta `json:"accounts"`
}

// POST /api/daos
func (s *Server) initializeDao(w http.ResponseWriter, r *http.Request) {
	var req engine.InitializeDaoParams
	actor, _, err := mutation(r, "", &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.engine.InitializeDao(r.Context(), actor, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// GET /api/daos
func (s *Server) listDaos(w http.ResponseWriter, r *http.Request) {
	ds, err := s.engine.ListDaos(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

// GET /api/daos/{dao}
func (s *Server) getDao(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "dao")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.engine.GetDao(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// GET /api/daos/{dao}/proposals
func (s *Server) proposalsOf(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "dao")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.engine.GetDao(r.Context(), addr); err != nil {
		s.fail(w, r, err)
		return
	}
	ps, err := s.engine.ProposalsOf(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeProposals(w, r, ps)
}

// GET /api/proposals lists pending proposals.
func (s *Server) pendingProposals(w http.ResponseWriter, r *http.Request) {
	ps, err := s.engine.PendingProposals(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeProposals(w, r, ps)
}

func (s *Server) writeProposals(w http.ResponseWriter, r *http.Request, ps []*domain.Proposal) {
	views := make([]engine.ProposalView, 0, len(ps))
	for _, p := range ps {
		v, err := s.engine.ViewProposal(r.Context(), p)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

// POST /api/proposals
func (s *Server) initializeProposal(w http.ResponseWriter, r *http.Request) {
	var req engine.InitializeProposalParams
	actor, _, err := mutation(r, "", &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.engine.InitializeProposal(r.Context(), actor, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GET /api/proposals/{proposal}
func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "proposal")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	p, err := s.engine.GetProposal(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := s.engine.ViewProposal(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// POST /api/proposals/{proposal}/finalize
func (s *Server) finalizeProposal(w http.ResponseWriter, r *http.Request) {
	actor, addr, err := mutation(r, "proposal", nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.FinalizeProposal(r.Context(), actor, addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/proposals/{proposal}/execute
func (s *Server) executeProposal(w http.ResponseWriter, r *http.Request) {
	actor, addr, err := mutation(r, "proposal", nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req executeRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if req.Accounts == nil {
		p, err := s.engine.GetProposal(r.Context(), addr)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		req.Accounts = p.Instruction.Accounts
	}
	p, err := s.engine.ExecuteProposal(r.Context(), actor, addr, req.Accounts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
