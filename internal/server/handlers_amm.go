package server

import (
	"math"
	"net/http"

	"futarchy-core/internal/amm"
	"futarchy-core/internal/domain"
	"futarchy-core/internal/engine"
)

type removeLiquidityRequest struct {
	WithdrawBps uint64 `json:"withdraw_bps"`
}

type crankResponse struct {
	Amm     engine.AmmView `json:"amm"`
	Updated bool           `json:"updated"`
}

// POST /api/amms
func (s *Server) createAmm(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateAmmParams
	actor, _, err := mutation(r, "", &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.engine.CreateAmm(r.Context(), actor, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeAmm(w, r, http.StatusCreated, a)
}

// GET /api/amms
func (s *Server) listAmms(w http.ResponseWriter, r *http.Request) {
	amms, err := s.engine.ListAmms(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]engine.AmmView, 0, len(amms))
	for _, a := range amms {
		v, err := engine.ViewAmm(a)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

// GET /api/amms/{amm}
func (s *Server) getAmm(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "amm")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.engine.GetAmm(r.Context(), addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeAmm(w, r, http.StatusOK, a)
}

func (s *Server) writeAmm(w http.ResponseWriter, r *http.Request, status int, a *domain.Amm) {
	v, err := engine.ViewAmm(a)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

// POST /api/amms/{amm}/add_liquidity
func (s *Server) addLiquidity(w http.ResponseWriter, r *http.Request) {
	var req amm.AddLiquidityArgs
	actor, addr, err := mutation(r, "amm", &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.AddLiquidity(r.Context(), actor, addr, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/amms/{amm}/remove_liquidity
func (s *Server) removeLiquidity(w http.ResponseWriter, r *http.Request) {
	var req removeLiquidityRequest
	actor, addr, err := mutation(r, "amm", &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.RemoveLiquidity(r.Context(), actor, addr, req.WithdrawBps)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/amms/{amm}/swap
func (s *Server) swap(w http.ResponseWriter, r *http.Request) {
	var req engine.SwapParams
	actor, addr, err := mutation(r, "amm", &req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.engine.Swap(r.Context(), actor, addr, req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/amms/{amm}/crank
func (s *Server) crankTwap(w http.ResponseWriter, r *http.Request) {
	actor, addr, err := mutation(r, "amm", nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a, updated, err := s.engine.CrankTwap(r.Context(), actor, addr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v, err := engine.ViewAmm(a)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, crankResponse{Amm: v, Updated: updated})
}

// GET /api/amms/{amm}/observations?start=&end=
func (s *Server) observationsOf(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "amm")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	start, err := queryUint(r, "start", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	end, err := queryUint(r, "end", math.MaxUint64)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	obs, err := s.observations.GetByAmm(r.Context(), addr, start, end)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if obs == nil {
		obs = []*domain.OracleObservation{}
	}
	writeJSON(w, http.StatusOK, obs)
}
