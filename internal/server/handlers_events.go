package server

import (
	"net/http"

	"futarchy-core/internal/domain"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// GET /api/events/{principal}?after=&limit=
//
// Pages through a principal's events in seq_num order. Pass the last
// seq_num seen as after to continue; name filters the page.
func (s *Server) eventsOf(w http.ResponseWriter, r *http.Request) {
	principal, err := pathAddress(r, "principal")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	after, err := queryUint(r, "after", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryUint(r, "limit", defaultEventLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if limit == 0 || limit > maxEventLimit {
		limit = maxEventLimit
	}

	name := r.URL.Query().Get("name")

	recs, err := s.events.GetByPrincipal(r.Context(), principal, after, int(limit))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]*domain.EventRecord, 0, len(recs))
	for _, rec := range recs {
		if name == "" || rec.Name == name {
			out = append(out, rec)
		}
	}
	writeJSON(w, http.StatusOK, out)
}
