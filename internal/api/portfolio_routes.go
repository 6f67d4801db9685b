package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handlePortfolioQuotes(w http.ResponseWriter, r *http.Request) {
	if s.deps.Portfolio == nil {
		unavailable(w, "portfolio")
		return
	}
	sum, err := s.deps.Portfolio.Valuate(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeFailure(w, r, err, "failed to value portfolio")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
