package api

import (
	"errors"
	"net/http"

	"github.com/kjannette/marketdash-backend/internal/marketsync"
	"github.com/kjannette/marketdash-backend/internal/models"
)

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		unavailable(w, "sync")
		return
	}
	var batch marketsync.Batch
	if err := decodeJSON(r, &batch); err != nil {
		writeJSON(w, http.StatusBadRequest, marketsync.Outcome{Error: "invalid JSON body"})
		return
	}

	out, err := s.deps.Sync.Run(r.Context(), batch)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.Is(err, models.ErrValidation):
		writeJSON(w, http.StatusBadRequest, out)
	default:
		s.log.Error().Err(err).Str("run_id", out.RunID).Msg("sync failed")
		writeJSON(w, http.StatusInternalServerError, out)
	}
}
