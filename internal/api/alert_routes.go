package api

import (
	"net/http"
	"strings"

	"github.com/kjannette/marketdash-backend/internal/models"
)

func (s *Server) handleAlertsList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		unavailable(w, "alerts")
		return
	}
	s.writeActiveAlerts(w, r)
}

// handleAlertsCheck lists active alerts, or with {alert_id} marks that alert
// triggered and inactive.
func (s *Server) handleAlertsCheck(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		unavailable(w, "alerts")
		return
	}
	var req struct {
		AlertID string `json:"alert_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.AlertID) == "" {
		s.writeActiveAlerts(w, r)
		return
	}

	if err := s.deps.Alerts.Acknowledge(r.Context(), req.AlertID); err != nil {
		s.writeFailure(w, r, err, "failed to update alert")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "alert_id": strings.TrimSpace(req.AlertID)})
}

func (s *Server) handleAlertsRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Alerts == nil {
		unavailable(w, "alerts")
		return
	}
	rep, err := s.deps.Alerts.Run(r.Context())
	if err != nil {
		s.writeFailure(w, r, err, "alert check failed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) writeActiveAlerts(w http.ResponseWriter, r *http.Request) {
	active, err := s.deps.Alerts.Active(r.Context())
	if err != nil {
		s.writeFailure(w, r, err, "failed to fetch alerts")
		return
	}
	if active == nil {
		active = []models.AlertWithProfile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": active})
}
