package api

import (
	"net/http"
	"time"

	"github.com/kjannette/marketdash-backend/internal/models"
)

type healthResponse struct {
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Services  healthServices  `json:"services"`
	Providers map[string]bool `json:"providers"`
	LastSync  *models.SyncLog `json:"last_sync,omitempty"`
}

type healthServices struct {
	Database string `json:"database"`
	Driver   string `json:"driver,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "not configured"
	if s.deps.Ping != nil {
		dbStatus = "connected"
		if err := s.deps.Ping(r.Context()); err != nil {
			dbStatus = "disconnected"
			status = "degraded"
		}
	}

	resp := healthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  healthServices{Database: dbStatus, Driver: s.cfg.DBDriver},
		Providers: s.cfg.Providers,
	}
	if resp.Providers == nil {
		resp.Providers = map[string]bool{}
	}
	if s.deps.SyncLogs != nil && dbStatus == "connected" {
		if last, err := s.deps.SyncLogs.LatestSyncLog(r.Context()); err == nil {
			resp.LastSync = last
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
