package api

import (
	"net/http"

	"github.com/seenimoa/edgarsync/internal/config"
)

// SettingsResponse is returned by GET /api/v1/config/keys.
type SettingsResponse struct {
	Settings       []config.Setting `json:"settings"`
	Forms          []string         `json:"forms"`
	StartDate      string           `json:"start_date,omitempty"`
	CallsPerSecond float64          `json:"calls_per_second"`
}

// handleGetConfigKeys reports which sensitive settings are set, redacted.
func (s *Server) handleGetConfigKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: SettingsResponse{
			Settings:       config.Settings(s.cfg),
			Forms:          s.cfg.Ingest.Forms,
			StartDate:      s.cfg.Ingest.StartDate,
			CallsPerSecond: s.cfg.Registry.CallsPerSecond,
		},
	})
}
