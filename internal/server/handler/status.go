package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/arbscreener/internal/engine"
)

// StatusSource reports engine state.
type StatusSource interface {
	Status() engine.Status
}

// StatusHandler serves the run mode, uptime and engine summary.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	engine    StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, startedAt time.Time, eng StatusSource) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, engine: eng}
}

type statusResponse struct {
	Mode          string        `json:"mode"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Engine        engine.Status `json:"engine"`
}

// GetStatus responds with the current status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Mode:          h.mode,
		UptimeSeconds: max(int64(time.Since(h.startedAt)/time.Second), 0),
		Engine:        h.engine.Status(),
	})
}
