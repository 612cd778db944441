package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthResponse is the health endpoint document.
type HealthResponse struct {
	Status    string   `json:"status"`
	Functions int      `json:"functions"`
	Database  string   `json:"database"`
	Listeners []string `json:"listeners"`
}

// Health reports process health: function count, database reachability,
// and the channels the listener currently watches.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Functions: h.service.Registry().Count(),
		Database:  "disconnected",
		Listeners: []string{},
	}

	if h.pool != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := h.pool.Ping(ctx); err == nil {
			resp.Database = "connected"
		}
		cancel()
	}

	if h.listener != nil {
		resp.Listeners = h.listener.Channels()
	}

	JSON(w, http.StatusOK, resp)
}
