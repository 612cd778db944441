package handlers

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/tidalhq/tidal/internal/realtime"
)

// Realtime upgrades the connection and runs the subscription protocol
// until the client disconnects or times out.
func (h *Handlers) Realtime(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		Error(w, http.StatusServiceUnavailable, "REALTIME_DISABLED", "Realtime is not enabled")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to accept WebSocket connection")
		return
	}

	client := realtime.NewClient(conn, h.hub, h.sessionTimeout)
	if err := client.Run(); err != nil {
		log.Debug().Err(err).Msg("WebSocket client rejected")
	}
}
