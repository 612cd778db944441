package handlers

import (
	"encoding/json"
	"net/http"
)

type emitEventRequest struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// EmitEvent publishes a named event on the in-process bus.
func (h *Handlers) EmitEvent(w http.ResponseWriter, r *http.Request) {
	var req emitEventRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "Invalid JSON body")
		return
	}
	if req.Event == "" {
		BadRequest(w, "event is required")
		return
	}

	hasListeners := h.bus.Emit(r.Context(), req.Event, req.Data)

	message := "Event dispatched"
	if !hasListeners {
		message = "No listeners for event"
	}

	JSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"event":        req.Event,
		"hasListeners": hasListeners,
		"message":      message,
	})
}

type dbNotifyRequest struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// DBNotify sends a raw NOTIFY on a channel through the connection pool.
func (h *Handlers) DBNotify(w http.ResponseWriter, r *http.Request) {
	var req dbNotifyRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "Invalid JSON body")
		return
	}
	if req.Channel == "" {
		BadRequest(w, "channel is required")
		return
	}
	if h.pool == nil {
		Error(w, http.StatusServiceUnavailable, "NO_DATABASE", "Database is not configured")
		return
	}

	payload := string(req.Payload)
	// A JSON string payload is sent unquoted; anything else goes out as
	// its JSON text.
	var s string
	if err := json.Unmarshal(req.Payload, &s); err == nil {
		payload = s
	}

	if err := h.pool.Notify(r.Context(), req.Channel, payload); err != nil {
		InternalError(w, err.Error())
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"channel": req.Channel,
	})
}
