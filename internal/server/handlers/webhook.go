package handlers

import (
	"errors"
	"net/http"

	"github.com/tidalhq/tidal/internal/functions"
)

type webhookRequest struct {
	Payload     map[string]any    `json:"payload"`
	EnvVars     map[string]string `json:"env_vars"`
	ExecutionID string            `json:"execution_id"`
	DeliveryID  string            `json:"delivery_id"`
}

// Webhook accepts an externally delivered invocation and runs it
// asynchronously; the result reaches the control plane out of band under
// the delivery's own identifiers.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req webhookRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "Invalid JSON body")
		return
	}

	if def, ok := h.service.Registry().Get(name); ok {
		if wt, has := functions.WebhookTriggerFor(def); has && !wt.AllowsMethod(r.Method) {
			MethodNotAllowed(w, "Webhook does not accept "+r.Method)
			return
		}
	}

	err := h.service.InvokeWebhook(name, req.Payload, req.EnvVars, req.ExecutionID, req.DeliveryID)
	if err != nil {
		if errors.Is(err, functions.ErrNotFound) {
			NotFound(w, "Function not found: "+name)
			return
		}
		InternalError(w, err.Error())
		return
	}

	JSON(w, http.StatusAccepted, map[string]any{
		"accepted":    true,
		"function":    name,
		"delivery_id": req.DeliveryID,
	})
}
