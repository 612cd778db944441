package handlers

import (
	"errors"
	"net/http"

	"github.com/tidalhq/tidal/internal/functions"
)

type invokeRequest struct {
	Payload    map[string]any `json:"payload"`
	DeliveryID string         `json:"delivery_id"`
}

// InvokeResponse is the synchronous invocation result document.
type InvokeResponse struct {
	Success         bool                `json:"success"`
	ExecutionID     string              `json:"execution_id"`
	DeliveryID      string              `json:"delivery_id,omitempty"`
	Result          any                 `json:"result,omitempty"`
	Error           string              `json:"error,omitempty"`
	ExecutionTimeMS int64               `json:"execution_time_ms"`
	Logs            []functions.LogLine `json:"logs,omitempty"`
}

// Invoke runs a function synchronously and returns its result. The HTTP
// status mirrors the execution status, 504 included for timeouts.
func (h *Handlers) Invoke(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req invokeRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "Invalid JSON body")
		return
	}

	result, err := h.service.Invoke(r.Context(), name, req.Payload, req.DeliveryID)
	if err != nil {
		switch {
		case errors.Is(err, functions.ErrNotFound):
			NotFound(w, "Function not found: "+name)
		case errors.Is(err, functions.ErrAlreadyCompleted):
			Error(w, http.StatusConflict, "ALREADY_COMPLETED", "Run-once function already completed")
		default:
			InternalError(w, err.Error())
		}
		return
	}

	writeResult(w, result)
}

func writeResult(w http.ResponseWriter, result *functions.Result) {
	JSON(w, result.StatusCode, InvokeResponse{
		Success:         result.Success,
		ExecutionID:     result.ExecutionID,
		DeliveryID:      result.DeliveryID,
		Result:          result.Result,
		Error:           result.Error,
		ExecutionTimeMS: result.ExecutionTimeMS,
		Logs:            result.Logs,
	})
}
