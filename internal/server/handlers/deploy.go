package handlers

import (
	"errors"
	"net/http"

	"github.com/tidalhq/tidal/internal/functions"
)

type deployRequest struct {
	FunctionName string            `json:"functionName"`
	Code         string            `json:"code"`
	Env          map[string]string `json:"env"`
}

// Deploy persists a function unit and rescans the registry.
func (h *Handlers) Deploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := decodeBody(r, &req); err != nil {
		BadRequest(w, "Invalid JSON body")
		return
	}
	if req.FunctionName == "" || req.Code == "" {
		BadRequest(w, "functionName and code are required")
		return
	}

	def, err := h.service.Deploy(r.Context(), req.FunctionName, req.Code, req.Env)
	if err != nil {
		if errors.Is(err, functions.ErrInvalidName) {
			BadRequest(w, "Invalid function name")
			return
		}
		InternalError(w, err.Error())
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"function": def,
	})
}

// Undeploy removes a deployed function.
func (h *Handlers) Undeploy(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	removed, err := h.service.Undeploy(r.Context(), name)
	if err != nil {
		if errors.Is(err, functions.ErrInvalidName) {
			BadRequest(w, "Invalid function name")
			return
		}
		InternalError(w, err.Error())
		return
	}
	if !removed {
		NotFound(w, "Function not found: "+name)
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"function": name,
	})
}
