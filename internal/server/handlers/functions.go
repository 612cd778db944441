package handlers

import (
	"net/http"
)

// ListFunctions returns every registered function definition.
func (h *Handlers) ListFunctions(w http.ResponseWriter, r *http.Request) {
	defs := h.service.Registry().List()
	JSON(w, http.StatusOK, map[string]any{
		"functions": defs,
		"count":     len(defs),
	})
}

// FunctionStatus returns the execution status of one function.
func (h *Handlers) FunctionStatus(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	def, ok := h.service.Registry().Get(name)
	if !ok {
		NotFound(w, "Function not found: "+name)
		return
	}
	status, _ := h.service.Registry().GetStatus(name)

	JSON(w, http.StatusOK, map[string]any{
		"name":     def.Name,
		"runtime":  def.Runtime,
		"run_once": def.RunOnce,
		"triggers": len(def.Triggers),
		"status":   status,
	})
}

// Reload triggers a full rescan of the functions directory.
func (h *Handlers) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Rescan(r.Context()); err != nil {
		InternalError(w, err.Error())
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   h.service.Registry().Count(),
	})
}
