package handlers

import (
	"net/http"
)

// Fallback resolves unmatched paths against function http triggers: the
// first path segment names the function, trailing segments and query
// parameters ride along in the payload. Unknown names 404, a matched
// trigger with a disallowed method 405s.
func (h *Handlers) Fallback(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		NotFound(w, "Not found")
		return
	}

	def, trigger, ok := h.service.RouteHTTP(r.URL.Path)
	if !ok {
		NotFound(w, "Not found")
		return
	}
	if !trigger.AllowsMethod(r.Method) {
		MethodNotAllowed(w, "Method not allowed for "+def.Name)
		return
	}

	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		BadRequest(w, "Invalid JSON body")
		return
	}

	query := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			query[k] = v[0]
		}
	}

	payload := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"query":  query,
		"body":   body,
	}

	result, err := h.service.Invoke(r.Context(), def.Name, payload, "")
	if err != nil {
		InternalError(w, err.Error())
		return
	}

	writeResult(w, result)
}
