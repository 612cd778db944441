package server

import (
	"net/http"

	"github.com/tidalhq/tidal/internal/metrics"
	"github.com/tidalhq/tidal/internal/server/handlers"
)

type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
}

type Middleware func(http.Handler) http.Handler

func NewRouter(srv *Server, h *handlers.Handlers) *Router {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
	}

	r.setupMiddleware()
	r.setupRoutes(h)

	return r
}

func (r *Router) setupMiddleware() {
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(MetricsMiddleware)

	if r.server.cfg.Server.MaxBodySize > 0 {
		r.Use(MaxBodySizeMiddleware(r.server.cfg.Server.MaxBodySize))
	}
	if r.server.cfg.Server.CORS.Enabled {
		r.Use(CORSMiddleware(r.server.cfg.Server.CORS))
	}
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *Router) setupRoutes(h *handlers.Handlers) {
	r.mux.HandleFunc("GET /health", h.Health)
	r.mux.Handle("GET /metrics", metrics.Handler())

	r.mux.HandleFunc("POST /deploy", h.Deploy)
	r.mux.HandleFunc("DELETE /deploy/{name}", h.Undeploy)

	r.mux.HandleFunc("POST /invoke/{name}", h.Invoke)
	r.mux.HandleFunc("POST /webhook/{name}", h.Webhook)

	r.mux.HandleFunc("GET /functions", h.ListFunctions)
	r.mux.HandleFunc("GET /function-status/{name}", h.FunctionStatus)
	r.mux.HandleFunc("POST /reload", h.Reload)

	r.mux.HandleFunc("POST /emit-event", h.EmitEvent)
	r.mux.HandleFunc("POST /db-notify", h.DBNotify)

	if r.server.cfg.Realtime.Enabled {
		r.mux.HandleFunc("GET /realtime", h.Realtime)
	}

	// Everything else resolves against function http triggers.
	r.mux.HandleFunc("/", h.Fallback)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(r.mux)

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	handler.ServeHTTP(w, req)
}
