// Package server is the HTTP gateway: function invocation, deployment,
// event emission, and the realtime WebSocket endpoint.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/tidalhq/tidal/internal/config"
	"github.com/tidalhq/tidal/internal/events"
	"github.com/tidalhq/tidal/internal/functions"
	"github.com/tidalhq/tidal/internal/listener"
	"github.com/tidalhq/tidal/internal/postgres"
	"github.com/tidalhq/tidal/internal/realtime"
	"github.com/tidalhq/tidal/internal/server/handlers"
)

// Deps are the subsystems the gateway fronts. Pool, Listener, Installer,
// and Hub may be nil when the database or realtime layer is disabled.
type Deps struct {
	Service   *functions.Service
	Bus       *events.Bus
	Pool      *postgres.Pool
	Listener  *listener.Listener
	Installer *listener.Installer
	Hub       *realtime.Hub
}

type Server struct {
	cfg        *config.Config
	deps       Deps
	httpServer *http.Server
	router     *Router
}

// New builds the gateway. The service's post-rescan hook is wired to
// listener resync so every registry rebuild, including watcher-driven
// ones, picks up new database triggers.
func New(cfg *config.Config, deps Deps) *Server {
	srv := &Server{cfg: cfg, deps: deps}
	deps.Service.SetAfterRescan(srv.SyncListener)

	h := handlersFor(cfg, deps)

	srv.router = NewRouter(srv, h)
	srv.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return srv
}

// SyncListener subscribes the listener to every database-trigger channel
// and ensures the notify triggers exist for the watched tables.
func (s *Server) SyncListener(ctx context.Context) {
	if s.deps.Listener == nil {
		return
	}
	for _, ch := range s.deps.Service.TriggerChannels() {
		s.deps.Listener.Subscribe(ch)
	}
	if s.deps.Installer != nil {
		s.deps.Installer.EnsureTables(ctx, s.deps.Service.TriggerTables())
	}
}

// Start runs the HTTP listener. Blocks until Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Server.Address()).Msg("Starting gateway")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains the HTTP server and closes realtime connections.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down gateway")

	if s.deps.Hub != nil {
		s.deps.Hub.Shutdown()
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func handlersFor(cfg *config.Config, deps Deps) *handlers.Handlers {
	return handlers.New(
		deps.Service,
		deps.Bus,
		deps.Pool,
		deps.Listener,
		deps.Hub,
		cfg.Realtime.SessionTimeout,
	)
}
