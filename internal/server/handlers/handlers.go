package handlers

import (
	"time"

	"github.com/tidalhq/tidal/internal/events"
	"github.com/tidalhq/tidal/internal/functions"
	"github.com/tidalhq/tidal/internal/listener"
	"github.com/tidalhq/tidal/internal/postgres"
	"github.com/tidalhq/tidal/internal/realtime"
)

// Handlers bundles the gateway endpoints and their dependencies.
type Handlers struct {
	service  *functions.Service
	bus      *events.Bus
	pool     *postgres.Pool
	listener *listener.Listener
	hub      *realtime.Hub

	sessionTimeout time.Duration
}

// New creates the handler set. pool, listener, and hub may be nil when the
// corresponding subsystem is disabled; affected endpoints degrade
// gracefully.
func New(service *functions.Service, bus *events.Bus, pool *postgres.Pool, l *listener.Listener, hub *realtime.Hub, sessionTimeout time.Duration) *Handlers {
	return &Handlers{
		service:        service,
		bus:            bus,
		pool:           pool,
		listener:       l,
		hub:            hub,
		sessionTimeout: sessionTimeout,
	}
}
