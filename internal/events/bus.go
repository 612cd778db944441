// Package events provides the in-process named event bus behind event
// triggers and the emit-event API.
package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Wildcard subscribes a handler to every event.
const Wildcard = "*"

// Handler handles one emitted event.
type Handler func(ctx context.Context, event string, data map[string]any)

type subscriber struct {
	owner   string
	handler Handler
}

// Bus routes emitted events to subscribed handlers. Handlers are keyed by
// event name with an owner tag so a function's listeners can be detached
// when it is unregistered.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]subscriber
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Subscribe registers a handler for an event name. Use Wildcard to match
// every event. The owner tag identifies who to detach later.
func (b *Bus) Subscribe(event, owner string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[event] = append(b.subs[event], subscriber{owner: owner, handler: handler})

	log.Debug().Str("event", event).Str("owner", owner).Msg("Event handler subscribed")
}

// Detach removes every handler registered under the owner tag.
func (b *Bus) Detach(owner string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for event, subs := range b.subs {
		kept := subs[:0]
		for _, s := range subs {
			if s.owner != owner {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(b.subs, event)
		} else {
			b.subs[event] = kept
		}
	}
}

// Reset removes all handlers. Used at the start of a full rescan before
// event triggers are re-bound.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]subscriber)
}

// HasListeners reports whether any handler would receive the event.
func (b *Bus) HasListeners(event string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event]) > 0 || len(b.subs[Wildcard]) > 0
}

// Emit dispatches the event to every matching handler and reports whether
// there were any. Each handler runs on its own goroutine; a slow or failing
// handler never delays the emitter or its peers.
func (b *Bus) Emit(ctx context.Context, event string, data map[string]any) bool {
	b.mu.RLock()
	handlers := make([]subscriber, 0, len(b.subs[event])+len(b.subs[Wildcard]))
	handlers = append(handlers, b.subs[event]...)
	handlers = append(handlers, b.subs[Wildcard]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		log.Debug().Str("event", event).Msg("No handlers for event")
		return false
	}

	for _, s := range handlers {
		go s.handler(ctx, event, data)
	}

	log.Debug().Str("event", event).Int("handlers", len(handlers)).Msg("Event emitted")
	return true
}
