package functions

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tidalhq/tidal/internal/events"
)

// TriggerKindBootstrap labels the synchronous run-once pass a rescan
// performs. It is a dispatch label, not a manifest trigger type.
const TriggerKindBootstrap TriggerKind = "bootstrap"

// Service is the orchestration layer over the registry: it owns rescans,
// trigger dispatch, and the run-once bootstrap pass. Every long-lived loop
// (scheduler, listener, gateway) dispatches through it.
type Service struct {
	registry  *Registry
	scanner   *Scanner
	executor  *Executor
	completed *CompletedSet
	bus       *events.Bus

	// afterRescan runs after every registry rebuild, whatever initiated
	// it (deploy, reload endpoint, file watcher), so listener channels
	// and database triggers stay in sync with the loaded manifests.
	afterRescan func(context.Context)
}

// NewService creates the function service.
func NewService(registry *Registry, scanner *Scanner, executor *Executor, completed *CompletedSet, bus *events.Bus) *Service {
	return &Service{
		registry:  registry,
		scanner:   scanner,
		executor:  executor,
		completed: completed,
		bus:       bus,
	}
}

// Registry exposes the underlying registry for read paths.
func (s *Service) Registry() *Registry {
	return s.registry
}

// FunctionsDir returns the directory function units live in.
func (s *Service) FunctionsDir() string {
	return s.scanner.Dir()
}

// SetAfterRescan installs the post-rescan hook. Set before any rescan
// runs.
func (s *Service) SetAfterRescan(fn func(context.Context)) {
	s.afterRescan = fn
}

// Rescan clears and rebuilds the registry from disk, rebinds event
// triggers, and synchronously runs every run-once function that has not
// yet completed. Completion state survives the rebuild via the completed
// set.
func (s *Service) Rescan(ctx context.Context) error {
	if err := s.scanner.Scan(); err != nil {
		return err
	}

	s.rebindEventTriggers()
	s.runBootstrap(ctx)

	if s.afterRescan != nil {
		s.afterRescan(ctx)
	}
	return nil
}

// rebindEventTriggers re-subscribes every event trigger on the bus. The
// bus is reset first so triggers removed from a manifest stop firing.
func (s *Service) rebindEventTriggers() {
	s.bus.Reset()

	for _, def := range s.registry.List() {
		def := def
		for _, t := range def.Triggers {
			et, ok := t.(EventTrigger)
			if !ok {
				continue
			}
			s.bus.Subscribe(et.Event, def.Name, func(ctx context.Context, event string, data map[string]any) {
				// The emitter's context dies as soon as its HTTP handler
				// returns; the execution and its result report outlive it.
				ctx = context.WithoutCancel(ctx)
				payload := map[string]any{"event": event, "data": data}
				if _, err := s.executor.Execute(ctx, def, Request{Trigger: TriggerKindEvent, Payload: payload}); err != nil {
					log.Warn().Err(err).Str("function", def.Name).Str("event", event).Msg("Event dispatch skipped")
				}
			})
		}
	}
}

// runBootstrap executes pending run-once functions one at a time, in
// registry order, so bootstrap steps with implicit ordering by name behave
// deterministically.
func (s *Service) runBootstrap(ctx context.Context) {
	for _, def := range s.registry.List() {
		if !def.RunOnce || s.completed.Has(def.Name) {
			continue
		}

		log.Info().Str("function", def.Name).Msg("Running bootstrap function")
		result, err := s.executor.Execute(ctx, def, Request{Trigger: TriggerKindBootstrap})
		if err != nil {
			log.Warn().Err(err).Str("function", def.Name).Msg("Bootstrap dispatch skipped")
			continue
		}
		if !s.completed.Has(def.Name) {
			log.Warn().
				Str("function", def.Name).
				Str("error", result.Error).
				Msg("Bootstrap function did not signal success, will retry on next rescan")
		}
	}
}

// Invoke runs a function by name for a direct HTTP invocation and waits
// for its result.
func (s *Service) Invoke(ctx context.Context, name string, payload map[string]any, deliveryID string) (*Result, error) {
	def, ok := s.registry.Get(name)
	if !ok {
		return nil, ErrNotFound
	}
	return s.executor.Execute(ctx, def, Request{
		Trigger:    TriggerKindHTTP,
		Payload:    payload,
		DeliveryID: deliveryID,
	})
}

// InvokeWebhook dispatches a webhook delivery asynchronously. The result
// reaches the control plane out of band under the supplied identifiers.
func (s *Service) InvokeWebhook(name string, payload map[string]any, env map[string]string, executionID, deliveryID string) error {
	def, ok := s.registry.Get(name)
	if !ok {
		return ErrNotFound
	}

	go func() {
		if _, err := s.executor.Execute(context.Background(), def, Request{
			Trigger:     TriggerKindWebhook,
			Payload:     payload,
			Env:         env,
			ExecutionID: executionID,
			DeliveryID:  deliveryID,
		}); err != nil {
			log.Warn().Err(err).Str("function", name).Msg("Webhook dispatch skipped")
		}
	}()
	return nil
}

// DispatchSchedule runs a schedule trigger's function asynchronously.
func (s *Service) DispatchSchedule(def *Definition) {
	go func() {
		if _, err := s.executor.Execute(context.Background(), def, Request{Trigger: TriggerKindSchedule}); err != nil {
			log.Warn().Err(err).Str("function", def.Name).Msg("Schedule dispatch skipped")
		}
	}()
}

// DispatchChange fans a decoded change notification out to every function
// whose database trigger watches the channel and operation. Each dispatch
// runs on its own goroutine so one slow function cannot delay the rest.
func (s *Service) DispatchChange(channel string, op Operation, payload map[string]any) int {
	dispatched := 0
	for _, def := range s.registry.List() {
		def := def
		for _, t := range def.Triggers {
			dt, ok := t.(DatabaseTrigger)
			if !ok || dt.Channel != channel || !dt.MatchesOperation(op) {
				continue
			}

			dispatched++
			go func() {
				if _, err := s.executor.Execute(context.Background(), def, Request{
					Trigger: TriggerKindDatabase,
					Payload: payload,
				}); err != nil {
					log.Warn().Err(err).Str("function", def.Name).Str("channel", channel).Msg("Database dispatch skipped")
				}
			}()
			break
		}
	}
	return dispatched
}

// TriggerChannels returns every channel watched by a database trigger.
// The listener subscribes to these on startup and after each rescan.
func (s *Service) TriggerChannels() []string {
	seen := make(map[string]struct{})
	var channels []string
	for _, def := range s.registry.List() {
		for _, t := range def.Triggers {
			if dt, ok := t.(DatabaseTrigger); ok {
				if _, dup := seen[dt.Channel]; !dup {
					seen[dt.Channel] = struct{}{}
					channels = append(channels, dt.Channel)
				}
			}
		}
	}
	return channels
}

// TriggerTables returns every table watched by a database trigger, for
// idempotent notify-trigger installation.
func (s *Service) TriggerTables() []string {
	seen := make(map[string]struct{})
	var tables []string
	for _, def := range s.registry.List() {
		for _, t := range def.Triggers {
			if dt, ok := t.(DatabaseTrigger); ok {
				if _, dup := seen[dt.Table]; !dup {
					seen[dt.Table] = struct{}{}
					tables = append(tables, dt.Table)
				}
			}
		}
	}
	return tables
}

// RouteHTTP resolves a fallback-path request to a function with a matching
// http trigger. The first path segment is the function name; the trigger's
// own path must prefix-match the full request path. Method checking is the
// caller's job, so a matched route with a disallowed method can 405
// instead of 404.
func (s *Service) RouteHTTP(path string) (*Definition, HTTPTrigger, bool) {
	name := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return nil, HTTPTrigger{}, false
	}

	def, ok := s.registry.Get(name)
	if !ok {
		return nil, HTTPTrigger{}, false
	}

	ht, ok := HTTPTriggerFor(def)
	if !ok {
		return nil, HTTPTrigger{}, false
	}

	if ht.Path != "" && !strings.HasPrefix(path, ht.Path) {
		return nil, HTTPTrigger{}, false
	}
	return def, ht, true
}
