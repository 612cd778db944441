package functions

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when a function name is not registered.
var ErrNotFound = errors.New("function not found")

// Registry is the in-memory index of loaded functions keyed by name.
// Reads far outnumber writes; writes happen on deploy/undeploy/rescan.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	def    *Definition
	status Status
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register inserts or replaces a definition by name. The status is reset;
// HasCompleted is seeded from the completed set by the caller via
// SeedCompleted so run-once state survives the replace.
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = &entry{def: def}
}

// Unregister removes a definition and returns whether it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[name]
	delete(r.entries, name)
	return ok
}

// Get returns the definition for a name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.def, true
}

// List returns all definitions sorted by name.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]*Definition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Count returns the number of registered functions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear removes every entry. Used at the start of a full rescan.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
}

// GetStatus returns a copy of the execution status for a name.
func (r *Registry) GetStatus(name string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Status{}, false
	}
	return e.status, true
}

// UpdateStatus applies fn to the status of a name under the write lock.
// A no-op if the entry was unregistered while the execution ran: the
// in-flight execution keeps its own Definition snapshot but has nowhere to
// record status once the function is gone.
func (r *Registry) UpdateStatus(name string, fn func(*Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		fn(&e.status)
	}
}

// SeedCompleted marks HasCompleted for every registered run-once function
// present in the completed set.
func (r *Registry) SeedCompleted(completed *CompletedSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, e := range r.entries {
		if e.def.RunOnce && completed.Has(name) {
			e.status.HasCompleted = true
		}
	}
}
