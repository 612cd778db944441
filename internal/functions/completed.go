package functions

import "sync"

// CompletedSet records which run-once functions have succeeded. It lives
// outside the registry so a full rescan cannot re-arm a completed bootstrap
// function. Constructed once at startup and injected into every component
// that needs it.
type CompletedSet struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

// NewCompletedSet creates an empty completed set.
func NewCompletedSet() *CompletedSet {
	return &CompletedSet{names: make(map[string]struct{})}
}

// Mark records a successful run-once completion.
func (c *CompletedSet) Mark(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.names[name] = struct{}{}
}

// Has reports whether the named function has completed.
func (c *CompletedSet) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.names[name]
	return ok
}

// Forget clears a completion record. Used when a function is undeployed so
// a future redeploy under the same name starts fresh.
func (c *CompletedSet) Forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.names, name)
}

// Len returns the number of completed functions.
func (c *CompletedSet) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}
