package server

import (
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc is an executable handler body. The dispatcher invokes it with
// the session state lock held; calling Yield flushes dirty state into a
// delta before execution continues. Returning an error (or panicking) rolls
// the tree back to the last successful flush.
type HandlerFunc func(*Ctx) error

// Middleware wraps handler invocation at the dispatch boundary. The chain
// runs inside the state lock, in registration order.
type Middleware func(HandlerFunc) HandlerFunc

// Registry maps handler paths to executable bodies. Paths are dotted: the
// prefix addresses the state node, the last segment names the handler
// ("root.cart.add" registers handler "add" on node "root.cart").
//
// Registration happens at startup; lookup failure at dispatch time becomes
// a HandlerNotFound reported to the session, never a crash.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]registration
}

type registration struct {
	fn         HandlerFunc
	background bool
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]registration),
	}
}

// Handle registers a main-queue handler at the given path.
// Registering twice for the same path replaces the previous handler.
func (r *Registry) Handle(path string, fn HandlerFunc) {
	r.register(path, fn, false)
}

// HandleBackground registers a handler that runs concurrently with the main
// queue, acquiring the state lock only between yields.
func (r *Registry) HandleBackground(path string, fn HandlerFunc) {
	r.register(path, fn, true)
}

func (r *Registry) register(path string, fn HandlerFunc, background bool) {
	if path == "" {
		panic("server: empty handler path")
	}
	if fn == nil {
		panic(fmt.Sprintf("server: nil handler for path %q", path))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[path] = registration{fn: fn, background: background}
}

// Lookup returns the handler at path and whether it runs in the background.
func (r *Registry) Lookup(path string) (fn HandlerFunc, background, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[path]
	return reg.fn, reg.background, ok
}

// Paths returns all registered handler paths, sorted.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.handlers))
	for p := range r.handlers {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
