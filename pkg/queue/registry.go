package queue

import (
	"slices"
	"sync"
)

// Registry is a closed mapping from job kind to handler. Producers validate
// kinds against it at enqueue time and workers dispatch through it, so an
// unknown kind is rejected before it ever reaches the queue rather than
// failing at execution time.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates a registry pre-populated with the given handlers.
// Duplicate kinds are rejected.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a handler. Nil handlers are ignored.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[h.Kind()]; exists {
		return ErrHandlerAlreadyRegistered
	}
	r.handlers[h.Kind()] = h
	return nil
}

// Handler returns the handler for kind, if one is registered.
func (r *Registry) Handler(kind string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handlers[kind]
	return h, ok
}

// Known reports whether a handler is registered for kind.
func (r *Registry) Known(kind string) bool {
	_, ok := r.Handler(kind)
	return ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.handlers)
}
