package hooks

import (
	"context"
	"sync"
)

var (
	globalRegistry *Registry
	globalOnce     sync.Once
)

// Global returns the process-wide registry, created lazily on first
// access. Most callers should prefer constructing a per-session Registry
// via NewRegistry so handler failures can be routed to that session's
// event stream; Global exists for handlers with no natural session scope.
func Global() *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry(nil, nil)
	})
	return globalRegistry
}

// SetGlobalRegistry replaces the global registry. Intended for use during
// process initialization only.
func SetGlobalRegistry(r *Registry) {
	globalRegistry = r
}

// Register adds a handler to the global registry.
func Register(eventType EventType, customType string, handler Handler, opts ...RegisterOption) string {
	return Global().Register(eventType, customType, handler, opts...)
}

// Unregister removes a handler from the global registry.
func Unregister(id string) bool {
	return Global().Unregister(id)
}

// Dispatch runs the global registry's handlers for event.
func Dispatch(ctx context.Context, event *Event) *Result {
	return Global().Dispatch(ctx, event)
}
