package toolregistry

import (
	"sync"

	"github.com/agentcore/nexus/internal/models"
)

// Registry holds the tools available to the current session. Names are
// unique; re-registering a name replaces the entry in place (used at
// session start only — the Invoker contract forbids renaming a tool
// mid-session).
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by its descriptor name.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Descriptor().Name] = tool
}

// Lookup returns the tool registered under name, if any.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns every registered tool's descriptor, for sending to a model.
func (r *Registry) List() []models.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Descriptor())
	}
	return out
}
