package models

import (
	"context"
	"fmt"
	"sync"
)

// PendingAction is a deferred side effect a tool produced that requires
// later confirmation or auto-application before the next model turn.
// Apply captures its dependencies by value and must be callable exactly
// once; Run enforces that.
type PendingAction struct {
	Label          string
	SourceToolName string
	Apply          func(ctx context.Context) ([]ContentBlock, error)

	mu     sync.Mutex
	called bool
}

// Run invokes Apply exactly once. A second call returns an error instead of
// re-running the closure.
func (p *PendingAction) Run(ctx context.Context) ([]ContentBlock, error) {
	p.mu.Lock()
	if p.called {
		p.mu.Unlock()
		return nil, fmt.Errorf("pending action %q already applied", p.Label)
	}
	p.called = true
	p.mu.Unlock()
	return p.Apply(ctx)
}
