// Package pending implements the thread-safe FIFO of deferred, reviewable
// tool effects (PendingAction) that a session accumulates between turns.
package pending

import (
	"sync"

	"github.com/agentcore/nexus/internal/models"
)

// Store is a thread-safe FIFO of PendingAction entries.
type Store struct {
	mu      sync.Mutex
	actions []*models.PendingAction
}

// New returns an empty pending action store.
func New() *Store {
	return &Store{}
}

// Push appends an action to the back of the queue.
func (s *Store) Push(action *models.PendingAction) {
	if action == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
}

// Drain atomically removes and returns every queued action, oldest first.
// The caller is responsible for running each action's Apply.
func (s *Store) Drain() []*models.PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.actions) == 0 {
		return nil
	}
	drained := s.actions
	s.actions = nil
	return drained
}

// Peek returns the queued actions without removing them.
func (s *Store) Peek() []*models.PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.actions) == 0 {
		return nil
	}
	out := make([]*models.PendingAction, len(s.actions))
	copy(out, s.actions)
	return out
}

// Size reports the number of queued actions.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions)
}
