package transcript

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when acquiring a session's write lock times out.
var ErrLockTimeout = errors.New("transcript: lock acquisition timeout")

// DefaultLockTimeout bounds how long Append waits for the session's write
// lock before giving up.
const DefaultLockTimeout = 5 * time.Second

type sessionMutex struct {
	mu     sync.Mutex
	locked bool
}

// SessionLocker enforces the single-writer discipline per session: only one
// goroutine may be appending to a given session's transcript at a time.
type SessionLocker struct {
	locks   sync.Map // map[models.SessionID]*sessionMutex
	timeout time.Duration
}

// NewSessionLocker creates a locker with the given default acquire timeout.
func NewSessionLocker(timeout time.Duration) *SessionLocker {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &SessionLocker{timeout: timeout}
}

func (l *SessionLocker) getOrCreate(key string) *sessionMutex {
	if m, ok := l.locks.Load(key); ok {
		return m.(*sessionMutex)
	}
	created := &sessionMutex{}
	actual, _ := l.locks.LoadOrStore(key, created)
	return actual.(*sessionMutex)
}

// Lock acquires the write lock for key, respecting ctx cancellation and the
// locker's configured timeout, whichever comes first.
func (l *SessionLocker) Lock(ctx context.Context, key string) error {
	m := l.getOrCreate(key)
	deadline := time.Now().Add(l.timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		m.mu.Lock()
		if !m.locked {
			m.locked = true
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()

		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Unlock releases the write lock for key. Safe to call even if not held.
func (l *SessionLocker) Unlock(key string) {
	if m, ok := l.locks.Load(key); ok {
		mu := m.(*sessionMutex)
		mu.mu.Lock()
		mu.locked = false
		mu.mu.Unlock()
	}
}
