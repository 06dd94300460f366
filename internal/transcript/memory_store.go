package transcript

import (
	"context"
	"sync"
	"time"

	"github.com/agentcore/nexus/internal/models"
)

// MemoryStore is an in-process Store for tests and ephemeral sessions.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  models.EntryID
	artDir  string
}

// NewMemoryStore returns an empty in-memory transcript.
func NewMemoryStore(artifactDir string) *MemoryStore {
	return &MemoryStore{artDir: artifactDir}
}

func (s *MemoryStore) Append(ctx context.Context, entry Entry) (models.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	entry.ID = s.nextID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.entries = append(s.entries, entry)
	return entry.ID, nil
}

func (s *MemoryStore) Replay(ctx context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *MemoryStore) BranchFrom(ctx context.Context, entryID models.EntryID) (Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch := NewMemoryStore(s.artDir)
	for _, e := range s.entries {
		if e.ID > entryID {
			break
		}
		branch.entries = append(branch.entries, e)
		if e.ID > branch.nextID {
			branch.nextID = e.ID
		}
	}
	branchID, err := branch.Append(ctx, Entry{
		Kind: EntryBranchSummary,
		Branch: &BranchSummary{
			SourceEntryID: entryID,
			BranchedAt:    time.Now(),
		},
	})
	if err != nil {
		return nil, err
	}
	_ = branchID
	return branch, nil
}

func (s *MemoryStore) GetArtifactDir() (string, error) {
	return s.artDir, nil
}

func (s *MemoryStore) Close() error { return nil }
