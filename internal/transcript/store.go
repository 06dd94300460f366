// Package transcript implements the append-only, crash-safe log of
// session entries: the Transcript Store exclusively owns persisted
// Message records, and readers receive immutable views over them.
package transcript

import (
	"context"
	"errors"
	"time"

	"github.com/agentcore/nexus/internal/models"
)

// EntryKind tags the kind of record in the log; readers filter by kind.
type EntryKind string

const (
	EntryMessage       EntryKind = "message"
	EntryBranchSummary EntryKind = "branch_summary"
	EntryCompaction    EntryKind = "compaction"
	EntryCustom        EntryKind = "custom"
)

// BranchSummary records where a branched transcript was cut from.
type BranchSummary struct {
	SourceSessionID models.SessionID `json:"sourceSessionId"`
	SourceEntryID   models.EntryID   `json:"sourceEntryId"`
	BranchedAt      time.Time        `json:"branchedAt"`
}

// Entry is one newline-delimited record in the transcript.
type Entry struct {
	ID        models.EntryID         `json:"id"`
	Kind      EntryKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	Message   *models.Message        `json:"message,omitempty"`
	Branch    *BranchSummary         `json:"branch,omitempty"`
	Compact   *models.CompactionEntry `json:"compaction,omitempty"`
	Custom    *CustomEntry           `json:"custom,omitempty"`
}

// CustomEntry carries caller-defined data that replays through unchanged.
type CustomEntry struct {
	CustomType string         `json:"customType"`
	Data       map[string]any `json:"data"`
}

// ErrNotFound is returned when a lookup has no matching record.
var ErrNotFound = errors.New("transcript: not found")

// Store is the Transcript Store contract. append is atomically durable
// before returning; replay restores the exact insertion-order sequence,
// including custom entries; branchFrom seeds a new store with entries
// [0..=entryID] plus a BranchSummary marker; getArtifactDir returns a
// per-session directory for large sidecar files. Implementations never
// mutate or remove a written entry, and shutdown flushes all buffers.
type Store interface {
	Append(ctx context.Context, entry Entry) (models.EntryID, error)
	Replay(ctx context.Context) ([]Entry, error)
	BranchFrom(ctx context.Context, entryID models.EntryID) (Store, error)
	GetArtifactDir() (string, error)
	Close() error
}
