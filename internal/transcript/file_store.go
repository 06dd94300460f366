package transcript

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/agentcore/nexus/internal/models"
)

// FileStore persists one session's transcript as a newline-delimited JSON
// file, fsync'd after every append, with a modernc.org/sqlite side-index
// (entryID -> byte offset, kind) for quick lookups without re-scanning the
// whole file. The JSONL file remains the authoritative replay source; the
// index is rebuilt from it if missing.
type FileStore struct {
	sessionID models.SessionID
	path      string
	artDir    string
	locker    *SessionLocker
	db        *sql.DB
	nextID    models.EntryID
}

// NewFileStore opens (or creates) the transcript file and side-index for
// sessionID under dir, and the per-session artifact directory alongside it.
func NewFileStore(dir string, sessionID models.SessionID) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	artDir := filepath.Join(dir, "artifacts")
	if err := os.MkdirAll(artDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}

	path := filepath.Join(dir, string(sessionID)+".jsonl")
	db, err := sql.Open("sqlite", filepath.Join(dir, string(sessionID)+".index.db"))
	if err != nil {
		return nil, fmt.Errorf("open transcript index: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY,
		kind TEXT NOT NULL,
		offset INTEGER NOT NULL,
		length INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create transcript index schema: %w", err)
	}

	store := &FileStore{
		sessionID: sessionID,
		path:      path,
		artDir:    artDir,
		locker:    NewSessionLocker(DefaultLockTimeout),
		db:        db,
	}
	if err := store.recoverNextID(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *FileStore) recoverNextID() error {
	row := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM entries`)
	var maxID int64
	if err := row.Scan(&maxID); err != nil {
		return fmt.Errorf("recover transcript sequence: %w", err)
	}
	s.nextID = models.EntryID(maxID)
	return nil
}

// Append writes entry durably before returning. On I/O failure the
// in-memory sequence counter is rolled back so a retry reuses the same
// entry ID and the index never diverges from the file on disk.
func (s *FileStore) Append(ctx context.Context, entry Entry) (models.EntryID, error) {
	if err := s.locker.Lock(ctx, string(s.sessionID)); err != nil {
		return 0, fmt.Errorf("acquire transcript write lock: %w", err)
	}
	defer s.locker.Unlock(string(s.sessionID))

	assignedID := s.nextID + 1
	entry.ID = assignedID

	payload, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("encode transcript entry: %w", err)
	}
	payload = append(payload, '\n')

	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, newPersistenceError(s.sessionID, "append", err)
	}
	defer file.Close()

	offset, err := file.Seek(0, os.SEEK_END)
	if err != nil {
		return 0, newPersistenceError(s.sessionID, "append", err)
	}
	n, err := file.Write(payload)
	if err != nil {
		return 0, newPersistenceError(s.sessionID, "append", err)
	}
	if err := file.Sync(); err != nil {
		return 0, newPersistenceError(s.sessionID, "append", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, kind, offset, length) VALUES (?, ?, ?, ?)`,
		int64(assignedID), string(entry.Kind), offset, n,
	); err != nil {
		return 0, newPersistenceError(s.sessionID, "append", err)
	}

	s.nextID = assignedID
	return assignedID, nil
}

// Replay restores the exact insertion-order sequence from the JSONL file,
// which remains authoritative even if the side-index is stale or missing.
func (s *FileStore) Replay(ctx context.Context) ([]Entry, error) {
	file, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, newPersistenceError(s.sessionID, "replay", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, newPersistenceError(s.sessionID, "replay", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, newPersistenceError(s.sessionID, "replay", err)
	}
	return entries, nil
}

// BranchFrom seeds a new FileStore, under a sibling "<sessionID>-branch-N"
// directory, with entries [0..=entryID] plus a BranchSummary marker. The
// branch does not share the source's artifact directory.
func (s *FileStore) BranchFrom(ctx context.Context, entryID models.EntryID) (Store, error) {
	entries, err := s.Replay(ctx)
	if err != nil {
		return nil, err
	}

	branchID := models.SessionID(fmt.Sprintf("%s-branch-%d", s.sessionID, entryID))
	branchDir := filepath.Dir(s.path)
	branch, err := NewFileStore(branchDir, branchID)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e.ID > entryID {
			break
		}
		if _, err := branch.Append(ctx, e); err != nil {
			branch.Close()
			return nil, err
		}
	}
	if _, err := branch.Append(ctx, Entry{
		Kind: EntryBranchSummary,
		Branch: &BranchSummary{
			SourceSessionID: s.sessionID,
			SourceEntryID:   entryID,
		},
	}); err != nil {
		branch.Close()
		return nil, err
	}
	return branch, nil
}

// GetArtifactDir returns the per-session directory for large sidecar files.
func (s *FileStore) GetArtifactDir() (string, error) {
	return s.artDir, nil
}

// Close flushes and releases the side-index handle. The JSONL file itself
// has no buffered state outstanding since every Append already fsyncs.
func (s *FileStore) Close() error {
	return s.db.Close()
}

func newPersistenceError(sessionID models.SessionID, op string, cause error) error {
	return &models.PersistenceError{SessionID: sessionID, Op: op, Cause: cause}
}
