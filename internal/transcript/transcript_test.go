package transcript

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/agentcore/nexus/internal/models"
)

func TestMemoryStoreAppendReplayOrder(t *testing.T) {
	s := NewMemoryStore(t.TempDir())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := models.NewUserText("hi")
		if _, err := s.Append(ctx, Entry{Kind: EntryMessage, Message: msg}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := s.Replay(ctx)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if int(e.ID) != i+1 {
			t.Fatalf("expected sequential ids, entry %d has id %d", i, e.ID)
		}
	}
}

func TestMemoryStoreBranchFromSeedsPrefixPlusSummary(t *testing.T) {
	s := NewMemoryStore(t.TempDir())
	ctx := context.Background()

	var lastID models.EntryID
	for i := 0; i < 5; i++ {
		id, err := s.Append(ctx, Entry{Kind: EntryMessage, Message: models.NewUserText("m")})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		lastID = id
	}
	cutPoint := lastID - 2

	branch, err := s.BranchFrom(ctx, cutPoint)
	if err != nil {
		t.Fatalf("branch: %v", err)
	}
	entries, err := branch.Replay(ctx)
	if err != nil {
		t.Fatalf("replay branch: %v", err)
	}
	// cutPoint message entries plus the appended BranchSummary marker.
	if len(entries) != int(cutPoint)+1 {
		t.Fatalf("expected %d entries, got %d", cutPoint+1, len(entries))
	}
	last := entries[len(entries)-1]
	if last.Kind != EntryBranchSummary || last.Branch == nil || last.Branch.SourceEntryID != cutPoint {
		t.Fatalf("expected trailing branch summary for cut point %d, got %+v", cutPoint, last)
	}
}

func TestFileStoreAppendFsyncsAndReplays(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, models.SessionID("sess-1"))
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	id, err := store.Append(ctx, Entry{Kind: EntryMessage, Message: models.NewUserText("hello")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first entry id 1, got %d", id)
	}

	entries, err := store.Replay(ctx)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(entries) != 1 || entries[0].Message.User.Content[0].Text.Text != "hello" {
		t.Fatalf("unexpected replay result: %+v", entries)
	}
}

func TestFileStoreArtifactDirIsPerSession(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir, models.SessionID("sess-2"))
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	defer store.Close()

	artDir, err := store.GetArtifactDir()
	if err != nil {
		t.Fatalf("artifact dir: %v", err)
	}
	if filepath.Dir(artDir) != dir {
		t.Fatalf("expected artifact dir under %s, got %s", dir, artDir)
	}
}

func TestFileStoreRecoversSequenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	sessionID := models.SessionID("sess-3")

	store, err := NewFileStore(dir, sessionID)
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	ctx := context.Background()
	if _, err := store.Append(ctx, Entry{Kind: EntryMessage, Message: models.NewUserText("one")}); err != nil {
		t.Fatalf("append: %v", err)
	}
	store.Close()

	reopened, err := NewFileStore(dir, sessionID)
	if err != nil {
		t.Fatalf("reopen file store: %v", err)
	}
	defer reopened.Close()

	id, err := reopened.Append(ctx, Entry{Kind: EntryMessage, Message: models.NewUserText("two")})
	if err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	if id != 2 {
		t.Fatalf("expected sequence to continue at 2, got %d", id)
	}
}
