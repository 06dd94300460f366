package pending

import (
	"context"
	"testing"

	"github.com/agentcore/nexus/internal/models"
)

func newAction(label string) *models.PendingAction {
	return &models.PendingAction{
		Label:          label,
		SourceToolName: "apply_patch",
		Apply: func(ctx context.Context) ([]models.ContentBlock, error) {
			return []models.ContentBlock{models.TextBlock(label)}, nil
		},
	}
}

func TestPushDrainOrderAndEmpties(t *testing.T) {
	s := New()
	if s.Size() != 0 {
		t.Fatalf("expected empty store, got size %d", s.Size())
	}

	s.Push(newAction("first"))
	s.Push(newAction("second"))
	if s.Size() != 2 {
		t.Fatalf("expected size 2, got %d", s.Size())
	}

	drained := s.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 drained actions, got %d", len(drained))
	}
	if drained[0].Label != "first" || drained[1].Label != "second" {
		t.Fatalf("expected FIFO order, got %s, %s", drained[0].Label, drained[1].Label)
	}
	if s.Size() != 0 {
		t.Fatalf("expected store empty after drain, got size %d", s.Size())
	}
	if s.Drain() != nil {
		t.Fatal("expected draining an empty store to return nil")
	}
}

func TestPeekDoesNotRemove(t *testing.T) {
	s := New()
	s.Push(newAction("only"))

	peeked := s.Peek()
	if len(peeked) != 1 || peeked[0].Label != "only" {
		t.Fatalf("unexpected peek result: %+v", peeked)
	}
	if s.Size() != 1 {
		t.Fatalf("expected peek to leave the queue intact, got size %d", s.Size())
	}
}

func TestDrainedActionsApplyExactlyOnce(t *testing.T) {
	s := New()
	s.Push(newAction("patch"))

	drained := s.Drain()
	if _, err := drained[0].Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := drained[0].Run(context.Background()); err == nil {
		t.Fatal("expected second Run to fail")
	}
}
