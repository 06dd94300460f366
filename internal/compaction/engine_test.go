package compaction

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/agentcore/nexus/internal/models"
)

type stubSummarizer struct {
	summary string
	err     error
	calls   int
}

func (s *stubSummarizer) GenerateSummary(ctx context.Context, messages []*Message, config *SummarizationConfig) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.summary, nil
}

func userEntry(id models.EntryID, text string) *models.Message {
	return &models.Message{EntryID: id, Timestamp: time.Unix(int64(id), 0), Role: models.RoleUser, User: &models.UserMessage{Content: []models.ContentBlock{models.TextBlock(text)}}}
}

func assistantToolCallEntry(id models.EntryID, callID string) *models.Message {
	return &models.Message{
		EntryID: id, Timestamp: time.Unix(int64(id), 0), Role: models.RoleAssistant,
		Assistant: &models.AssistantMessage{
			Content:    []models.ContentBlock{models.ToolCallBlock(callID, "search", json.RawMessage(`{}`))},
			StopReason: models.StopReasonToolUse,
		},
	}
}

func toolResultEntry(id models.EntryID, callID string) *models.Message {
	return &models.Message{
		EntryID: id, Timestamp: time.Unix(int64(id), 0), Role: models.RoleToolResult,
		ToolResult: &models.ToolResultMessage{ToolCallID: callID, Content: []models.ContentBlock{models.TextBlock("result")}},
	}
}

func TestChooseCutPointNoOpWhenSmall(t *testing.T) {
	entries := []*models.Message{userEntry(1, "hi"), assistantToolCallEntry(2, "c1"), toolResultEntry(3, "c1")}
	_, ok := ChooseCutPoint(entries, nil, 100000, 0.25)
	if ok {
		t.Fatal("expected no cut point when the whole conversation fits the keep budget")
	}
}

func TestChooseCutPointNeverSplitsToolPair(t *testing.T) {
	var entries []*models.Message
	for i := models.EntryID(1); i <= 20; i++ {
		entries = append(entries, userEntry(i, "padding padding padding padding padding padding padding"))
	}
	entries = append(entries, assistantToolCallEntry(21, "call-x"))
	entries = append(entries, toolResultEntry(22, "call-x"))
	for i := models.EntryID(23); i <= 26; i++ {
		entries = append(entries, userEntry(i, "tail"))
	}

	cut, ok := ChooseCutPoint(entries, nil, 200, 0.1)
	if !ok {
		t.Fatal("expected a cut point to be chosen given a tight keep budget")
	}

	// The cut must land either at-or-before the tool call, or
	// at-or-after the tool result — never strictly between them.
	if cut > 21 && cut <= 22 {
		t.Fatalf("cut point %d splits the tool call (entry 21) from its result (entry 22)", cut)
	}
}

func TestChooseCutPointIdempotentAgainstParent(t *testing.T) {
	var entries []*models.Message
	for i := models.EntryID(1); i <= 30; i++ {
		entries = append(entries, userEntry(i, "padding padding padding padding padding padding"))
	}

	first, ok := ChooseCutPoint(entries, nil, 200, 0.1)
	if !ok {
		t.Fatal("expected an initial cut point")
	}

	parent := &models.CompactionEntry{CutPointEntryID: first}
	_, ok = ChooseCutPoint(entries, parent, 200, 0.1)
	if ok {
		t.Fatal("expected re-running compaction against the same entries/parent to be a no-op")
	}
}

func TestEngineRunProducesEntryAndIsIdempotent(t *testing.T) {
	var entries []*models.Message
	for i := models.EntryID(1); i <= 30; i++ {
		entries = append(entries, userEntry(i, "padding padding padding padding padding padding"))
	}

	summarizer := &stubSummarizer{summary: "the user said various padding things"}
	engine := NewEngine(summarizer, Policy{AutoEnabled: true, Threshold: 0.75, KeepShare: 0.1})

	entry, ok, err := engine.Run(context.Background(), "s1", entries, nil, 200, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || entry == nil {
		t.Fatal("expected a CompactionEntry to be produced")
	}
	if entry.SummaryText != summarizer.summary {
		t.Fatalf("expected entry to carry the summarizer's text, got %q", entry.SummaryText)
	}

	_, ok, err = engine.Run(context.Background(), "s1", entries, entry, 200, "")
	if err != nil {
		t.Fatalf("unexpected error on idempotent re-run: %v", err)
	}
	if ok {
		t.Fatal("expected the second Run against the same entries/parent to be a no-op")
	}
}

func TestEngineRunSurfacesCompactionError(t *testing.T) {
	var entries []*models.Message
	for i := models.EntryID(1); i <= 30; i++ {
		entries = append(entries, userEntry(i, "padding padding padding padding padding padding"))
	}

	summarizer := &stubSummarizer{err: errors.New("model refused")}
	engine := NewEngine(summarizer, DefaultPolicy())

	entry, ok, err := engine.Run(context.Background(), "s1", entries, nil, 200, "")
	if entry != nil || ok {
		t.Fatal("expected no entry on summarization failure")
	}
	var compErr *models.CompactionError
	if !errors.As(err, &compErr) {
		t.Fatalf("expected a *models.CompactionError, got %T: %v", err, err)
	}
}

func TestPolicyShouldCompact(t *testing.T) {
	entries := []*models.Message{userEntry(1, "short")}
	p := Policy{AutoEnabled: true, Threshold: 0.75}
	if p.ShouldCompact(entries, 100000) {
		t.Fatal("expected a tiny conversation not to trigger compaction")
	}

	big := make([]*models.Message, 0, 500)
	for i := models.EntryID(1); i <= 500; i++ {
		big = append(big, userEntry(i, "padding padding padding padding padding padding padding padding"))
	}
	if !p.ShouldCompact(big, 1000) {
		t.Fatal("expected a large conversation to exceed a small context window's threshold")
	}
}
