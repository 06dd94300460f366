package compaction

import (
	"context"
	"fmt"
	"time"

	"github.com/agentcore/nexus/internal/models"
)

// Policy configures when and how aggressively the Compaction Engine
// triggers: automatic compaction fires once the estimated conversation
// size exceeds Threshold*contextWindow, and the tail kept raw after
// compaction is sized to KeepShare*contextWindow.
type Policy struct {
	AutoEnabled bool
	Threshold   float64
	KeepShare   float64
}

// DefaultPolicy returns the default thresholds: trigger at 75% of the
// context window, keep the most recent 25% uncompacted.
func DefaultPolicy() Policy {
	return Policy{AutoEnabled: true, Threshold: 0.75, KeepShare: 0.25}
}

// ShouldCompact reports whether entries' estimated size exceeds the
// trigger threshold. Explicit compact() calls bypass this and call Run
// directly regardless of AutoEnabled.
func (p Policy) ShouldCompact(entries []*models.Message, contextWindow int) bool {
	if !p.AutoEnabled || contextWindow <= 0 {
		return false
	}
	estimated := EstimateMessagesTokens(FromEntries(entries))
	return float64(estimated) > p.Threshold*float64(contextWindow)
}

// Engine runs one compaction pass end to end: cut-point selection,
// summarization, and CompactionEntry construction. It holds no session
// state itself; the Session Controller supplies the current entries and
// the prior compaction chain's head (if any) on every call.
type Engine struct {
	summarizer Summarizer
	policy     Policy
}

// NewEngine wires a Summarizer (ordinarily a *ModelSummarizer backed by a
// modelclient.Registry) and a Policy into one compaction driver.
func NewEngine(summarizer Summarizer, policy Policy) *Engine {
	return &Engine{summarizer: summarizer, policy: policy}
}

// Run executes one compaction pass over entries. parent is the most
// recent CompactionEntry already produced for this session, or nil if
// the session has never been compacted. It returns (nil, false, nil)
// when the chosen cut point would not advance past parent's — i.e.
// running compaction while already compact is a no-op — never
// (nil, false, err) unless either
// summarization failed (wrapped in *models.CompactionError, session left
// untouched) or ctx was cancelled before a complete entry could be built.
func (e *Engine) Run(ctx context.Context, sessionID models.SessionID, entries []*models.Message, parent *models.CompactionEntry, contextWindow int, customInstructions string) (*models.CompactionEntry, bool, error) {
	cut, ok := ChooseCutPoint(entries, parent, contextWindow, e.policy.KeepShare)
	if !ok {
		return nil, false, nil
	}

	prefix := entriesThrough(entries, cut)
	plain := FromEntries(prefix)

	cfg := DefaultSummarizationConfig()
	cfg.ContextWindow = contextWindow
	cfg.CustomInstructions = customInstructions
	if parent != nil {
		cfg.PreviousSummary = parent.SummaryText
	}

	summary, err := SummarizeInStages(ctx, plain, e.summarizer, cfg)
	if err != nil {
		return nil, false, &models.CompactionError{SessionID: sessionID, Cause: err}
	}
	if err := ctx.Err(); err != nil {
		// A cancellation that raced the summarizer's own success must
		// still discard the result: no partial CompactionEntry is ever
		// surfaced to the caller.
		return nil, false, err
	}

	entry := &models.CompactionEntry{
		ID:              models.CompactionEntryID(fmt.Sprintf("compaction-%d", cut)),
		CutPointEntryID: cut,
		SummaryText:     summary,
		GeneratedAt:     time.Now(),
		TokenEstimate:   EstimateMessagesTokens(plain),
	}
	if parent != nil {
		pid := parent.ID
		entry.ParentID = &pid
	}
	return entry, true, nil
}

// ChooseCutPoint picks the earliest entry boundary whose kept tail
// (entries at or after the cut point, left raw) fits within
// keepShare*contextWindow, then nudges that boundary forward as needed so
// it never separates a tool call from its matching tool result. It
// reports ok=false when compaction would not advance past parent's
// existing cut point (already compact) or there is nothing to compact.
//
// The cut point is defined only as "the latest entry index such that
// everything strictly before it fits in a configurable keep budget",
// without saying which side of the cut the budget applies to. Read
// literally that pins the budget to the discarded prefix, which
// would make the kept tail unbounded; that cannot be what triggers
// compaction in the first place (bounding the *next* turn's context is
// the entire point). This implementation applies the keep budget to the
// tail instead: the raw history retained after compaction must fit in
// the budget, and the earliest boundary achieving that is chosen so as
// little history as necessary is summarized away.
func ChooseCutPoint(entries []*models.Message, parent *models.CompactionEntry, contextWindow int, keepShare float64) (models.EntryID, bool) {
	if len(entries) == 0 {
		return 0, false
	}
	if keepShare <= 0 || keepShare > 1 {
		keepShare = DefaultPolicy().KeepShare
	}
	budget := int(float64(contextWindow) * keepShare)

	plain := FromEntries(entries)
	idx := earliestIndexWithinBudget(plain, budget)

	idx = avoidSplittingToolPairs(entries, idx)

	cut := entries[idx].EntryID
	if parent != nil && cut <= parent.CutPointEntryID {
		return 0, false
	}
	if idx == 0 {
		// Nothing precedes the chosen boundary; there is no prefix left
		// to summarize.
		return 0, false
	}
	return cut, true
}

// earliestIndexWithinBudget returns the smallest index i such that the
// token cost of entries[i:] is within budget. If the whole conversation
// already fits, it returns 0 (ChooseCutPoint's caller then reports no-op
// via the idx==0 check).
func earliestIndexWithinBudget(entries []*Message, budget int) int {
	if budget <= 0 {
		return len(entries)
	}
	tailTokens := 0
	for i := len(entries) - 1; i >= 0; i-- {
		cost := EstimateTokens(entries[i])
		if tailTokens+cost > budget {
			return i + 1
		}
		tailTokens += cost
	}
	return 0
}

// avoidSplittingToolPairs advances idx past any tool_result whose
// matching tool call falls strictly before idx, guaranteeing the
// prefix/tail split never separates a call from its result.
func avoidSplittingToolPairs(entries []*models.Message, idx int) int {
	if idx <= 0 || idx >= len(entries) {
		return idx
	}

	callIndex := make(map[string]int)
	for i, entry := range entries {
		if entry.Assistant == nil {
			continue
		}
		for _, call := range entry.Assistant.ToolCalls() {
			callIndex[call.ID] = i
		}
	}

	advanced := idx
	for {
		moved := false
		for i := advanced; i < len(entries); i++ {
			result := entries[i].ToolResult
			if result == nil {
				continue
			}
			if callAt, ok := callIndex[result.ToolCallID]; ok && callAt < advanced {
				if i+1 > advanced {
					advanced = i + 1
					moved = true
				}
			}
		}
		if !moved {
			break
		}
	}
	return advanced
}

func entriesThrough(entries []*models.Message, cutExclusive models.EntryID) []*models.Message {
	out := make([]*models.Message, 0, len(entries))
	for _, e := range entries {
		if e.EntryID >= cutExclusive {
			break
		}
		out = append(out, e)
	}
	return out
}
