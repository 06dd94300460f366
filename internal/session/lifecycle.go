package session

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/agentcore/nexus/internal/hooks"
	"github.com/agentcore/nexus/internal/models"
	"github.com/agentcore/nexus/internal/transcript"
)

// maybeAutoCompact runs the Compaction Engine if auto-compaction is
// enabled and the policy's threshold is exceeded, after an exchange has
// settled. Failures surface as an EventError and leave the session
// otherwise unaffected: a CompactionError leaves the session intact.
func (c *Controller) maybeAutoCompact() {
	c.mu.Lock()
	auto := c.autoComp
	c.mu.Unlock()
	if !auto || c.deps.Compactor == nil {
		return
	}

	entries, err := c.GetMessages(context.Background())
	if err != nil {
		return
	}
	if !c.deps.CompactionPolicy.ShouldCompact(entries, c.contextWindow()) {
		return
	}
	if _, err := c.Compact(context.Background(), ""); err != nil {
		c.hub.emit(models.AgentEvent{
			Type:  models.EventError,
			Error: &models.ErrorEventPayload{Message: err.Error(), Kind: "compaction", Err: err},
		})
	}
}

// Compact runs one compaction pass, honoring customInstructions if
// supplied. It is a no-op (returns false, nil) when the session is
// already compact. An in-flight turn defers compaction: Compact refuses
// to start (returning an error) while the Scheduler is Streaming, mirroring
// §4.6's "an in-flight turn defers compaction to its end" — callers that
// want auto-compaction's "defer" semantics should call Compact from
// afterExchange, as maybeAutoCompact does, rather than concurrently with
// a turn.
func (c *Controller) Compact(ctx context.Context, customInstructions string) (compacted bool, err error) {
	if c.deps.Compactor == nil {
		return false, fmt.Errorf("session: no Compactor configured")
	}
	if !c.sched.BeginCompaction() {
		return false, fmt.Errorf("session: cannot compact while a turn or another compaction is in flight")
	}
	defer c.sched.EndCompaction()

	trigger := "manual"
	if customInstructions == "" {
		c.mu.Lock()
		auto := c.autoComp
		c.mu.Unlock()
		if auto {
			trigger = "auto"
		}
	}
	start := time.Now()
	if c.deps.Tracer != nil {
		var span trace.Span
		ctx, span = c.deps.Tracer.TraceCompaction(ctx, string(c.currentID()), trigger)
		defer span.End()
	}
	if c.deps.Metrics != nil {
		defer func() {
			status := "compacted"
			switch {
			case err != nil:
				status = "error"
			case !compacted:
				status = "noop"
			}
			c.deps.Metrics.RecordCompaction(trigger, status, time.Since(start).Seconds())
		}()
	}

	c.hub.emit(models.AgentEvent{Type: models.EventCompactionStart})

	entries, err := c.GetMessages(ctx)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	store := c.store
	sessionID := c.id
	c.mu.Unlock()

	replayed, err := store.Replay(ctx)
	if err != nil {
		return false, err
	}
	var parent *models.CompactionEntry
	for _, e := range replayed {
		if e.Kind == transcript.EntryCompaction && e.Compact != nil {
			parent = e.Compact
		}
	}

	entry, ok, err := c.deps.Compactor.Run(ctx, sessionID, entries, parent, c.contextWindow(), customInstructions)
	if err != nil {
		return false, err
	}
	if !ok {
		c.hub.emit(models.AgentEvent{Type: models.EventCompactionEnd})
		return false, nil
	}

	if _, err := store.Append(ctx, transcript.Entry{Kind: transcript.EntryCompaction, Compact: entry}); err != nil {
		return false, &models.PersistenceError{SessionID: sessionID, Op: "append-compaction", Cause: err}
	}

	summaryMsg := &models.Message{
		Role: models.RoleCompactionSummary,
		CompactionSummary: &models.CompactionSummaryMessage{
			CompactionEntryID: entry.ID,
			SummaryText:       entry.SummaryText,
		},
	}
	if _, err := store.Append(ctx, transcript.Entry{Kind: transcript.EntryMessage, Message: summaryMsg}); err != nil {
		return false, &models.PersistenceError{SessionID: sessionID, Op: "append-compaction-summary", Cause: err}
	}

	if c.deps.Audit != nil {
		remaining := 0
		for _, e := range entries {
			if e.EntryID > entry.CutPointEntryID {
				remaining++
			}
		}
		c.deps.Audit.LogSessionCompact(ctx, string(sessionID), string(sessionID), len(entries), remaining, entry.TokenEstimate, "model-summarize")
	}

	c.hub.emit(models.AgentEvent{Type: models.EventCompactionEnd})
	return true, nil
}

// teardownCurrent cancels any in-flight turn and waits up to
// ShutdownGrace for its background goroutine to exit before the caller
// swaps in a new store, guaranteeing the outgoing session's background
// work has completed or been abandoned per the data model's "Session is
// destroyed" invariant.
func (c *Controller) teardownCurrent() {
	c.sched.Abort()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ShutdownGrace):
	}

	c.mu.Lock()
	store := c.store
	c.mu.Unlock()
	if store != nil {
		store.Close()
	}
}

// NewSession tears down the current session (persisting or discarding
// every in-flight artifact first) and opens a fresh one through
// deps.Factory: a Live -> ShuttingDown(partial) -> Live(fresh) transition.
func (c *Controller) NewSession(ctx context.Context) (models.SessionID, error) {
	if c.cancelledByHook(ctx, hooks.EventSessionBeforeNew) {
		return "", fmt.Errorf("session: newSession cancelled by hook")
	}
	c.teardownCurrent()

	id, store, err := c.deps.Factory(ctx, "")
	if err != nil {
		return "", fmt.Errorf("session: open new store: %w", err)
	}

	c.mu.Lock()
	c.id = id
	c.store = store
	c.turnIndex = 0
	c.degraded = nil
	c.mu.Unlock()

	if c.deps.Audit != nil {
		c.deps.Audit.LogAgentAction(ctx, "session-controller", "new_session", "opened a fresh session", nil, string(id))
	}
	c.hub.emit(models.AgentEvent{Type: models.EventSession, SessionID: id})
	return id, nil
}

// SwitchSession tears down the current session and attaches to the store
// identified by id (opened fresh if it does not already exist): a
// Live -> Switching -> Live transition.
func (c *Controller) SwitchSession(ctx context.Context, id models.SessionID) error {
	if c.cancelledByHook(ctx, hooks.EventSessionBeforeSwitch) {
		return fmt.Errorf("session: switchSession cancelled by hook")
	}
	c.teardownCurrent()

	openedID, store, err := c.deps.Factory(ctx, id)
	if err != nil {
		return fmt.Errorf("session: switch to %q: %w", id, err)
	}

	c.mu.Lock()
	c.id = openedID
	c.store = store
	c.turnIndex = 0
	c.degraded = nil
	c.mu.Unlock()

	if c.deps.Audit != nil {
		c.deps.Audit.LogAgentAction(ctx, "session-controller", "switch_session", "attached to an existing or fresh session", nil, string(openedID))
	}
	c.hub.emit(models.AgentEvent{Type: models.EventSession, SessionID: openedID})
	return nil
}

// Branch creates a new session sharing the parent's first entryID+1
// entries plus a BranchSummary marker, and switches the Controller onto
// it: a Live -> Branching -> Live transition. The
// branch's artifact directory is disjoint from the parent's
// (transcript.Store.BranchFrom's contract).
func (c *Controller) Branch(ctx context.Context, entryID models.EntryID) (models.SessionID, error) {
	if c.cancelledByHook(ctx, hooks.EventSessionBeforeBranch) {
		return "", fmt.Errorf("session: branch cancelled by hook")
	}
	c.sched.Abort()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(ShutdownGrace):
	}

	c.mu.Lock()
	parentStore := c.store
	c.mu.Unlock()

	branchStore, err := parentStore.BranchFrom(ctx, entryID)
	if err != nil {
		return "", fmt.Errorf("session: branch from entry %d: %w", entryID, err)
	}

	branchID := newSessionID()

	c.mu.Lock()
	c.id = branchID
	c.store = branchStore
	c.turnIndex = 0
	c.degraded = nil
	c.mu.Unlock()

	if c.deps.Audit != nil {
		c.deps.Audit.LogAgentAction(ctx, "session-controller", "branch", fmt.Sprintf("branched from entry %d", entryID), nil, string(branchID))
	}
	c.hub.emit(models.AgentEvent{Type: models.EventSession, SessionID: branchID})
	return branchID, nil
}

// Shutdown cancels any in-flight work, waits for it to exit (bounded by
// ShutdownGrace), closes the transcript store, and closes every
// subscriber channel. It is the terminal transition: the Controller must
// not be used afterward.
func (c *Controller) Shutdown(ctx context.Context) error {
	// Shutdown's before-hook is advisory only: Cancel=true is logged but
	// never honored, since an unconditional shutdown path must exist or a
	// misbehaving hook could make the process unkillable.
	c.cancelledByHook(ctx, hooks.EventSessionBeforeShutdown)
	if c.deps.Audit != nil {
		c.deps.Audit.LogAgentAction(ctx, "session-controller", "shutdown", "process shutdown requested", nil, string(c.currentID()))
	}
	c.sched.BeginShutdown()
	c.teardownCurrent()
	c.rootCancel()
	c.hub.closeAll()
	if c.deps.Metrics != nil {
		c.deps.Metrics.SessionEnded(time.Since(c.sessionStart).Seconds())
	}
	return nil
}

// cancelledByHook dispatches a session.before_* hook event and reports
// whether a handler vetoed the pending transition.
func (c *Controller) cancelledByHook(ctx context.Context, eventType hooks.EventType) bool {
	if c.hooksReg == nil {
		return false
	}
	ev := hooks.NewEvent(eventType, "").WithSession(c.currentID())
	res := c.hooksReg.Dispatch(ctx, ev)
	return res != nil && res.Cancel
}

// SessionStats aggregates usage across a session's turns, for
// getSessionStats.
type SessionStats struct {
	Turns        int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
	CacheRead    int
	CacheWrite   int
	TotalCost    float64
}

// GetSessionStats walks the transcript and totals token usage, turn
// count, and tool-call count.
func (c *Controller) GetSessionStats(ctx context.Context) (SessionStats, error) {
	entries, err := c.GetMessages(ctx)
	if err != nil {
		return SessionStats{}, err
	}
	var stats SessionStats
	for _, m := range entries {
		switch {
		case m.Assistant != nil:
			stats.Turns++
			stats.InputTokens += m.Assistant.Usage.Input
			stats.OutputTokens += m.Assistant.Usage.Output
			stats.CacheRead += m.Assistant.Usage.CacheRead
			stats.CacheWrite += m.Assistant.Usage.CacheWrite
			stats.TotalCost += m.Assistant.Usage.Cost
			stats.ToolCalls += len(m.Assistant.ToolCalls())
		}
	}
	return stats, nil
}

// ExportHtml renders the transcript as a minimal, self-contained HTML
// document: one block per message, text/thinking/tool-call/tool-result
// content escaped and labeled by role. It does not attempt markdown
// rendering (a front-end concern, out of scope here).
func (c *Controller) ExportHtml(ctx context.Context) (string, error) {
	entries, err := c.GetMessages(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>session ")
	b.WriteString(html.EscapeString(string(c.currentID())))
	b.WriteString("</title></head><body>\n")
	for _, m := range entries {
		writeMessageHTML(&b, m)
	}
	b.WriteString("</body></html>\n")
	return b.String(), nil
}

func writeMessageHTML(b *strings.Builder, m *models.Message) {
	fmt.Fprintf(b, "<section class=\"entry entry-%s\" data-entry-id=\"%d\">\n", m.Role, m.EntryID)
	fmt.Fprintf(b, "<h3>%s</h3>\n", html.EscapeString(string(m.Role)))

	switch {
	case m.User != nil:
		for _, block := range m.User.Content {
			writeBlockHTML(b, block)
		}
	case m.Assistant != nil:
		for _, block := range m.Assistant.Content {
			writeBlockHTML(b, block)
		}
		if m.Assistant.ErrorMessage != "" {
			fmt.Fprintf(b, "<p class=\"error\">%s</p>\n", html.EscapeString(m.Assistant.ErrorMessage))
		}
	case m.ToolResult != nil:
		for _, block := range m.ToolResult.Content {
			writeBlockHTML(b, block)
		}
	case m.BashExecution != nil:
		fmt.Fprintf(b, "<pre>$ %s\n%s</pre>\n",
			html.EscapeString(m.BashExecution.Command), html.EscapeString(m.BashExecution.Output))
	case m.PythonExecution != nil:
		fmt.Fprintf(b, "<pre>%s\n%s</pre>\n",
			html.EscapeString(m.PythonExecution.Code), html.EscapeString(m.PythonExecution.Output))
	case m.CompactionSummary != nil:
		fmt.Fprintf(b, "<p class=\"summary\">%s</p>\n", html.EscapeString(m.CompactionSummary.SummaryText))
	case m.Custom != nil:
		fmt.Fprintf(b, "<p class=\"custom\" data-custom-type=\"%s\"></p>\n", html.EscapeString(m.Custom.CustomType))
	}
	b.WriteString("</section>\n")
}

func writeBlockHTML(b *strings.Builder, block models.ContentBlock) {
	switch {
	case block.Text != nil:
		fmt.Fprintf(b, "<p>%s</p>\n", html.EscapeString(block.Text.Text))
	case block.Thinking != nil:
		fmt.Fprintf(b, "<p class=\"thinking\">%s</p>\n", html.EscapeString(block.Thinking.Text))
	case block.ToolCall != nil:
		fmt.Fprintf(b, "<pre class=\"tool-call\">%s(%s)</pre>\n",
			html.EscapeString(block.ToolCall.Name), html.EscapeString(string(block.ToolCall.Arguments)))
	case block.Image != nil:
		fmt.Fprintf(b, "<p class=\"image\">[image: %s]</p>\n", html.EscapeString(block.Image.MimeType))
	}
}
