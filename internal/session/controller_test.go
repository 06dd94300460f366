package session

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/agentcore/nexus/internal/models"
	"github.com/agentcore/nexus/internal/modelclient"
	"github.com/agentcore/nexus/internal/scheduler"
	"github.com/agentcore/nexus/internal/toolregistry"
	"github.com/agentcore/nexus/internal/transcript"
)

// scriptedClient replays one canned response per call to Stream, grounded
// on turnengine's own test fake of the same name.
type scriptedClient struct {
	api     string
	events  [][]modelclient.StreamEvent
	callIdx int
}

func (c *scriptedClient) API() string { return c.api }

func (c *scriptedClient) Stream(ctx context.Context, req modelclient.Request) (<-chan modelclient.StreamEvent, error) {
	idx := c.callIdx
	c.callIdx++
	if idx >= len(c.events) {
		idx = len(c.events) - 1
	}
	script := c.events[idx]
	ch := make(chan modelclient.StreamEvent, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (c *scriptedClient) CountTokens(ctx context.Context, messages []models.Message) (int, error) {
	return 0, nil
}

type echoWeatherTool struct{}

func (echoWeatherTool) Descriptor() models.Tool { return models.Tool{Name: "get_weather"} }

func (echoWeatherTool) Execute(ctx context.Context, toolCallID string, params json.RawMessage) (models.ToolResult, *models.PendingAction, error) {
	return models.ToolResultText(toolCallID, "18°C, partly cloudy in Tokyo"), nil, nil
}

func memoryFactory() StoreFactory {
	return func(ctx context.Context, id models.SessionID) (models.SessionID, transcript.Store, error) {
		if id == "" {
			id = models.SessionID("test-session")
		}
		return id, transcript.NewMemoryStore(""), nil
	}
}

func newTestController(t *testing.T, client modelclient.Client) *Controller {
	t.Helper()
	deps := Deps{
		Factory:      memoryFactory(),
		Clients:      modelclient.NewRegistry(client),
		DefaultAPI:   client.API(),
		DefaultModel: "claude",
	}
	c, err := New(context.Background(), deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func ptrBlock(b models.ContentBlock) *models.ContentBlock { return &b }

// waitForIdle polls the Scheduler until it returns to Idle or the timeout
// elapses, since driveTurn runs on its own goroutine.
func waitForIdle(t *testing.T, c *Controller, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		state := c.sched.State()
		c.mu.Unlock()
		if state == "idle" {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("controller did not return to idle within %s", timeout)
}

// TestSimpleReply checks that a plain text reply produces exactly a User
// then Assistant entry.
func TestSimpleReply(t *testing.T) {
	client := &scriptedClient{
		api: "anthropic",
		events: [][]modelclient.StreamEvent{
			{
				{Kind: modelclient.EventDelta, Block: ptrBlock(models.TextBlock("hi"))},
				{Kind: modelclient.EventDone, Message: &models.AssistantMessage{
					Content:    []models.ContentBlock{models.TextBlock("hi")},
					StopReason: models.StopReasonStop,
				}},
			},
		},
	}
	c := newTestController(t, client)
	c.Prompt("Say hi")
	waitForIdle(t, c, time.Second)

	msgs, err := c.GetMessages(context.Background())
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected exactly 2 entries, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser {
		t.Fatalf("expected first entry to be User, got %s", msgs[0].Role)
	}
	if msgs[1].Role != models.RoleAssistant || msgs[1].Assistant.Text() != "hi" {
		t.Fatalf("expected second entry Assistant text 'hi', got %+v", msgs[1])
	}
	if msgs[1].Assistant.StopReason != models.StopReasonStop {
		t.Fatalf("expected stop reason Stop, got %s", msgs[1].Assistant.StopReason)
	}
}

// TestToolRoundTrip exercises scenario 2: a tool call dispatch produces
// User, Assistant(toolCall), ToolResult, Assistant(text) in order, and the
// final assistant text contains the tool's output.
func TestToolRoundTrip(t *testing.T) {
	toolCall := models.ToolCallBlock("call-1", "get_weather", json.RawMessage(`{"location":"Tokyo"}`))
	client := &scriptedClient{
		api: "anthropic",
		events: [][]modelclient.StreamEvent{
			{
				{Kind: modelclient.EventDelta, Block: &toolCall},
				{Kind: modelclient.EventDone, Message: &models.AssistantMessage{
					Content:    []models.ContentBlock{toolCall},
					StopReason: models.StopReasonToolUse,
				}},
			},
			{
				{Kind: modelclient.EventDone, Message: &models.AssistantMessage{
					Content:    []models.ContentBlock{models.TextBlock("It's 18°C and partly cloudy in Tokyo right now.")},
					StopReason: models.StopReasonStop,
				}},
			},
		},
	}
	deps := Deps{
		Factory:      memoryFactory(),
		Clients:      modelclient.NewRegistry(client),
		Tools:        toolregistry.NewRegistry(),
		DefaultAPI:   "anthropic",
		DefaultModel: "claude",
	}
	deps.Tools.Register(echoWeatherTool{})
	c, err := New(context.Background(), deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Prompt("What's the weather in Tokyo?")
	waitForIdle(t, c, time.Second)

	msgs, err := c.GetMessages(context.Background())
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 entries, got %d: %+v", len(msgs), msgs)
	}
	wantRoles := []models.Role{models.RoleUser, models.RoleAssistant, models.RoleToolResult, models.RoleAssistant}
	for i, want := range wantRoles {
		if msgs[i].Role != want {
			t.Fatalf("entry %d: expected role %s, got %s", i, want, msgs[i].Role)
		}
	}
	finalText := msgs[3].Assistant.Text()
	if !strings.Contains(finalText, "18") || !strings.Contains(finalText, "Tokyo") {
		t.Fatalf("expected final text to mention 18 and Tokyo, got %q", finalText)
	}
}

// TestSteering exercises scenario 3: steering an in-flight turn aborts it
// and begins a new turn whose first message is the steering text.
func TestSteering(t *testing.T) {
	block := models.TextBlock("partial")
	client := &blockingScriptedClient{
		deliver: []modelclient.StreamEvent{
			{Kind: modelclient.EventDelta, Block: &block},
		},
		followUp: []modelclient.StreamEvent{
			{Kind: modelclient.EventDone, Message: &models.AssistantMessage{
				Content:    []models.ContentBlock{models.TextBlock("ok, doing X instead")},
				StopReason: models.StopReasonStop,
			}},
		},
	}
	c := newTestController(t, client)
	c.Prompt("start a long task")

	// Give the first delta time to land before steering.
	time.Sleep(20 * time.Millisecond)
	c.Steer("stop, do X instead")
	waitForIdle(t, c, 2*time.Second)

	msgs, err := c.GetMessages(context.Background())
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) < 3 {
		t.Fatalf("expected at least 3 entries (user, aborted assistant, steering user), got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser {
		t.Fatalf("expected first entry User, got %s", msgs[0].Role)
	}
	aborted := msgs[1]
	if aborted.Role != models.RoleAssistant || aborted.Assistant.StopReason != models.StopReasonAborted {
		t.Fatalf("expected second entry aborted Assistant, got %+v", aborted)
	}
	steerMsg := msgs[2]
	if steerMsg.Role != models.RoleUser {
		t.Fatalf("expected third entry User (steering), got %s", steerMsg.Role)
	}
	if steerMsg.User.Content[0].Text.Text != "stop, do X instead" {
		t.Fatalf("expected steering text preserved, got %q", steerMsg.User.Content[0].Text.Text)
	}
}

// blockingScriptedClient delivers `deliver` then hangs until ctx is
// cancelled (for the steered turn), and answers the next call with
// `followUp` (for the turn that begins after steering).
type blockingScriptedClient struct {
	deliver  []modelclient.StreamEvent
	followUp []modelclient.StreamEvent
	calls    int
}

func (c *blockingScriptedClient) API() string { return "anthropic" }

func (c *blockingScriptedClient) Stream(ctx context.Context, req modelclient.Request) (<-chan modelclient.StreamEvent, error) {
	c.calls++
	if c.calls > 1 {
		ch := make(chan modelclient.StreamEvent, len(c.followUp))
		for _, ev := range c.followUp {
			ch <- ev
		}
		close(ch)
		return ch, nil
	}
	ch := make(chan modelclient.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range c.deliver {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()
	return ch, nil
}

func (c *blockingScriptedClient) CountTokens(ctx context.Context, messages []models.Message) (int, error) {
	return 0, nil
}

// TestBranch exercises scenario 5: branching from entry 5 of a 10-entry
// session yields exactly 6 entries plus a BranchSummary, and appending to
// the branch never mutates the parent's entries.
func TestBranch(t *testing.T) {
	store := transcript.NewMemoryStore("")
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := store.Append(ctx, transcript.Entry{Kind: transcript.EntryMessage, Message: models.NewUserText("m")}); err != nil {
			t.Fatalf("seed append: %v", err)
		}
	}

	c := &Controller{
		deps:  Deps{Factory: memoryFactory()},
		hub:   newHub(),
		sched: scheduler.New(scheduler.DefaultConfig()),
		id:    "parent",
		store: store,
	}
	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())

	branchID, err := c.Branch(ctx, 6)
	if err != nil {
		t.Fatalf("Branch: %v", err)
	}
	if branchID == "parent" {
		t.Fatalf("expected a fresh branch session id")
	}

	branchEntries, err := c.store.Replay(ctx)
	if err != nil {
		t.Fatalf("replay branch: %v", err)
	}
	if len(branchEntries) != 7 {
		t.Fatalf("expected 6 seeded entries plus a BranchSummary (7 total), got %d", len(branchEntries))
	}

	branchMsgs, err := c.GetMessages(ctx)
	if err != nil {
		t.Fatalf("GetMessages on branch: %v", err)
	}
	if len(branchMsgs) != 6 {
		t.Fatalf("expected 6 message entries on the branch, got %d", len(branchMsgs))
	}

	parentEntries, err := store.Replay(ctx)
	if err != nil {
		t.Fatalf("replay parent: %v", err)
	}
	if len(parentEntries) != 10 {
		t.Fatalf("expected parent untouched at 10 entries, got %d", len(parentEntries))
	}
}
