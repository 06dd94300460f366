package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentcore/nexus/internal/audit"
	"github.com/agentcore/nexus/internal/compaction"
	"github.com/agentcore/nexus/internal/hooks"
	"github.com/agentcore/nexus/internal/modelcatalog"
	"github.com/agentcore/nexus/internal/modelclient"
	"github.com/agentcore/nexus/internal/models"
	"github.com/agentcore/nexus/internal/observability"
	"github.com/agentcore/nexus/internal/pending"
	"github.com/agentcore/nexus/internal/scheduler"
	"github.com/agentcore/nexus/internal/toolregistry"
	"github.com/agentcore/nexus/internal/transcript"
	"github.com/agentcore/nexus/internal/turnengine"
)

// ShutdownGrace is how long a lifecycle transition (newSession, branch,
// switchSession, final shutdown) waits for an in-flight exchange to exit
// on its own after being aborted before proceeding regardless.
const ShutdownGrace = 10 * time.Second

// ThinkingLevel is the coarse knob setThinkingLevel exposes; the
// Controller translates it into a provider-agnostic token budget at the
// top of each turn.
type ThinkingLevel string

const (
	ThinkingOff    ThinkingLevel = "off"
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

func thinkingBudget(level ThinkingLevel) (enabled bool, budget int) {
	switch level {
	case ThinkingLow:
		return true, 2048
	case ThinkingMedium:
		return true, 8192
	case ThinkingHigh:
		return true, 24576
	default:
		return false, 0
	}
}

// StoreFactory opens (creating if necessary) the transcript.Store for id.
// An empty id asks the factory to mint a fresh one. The Session Controller
// never constructs a transcript.Store directly so that tests can swap in
// transcript.NewMemoryStore while cmd/agentcore wires up FileStore against
// the configured session directory.
type StoreFactory func(ctx context.Context, id models.SessionID) (models.SessionID, transcript.Store, error)

// Deps bundles every collaborator the Session Controller orchestrates.
// Fields left nil get a minimal default so tests can construct a Controller
// with only the pieces a given scenario exercises.
type Deps struct {
	Factory StoreFactory

	Tools   *toolregistry.Registry
	Clients *modelclient.Registry
	Catalog *modelcatalog.Catalog

	Hooks *hooks.Registry

	CompactionPolicy compaction.Policy
	Compactor        *compaction.Engine

	SchedulerConfig scheduler.Config

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
	Audit   *audit.Logger

	DefaultAPI           string
	DefaultModel         string
	ModelCandidates      []string
	SystemPrompt         string
	MaxTokens            int
	AutoRetry            bool
	MaxRetries           int
	DefaultContextWindow int
}

// Controller is the Session Controller: the single-writer orchestrator
// owning one live Session at a time, its Scheduler, the Streaming Turn
// Engine, the Compaction Engine, the Pending Action Store, and the Hook
// Dispatch registry, fanning out one ordered AgentEvent stream to any
// number of subscribers. Grounded on
// internal/agent.Runtime top-level Process/ProcessStream orchestration and
// internal/agent/event_emitter.go's sequencing discipline.
type Controller struct {
	deps Deps

	hub   *hub
	sched *scheduler.Scheduler

	pending *pending.Store
	tools   *toolregistry.Registry
	invoker *toolregistry.Invoker
	engine  *turnengine.Engine

	hooksReg *hooks.Registry

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu         sync.Mutex
	id         models.SessionID
	store      transcript.Store
	cwd        string
	api        string
	model      string
	thinking   ThinkingLevel
	candidates []string
	candIdx    int
	autoComp   bool
	degraded   error
	turnIndex  int

	sessionStart time.Time
}

// New constructs a Controller with a fresh session opened through
// deps.Factory. Deps fields left zero get safe defaults: an empty
// ToolRegistry, a no-op hook Registry, and scheduler.DefaultConfig.
func New(ctx context.Context, deps Deps) (*Controller, error) {
	if deps.Factory == nil {
		return nil, fmt.Errorf("session: Deps.Factory is required")
	}
	if deps.Tools == nil {
		deps.Tools = toolregistry.NewRegistry()
	}
	if deps.Hooks == nil {
		deps.Hooks = hooks.NewRegistry(nil, nil)
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.LogConfig{Level: "info", Format: "text"})
	}
	if deps.CompactionPolicy == (compaction.Policy{}) {
		deps.CompactionPolicy = compaction.DefaultPolicy()
	}
	if deps.DefaultContextWindow == 0 {
		deps.DefaultContextWindow = 200_000
	}

	id, store, err := deps.Factory(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("session: open initial store: %w", err)
	}

	pendingStore := pending.New()
	invoker := toolregistry.NewInvoker(deps.Tools, deps.Hooks, pendingStore)
	engine := turnengine.NewEngine(deps.Clients, deps.Tools, invoker)
	if deps.Metrics != nil {
		invoker.SetMetrics(deps.Metrics)
		engine.SetMetrics(deps.Metrics)
	}
	if deps.Tracer != nil {
		invoker.SetTracer(deps.Tracer)
		engine.SetTracer(deps.Tracer)
	}

	c := &Controller{
		deps:       deps,
		hub:        newHub(),
		sched:      scheduler.New(deps.SchedulerConfig),
		pending:    pendingStore,
		tools:      deps.Tools,
		invoker:    invoker,
		engine:     engine,
		hooksReg:   deps.Hooks,
		id:         id,
		store:      store,
		api:        deps.DefaultAPI,
		model:      deps.DefaultModel,
		thinking:   ThinkingOff,
		candidates:   deps.ModelCandidates,
		autoComp:     deps.CompactionPolicy.AutoEnabled,
		sessionStart: time.Now(),
	}
	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())
	if deps.Metrics != nil {
		deps.Metrics.SessionStarted()
	}
	return c, nil
}

// ID returns the currently live session's identifier.
func (c *Controller) ID() models.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Subscribe registers a new event listener, returning its channel and an
// unsubscribe function. Buffer sizes of 0 or less use
// DefaultSubscriberBuffer.
func (c *Controller) Subscribe(bufferSize int) (<-chan models.AgentEvent, func()) {
	return c.hub.subscribe(bufferSize)
}

// SetModel mutates the api/model used for the next turn; an in-flight turn
// keeps running with whatever it already started with.
func (c *Controller) SetModel(api, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.api = api
	c.model = model
}

// CycleModel advances to the next entry in Deps.ModelCandidates, wrapping
// around, and returns the model now selected. A nil/empty candidate list
// leaves the current model unchanged.
func (c *Controller) CycleModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.candidates) == 0 {
		return c.model
	}
	c.candIdx = (c.candIdx + 1) % len(c.candidates)
	c.model = c.candidates[c.candIdx]
	return c.model
}

// SetThinkingLevel mutates the extended-thinking budget used for the next
// turn.
func (c *Controller) SetThinkingLevel(level ThinkingLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thinking = level
}

// SetAutoCompaction toggles automatic compaction triggering after each
// exchange.
func (c *Controller) SetAutoCompaction(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoComp = enabled
}

// SetCwd updates the working directory tools execute against for future
// turns.
func (c *Controller) SetCwd(cwd string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cwd = cwd
}

func (c *Controller) snapshotTurnConfig() (api, model string, enableThinking bool, thinkingBudgetTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	enable, budget := thinkingBudget(c.thinking)
	return c.api, c.model, enable, budget
}

// Prompt is the prompt(text) intake: starts a new turn immediately if the
// session is idle, otherwise behaves per Scheduler InterruptMode.
func (c *Controller) Prompt(text string) {
	c.dispatch(c.sched.Prompt(models.NewUserText(text)))
}

// Steer is the steer(text) intake: always interrupts an in-flight turn.
func (c *Controller) Steer(text string) {
	c.dispatch(c.sched.Steer(models.NewUserText(text)))
}

// FollowUp is the followUp(text) intake: always queues to run after the
// current turn completes naturally.
func (c *Controller) FollowUp(text string) {
	c.dispatch(c.sched.FollowUp(models.NewUserText(text)))
}

// QueueMessage unconditionally enqueues text as a follow-up, for callers
// outside the turn lifecycle (e.g. an RPC client queuing work while no
// session is attached to a live terminal).
func (c *Controller) QueueMessage(text string) {
	c.sched.QueueMessage(models.NewUserText(text))
}

// Abort cancels the in-flight turn, if any, without queuing a message.
func (c *Controller) Abort() bool {
	return c.sched.Abort()
}

func (c *Controller) dispatch(outcome scheduler.Outcome) {
	switch outcome.Action {
	case scheduler.ActionStartTurn:
		c.beginTurnFor(outcome.Message)
	case scheduler.ActionSteered:
		c.hub.emit(models.AgentEvent{
			Type:     models.EventSteeringInjected,
			Steering: &models.SteeringEventPayload{Content: textOf(outcome.Message)},
		})
	case scheduler.ActionQueued:
		c.hub.emit(models.AgentEvent{
			Type:     models.EventFollowUpQueued,
			Steering: &models.SteeringEventPayload{Content: textOf(outcome.Message)},
		})
	}
}

func textOf(msg *models.Message) string {
	if msg == nil || msg.User == nil {
		return ""
	}
	var out string
	for _, b := range msg.User.Content {
		if b.Text != nil {
			out += b.Text.Text
		}
	}
	return out
}

func (c *Controller) beginTurnFor(msg *models.Message) {
	turnCtx, cancel := context.WithCancel(c.rootCtx)
	if !c.sched.BeginTurn(cancel) {
		// Not actually Idle (a race against another caller's dispatch
		// beat us to it); fall back to queuing rather than dropping msg.
		c.sched.QueueMessage(msg)
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.driveTurn(turnCtx, msg)
	}()
}

// driveTurn runs one full exchange (one or more engine turns chained while
// the model keeps issuing tool calls) starting from msg, then hands control
// back to the Scheduler and checks for follow-on work.
func (c *Controller) driveTurn(ctx context.Context, msg *models.Message) {
	start := time.Now()
	c.hub.emit(models.AgentEvent{Type: models.EventAgentStart})
	c.runExchange(ctx, msg)
	c.sched.EndTurn()
	c.hub.emit(models.AgentEvent{Type: models.EventAgentEnd})

	if c.deps.Metrics != nil {
		outcome := "completed"
		if c.Degraded() != nil {
			outcome = "error"
		}
		c.deps.Metrics.RecordTurn(outcome, time.Since(start).Seconds())
	}

	c.afterExchange()
}

func (c *Controller) runExchange(ctx context.Context, first *models.Message) {
	msg := first
	for {
		if _, err := c.appendMessage(ctx, msg); err != nil {
			c.degrade(err)
			return
		}

		conversation, err := c.buildConversation(ctx)
		if err != nil {
			c.degrade(err)
			return
		}

		api, model, enableThinking, thinkingBudgetTokens := c.snapshotTurnConfig()
		c.mu.Lock()
		turnIdx := c.turnIndex
		c.turnIndex++
		maxTokens := c.deps.MaxTokens
		sysPrompt := c.deps.SystemPrompt
		autoRetry := c.deps.AutoRetry
		maxRetries := c.deps.MaxRetries
		c.mu.Unlock()

		req := turnengine.Request{
			SessionID:            c.currentID(),
			TurnIndex:            turnIdx,
			API:                  api,
			Model:                model,
			SystemPrompt:         sysPrompt,
			Conversation:         conversation,
			Tools:                c.tools.List(),
			MaxTokens:            maxTokens,
			EnableThinking:       enableThinking,
			ThinkingBudgetTokens: thinkingBudgetTokens,
			AutoRetry:            autoRetry,
			MaxRetries:           maxRetries,
		}

		turnCtx := ctx
		var endSpan func()
		if c.deps.Tracer != nil {
			var span trace.Span
			turnCtx, span = c.deps.Tracer.TraceTurn(turnCtx, string(req.SessionID), turnIdx)
			endSpan = span.End
		}

		var result *models.AssistantMessage
		var toolResults []models.ToolResult
		for ev := range c.engine.Run(turnCtx, req) {
			c.hub.emit(ev)
			if ev.Type == models.EventToolExecutionEnd && ev.Tool != nil && ev.Tool.Result != nil && ev.Tool.Result.IsError {
				if c.deps.Metrics != nil {
					c.deps.Metrics.RecordError("tool", ev.Tool.Name)
				}
			}
			if ev.Type == models.EventTurnEnd && ev.Turn != nil {
				result = ev.Turn.Message
				toolResults = ev.Turn.ToolResults
			}
		}
		if endSpan != nil {
			endSpan()
		}
		if result == nil {
			c.degrade(fmt.Errorf("session: turn engine produced no terminal event"))
			return
		}

		if _, err := c.appendMessage(ctx, models.NewAssistantMessage(result)); err != nil {
			c.degrade(err)
			return
		}
		for _, tr := range toolResults {
			if _, err := c.appendMessage(ctx, tr.ToMessage()); err != nil {
				c.degrade(err)
				return
			}
		}

		if ctx.Err() != nil || result.StopReason != models.StopReasonToolUse {
			return
		}

		// The model issued tool calls and saw their results appended
		// above; let it continue in a fresh turn within the same
		// exchange. A new cancellable context is rebound onto the
		// Scheduler so a steer() arriving now interrupts this next
		// turn specifically, not some already-finished one.
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(c.rootCtx)
		c.sched.RebindCancel(cancel)
		msg = nil
	}
}

// appendMessage persists msg, stamping its EntryID from the store's
// assigned Entry.ID (not mutating the stored copy; FileStore serializes
// synchronously inside Append so the Message's own EntryID field would
// otherwise round-trip as zero).
func (c *Controller) appendMessage(ctx context.Context, msg *models.Message) (models.EntryID, error) {
	if msg == nil {
		return 0, nil
	}
	c.mu.Lock()
	store := c.store
	sessionID := c.id
	c.mu.Unlock()

	id, err := store.Append(ctx, transcript.Entry{Kind: transcript.EntryMessage, Message: msg})
	if err != nil {
		return 0, &models.PersistenceError{SessionID: sessionID, Op: "append", Cause: err}
	}
	return id, nil
}

func (c *Controller) currentID() models.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// degrade records a PersistenceError and refuses further mutation until
// explicitly reset: a PersistenceError surfaces to the caller and the
// session enters a degraded state.
func (c *Controller) degrade(err error) {
	c.mu.Lock()
	c.degraded = err
	c.mu.Unlock()
	c.hub.emit(models.AgentEvent{
		Type:  models.EventError,
		Error: &models.ErrorEventPayload{Message: err.Error(), Kind: "persistence", Err: err},
	})
	if c.deps.Logger != nil {
		c.deps.Logger.Error(context.Background(), "session entered degraded state", "error", err)
	}
	if c.deps.Audit != nil {
		c.deps.Audit.LogError(context.Background(), audit.EventAgentError, "degrade", err.Error(), nil, string(c.currentID()))
	}
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordError("session", "persistence")
		c.deps.Metrics.RecordSessionStuck()
	}
}

// Degraded reports the error that put the session into a degraded state,
// or nil if it is healthy.
func (c *Controller) Degraded() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Reset clears a degraded state, allowing mutation to resume. The caller
// is responsible for having confirmed the underlying I/O problem is gone.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.degraded = nil
}

// afterExchange runs after every exchange settles: the resolve-reminder
// invariant, the auto-compaction check, and draining whatever work the
// Scheduler queued while the exchange was running.
func (c *Controller) afterExchange() {
	if c.degraded != nil {
		return
	}

	if c.pending.Size() > 0 {
		count := c.pending.Size()
		c.sched.InjectResolveReminder(count)
		c.hub.emit(models.AgentEvent{
			Type:     models.EventResolveReminder,
			Steering: &models.SteeringEventPayload{Count: count},
		})
	}

	if c.deps.Metrics != nil {
		c.deps.Metrics.SetPendingQueueDepth(c.pending.Size())
		steering, followUp := c.sched.QueueDepths()
		c.deps.Metrics.SetSchedulerQueueDepth("steering", steering)
		c.deps.Metrics.SetSchedulerQueueDepth("follow_up", followUp)
	}

	c.maybeAutoCompact()

	var next *models.Message
	switch {
	case c.sched.HasSteering():
		drained := c.sched.DrainSteering()
		next = drained[0]
		c.requeueFollowUps(drained[1:])
	case c.sched.HasFollowUp():
		drained := c.sched.DrainFollowUp()
		next = drained[0]
		c.requeueFollowUps(drained[1:])
	}
	if next == nil {
		return
	}
	c.beginTurnFor(next)
}

func (c *Controller) requeueFollowUps(extra []*models.Message) {
	for _, m := range extra {
		c.sched.QueueMessage(m)
	}
}

// buildConversation replays the transcript and returns the messages that
// should be sent to the model for the next turn: every non-excluded
// message at or after the most recent compaction's cut point, or the
// entire history when the session has never been compacted.
func (c *Controller) buildConversation(ctx context.Context) ([]models.Message, error) {
	c.mu.Lock()
	store := c.store
	c.mu.Unlock()

	entries, err := store.Replay(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay transcript: %w", err)
	}

	var cutPoint models.EntryID
	for _, e := range entries {
		if e.Kind == transcript.EntryCompaction && e.Compact != nil {
			cutPoint = e.Compact.CutPointEntryID
		}
	}

	out := make([]models.Message, 0, len(entries))
	for _, e := range entries {
		if e.Kind != transcript.EntryMessage || e.Message == nil {
			continue
		}
		if e.Message.ExcludeFromContext {
			continue
		}
		if cutPoint > 0 && e.ID < cutPoint {
			continue
		}
		m := *e.Message
		m.EntryID = e.ID
		out = append(out, m)
	}
	return out, nil
}

// GetMessages returns every persisted message entry in transcript order.
func (c *Controller) GetMessages(ctx context.Context) ([]*models.Message, error) {
	c.mu.Lock()
	store := c.store
	c.mu.Unlock()

	entries, err := store.Replay(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay transcript: %w", err)
	}
	out := make([]*models.Message, 0, len(entries))
	for _, e := range entries {
		if e.Kind != transcript.EntryMessage || e.Message == nil {
			continue
		}
		m := *e.Message
		m.EntryID = e.ID
		out = append(out, &m)
	}
	return out, nil
}

// contextWindow returns the context window for the currently configured
// model, falling back to Deps.DefaultContextWindow when the model isn't in
// the catalog (e.g. a local/custom model).
func (c *Controller) contextWindow() int {
	c.mu.Lock()
	model := c.model
	fallback := c.deps.DefaultContextWindow
	catalog := c.deps.Catalog
	c.mu.Unlock()

	if catalog == nil {
		catalog = modelcatalog.DefaultCatalog
	}
	if m, ok := catalog.Get(model); ok && m.ContextWindow > 0 {
		return m.ContextWindow
	}
	return fallback
}

// newBranchID is split out so tests can observe the naming convention
// without depending on uuid randomness for the fresh-session case.
func newSessionID() models.SessionID {
	return models.SessionID(uuid.NewString())
}
