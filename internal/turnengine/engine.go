// Package turnengine implements the Streaming Turn Engine: it drives one
// request/response cycle with a model, emitting incremental events,
// dispatching any tool calls the model issues, and producing exactly one
// canonical AssistantMessage per turn. Grounded on
// internal/agent.AgenticLoop.streamPhase/executeToolsPhase (channel-based
// ResponseChunk streaming, goroutine-per-tool-call dispatch) generalized
// from a single CompletionMessage/ResponseChunk shape onto the
// models.AgentEvent/models.AssistantMessage contract used here.
package turnengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/agentcore/nexus/internal/backoff"
	"github.com/agentcore/nexus/internal/modelclient"
	"github.com/agentcore/nexus/internal/models"
	"github.com/agentcore/nexus/internal/observability"
	"github.com/agentcore/nexus/internal/toolregistry"
)

// DefaultMaxRetries bounds transport-failure retries before any content has
// arrived.
const DefaultMaxRetries = 5

// DefaultRetryPolicy is the Turn Engine's backoff policy: base 500ms,
// factor 2, cap 30s. Jitter is applied by internal/backoff as a fraction of
// the base delay (±25% here).
var DefaultRetryPolicy = backoff.BackoffPolicy{
	InitialMs: 500,
	MaxMs:     30000,
	Factor:    2,
	Jitter:    0.25,
}

// Request is one turn's worth of input.
type Request struct {
	SessionID models.SessionID
	TurnIndex int

	API          string
	Model        string
	SystemPrompt string

	Conversation []models.Message
	Tools        []models.Tool

	MaxTokens            int
	EnableThinking       bool
	ThinkingBudgetTokens int

	APIKey string

	// AutoRetry additionally retries ProviderError/TransportError that
	// Classify() marks transient (429/503) once partial content has
	// already been emitted; otherwise such errors are terminal, matching
	// §4.4's "once any partial has been emitted, failures are surfaced as
	// Error" contract.
	AutoRetry bool

	// MaxRetries overrides DefaultMaxRetries when positive.
	MaxRetries int
}

// Engine drives one turn against a modelclient.Registry, dispatching tool
// calls through a toolregistry.Invoker and surfacing a models.AgentEvent
// stream to the caller (the Queue & Steering Scheduler / Session
// Controller).
type Engine struct {
	clients  *modelclient.Registry
	registry *toolregistry.Registry
	invoker  *toolregistry.Invoker

	retryPolicy backoff.BackoffPolicy

	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewEngine wires a model client registry, tool registry (for Serialize
// lookups), and invoker into one turn driver.
func NewEngine(clients *modelclient.Registry, registry *toolregistry.Registry, invoker *toolregistry.Invoker) *Engine {
	return &Engine{
		clients:     clients,
		registry:    registry,
		invoker:     invoker,
		retryPolicy: DefaultRetryPolicy,
	}
}

// WithRetryPolicy overrides the default backoff policy, returning the
// engine for chaining.
func (e *Engine) WithRetryPolicy(policy backoff.BackoffPolicy) *Engine {
	e.retryPolicy = policy
	return e
}

// SetMetrics wires a metrics recorder so model requests and retry attempts
// report duration, token usage, and outcome counters.
func (e *Engine) SetMetrics(metrics *observability.Metrics) {
	e.metrics = metrics
}

// SetTracer wires a tracer so each model request produces a span.
func (e *Engine) SetTracer(tracer *observability.Tracer) {
	e.tracer = tracer
}

// Result is what Run ultimately produces: the canonical AssistantMessage
// and the ToolResults appended during dispatch, in the order the tools
// returned (not the order they were called).
type Result struct {
	Message     *models.AssistantMessage
	ToolResults []models.ToolResult
}

// Run executes one turn end to end. The returned channel is ordered per
// §4.4: turn_start, a sequence of partial events, tool_execution_start/end
// events interleaved once tool calls are dispatched, and a terminal
// turn_end carrying the finished AssistantMessage and its ToolResults. The
// channel is closed after turn_end. Run never assigns AgentEvent.Seq; the
// Session Controller stamps sequence numbers as it fans events out.
func (e *Engine) Run(ctx context.Context, req Request) <-chan models.AgentEvent {
	events := make(chan models.AgentEvent, 64)

	go func() {
		defer close(events)

		emit := func(ev models.AgentEvent) {
			ev.SessionID = req.SessionID
			ev.TurnIndex = req.TurnIndex
			ev.Time = time.Now()
			// Prefer a non-blocking send: once ctx is cancelled, a select
			// between a ready buffered send and ctx.Done() picks randomly,
			// which could silently drop the terminal turn_end event.
			select {
			case events <- ev:
				return
			default:
			}
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		emit(models.AgentEvent{Type: models.EventTurnStart})

		message := e.stream(ctx, req, emit)

		var toolResults []models.ToolResult
		if message.StopReason == models.StopReasonToolUse {
			calls := message.ToolCalls()
			toolResults = e.dispatchTools(ctx, req.SessionID, calls, emit)
		}

		emit(models.AgentEvent{
			Type: models.EventTurnEnd,
			Turn: &models.TurnEventPayload{Message: message, ToolResults: toolResults},
		})
	}()

	return events
}

// RunSync drains Run to completion and returns just the terminal Result,
// for callers that don't need the intermediate event stream (offline
// replay, one-shot CLI invocations). The Session Controller uses Run
// directly to fan events out live.
func (e *Engine) RunSync(ctx context.Context, req Request) Result {
	var result Result
	for ev := range e.Run(ctx, req) {
		if ev.Type == models.EventTurnEnd && ev.Turn != nil {
			result.Message = ev.Turn.Message
			result.ToolResults = ev.Turn.ToolResults
		}
	}
	return result
}

// stream calls the model, retrying transport failures that occur before
// any content has arrived, and returns the canonical AssistantMessage for
// the turn (Stop/ToolUse/MaxTokens/Error/Aborted).
func (e *Engine) stream(ctx context.Context, req Request, emit func(models.AgentEvent)) *models.AssistantMessage {
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	acc := newAccumulator()
	attempt := 0

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.TraceModelRequest(ctx, req.API, req.Model)
		defer span.End()
	}

	for {
		attempt++
		hasPartial := acc.hasContent()

		clientReq := modelclient.Request{
			API:                  req.API,
			Model:                req.Model,
			System:               req.SystemPrompt,
			Messages:             req.Conversation,
			Tools:                req.Tools,
			MaxTokens:            req.MaxTokens,
			EnableThinking:       req.EnableThinking,
			ThinkingBudgetTokens: req.ThinkingBudgetTokens,
			APIKey:               req.APIKey,
		}

		requestStart := time.Now()
		stream, err := e.clients.Stream(ctx, clientReq)
		if err != nil {
			if msg, retry := e.handleStreamError(ctx, err, req, attempt, maxRetries, hasPartial); !retry {
				e.recordAttempt("failed")
				e.recordModelRequest(req, "error", time.Since(requestStart).Seconds(), models.Usage{})
				return msg
			}
			e.recordAttempt("retry")
			continue
		}

		message, outcome := e.drain(ctx, stream, acc, emit)
		duration := time.Since(requestStart).Seconds()
		switch outcome {
		case drainDone:
			e.recordAttempt("success")
			e.recordModelRequest(req, "success", duration, message.Usage)
			return message
		case drainAborted:
			e.recordAttempt("aborted")
			e.recordModelRequest(req, "aborted", duration, message.Usage)
			return message
		case drainError:
			if msg, retry := e.handleStreamError(ctx, fmt.Errorf("%s", message.ErrorMessage), req, attempt, maxRetries, acc.hasContent()); !retry {
				e.recordAttempt("failed")
				e.recordModelRequest(req, "error", duration, models.Usage{})
				return msg
			}
			e.recordAttempt("retry")
		}
	}
}

func (e *Engine) recordAttempt(status string) {
	if e.metrics != nil {
		e.metrics.RecordRunAttempt(status)
	}
}

func (e *Engine) recordModelRequest(req Request, status string, durationSeconds float64, usage models.Usage) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordModelRequest(req.API, req.Model, status, durationSeconds, usage.Input, usage.Output, usage.CacheRead, usage.CacheWrite)
	if usage.Cost > 0 {
		e.metrics.RecordModelCost(req.API, req.Model, usage.Cost)
	}
	if usage.Total > 0 {
		e.metrics.RecordContextWindow(req.API, req.Model, usage.Total)
	}
}

type drainOutcome int

const (
	drainDone drainOutcome = iota
	drainError
	drainAborted
)

// drain consumes one stream attempt, forwarding partial events and
// accumulating fragments so a cancellation can still produce a faithful
// partial AssistantMessage.
func (e *Engine) drain(ctx context.Context, stream <-chan modelclient.StreamEvent, acc *accumulator, emit func(models.AgentEvent)) (*models.AssistantMessage, drainOutcome) {
	for {
		select {
		case <-ctx.Done():
			return acc.toAborted(), drainAborted
		case ev, ok := <-stream:
			if !ok {
				return acc.toAborted(), drainAborted
			}
			switch ev.Kind {
			case modelclient.EventStart:
				// No canonical state change; informational only.
			case modelclient.EventDelta:
				if ev.Block != nil {
					acc.append(*ev.Block)
					emit(models.AgentEvent{
						Type:   models.EventPartial,
						Stream: &models.StreamEventPayload{Delta: *ev.Block},
					})
				}
			case modelclient.EventDone:
				if ev.Message != nil {
					return ev.Message, drainDone
				}
				return acc.toAborted(), drainAborted
			case modelclient.EventError:
				msg := acc.toError(errString(ev.Err))
				return msg, drainError
			}
		}
	}
}

// handleStreamError decides whether to retry or return a terminal
// AssistantMessage for a connection-establishment failure (Stream itself
// returned an error rather than yielding an EventError on the channel).
func (e *Engine) handleStreamError(ctx context.Context, err error, req Request, attempt, maxRetries int, hasPartial bool) (*models.AssistantMessage, bool) {
	if ctx.Err() != nil {
		return &models.AssistantMessage{
			StopReason:   models.StopReasonAborted,
			ErrorMessage: "Request was aborted",
		}, false
	}

	class := models.Classify(err)
	retryable := !hasPartial && attempt < maxRetries && (class.IsRetryable() || req.AutoRetry)
	if !retryable {
		return &models.AssistantMessage{
			StopReason:   models.StopReasonError,
			ErrorMessage: err.Error(),
		}, false
	}

	delay := backoff.ComputeBackoff(e.retryPolicy, attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, false
	case <-timer.C:
		return nil, true
	}
}

func errString(err error) string {
	if err == nil {
		return "unknown transport error"
	}
	return err.Error()
}

// dispatchTools runs every tool call from one turn, in parallel unless a
// tool's descriptor sets Serialize, in which case serialized calls
// contend on a shared mutex while the rest proceed concurrently.
// tool_execution_start events fire in call order; tool_execution_end and
// the returned ToolResults reflect completion order, per §5's ordering
// guarantee.
func (e *Engine) dispatchTools(ctx context.Context, sessionID models.SessionID, calls []models.ToolCallContent, emit func(models.AgentEvent)) []models.ToolResult {
	if len(calls) == 0 {
		return nil
	}

	results := make(chan models.ToolResult, len(calls))
	var wg sync.WaitGroup
	var serialMu sync.Mutex

	for _, call := range calls {
		call := call
		emit(models.AgentEvent{
			Type: models.EventToolExecutionStart,
			Tool: &models.ToolEventPayload{CallID: call.ID, Name: call.Name},
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.isSerialize(call.Name) {
				serialMu.Lock()
				defer serialMu.Unlock()
			}
			result := e.invoker.Invoke(ctx, sessionID, call.ID, call.Name, call.Arguments)
			emit(models.AgentEvent{
				Type: models.EventToolExecutionEnd,
				Tool: &models.ToolEventPayload{CallID: call.ID, Name: call.Name, Result: &result},
			})
			results <- result
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]models.ToolResult, 0, len(calls))
	for r := range results {
		out = append(out, r)
	}
	return out
}

func (e *Engine) isSerialize(name string) bool {
	if e.registry == nil {
		return false
	}
	tool, ok := e.registry.Lookup(name)
	if !ok {
		return false
	}
	return tool.Descriptor().Serialize
}
