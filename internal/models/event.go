package models

import "time"

// AgentEventType identifies the kind of AgentEvent.
type AgentEventType string

const (
	// Session/controller lifecycle.
	EventSession    AgentEventType = "session"
	EventAgentStart AgentEventType = "agent_start"
	EventAgentEnd   AgentEventType = "agent_end"

	// Turn lifecycle, emitted by the Streaming Turn Engine.
	EventTurnStart AgentEventType = "turn_start"
	EventPartial   AgentEventType = "partial"
	EventTurnEnd   AgentEventType = "turn_end"

	// Tool execution, emitted by the Tool Registry & Invoker.
	EventToolExecutionStart AgentEventType = "tool_execution_start"
	EventToolExecutionEnd   AgentEventType = "tool_execution_end"
	EventToolProgress       AgentEventType = "tool_progress"

	// Hook dispatch events, emitted by the Invoker/Controller on handler
	// invocation and carried through as first-class events.
	EventToolCall   AgentEventType = "tool_call"
	EventToolResult AgentEventType = "tool_result"

	// Scheduler/steering events.
	EventSteeringInjected AgentEventType = "steering_injected"
	EventFollowUpQueued   AgentEventType = "followup_queued"
	EventResolveReminder  AgentEventType = "resolve_reminder"

	// Compaction.
	EventCompactionStart AgentEventType = "compaction_start"
	EventCompactionEnd   AgentEventType = "compaction_end"

	// Errors, never fatal to the pipeline when the payload is a HookError.
	EventError AgentEventType = "error"
)

// AgentEvent is the unified, versioned event envelope the Session
// Controller fans out to subscribers. Exactly one payload field is non-nil
// for a given Type; Sequence is monotonic within a session for ordering
// guarantees across goroutines (concurrent tool calls, background fsync).
type AgentEvent struct {
	Version int            `json:"version"`
	Type    AgentEventType `json:"type"`
	Time    time.Time      `json:"time"`
	Seq     uint64         `json:"seq"`

	SessionID SessionID `json:"sessionId,omitempty"`
	TurnIndex int       `json:"turnIndex,omitempty"`

	Text     *TextEventPayload     `json:"text,omitempty"`
	Tool     *ToolEventPayload     `json:"tool,omitempty"`
	Stream   *StreamEventPayload   `json:"stream,omitempty"`
	Error    *ErrorEventPayload    `json:"error,omitempty"`
	Stats    *StatsEventPayload    `json:"stats,omitempty"`
	Steering *SteeringEventPayload `json:"steering,omitempty"`
	Turn     *TurnEventPayload     `json:"turn,omitempty"`
}

// TextEventPayload is generic human-readable text.
type TextEventPayload struct {
	Text string `json:"text"`
}

// StreamEventPayload carries one partial content delta.
type StreamEventPayload struct {
	Delta ContentBlock `json:"delta"`
}

// ToolEventPayload describes a tool-call/tool-result lifecycle event.
type ToolEventPayload struct {
	CallID  string      `json:"callId"`
	Name    string      `json:"name,omitempty"`
	Result  *ToolResult `json:"result,omitempty"`
	Blocked bool        `json:"blocked,omitempty"`
	Reason  string      `json:"reason,omitempty"`
}

// ErrorEventPayload standardizes errors carried on the event stream,
// including non-fatal HookError events.
type ErrorEventPayload struct {
	Message   string `json:"message"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Err       error  `json:"-"`
}

// StatsEventPayload carries aggregated run statistics.
type StatsEventPayload struct {
	Turns        int           `json:"turns,omitempty"`
	ToolCalls    int           `json:"toolCalls,omitempty"`
	InputTokens  int           `json:"inputTokens,omitempty"`
	OutputTokens int           `json:"outputTokens,omitempty"`
	WallTime     time.Duration `json:"wallTime,omitempty"`
}

// SteeringEventPayload describes steering/follow-up queue activity.
type SteeringEventPayload struct {
	Content string `json:"content,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// TurnEventPayload carries the terminal state of one turn.
type TurnEventPayload struct {
	Message     *AssistantMessage `json:"message,omitempty"`
	ToolResults []ToolResult      `json:"toolResults,omitempty"`
}
