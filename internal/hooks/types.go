// Package hooks provides an event-driven handler registry for the Agent
// Session Core's lifecycle and tool-call/tool-result events, with
// per-event-kind result merging and handler-failure isolation.
package hooks

import (
	"context"
	"time"

	"github.com/agentcore/nexus/internal/models"
)

// EventType identifies the category of hook event.
type EventType string

const (
	// Tool events, emitted by the Tool Registry & Invoker around each call.
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"

	// Session lifecycle events, emitted by the Session Controller before a
	// state transition; a handler returning Cancel=true vetoes it.
	EventSessionBeforeNew      EventType = "session.before_new"
	EventSessionBeforeBranch   EventType = "session.before_branch"
	EventSessionBeforeSwitch   EventType = "session.before_switch"
	EventSessionBeforeShutdown EventType = "session.before_shutdown"

	// Turn/agent lifecycle, informational only (no merge semantics).
	EventAgentStart EventType = "agent_start"
	EventAgentEnd   EventType = "agent_end"
	EventTurnStart  EventType = "turn_start"
	EventTurnEnd    EventType = "turn_end"
)

// Event is what a registered Handler receives. CustomType is the second
// half of the (eventKind, customType) registration key — for
// tool events it is conventionally the tool name, so a handler can scope
// itself to one tool; empty matches any.
type Event struct {
	Type       EventType `json:"type"`
	CustomType string    `json:"customType,omitempty"`
	SessionID  models.SessionID `json:"sessionId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolResult *models.ToolResult `json:"toolResult,omitempty"`

	Message *models.Message `json:"message,omitempty"`

	Context map[string]any `json:"context,omitempty"`
}

// Result is what a Handler returns. Which fields are honored depends on
// the Event's Type; see Registry.Dispatch for the merge rules.
type Result struct {
	// Block, for tool_call events, short-circuits execution into an error
	// ToolResult carrying Reason. First handler to set Block=true wins;
	// later handlers are skipped.
	Block  bool
	Reason string

	// Content/Details/IsError, for tool_result events, replace the
	// corresponding field on the result seen by the next handler.
	Content []models.ContentBlock
	Details map[string]any
	IsError *bool

	// Cancel, for session.before_* events, vetoes the pending transition.
	Cancel bool
}

// Handler processes one hook event and optionally returns a Result
// influencing how the pipeline proceeds. Handlers should be fast; a
// long-running handler blocks the turn that triggered it.
type Handler func(ctx context.Context, event *Event) (*Result, error)

// Priority determines the order handlers are called within one event key;
// lower values run first.
type Priority int

const (
	PriorityHighest Priority = 0
	PriorityHigh    Priority = 25
	PriorityNormal  Priority = 50
	PriorityLow     Priority = 75
	PriorityLowest  Priority = 100
)

// Registration represents a registered handler.
type Registration struct {
	ID       string
	EventKey string
	Handler  Handler
	Priority Priority
	Name     string
	Source   string
}

// NewEvent creates a new event with the timestamp set to now.
func NewEvent(eventType EventType, customType string) *Event {
	return &Event{
		Type:       eventType,
		CustomType: customType,
		Timestamp:  time.Now(),
		Context:    make(map[string]any),
	}
}

// WithSession sets the session ID on the event, returning it for chaining.
func (e *Event) WithSession(id models.SessionID) *Event {
	e.SessionID = id
	return e
}

// WithMessage sets the associated message on the event.
func (e *Event) WithMessage(msg *models.Message) *Event {
	e.Message = msg
	return e
}

// WithContext adds one key/value pair to the event's context map.
func (e *Event) WithContext(key string, value any) *Event {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
