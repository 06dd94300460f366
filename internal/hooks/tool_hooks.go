package hooks

import (
	"context"

	"github.com/agentcore/nexus/internal/models"
)

// DispatchToolCall runs the tool_call handlers for one invocation before
// the Invoker executes the tool. A Result.Block=true short-circuits
// execution into an error ToolResult carrying Result.Reason.
func (r *Registry) DispatchToolCall(ctx context.Context, sessionID models.SessionID, call models.ToolCallContent) *Result {
	event := NewEvent(EventToolCall, call.Name).
		WithSession(sessionID)
	event.ToolCallID = call.ID
	event.ToolName = call.Name
	return r.Dispatch(ctx, event)
}

// DispatchToolResult runs the tool_result handlers after a tool executes,
// applying any Content/Details/IsError replacement to result and returning
// the (possibly replaced) result.
func (r *Registry) DispatchToolResult(ctx context.Context, sessionID models.SessionID, toolName string, result models.ToolResult) models.ToolResult {
	event := NewEvent(EventToolResult, toolName).
		WithSession(sessionID)
	event.ToolCallID = result.ToolCallID
	event.ToolName = toolName
	event.ToolResult = &result

	merged := r.Dispatch(ctx, event)
	if merged.Content != nil {
		result.Content = merged.Content
	}
	if merged.Details != nil {
		result.Details = merged.Details
	}
	if merged.IsError != nil {
		result.IsError = *merged.IsError
	}
	return result
}

// DispatchSessionTransition runs the session.before_* handlers for a
// pending lifecycle transition. It returns false if any handler vetoed
// the transition with Result.Cancel=true.
func (r *Registry) DispatchSessionTransition(ctx context.Context, eventType EventType, sessionID models.SessionID) bool {
	event := NewEvent(eventType, "").WithSession(sessionID)
	return !r.Dispatch(ctx, event).Cancel
}
