// Package models defines the data types shared across the Agent Session
// Core: messages, content blocks, tools, sessions, pending actions,
// compaction bookkeeping, and the unified event envelope.
package models

import (
	"time"
)

// EntryID is a monotonically assigned transcript entry identifier.
type EntryID uint64

// Role discriminates the Message tagged variant.
type Role string

const (
	RoleUser              Role = "user"
	RoleAssistant         Role = "assistant"
	RoleToolResult        Role = "tool_result"
	RoleBashExecution     Role = "bash_execution"
	RolePythonExecution   Role = "python_execution"
	RoleCompactionSummary Role = "compaction_summary"
	RoleCustom            Role = "custom"
)

// Message is the tagged-variant transcript record. Shared fields live at
// the top level; exactly one of the role-specific payload fields below is
// non-nil, selected by Role.
type Message struct {
	EntryID            EntryID   `json:"entryId"`
	Timestamp          time.Time `json:"timestamp"`
	Role               Role      `json:"role"`
	ExcludeFromContext bool      `json:"excludeFromContext,omitempty"`

	User              *UserMessage              `json:"user,omitempty"`
	Assistant         *AssistantMessage         `json:"assistant,omitempty"`
	ToolResult        *ToolResultMessage        `json:"toolResult,omitempty"`
	BashExecution     *BashExecutionMessage     `json:"bashExecution,omitempty"`
	PythonExecution   *PythonExecutionMessage   `json:"pythonExecution,omitempty"`
	CompactionSummary *CompactionSummaryMessage `json:"compactionSummary,omitempty"`
	Custom            *CustomMessage            `json:"custom,omitempty"`
}

// UserMessage carries the content a human (or steering/follow-up pathway)
// contributed to the conversation.
type UserMessage struct {
	Content []ContentBlock `json:"content"`
}

// ToolResultMessage is the transcript record of one tool's output.
type ToolResultMessage struct {
	ToolCallID string         `json:"toolCallId"`
	Content    []ContentBlock `json:"content"`
	Details    map[string]any `json:"details,omitempty"`
	IsError    bool           `json:"isError,omitempty"`
}

// BashExecutionMessage records a shell command run on behalf of the agent.
type BashExecutionMessage struct {
	Command  string `json:"command"`
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
}

// PythonExecutionMessage records code run against a local Python kernel.
type PythonExecutionMessage struct {
	Code   string `json:"code"`
	Output string `json:"output"`
}

// CompactionSummaryMessage is the synthetic entry a Compaction produces,
// standing in for the transcript prefix it replaces.
type CompactionSummaryMessage struct {
	CompactionEntryID CompactionEntryID `json:"compactionEntryId"`
	SummaryText       string            `json:"summaryText"`
}

// CustomMessage is an extension point for entries the Core itself does not
// interpret (e.g. the Scheduler's resolve-reminder marker).
type CustomMessage struct {
	CustomType string         `json:"customType"`
	Data       map[string]any `json:"data,omitempty"`
}

// NewUserMessage builds a User message from one or more content blocks.
func NewUserMessage(blocks ...ContentBlock) *Message {
	return &Message{
		Role: RoleUser,
		User: &UserMessage{Content: blocks},
	}
}

// NewUserText is a convenience constructor for a plain-text user message.
func NewUserText(text string) *Message {
	return NewUserMessage(ContentBlock{Text: &TextContent{Text: text}})
}

// NewCustomMessage builds a Custom entry with the given type and payload.
func NewCustomMessage(customType string, data map[string]any) *Message {
	return &Message{
		Role:   RoleCustom,
		Custom: &CustomMessage{CustomType: customType, Data: data},
	}
}

// WithExcludeFromContext marks the message as persisted but never sent to
// the model, returning the message for chaining.
func (m *Message) WithExcludeFromContext() *Message {
	m.ExcludeFromContext = true
	return m
}

// WithTimestamp sets an explicit timestamp, returning the message for
// chaining. Callers normally let the Transcript Store stamp this.
func (m *Message) WithTimestamp(t time.Time) *Message {
	m.Timestamp = t
	return m
}
