package models

// StopReason is why an AssistantMessage's turn ended.
type StopReason string

const (
	StopReasonStop      StopReason = "stop"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonMaxTokens StopReason = "max_tokens"
	StopReasonError     StopReason = "error"
	StopReasonAborted   StopReason = "aborted"
)

// Usage is a token-accounting record for one AssistantMessage.
type Usage struct {
	Input      int     `json:"input"`
	Output     int     `json:"output"`
	CacheRead  int     `json:"cacheRead,omitempty"`
	CacheWrite int     `json:"cacheWrite,omitempty"`
	Total      int     `json:"total"`
	Cost       float64 `json:"cost,omitempty"`
}

// AssistantMessage is the model's reply for one turn, byte-identical to
// what any future replay will show; the Streaming Turn Engine's partial
// events are advisory and never stored.
type AssistantMessage struct {
	Content []ContentBlock `json:"content"`

	Provider string `json:"provider"`
	Model    string `json:"model"`
	API      string `json:"api"`

	Usage Usage `json:"usage"`

	StopReason   StopReason `json:"stopReason"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
}

// ToolCalls returns the tool-call content blocks in emission order.
func (a *AssistantMessage) ToolCalls() []ToolCallContent {
	var calls []ToolCallContent
	for _, block := range a.Content {
		if block.ToolCall != nil {
			calls = append(calls, *block.ToolCall)
		}
	}
	return calls
}

// Text concatenates the text blocks, for callers that only care about the
// prose portion of the reply (e.g. a print front-end).
func (a *AssistantMessage) Text() string {
	var out string
	for _, block := range a.Content {
		if block.Text != nil {
			out += block.Text.Text
		}
	}
	return out
}

// NewAssistantMessage wraps an AssistantMessage in a transcript Message.
func NewAssistantMessage(am *AssistantMessage) *Message {
	return &Message{Role: RoleAssistant, Assistant: am}
}
