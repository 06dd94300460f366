package models

import "encoding/json"

// ContentBlock is the tagged-variant payload carried by Assistant, User, and
// ToolResult messages. Exactly one field is non-nil.
type ContentBlock struct {
	Text     *TextContent     `json:"text,omitempty"`
	Thinking *ThinkingContent `json:"thinking,omitempty"`
	ToolCall *ToolCallContent `json:"toolCall,omitempty"`
	Image    *ImageContent    `json:"image,omitempty"`
}

// TextContent is plain assistant/user text.
type TextContent struct {
	Text string `json:"text"`
}

// ThinkingContent is a provider reasoning block. Signature is an opaque
// token some providers require echoed back verbatim on a later turn; it is
// preserved across replay and compaction unexamined.
type ThinkingContent struct {
	Text      string `json:"text"`
	Signature string `json:"signature,omitempty"`
}

// ToolCallContent is a model-issued request to invoke a tool. ID is unique
// within a session and matched by exactly one ToolResultMessage.ToolCallID
// unless the turn ended with Error or Aborted before dispatch.
type ToolCallContent struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ImageContent is an inline image block.
type ImageContent struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mimeType"`
}

// TextBlock builds a text ContentBlock.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Text: &TextContent{Text: text}}
}

// ThinkingBlock builds a thinking ContentBlock, preserving the provider
// signature if one was supplied.
func ThinkingBlock(text, signature string) ContentBlock {
	return ContentBlock{Thinking: &ThinkingContent{Text: text, Signature: signature}}
}

// ToolCallBlock builds a tool-call ContentBlock.
func ToolCallBlock(id, name string, args json.RawMessage) ContentBlock {
	return ContentBlock{ToolCall: &ToolCallContent{ID: id, Name: name, Arguments: args}}
}

// ImageBlock builds an image ContentBlock.
func ImageBlock(data []byte, mimeType string) ContentBlock {
	return ContentBlock{Image: &ImageContent{Data: data, MimeType: mimeType}}
}

// Kind returns a short discriminator string, mainly for logging.
func (c ContentBlock) Kind() string {
	switch {
	case c.Text != nil:
		return "text"
	case c.Thinking != nil:
		return "thinking"
	case c.ToolCall != nil:
		return "tool_call"
	case c.Image != nil:
		return "image"
	default:
		return "empty"
	}
}
