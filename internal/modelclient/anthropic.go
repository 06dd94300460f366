package modelclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentcore/nexus/internal/models"
)

// AnthropicClient implements Client against the Anthropic Messages API.
type AnthropicClient struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures an AnthropicClient. APIKey is optional here —
// per-request credentials arrive via Request.APIKey and override it — but a
// default lets the client be constructed once at startup for CountTokens
// and other calls that precede a resolved session credential.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewAnthropicClient builds an AnthropicClient from cfg.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}
}

// API implements Client.
func (c *AnthropicClient) API() string { return "anthropic" }

func (c *AnthropicClient) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.defaultModel
}

func (c *AnthropicClient) clientFor(req Request) anthropic.Client {
	if req.APIKey == "" {
		return c.client
	}
	return anthropic.NewClient(option.WithAPIKey(req.APIKey))
}

// Stream implements Client.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	messages, err := anthropicMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("modelclient: anthropic: convert messages: %w", err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model(req)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := anthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("modelclient: anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	stream := c.clientFor(req).Messages.NewStreaming(ctx, params)

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		out <- StreamEvent{Kind: EventStart}
		c.pump(ctx, stream, c.model(req), out)
	}()
	return out, nil
}

// pump consumes an Anthropic SSE stream, converting each event into a
// StreamEvent and assembling the final AssistantMessage.
func (c *AnthropicClient) pump(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], model string, out chan<- StreamEvent) {
	var content []models.ContentBlock
	var toolID, toolName string
	var toolInput strings.Builder
	inToolUse := false
	var thinkingText, thinkingSig strings.Builder
	inThinking := false
	var usage models.Usage
	stopReason := models.StopReasonStop

	for stream.Next() {
		if ctx.Err() != nil {
			out <- StreamEvent{Kind: EventError, Err: ctx.Err()}
			return
		}
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			usage.Input = int(ms.Message.Usage.InputTokens)

		case "content_block_start":
			cbs := event.AsContentBlockStart()
			switch block := cbs.ContentBlock.AsAny().(type) {
			case anthropic.ToolUseBlock:
				inToolUse = true
				toolID = block.ID
				toolName = block.Name
				toolInput.Reset()
			case anthropic.ThinkingBlock:
				inThinking = true
				thinkingText.Reset()
				thinkingSig.Reset()
			}

		case "content_block_delta":
			cbd := event.AsContentBlockDelta()
			switch delta := cbd.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				block := models.TextBlock(delta.Text)
				content = append(content, block)
				out <- StreamEvent{Kind: EventDelta, Block: &block}
			case anthropic.InputJSONDelta:
				toolInput.WriteString(delta.PartialJSON)
			case anthropic.ThinkingDelta:
				thinkingText.WriteString(delta.Thinking)
			case anthropic.SignatureDelta:
				thinkingSig.WriteString(delta.Signature)
			}

		case "content_block_stop":
			switch {
			case inToolUse:
				args := json.RawMessage(toolInput.String())
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				block := models.ToolCallBlock(toolID, toolName, args)
				content = append(content, block)
				out <- StreamEvent{Kind: EventDelta, Block: &block}
				inToolUse = false
			case inThinking:
				block := models.ThinkingBlock(thinkingText.String(), thinkingSig.String())
				content = append(content, block)
				out <- StreamEvent{Kind: EventDelta, Block: &block}
				inThinking = false
			}

		case "message_delta":
			md := event.AsMessageDelta()
			usage.Output = int(md.Usage.OutputTokens)
			switch md.Delta.StopReason {
			case anthropic.StopReasonToolUse:
				stopReason = models.StopReasonToolUse
			case anthropic.StopReasonMaxTokens:
				stopReason = models.StopReasonMaxTokens
			}

		case "message_stop":
			// terminal; loop exits on stream.Next() == false
		}
	}

	if err := stream.Err(); err != nil {
		out <- StreamEvent{Kind: EventError, Err: fmt.Errorf("modelclient: anthropic: stream: %w", err)}
		return
	}

	usage.Total = usage.Input + usage.Output
	am := &models.AssistantMessage{
		Content:    content,
		Provider:   "anthropic",
		Model:      model,
		API:        "anthropic",
		Usage:      usage,
		StopReason: stopReason,
	}
	out <- StreamEvent{Kind: EventDone, Message: am}
}

// CountTokens implements Client using the Anthropic token-counting endpoint
// contract approximated locally: Anthropic's SDK exposes a dedicated count
// endpoint per-request, but for plain history estimation (the Compaction
// Engine's use case) a conservative character-based estimate avoids an
// extra network round trip per compaction check.
func (c *AnthropicClient) CountTokens(ctx context.Context, messages []models.Message) (int, error) {
	return estimateTokens(messages), nil
}

func anthropicMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	for _, m := range messages {
		if m.ExcludeFromContext {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			blocks, err := anthropicContentBlocks(m.User.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		case models.RoleAssistant:
			blocks, err := anthropicContentBlocks(m.Assistant.Content)
			if err != nil {
				return nil, err
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case models.RoleToolResult:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolResult.ToolCallID, contentBlocksToText(m.ToolResult.Content), m.ToolResult.IsError),
			))
		case models.RoleBashExecution:
			text := fmt.Sprintf("$ %s\n%s", m.BashExecution.Command, m.BashExecution.Output)
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		case models.RolePythonExecution:
			text := fmt.Sprintf(">>> %s\n%s", m.PythonExecution.Code, m.PythonExecution.Output)
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		case models.RoleCompactionSummary:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.CompactionSummary.SummaryText)))
		case models.RoleCustom:
			// No wire representation; Custom entries are Core-internal markers.
			continue
		}
	}
	return out, nil
}

func anthropicContentBlocks(blocks []models.ContentBlock) ([]anthropic.ContentBlockParamUnion, error) {
	var out []anthropic.ContentBlockParamUnion
	for _, b := range blocks {
		switch {
		case b.Text != nil:
			out = append(out, anthropic.NewTextBlock(b.Text.Text))
		case b.Thinking != nil:
			out = append(out, anthropic.ContentBlockParamUnion{
				OfThinking: &anthropic.ThinkingBlockParam{
					Thinking:  b.Thinking.Text,
					Signature: b.Thinking.Signature,
				},
			})
		case b.ToolCall != nil:
			var input any
			if len(b.ToolCall.Arguments) > 0 {
				if err := json.Unmarshal(b.ToolCall.Arguments, &input); err != nil {
					return nil, fmt.Errorf("tool call %s: %w", b.ToolCall.ID, err)
				}
			}
			out = append(out, anthropic.NewToolUseBlock(b.ToolCall.ID, input, b.ToolCall.Name))
		case b.Image != nil:
			out = append(out, anthropic.ContentBlockParamUnion{
				OfImage: &anthropic.ImageBlockParam{
					Source: anthropic.ImageBlockParamSourceUnion{
						OfBase64: &anthropic.Base64ImageSourceParam{
							Data:      string(b.Image.Data),
							MediaType: anthropic.Base64ImageSourceMediaType(b.Image.MimeType),
						},
					},
				},
			})
		}
	}
	return out, nil
}

func contentBlocksToText(blocks []models.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Text != nil {
			sb.WriteString(b.Text.Text)
		}
	}
	return sb.String()
}

func anthropicTools(tools []models.Tool) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.ParameterSchema) > 0 {
			var raw map[string]any
			if err := json.Unmarshal(t.ParameterSchema, &raw); err != nil {
				return nil, fmt.Errorf("tool %s: %w", t.Name, err)
			}
			if props, ok := raw["properties"]; ok {
				schema.Properties = props
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		toolParam.OfTool.Description = anthropic.String(t.Description)
		out = append(out, toolParam)
	}
	return out, nil
}

// estimateTokens is a provider-agnostic fallback estimator shared by
// adapters that don't have a cheap dedicated counting endpoint wired up:
// ~4 characters per token plus a small per-message overhead, matching the
// heuristic internal/compaction and internal/context already use.
func estimateTokens(messages []models.Message) int {
	total := 0
	for _, m := range messages {
		total += 4
		for _, b := range messagesText(m) {
			total += len(b) / 4
		}
	}
	if total == 0 {
		return 0
	}
	return total
}

func messagesText(m models.Message) []string {
	var out []string
	collect := func(blocks []models.ContentBlock) {
		for _, b := range blocks {
			if b.Text != nil {
				out = append(out, b.Text.Text)
			}
			if b.Thinking != nil {
				out = append(out, b.Thinking.Text)
			}
			if b.ToolCall != nil {
				out = append(out, string(b.ToolCall.Arguments))
			}
		}
	}
	switch m.Role {
	case models.RoleUser:
		collect(m.User.Content)
	case models.RoleAssistant:
		collect(m.Assistant.Content)
	case models.RoleToolResult:
		collect(m.ToolResult.Content)
	case models.RoleBashExecution:
		out = append(out, m.BashExecution.Command, m.BashExecution.Output)
	case models.RolePythonExecution:
		out = append(out, m.PythonExecution.Code, m.PythonExecution.Output)
	case models.RoleCompactionSummary:
		out = append(out, m.CompactionSummary.SummaryText)
	}
	return out
}
