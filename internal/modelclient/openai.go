package modelclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentcore/nexus/internal/models"
)

// OpenAIClient implements Client against the OpenAI chat-completions API.
type OpenAIClient struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey       string
	DefaultModel string
}

// NewOpenAIClient builds an OpenAIClient from cfg. A zero-value APIKey is
// permitted — the client is then unusable until every Request supplies its
// own APIKey, which clientFor honors.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	c := &OpenAIClient{defaultModel: cfg.DefaultModel}
	if cfg.APIKey != "" {
		c.client = openai.NewClient(cfg.APIKey)
	}
	return c
}

// API implements Client.
func (c *OpenAIClient) API() string { return "openai" }

func (c *OpenAIClient) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.defaultModel
}

func (c *OpenAIClient) clientFor(req Request) (*openai.Client, error) {
	if req.APIKey != "" {
		return openai.NewClient(req.APIKey), nil
	}
	if c.client == nil {
		return nil, fmt.Errorf("modelclient: openai: no API key configured")
	}
	return c.client, nil
}

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	client, err := c.clientFor(req)
	if err != nil {
		return nil, err
	}

	messages := openaiMessages(req.Messages, req.System)
	chatReq := openai.ChatCompletionRequest{
		Model:    c.model(req),
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = openaiTools(req.Tools)
	}

	stream, err := client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("modelclient: openai: create stream: %w", err)
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		out <- StreamEvent{Kind: EventStart}
		c.pump(ctx, stream, c.model(req), out)
	}()
	return out, nil
}

func (c *OpenAIClient) pump(ctx context.Context, stream *openai.ChatCompletionStream, model string, out chan<- StreamEvent) {
	defer stream.Close()

	var content []models.ContentBlock
	var textBuf string
	toolCalls := map[int]*models.ToolCallContent{}
	toolOrder := map[int]int{}
	var usage models.Usage
	stopReason := models.StopReasonStop

	flushText := func() {
		if textBuf == "" {
			return
		}
		block := models.TextBlock(textBuf)
		content = append(content, block)
		out <- StreamEvent{Kind: EventDelta, Block: &block}
		textBuf = ""
	}

	for {
		if ctx.Err() != nil {
			out <- StreamEvent{Kind: EventError, Err: ctx.Err()}
			return
		}
		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				break
			}
			out <- StreamEvent{Kind: EventError, Err: fmt.Errorf("modelclient: openai: stream: %w", err)}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			textBuf += delta.Content
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			cur, ok := toolCalls[index]
			if !ok {
				cur = &models.ToolCallContent{}
				toolCalls[index] = cur
				toolOrder[index] = len(toolOrder)
			}
			if tc.ID != "" {
				cur.ID = tc.ID
			}
			if tc.Function.Name != "" {
				cur.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				cur.Arguments = append(cur.Arguments, []byte(tc.Function.Arguments)...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flushText()
			for _, tc := range orderedToolCalls(toolCalls, toolOrder) {
				block := models.ToolCallBlock(tc.ID, tc.Name, tc.Arguments)
				content = append(content, block)
				out <- StreamEvent{Kind: EventDelta, Block: &block}
			}
			stopReason = models.StopReasonToolUse
		} else if choice.FinishReason == openai.FinishReasonLength {
			stopReason = models.StopReasonMaxTokens
		}

		if resp.Usage != nil {
			usage.Input = resp.Usage.PromptTokens
			usage.Output = resp.Usage.CompletionTokens
			usage.Total = resp.Usage.TotalTokens
		}
	}
	flushText()

	am := &models.AssistantMessage{
		Content:    content,
		Provider:   "openai",
		Model:      model,
		API:        "openai",
		Usage:      usage,
		StopReason: stopReason,
	}
	out <- StreamEvent{Kind: EventDone, Message: am}
}

func orderedToolCalls(calls map[int]*models.ToolCallContent, order map[int]int) []*models.ToolCallContent {
	out := make([]*models.ToolCallContent, len(calls))
	for idx, call := range calls {
		out[order[idx]] = call
	}
	return out
}

// CountTokens implements Client using the shared character-based estimator;
// OpenAI's tiktoken-accurate counting would require bundling the tokenizer
// tables, which no example repo in the pack vendors.
func (c *OpenAIClient) CountTokens(ctx context.Context, messages []models.Message) (int, error) {
	return estimateTokens(messages), nil
}

func openaiMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		if m.ExcludeFromContext {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: contentBlocksToText(m.User.Content)})
		case models.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Assistant.Text()}
			for _, tc := range m.Assistant.ToolCalls() {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			out = append(out, msg)
		case models.RoleToolResult:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    contentBlocksToText(m.ToolResult.Content),
				ToolCallID: m.ToolResult.ToolCallID,
			})
		case models.RoleBashExecution:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("$ %s\n%s", m.BashExecution.Command, m.BashExecution.Output),
			})
		case models.RolePythonExecution:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(">>> %s\n%s", m.PythonExecution.Code, m.PythonExecution.Output),
			})
		case models.RoleCompactionSummary:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.CompactionSummary.SummaryText})
		case models.RoleCustom:
			continue
		}
	}
	return out
}

func openaiTools(tools []models.Tool) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.ParameterSchema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}
