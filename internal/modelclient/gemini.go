package modelclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/agentcore/nexus/internal/models"
)

// GeminiClient implements Client against Google's Gemini API via the
// google.golang.org/genai SDK.
type GeminiClient struct {
	client       *genai.Client
	defaultModel string
}

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
}

// NewGeminiClient builds a GeminiClient from cfg.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("modelclient: gemini: create client: %w", err)
	}
	return &GeminiClient{client: client, defaultModel: cfg.DefaultModel}, nil
}

// API implements Client.
func (c *GeminiClient) API() string { return "gemini" }

func (c *GeminiClient) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return c.defaultModel
}

// Stream implements Client.
func (c *GeminiClient) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	model := c.model(req)
	contents, err := geminiContents(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("modelclient: gemini: convert messages: %w", err)
	}

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		if maxTokens > 1<<30 {
			maxTokens = 1 << 30
		}
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = geminiTools(req.Tools)
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		out <- StreamEvent{Kind: EventStart}
		c.pump(ctx, model, contents, config, out)
	}()
	return out, nil
}

func (c *GeminiClient) pump(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig, out chan<- StreamEvent) {
	var content []models.ContentBlock
	var usage models.Usage
	stopReason := models.StopReasonStop
	callIndex := 0

	streamIter := c.client.Models.GenerateContentStream(ctx, model, contents, config)
	for resp, err := range streamIter {
		if ctx.Err() != nil {
			out <- StreamEvent{Kind: EventError, Err: ctx.Err()}
			return
		}
		if err != nil {
			out <- StreamEvent{Kind: EventError, Err: fmt.Errorf("modelclient: gemini: stream: %w", err)}
			return
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			usage.Input = int(resp.UsageMetadata.PromptTokenCount)
			usage.Output = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					block := models.TextBlock(part.Text)
					content = append(content, block)
					out <- StreamEvent{Kind: EventDelta, Block: &block}
				}
				if part.FunctionCall != nil {
					argsJSON, jerr := json.Marshal(part.FunctionCall.Args)
					if jerr != nil {
						argsJSON = []byte("{}")
					}
					callIndex++
					id := fmt.Sprintf("%s-%d", part.FunctionCall.Name, callIndex)
					block := models.ToolCallBlock(id, part.FunctionCall.Name, argsJSON)
					content = append(content, block)
					out <- StreamEvent{Kind: EventDelta, Block: &block}
					stopReason = models.StopReasonToolUse
				}
			}
		}
	}

	usage.Total = usage.Input + usage.Output
	out <- StreamEvent{Kind: EventDone, Message: &models.AssistantMessage{
		Content:    content,
		Provider:   "gemini",
		Model:      model,
		API:        "gemini",
		Usage:      usage,
		StopReason: stopReason,
	}}
}

// CountTokens implements Client using the shared character-based estimator.
func (c *GeminiClient) CountTokens(ctx context.Context, messages []models.Message) (int, error) {
	return estimateTokens(messages), nil
}

func geminiContents(messages []models.Message) ([]*genai.Content, error) {
	var out []*genai.Content
	for _, m := range messages {
		if m.ExcludeFromContext {
			continue
		}
		content := &genai.Content{}
		switch m.Role {
		case models.RoleUser:
			content.Role = genai.RoleUser
			for _, b := range m.User.Content {
				if b.Text != nil {
					content.Parts = append(content.Parts, &genai.Part{Text: b.Text.Text})
				}
				if b.Image != nil {
					content.Parts = append(content.Parts, &genai.Part{InlineData: &genai.Blob{Data: b.Image.Data, MIMEType: b.Image.MimeType}})
				}
			}
		case models.RoleAssistant:
			content.Role = genai.RoleModel
			if text := m.Assistant.Text(); text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: text})
			}
			for _, tc := range m.Assistant.ToolCalls() {
				var args map[string]any
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
				})
			}
		case models.RoleToolResult:
			content.Role = genai.RoleUser
			var response map[string]any
			text := contentBlocksToText(m.ToolResult.Content)
			if err := json.Unmarshal([]byte(text), &response); err != nil {
				response = map[string]any{"result": text, "error": m.ToolResult.IsError}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: toolNameForCall(messages, m.ToolResult.ToolCallID), Response: response},
			})
		case models.RoleBashExecution:
			content.Role = genai.RoleUser
			content.Parts = append(content.Parts, &genai.Part{Text: fmt.Sprintf("$ %s\n%s", m.BashExecution.Command, m.BashExecution.Output)})
		case models.RolePythonExecution:
			content.Role = genai.RoleUser
			content.Parts = append(content.Parts, &genai.Part{Text: fmt.Sprintf(">>> %s\n%s", m.PythonExecution.Code, m.PythonExecution.Output)})
		case models.RoleCompactionSummary:
			content.Role = genai.RoleUser
			content.Parts = append(content.Parts, &genai.Part{Text: m.CompactionSummary.SummaryText})
		case models.RoleCustom:
			continue
		}
		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out, nil
}

// toolNameForCall recovers the tool name a ToolResult responds to by
// scanning back through the prior assistant message for the matching
// ToolCallContent.ID, since Gemini's FunctionResponse part is keyed by name
// rather than call ID.
func toolNameForCall(messages []models.Message, toolCallID string) string {
	for _, m := range messages {
		if m.Role != models.RoleAssistant || m.Assistant == nil {
			continue
		}
		for _, tc := range m.Assistant.ToolCalls() {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	return toolCallID
}

func geminiTools(tools []models.Tool) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schemaMap map[string]any
		if len(t.ParameterSchema) > 0 {
			if err := json.Unmarshal(t.ParameterSchema, &schemaMap); err != nil {
				schemaMap = nil
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  geminiSchema(schemaMap),
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// geminiSchema converts a JSON Schema map into Gemini's own Schema type,
// which uses upper-cased type names and doesn't accept raw JSON Schema.
func geminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	return schema
}
