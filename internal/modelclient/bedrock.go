package modelclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentcore/nexus/internal/modelcatalog"
	"github.com/agentcore/nexus/internal/models"
)

// BedrockClient implements Client against AWS Bedrock's Converse/ConverseStream
// API, giving the Core access to whichever foundation models an account has
// enabled (Anthropic, Titan, Llama, Mistral, Cohere) behind one adapter.
type BedrockClient struct {
	client       *bedrockruntime.Client
	defaultModel string
	discovery    *modelcatalog.BedrockDiscovery
	catalog      *modelcatalog.Catalog
}

// BedrockConfig configures a BedrockClient. Credential resolution uses the
// provider auth callback pattern: explicit static keys when supplied,
// otherwise the default AWS credential chain (environment, shared config,
// IAM role).
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string

	// Discovery, when Enabled, registers the foundation models the account
	// actually has access to into Catalog (or modelcatalog.DefaultCatalog
	// when Catalog is nil), so model resolution picks up models this
	// package was never hardcoded to know about.
	Discovery modelcatalog.BedrockDiscoveryConfig
	Catalog   *modelcatalog.Catalog
}

// NewBedrockClient builds a BedrockClient from cfg, resolving AWS
// credentials eagerly so Stream never has to.
func NewBedrockClient(ctx context.Context, cfg BedrockConfig) (*BedrockClient, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("modelclient: bedrock: load AWS config: %w", err)
	}

	catalog := cfg.Catalog
	if catalog == nil {
		catalog = modelcatalog.DefaultCatalog
	}

	bc := &BedrockClient{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		catalog:      catalog,
	}

	if cfg.Discovery.Enabled {
		cfg.Discovery.Region = cfg.Region
		bc.discovery = modelcatalog.NewBedrockDiscovery(cfg.Discovery, slog.Default())
		go func() {
			if err := bc.discovery.RegisterWithCatalog(context.Background(), catalog); err != nil {
				slog.Warn("bedrock model discovery failed", "error", err)
			}
		}()
	}

	return bc, nil
}

// API implements Client.
func (c *BedrockClient) API() string { return "bedrock" }

// model resolves req.Model to a concrete Bedrock model ID. A raw Bedrock ID
// (containing a provider prefix like "anthropic.") is used verbatim. Anything
// else is treated as a catalog alias/tier name and looked up against the
// models discovery has registered, falling back to defaultModel when
// discovery found nothing or is disabled.
func (c *BedrockClient) model(req Request) string {
	if req.Model == "" {
		return c.defaultModel
	}
	if strings.Contains(req.Model, ".") {
		return req.Model
	}
	if c.catalog != nil {
		if model, ok := c.catalog.Get(req.Model); ok && model.Provider == modelcatalog.ProviderBedrock {
			return model.ID
		}
	}
	return req.Model
}

// Stream implements Client.
func (c *BedrockClient) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	model := c.model(req)
	messages, err := bedrockMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("modelclient: bedrock: convert messages: %w", err)
	}

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		if maxTokens > 1<<30 {
			maxTokens = 1 << 30
		}
		converseReq.InferenceConfig = &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens)),
		}
	}
	if len(req.Tools) > 0 {
		converseReq.ToolConfig = bedrockToolConfig(req.Tools)
	}

	stream, err := c.client.ConverseStream(ctx, converseReq)
	if err != nil {
		return nil, fmt.Errorf("modelclient: bedrock: converse stream: %w", err)
	}

	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		out <- StreamEvent{Kind: EventStart}
		c.pump(ctx, stream, model, out)
	}()
	return out, nil
}

func (c *BedrockClient) pump(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, model string, out chan<- StreamEvent) {
	eventStream := stream.GetStream()
	defer eventStream.Close()

	var content []models.ContentBlock
	var toolID, toolName string
	var toolInput strings.Builder
	inToolUse := false
	var usage models.Usage
	stopReason := models.StopReasonStop

	events := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			out <- StreamEvent{Kind: EventError, Err: ctx.Err()}
			return
		case event, ok := <-events:
			if !ok {
				if err := eventStream.Err(); err != nil {
					out <- StreamEvent{Kind: EventError, Err: fmt.Errorf("modelclient: bedrock: stream: %w", err)}
					return
				}
				usage.Total = usage.Input + usage.Output
				out <- StreamEvent{Kind: EventDone, Message: &models.AssistantMessage{
					Content:    content,
					Provider:   "bedrock",
					Model:      model,
					API:        "bedrock",
					Usage:      usage,
					StopReason: stopReason,
				}}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					inToolUse = true
					toolID = aws.ToString(toolUse.Value.ToolUseId)
					toolName = aws.ToString(toolUse.Value.Name)
					toolInput.Reset()
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						block := models.TextBlock(delta.Value)
						content = append(content, block)
						out <- StreamEvent{Kind: EventDelta, Block: &block}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				if inToolUse {
					args := json.RawMessage(toolInput.String())
					if len(args) == 0 {
						args = json.RawMessage("{}")
					}
					block := models.ToolCallBlock(toolID, toolName, args)
					content = append(content, block)
					out <- StreamEvent{Kind: EventDelta, Block: &block}
					inToolUse = false
					stopReason = models.StopReasonToolUse
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				// terminal event; wait for channel close to emit Done with
				// accumulated usage from the metadata event, if any arrives first
			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage.Input = int(aws.ToInt32(ev.Value.Usage.InputTokens))
					usage.Output = int(aws.ToInt32(ev.Value.Usage.OutputTokens))
				}
			}
		}
	}
}

// CountTokens implements Client using the shared character-based estimator.
func (c *BedrockClient) CountTokens(ctx context.Context, messages []models.Message) (int, error) {
	return estimateTokens(messages), nil
}

func bedrockMessages(messages []models.Message) ([]types.Message, error) {
	var out []types.Message
	for _, m := range messages {
		if m.ExcludeFromContext {
			continue
		}
		var content []types.ContentBlock
		role := types.ConversationRoleUser

		switch m.Role {
		case models.RoleUser:
			role = types.ConversationRoleUser
			content = append(content, bedrockBlocksFromText(contentBlocksToText(m.User.Content))...)
		case models.RoleAssistant:
			role = types.ConversationRoleAssistant
			if text := m.Assistant.Text(); text != "" {
				content = append(content, &types.ContentBlockMemberText{Value: text})
			}
			for _, tc := range m.Assistant.ToolCalls() {
				var input any
				if err := json.Unmarshal(tc.Arguments, &input); err != nil {
					input = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(tc.ID),
						Name:      aws.String(tc.Name),
						Input:     document.NewLazyDocument(input),
					},
				})
			}
		case models.RoleToolResult:
			role = types.ConversationRoleUser
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.ToolResult.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: contentBlocksToText(m.ToolResult.Content)},
					},
				},
			})
		case models.RoleBashExecution:
			role = types.ConversationRoleUser
			content = append(content, &types.ContentBlockMemberText{
				Value: fmt.Sprintf("$ %s\n%s", m.BashExecution.Command, m.BashExecution.Output),
			})
		case models.RolePythonExecution:
			role = types.ConversationRoleUser
			content = append(content, &types.ContentBlockMemberText{
				Value: fmt.Sprintf(">>> %s\n%s", m.PythonExecution.Code, m.PythonExecution.Output),
			})
		case models.RoleCompactionSummary:
			role = types.ConversationRoleUser
			content = append(content, &types.ContentBlockMemberText{Value: m.CompactionSummary.SummaryText})
		case models.RoleCustom:
			continue
		}

		if len(content) > 0 {
			out = append(out, types.Message{Role: role, Content: content})
		}
	}
	return out, nil
}

func bedrockBlocksFromText(text string) []types.ContentBlock {
	if text == "" {
		return nil
	}
	return []types.ContentBlock{&types.ContentBlockMemberText{Value: text}}
}

func bedrockToolConfig(tools []models.Tool) *types.ToolConfiguration {
	specs := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		var schema any
		if len(t.ParameterSchema) > 0 {
			_ = json.Unmarshal(t.ParameterSchema, &schema)
		}
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}
}
