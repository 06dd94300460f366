// Package artifact exposes the session's artifact repository (large
// tool-produced side effects that didn't fit inline) to the model as a
// retrieval tool.
package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/agentcore/nexus/internal/artifacts"
	"github.com/agentcore/nexus/internal/models"
)

// maxInlineFetch caps how much of a stored artifact is echoed back in the
// ToolResult; larger artifacts are described by metadata only.
const maxInlineFetch = 200_000

func toolError(toolCallID, message string) models.ToolResult {
	return models.ToolResultError(toolCallID, message)
}

// Tool retrieves and lists artifacts previously stored by other tools
// (e.g. an exec command whose output overflowed the inline preview).
// Grounded on internal/gateway/artifact_service.go's
// GetArtifact/ListArtifacts pair, adapted from a gRPC service onto the
// Tool contract since this module has no RPC surface for artifacts.
type Tool struct {
	repo artifacts.Repository
}

// NewTool creates an artifact tool backed by repo. Returns nil if repo is
// nil so callers can skip registration when no repository is configured.
func NewTool(repo artifacts.Repository) *Tool {
	if repo == nil {
		return nil
	}
	return &Tool{repo: repo}
}

func (t *Tool) Name() string { return "artifact" }

func (t *Tool) Description() string {
	return "Fetch or list artifacts stored by other tools (e.g. overflowed command output)."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "Action: get or list.",
			},
			"artifact_id": map[string]interface{}{
				"type":        "string",
				"description": "Artifact id, required for get.",
			},
			"type": map[string]interface{}{
				"type":        "string",
				"description": "Filter by artifact type, used by list.",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum artifacts to return, used by list.",
				"minimum":     0,
			},
		},
		"required": []string{"action"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *Tool) Descriptor() models.Tool {
	return models.Tool{Name: t.Name(), Description: t.Description(), ParameterSchema: t.Schema()}
}

func (t *Tool) Execute(ctx context.Context, toolCallID string, params json.RawMessage) (models.ToolResult, *models.PendingAction, error) {
	if t.repo == nil {
		return toolError(toolCallID, "artifact repository unavailable"), nil, nil
	}
	var input struct {
		Action     string `json:"action"`
		ArtifactID string `json:"artifact_id"`
		Type       string `json:"type"`
		Limit      int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(toolCallID, fmt.Sprintf("Invalid parameters: %v", err)), nil, nil
	}

	switch strings.ToLower(strings.TrimSpace(input.Action)) {
	case "get":
		return t.get(ctx, toolCallID, input.ArtifactID)
	case "list":
		return t.list(ctx, toolCallID, input.Type, input.Limit)
	default:
		return toolError(toolCallID, "action must be \"get\" or \"list\""), nil, nil
	}
}

func (t *Tool) get(ctx context.Context, toolCallID, artifactID string) (models.ToolResult, *models.PendingAction, error) {
	if strings.TrimSpace(artifactID) == "" {
		return toolError(toolCallID, "artifact_id is required"), nil, nil
	}
	meta, data, err := t.repo.GetArtifact(ctx, artifactID)
	if err != nil {
		return toolError(toolCallID, err.Error()), nil, nil
	}
	defer data.Close()

	content, err := io.ReadAll(io.LimitReader(data, maxInlineFetch+1))
	if err != nil {
		return toolError(toolCallID, fmt.Sprintf("read artifact: %v", err)), nil, nil
	}
	truncated := len(content) > maxInlineFetch
	if truncated {
		content = content[:maxInlineFetch]
	}

	payload, _ := json.MarshalIndent(map[string]interface{}{
		"id":        meta.ID,
		"type":      meta.Type,
		"mime_type": meta.MimeType,
		"size":      meta.Size,
		"content":   string(content),
		"truncated": truncated,
	}, "", "  ")
	return models.ToolResultText(toolCallID, string(payload)), nil, nil
}

func (t *Tool) list(ctx context.Context, toolCallID, artifactType string, limit int) (models.ToolResult, *models.PendingAction, error) {
	list, err := t.repo.ListArtifacts(ctx, artifacts.Filter{Type: artifactType, Limit: limit})
	if err != nil {
		return toolError(toolCallID, err.Error()), nil, nil
	}
	payload, _ := json.MarshalIndent(map[string]interface{}{"artifacts": list}, "", "  ")
	return models.ToolResultText(toolCallID, string(payload)), nil, nil
}
