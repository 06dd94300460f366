// Package toolregistry resolves tool names to handlers, validates arguments
// against each tool's declared JSON schema, and invokes them with
// cancellation, timeout, and hook dispatch wired in.
package toolregistry

import (
	"context"
	"encoding/json"

	"github.com/agentcore/nexus/internal/models"
)

// Tool is implemented by every locally-executable capability. Execute
// receives the tool-call id (results and hook events are keyed by it),
// the raw/validated argument payload, and returns a ToolResult plus an
// optional PendingAction for tools whose effect must be previewed before
// it lands (see models.PendingAction).
type Tool interface {
	Descriptor() models.Tool
	Execute(ctx context.Context, toolCallID string, params json.RawMessage) (models.ToolResult, *models.PendingAction, error)
}

// MaxToolNameLength and MaxToolParamsSize bound registration and
// invocation inputs to avoid unbounded resource use from a malformed
// or adversarial tool call.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)
