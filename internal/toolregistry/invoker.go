package toolregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentcore/nexus/internal/hooks"
	"github.com/agentcore/nexus/internal/models"
	"github.com/agentcore/nexus/internal/observability"
	"github.com/agentcore/nexus/internal/pending"
)

// DefaultTimeout is applied to a tool call when its descriptor doesn't
// declare an override.
const DefaultTimeout = 5 * time.Minute

// Invoker resolves, validates, and executes tool calls, dispatching
// tool_call/tool_result hook events around execution and pushing any
// PendingAction the tool produces onto the pending action store.
type Invoker struct {
	registry *Registry
	hooks    *hooks.Registry
	pending  *pending.Store

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema

	guard ResultGuard

	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// NewInvoker wires a Registry, a hook dispatcher, and a pending action
// store into one invocation path. Oversized or secret-bearing tool output
// is capped and redacted with DefaultResultGuard.
func NewInvoker(registry *Registry, hookRegistry *hooks.Registry, pendingStore *pending.Store) *Invoker {
	return &Invoker{
		registry: registry,
		hooks:    hookRegistry,
		pending:  pendingStore,
		schemas:  make(map[string]*jsonschema.Schema),
		guard:    DefaultResultGuard(),
	}
}

// SetMetrics wires a metrics recorder so tool executions report duration and
// outcome counters.
func (inv *Invoker) SetMetrics(metrics *observability.Metrics) {
	inv.metrics = metrics
}

// SetTracer wires a tracer so each tool execution produces a span.
func (inv *Invoker) SetTracer(tracer *observability.Tracer) {
	inv.tracer = tracer
}

// Invoke runs one tool call end to end:
//  1. resolve the tool; unknown name -> error ToolResult.
//  2. validate argumentsRaw against parameterSchema (strict tools reject on
//     violation; lenientArgValidation tools fall back to the raw arguments).
//  3. emit a tool_call hook event; a blocking handler short-circuits to an
//     error ToolResult.
//  4. execute with the per-tool timeout (default DefaultTimeout).
//  5. emit a tool_result hook event, applying any replacement.
//  6. push any produced PendingAction onto the pending action store.
func (inv *Invoker) Invoke(ctx context.Context, sessionID models.SessionID, toolCallID, name string, argumentsRaw json.RawMessage) models.ToolResult {
	if len(name) > MaxToolNameLength {
		return models.ToolResultError(toolCallID, fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength))
	}
	if len(argumentsRaw) > MaxToolParamsSize {
		return models.ToolResultError(toolCallID, fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolParamsSize))
	}

	tool, ok := inv.registry.Lookup(name)
	if !ok {
		return models.ToolResultError(toolCallID, "Unknown tool: "+name)
	}
	descriptor := tool.Descriptor()

	validated, err := inv.validate(descriptor, argumentsRaw)
	if err != nil {
		return models.ToolResultError(toolCallID, err.Error())
	}

	if inv.hooks != nil {
		call := models.ToolCallContent{ID: toolCallID, Name: name, Arguments: validated}
		if res := inv.hooks.DispatchToolCall(ctx, sessionID, call); res.Block {
			return models.ToolResultError(toolCallID, res.Reason)
		}
	}

	timeout := descriptor.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if inv.tracer != nil {
		var span trace.Span
		execCtx, span = inv.tracer.TraceToolExecution(execCtx, name)
		defer span.End()
	}

	start := time.Now()
	result, action, err := inv.runTool(execCtx, tool, toolCallID, validated)
	duration := time.Since(start).Seconds()
	if err != nil {
		result = models.ToolResultError(toolCallID, err.Error())
	}
	result = inv.guard.Apply(result)

	if inv.metrics != nil {
		status := "success"
		if result.IsError {
			status = "error"
		}
		inv.metrics.RecordToolExecution(name, status, duration)
	}

	if inv.hooks != nil {
		result = inv.hooks.DispatchToolResult(ctx, sessionID, name, result)
	}

	if action != nil && inv.pending != nil {
		inv.pending.Push(action)
	}

	return result
}

// runTool executes the tool handler and converts a context deadline into
// a timeout ToolResult rather than propagating ctx.Err() verbatim.
func (inv *Invoker) runTool(ctx context.Context, tool Tool, toolCallID string, params json.RawMessage) (models.ToolResult, *models.PendingAction, error) {
	type outcome struct {
		result models.ToolResult
		action *models.PendingAction
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, action, err := tool.Execute(ctx, toolCallID, params)
		done <- outcome{result: result, action: action, err: err}
	}()

	select {
	case <-ctx.Done():
		return models.ToolResultError(toolCallID, "tool execution timed out or was cancelled"), nil, nil
	case out := <-done:
		return out.result, out.action, out.err
	}
}

// validate checks params against the tool's parameterSchema. A strict tool
// returns the validation error; a lenientArgValidation tool passes the raw
// arguments through unchanged so the handler itself can cope.
func (inv *Invoker) validate(descriptor models.Tool, params json.RawMessage) (json.RawMessage, error) {
	if len(descriptor.ParameterSchema) == 0 {
		return params, nil
	}
	schema, err := inv.compileSchema(descriptor.Name, descriptor.ParameterSchema)
	if err != nil {
		if descriptor.LenientArgValidation {
			return params, nil
		}
		return nil, fmt.Errorf("compile schema for %s: %w", descriptor.Name, err)
	}

	var decoded any
	if len(params) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(params, &decoded); err != nil {
		if descriptor.LenientArgValidation {
			return params, nil
		}
		return nil, fmt.Errorf("decode arguments for %s: %w", descriptor.Name, err)
	}

	if err := schema.Validate(decoded); err != nil {
		if descriptor.LenientArgValidation {
			return params, nil
		}
		return nil, fmt.Errorf("arguments invalid for %s: %w", descriptor.Name, err)
	}
	return params, nil
}

func (inv *Invoker) compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	inv.schemaMu.Lock()
	defer inv.schemaMu.Unlock()

	if cached, ok := inv.schemas[name]; ok {
		return cached, nil
	}
	compiler := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	compiled, err := compiler.Compile(resource)
	if err != nil {
		return nil, err
	}
	inv.schemas[name] = compiled
	return compiled, nil
}
