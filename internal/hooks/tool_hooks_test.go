package hooks

import (
	"context"
	"testing"

	"github.com/agentcore/nexus/internal/models"
)

func TestDispatchToolCallBlocks(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register(EventToolCall, "bash", func(ctx context.Context, event *Event) (*Result, error) {
		return &Result{Block: true, Reason: "bash is disabled"}, nil
	})

	res := r.DispatchToolCall(context.Background(), "sess-1", models.ToolCallContent{ID: "c1", Name: "bash"})
	if !res.Block || res.Reason != "bash is disabled" {
		t.Fatalf("got %+v, want blocked with reason", res)
	}
}

func TestDispatchToolResultReplacesContent(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register(EventToolResult, "bash", func(ctx context.Context, event *Event) (*Result, error) {
		redacted := true
		return &Result{Content: []models.ContentBlock{models.TextBlock("[redacted]")}, IsError: &redacted}, nil
	})

	original := models.ToolResultText("c1", "secret output")
	replaced := r.DispatchToolResult(context.Background(), "sess-1", "bash", original)
	if replaced.Content[0].Text.Text != "[redacted]" {
		t.Errorf("Content = %+v, want redacted", replaced.Content)
	}
	if !replaced.IsError {
		t.Error("expected IsError to be set by the replacement")
	}
}

func TestDispatchToolResultNoHandlersPassesThrough(t *testing.T) {
	r := NewRegistry(nil, nil)
	original := models.ToolResultText("c1", "18°C, partly cloudy")
	replaced := r.DispatchToolResult(context.Background(), "sess-1", "get_weather", original)
	if replaced.Content[0].Text.Text != "18°C, partly cloudy" {
		t.Errorf("expected result to pass through unchanged, got %+v", replaced)
	}
}

func TestDispatchSessionTransitionCancel(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register(EventSessionBeforeShutdown, "", func(ctx context.Context, event *Event) (*Result, error) {
		return &Result{Cancel: true}, nil
	})

	if r.DispatchSessionTransition(context.Background(), EventSessionBeforeShutdown, "sess-1") {
		t.Fatal("expected transition to be vetoed")
	}
}

func TestDispatchSessionTransitionAllowedByDefault(t *testing.T) {
	r := NewRegistry(nil, nil)
	if !r.DispatchSessionTransition(context.Background(), EventSessionBeforeNew, "sess-1") {
		t.Fatal("expected transition to be allowed with no handlers registered")
	}
}
