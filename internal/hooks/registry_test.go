package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/agentcore/nexus/internal/models"
)

func TestRegisterAndDispatchGeneral(t *testing.T) {
	r := NewRegistry(nil, nil)
	called := false
	r.Register(EventTurnStart, "", func(ctx context.Context, event *Event) (*Result, error) {
		called = true
		return nil, nil
	})

	r.Dispatch(context.Background(), NewEvent(EventTurnStart, ""))
	if !called {
		t.Fatal("expected handler to be called")
	}
}

func TestDispatchScopesByCustomType(t *testing.T) {
	r := NewRegistry(nil, nil)
	var generalCalls, bashCalls int
	r.Register(EventToolCall, "", func(ctx context.Context, event *Event) (*Result, error) {
		generalCalls++
		return nil, nil
	})
	r.Register(EventToolCall, "bash", func(ctx context.Context, event *Event) (*Result, error) {
		bashCalls++
		return nil, nil
	})

	r.Dispatch(context.Background(), NewEvent(EventToolCall, "python"))
	if generalCalls != 1 || bashCalls != 0 {
		t.Fatalf("generalCalls=%d bashCalls=%d, want 1,0", generalCalls, bashCalls)
	}

	r.Dispatch(context.Background(), NewEvent(EventToolCall, "bash"))
	if generalCalls != 2 || bashCalls != 1 {
		t.Fatalf("generalCalls=%d bashCalls=%d, want 2,1", generalCalls, bashCalls)
	}
}

func TestDispatchToolCallFirstBlockerWins(t *testing.T) {
	r := NewRegistry(nil, nil)
	var secondCalled bool
	r.Register(EventToolCall, "", func(ctx context.Context, event *Event) (*Result, error) {
		return &Result{Block: true, Reason: "policy denied"}, nil
	}, WithPriority(PriorityHigh))
	r.Register(EventToolCall, "", func(ctx context.Context, event *Event) (*Result, error) {
		secondCalled = true
		return &Result{Block: true, Reason: "should not be seen"}, nil
	}, WithPriority(PriorityLow))

	res := r.Dispatch(context.Background(), NewEvent(EventToolCall, ""))
	if !res.Block || res.Reason != "policy denied" {
		t.Fatalf("got %+v, want Block=true Reason=policy denied", res)
	}
	if secondCalled {
		t.Error("expected second handler to be skipped once the first blocked")
	}
}

func TestDispatchToolResultChainedReplacement(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.Register(EventToolResult, "", func(ctx context.Context, event *Event) (*Result, error) {
		return &Result{Content: []models.ContentBlock{models.TextBlock("first")}}, nil
	}, WithPriority(PriorityHigh))
	r.Register(EventToolResult, "", func(ctx context.Context, event *Event) (*Result, error) {
		return &Result{Content: []models.ContentBlock{models.TextBlock("second")}}, nil
	}, WithPriority(PriorityLow))

	res := r.Dispatch(context.Background(), NewEvent(EventToolResult, ""))
	if len(res.Content) != 1 || res.Content[0].Text.Text != "second" {
		t.Fatalf("got %+v, want the later handler's replacement to win", res.Content)
	}
}

func TestDispatchHandlerFailureIsolated(t *testing.T) {
	var reported *models.HookError
	r := NewRegistry(nil, func(he *models.HookError) { reported = he })
	var secondCalled bool
	r.Register(EventTurnEnd, "", func(ctx context.Context, event *Event) (*Result, error) {
		return nil, errors.New("boom")
	}, WithPriority(PriorityHigh))
	r.Register(EventTurnEnd, "", func(ctx context.Context, event *Event) (*Result, error) {
		secondCalled = true
		return nil, nil
	}, WithPriority(PriorityLow))

	r.Dispatch(context.Background(), NewEvent(EventTurnEnd, ""))
	if !secondCalled {
		t.Error("expected dispatch to continue past the failing handler")
	}
	if reported == nil || reported.Cause.Error() != "boom" {
		t.Fatalf("expected onError to receive the failure, got %+v", reported)
	}
}

func TestDispatchHandlerPanicIsolated(t *testing.T) {
	var reported *models.HookError
	r := NewRegistry(nil, func(he *models.HookError) { reported = he })
	r.Register(EventTurnEnd, "", func(ctx context.Context, event *Event) (*Result, error) {
		panic("kaboom")
	})

	r.Dispatch(context.Background(), NewEvent(EventTurnEnd, ""))
	if reported == nil {
		t.Fatal("expected a panic to be reported as a HookError, not crash the test")
	}
}

func TestUnregisterRemovesHandler(t *testing.T) {
	r := NewRegistry(nil, nil)
	called := false
	id := r.Register(EventTurnStart, "", func(ctx context.Context, event *Event) (*Result, error) {
		called = true
		return nil, nil
	})

	if !r.Unregister(id) {
		t.Fatal("expected Unregister to report success")
	}
	r.Dispatch(context.Background(), NewEvent(EventTurnStart, ""))
	if called {
		t.Error("expected unregistered handler not to be called")
	}
}
