package hooks

import (
	"context"
	"testing"
)

func TestGlobalRegisterAndDispatch(t *testing.T) {
	SetGlobalRegistry(NewRegistry(nil, nil))
	called := false
	id := Register(EventAgentStart, "", func(ctx context.Context, event *Event) (*Result, error) {
		called = true
		return nil, nil
	})
	defer Unregister(id)

	Dispatch(context.Background(), NewEvent(EventAgentStart, ""))
	if !called {
		t.Fatal("expected globally registered handler to be called")
	}
}

func TestGlobalReturnsSameRegistry(t *testing.T) {
	if Global() != Global() {
		t.Fatal("expected Global() to return the same registry instance")
	}
}
