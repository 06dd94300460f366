package models

import "testing"

func TestNewUserText(t *testing.T) {
	msg := NewUserText("hello")
	if msg.Role != RoleUser {
		t.Fatalf("Role = %q, want %q", msg.Role, RoleUser)
	}
	if msg.User == nil || len(msg.User.Content) != 1 {
		t.Fatalf("expected one content block, got %+v", msg.User)
	}
	if msg.User.Content[0].Text == nil || msg.User.Content[0].Text.Text != "hello" {
		t.Fatalf("content = %+v, want text %q", msg.User.Content[0], "hello")
	}
}

func TestWithExcludeFromContext(t *testing.T) {
	msg := NewUserText("secret").WithExcludeFromContext()
	if !msg.ExcludeFromContext {
		t.Fatal("expected ExcludeFromContext = true")
	}
}

func TestNewCustomMessage(t *testing.T) {
	msg := NewCustomMessage("resolve-reminder", map[string]any{"count": 2})
	if msg.Role != RoleCustom {
		t.Fatalf("Role = %q, want %q", msg.Role, RoleCustom)
	}
	if msg.Custom.CustomType != "resolve-reminder" {
		t.Fatalf("CustomType = %q, want %q", msg.Custom.CustomType, "resolve-reminder")
	}
}

func TestMessageExactlyOnePayload(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want Role
	}{
		{"user", NewUserText("hi"), RoleUser},
		{"assistant", NewAssistantMessage(&AssistantMessage{StopReason: StopReasonStop}), RoleAssistant},
		{"custom", NewCustomMessage("x", nil), RoleCustom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.msg.Role != tt.want {
				t.Errorf("Role = %q, want %q", tt.msg.Role, tt.want)
			}
			count := 0
			for _, nonNil := range []bool{
				tt.msg.User != nil,
				tt.msg.Assistant != nil,
				tt.msg.ToolResult != nil,
				tt.msg.BashExecution != nil,
				tt.msg.PythonExecution != nil,
				tt.msg.CompactionSummary != nil,
				tt.msg.Custom != nil,
			} {
				if nonNil {
					count++
				}
			}
			if count != 1 {
				t.Errorf("expected exactly one non-nil payload, got %d", count)
			}
		})
	}
}
