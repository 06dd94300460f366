// Package rpc implements the headless-host boundary: newline-delimited
// JSON commands on stdin, responses and events on stdout, and a side
// channel for synchronous hook UI requests. Grounded on
// internal/mcp/transport_stdio.go (bufio.Scanner with a generous buffer,
// one JSON object per line, a pending-request map keyed by correlation ID
// for request/response matching over a single stream) adapted from a
// client-of-a-subprocess shape to a server-over-stdio shape: this package
// is the callee, not the caller.
package rpc

import "encoding/json"

// envelope is the minimal shape every line on stdin must satisfy before
// this package decides whether it is a Command or a HookUIResponse.
type envelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// Command is one request line read from stdin. Type selects the
// operation; ID is an optional correlation token echoed back on the
// matching Response. Fields not relevant to Type are left zero.
type Command struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// prompt / steer / follow_up / queue_message
	Text string `json:"text,omitempty"`

	// set_model
	API   string `json:"api,omitempty"`
	Model string `json:"model,omitempty"`

	// set_thinking_level
	Level string `json:"level,omitempty"`

	// compact
	Instructions string `json:"instructions,omitempty"`

	// set_auto_compaction
	Enabled *bool `json:"enabled,omitempty"`

	// switch_session
	SessionID string `json:"sessionId,omitempty"`

	// branch
	EntryID uint64 `json:"entryId,omitempty"`

	// subscribe
	BufferSize int `json:"bufferSize,omitempty"`
}

// Response is always emitted for a Command, including unknown ones:
// responses always carry {type:"response", command, success, data?,
// error?}.
type Response struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Command string `json:"command"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EventEnvelope wraps one AgentEvent for the output stream, distinguishing
// it from Response/HookUIRequest lines by Type.
type EventEnvelope struct {
	Type  string `json:"type"`
	Event any    `json:"event"`
}

// HookUIRequest is emitted by this package when a registered hook needs
// synchronous input from whatever sits on the other end of stdout/stdin
// (a human, or a front-end proxying to one). Answered by a
// HookUIResponse carrying the same ID on a later stdin line.
type HookUIRequest struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// HookUIResponse answers a HookUIRequest. Err, when non-empty, reports a
// client-side failure to answer (e.g. the UI was closed).
type HookUIResponse struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Err    string          `json:"err,omitempty"`
}

func unknownCommandError(cmdType string) string {
	return "Unknown command: " + cmdType
}
