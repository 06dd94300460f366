package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentcore/nexus/internal/models"
	"github.com/agentcore/nexus/internal/modelclient"
	"github.com/agentcore/nexus/internal/session"
	"github.com/agentcore/nexus/internal/transcript"
)

// scriptedClient replays one canned response per call to Stream, grounded
// on the equivalent fake already established in internal/session's own
// tests.
type scriptedClient struct {
	events  [][]modelclient.StreamEvent
	callIdx int
}

func (c *scriptedClient) API() string { return "anthropic" }

func (c *scriptedClient) Stream(ctx context.Context, req modelclient.Request) (<-chan modelclient.StreamEvent, error) {
	idx := c.callIdx
	c.callIdx++
	if idx >= len(c.events) {
		idx = len(c.events) - 1
	}
	script := c.events[idx]
	ch := make(chan modelclient.StreamEvent, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (c *scriptedClient) CountTokens(ctx context.Context, messages []models.Message) (int, error) {
	return 0, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	client := &scriptedClient{
		events: [][]modelclient.StreamEvent{
			{
				{Kind: modelclient.EventDone, Message: &models.AssistantMessage{
					Content:    []models.ContentBlock{models.TextBlock("hi")},
					StopReason: models.StopReasonStop,
				}},
			},
		},
	}
	deps := session.Deps{
		Factory: func(ctx context.Context, id models.SessionID) (models.SessionID, transcript.Store, error) {
			if id == "" {
				id = models.SessionID("rpc-test")
			}
			return id, transcript.NewMemoryStore(""), nil
		},
		Clients:      modelclient.NewRegistry(client),
		DefaultAPI:   "anthropic",
		DefaultModel: "claude",
	}
	ctrl, err := session.New(context.Background(), deps)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return NewServer(ctrl, nil)
}

// syncBuffer is a bytes.Buffer safe for one writer goroutine and one
// reader goroutine polling concurrently, since Serve's event-forwarding
// goroutine writes to the same stream the test reads from.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// responses decodes every "type":"response" line currently in the
// snapshot.
func responses(t *testing.T, data []byte) []Response {
	t.Helper()
	var out []Response
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Bytes()
		var probe envelope
		if err := json.Unmarshal(line, &probe); err != nil || probe.Type != "response" {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		out = append(out, resp)
	}
	return out
}

// waitForResponses polls out until at least want responses have been
// written or timeout elapses.
func waitForResponses(t *testing.T, out *syncBuffer, want int, timeout time.Duration) []Response {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resps := responses(t, out.Snapshot())
		if len(resps) >= want {
			return resps
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d response(s); got %q", want, out.Snapshot())
	return nil
}

// TestUnknownCommand checks that an unrecognized command type gets
// {success:false, error:"Unknown command: ..."} echoing the supplied id,
// and that the server keeps serving afterward.
func TestUnknownCommand(t *testing.T) {
	s := newTestServer(t)

	in := strings.NewReader(`{"type":"nope","id":"x"}` + "\n")
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, in, out) }()

	resps := waitForResponses(t, out, 1, time.Second)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	if len(resps) != 1 {
		t.Fatalf("expected exactly 1 response, got %d", len(resps))
	}
	resp := resps[0]
	if resp.ID != "x" {
		t.Fatalf("expected id %q echoed, got %q", "x", resp.ID)
	}
	if resp.Command != "nope" {
		t.Fatalf("expected command %q, got %q", "nope", resp.Command)
	}
	if resp.Success {
		t.Fatalf("expected success=false for an unknown command")
	}
	if resp.Error != "Unknown command: nope" {
		t.Fatalf("expected exact error text, got %q", resp.Error)
	}
}

// TestPromptRoundTrip exercises a recognized command: prompt() acks
// immediately and the session subsequently emits agent.start/agent.end
// events on the stream.
func TestPromptRoundTrip(t *testing.T) {
	s := newTestServer(t)

	in := strings.NewReader(`{"type":"prompt","id":"p1","text":"hello"}` + "\n")
	out := &syncBuffer{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, in, out) }()

	resps := waitForResponses(t, out, 1, time.Second)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	if len(resps) != 1 {
		t.Fatalf("expected exactly 1 response, got %d", len(resps))
	}
	if !resps[0].Success {
		t.Fatalf("expected prompt command to succeed, got error %q", resps[0].Error)
	}
	if resps[0].Command != "prompt" || resps[0].ID != "p1" {
		t.Fatalf("unexpected response shape: %+v", resps[0])
	}
}
