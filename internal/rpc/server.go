package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/agentcore/nexus/internal/models"
	"github.com/agentcore/nexus/internal/observability"
	"github.com/agentcore/nexus/internal/session"
)

// Exit codes: 0 clean shutdown, 1 unrecoverable controller error, 2 bad
// invocation.
const (
	ExitClean         = 0
	ExitControllerErr = 1
	ExitBadInvocation = 2
)

// maxLineBytes bounds one stdin line, mirroring StdioTransport's 1MB
// scanner buffer.
const maxLineBytes = 1024 * 1024

// Server drives a session.Controller from newline-delimited JSON commands
// read from in, writing responses and fanned-out AgentEvents as
// newline-delimited JSON to out. One Server serves exactly one Controller.
type Server struct {
	ctrl    *session.Controller
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	out      io.Writer
	outMu    sync.Mutex
	nextUIID atomic.Uint64

	pendingMu sync.Mutex
	pendingUI map[string]chan HookUIResponse
}

// NewServer wires a Server around ctrl. logger may be nil.
func NewServer(ctrl *session.Controller, logger *observability.Logger) *Server {
	return &Server{
		ctrl:      ctrl,
		logger:    logger,
		pendingUI: make(map[string]chan HookUIResponse),
	}
}

// SetMetrics wires a metrics recorder so each dispatched command reports
// duration and outcome counters.
func (s *Server) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// SetTracer wires a tracer so each dispatched command produces a span.
func (s *Server) SetTracer(tracer *observability.Tracer) {
	s.tracer = tracer
}

// Serve reads commands from in and writes responses/events to out until in
// is exhausted or ctx is cancelled. It returns nil on a clean EOF.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = out

	sub, unsubscribe := s.ctrl.Subscribe(0)
	defer unsubscribe()

	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				s.writeLine(EventEnvelope{Type: "event", Event: ev})
			case <-ctx.Done():
				return
			}
		}
	}()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.handleLine(ctx, append([]byte(nil), line...))
	}

	<-eventsDone
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("rpc: read stdin: %w", err)
	}
	return nil
}

// handleLine decides whether a line is a Command or a HookUIResponse and
// dispatches accordingly.
func (s *Server) handleLine(ctx context.Context, line []byte) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		if s.logger != nil {
			s.logger.Warn(ctx, "rpc: malformed input line", "error", err)
		}
		s.writeLine(Response{Type: "response", Success: false, Error: "malformed JSON: " + err.Error()})
		return
	}

	if env.Type == "hook_ui_response" {
		var resp HookUIResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return
		}
		s.resolveUI(resp)
		return
	}

	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		s.writeLine(Response{Type: "response", ID: env.ID, Command: env.Type, Success: false, Error: "malformed JSON: " + err.Error()})
		return
	}
	s.dispatch(ctx, cmd)
}

// resolveUI delivers resp to the pending RequestUI call awaiting it, if
// any. A response for an unknown or already-resolved ID is dropped.
func (s *Server) resolveUI(resp HookUIResponse) {
	s.pendingMu.Lock()
	ch, ok := s.pendingUI[resp.ID]
	if ok {
		delete(s.pendingUI, resp.ID)
	}
	s.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}

// RequestUI sends a hook_ui_request and blocks until the matching
// hook_ui_response arrives, ctx is cancelled, or timeout elapses. It is
// the mechanism a Tool or Hook uses to ask whatever sits on the other end
// of this Server's stdio for synchronous input (e.g. "apply this patch?").
func (s *Server) RequestUI(ctx context.Context, method string, params json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	id := fmt.Sprintf("ui-%d", s.nextUIID.Add(1))
	ch := make(chan HookUIResponse, 1)

	s.pendingMu.Lock()
	s.pendingUI[id] = ch
	s.pendingMu.Unlock()

	s.writeLine(HookUIRequest{Type: "hook_ui_request", ID: id, Method: method, Params: params})

	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	select {
	case resp := <-ch:
		if resp.Err != "" {
			return nil, fmt.Errorf("rpc: hook UI request %q failed: %s", method, resp.Err)
		}
		return resp.Result, nil
	case <-ctx.Done():
		s.dropPendingUI(id)
		return nil, ctx.Err()
	case <-time.After(timeout):
		s.dropPendingUI(id)
		return nil, fmt.Errorf("rpc: hook UI request %q timed out after %s", method, timeout)
	}
}

func (s *Server) dropPendingUI(id string) {
	s.pendingMu.Lock()
	delete(s.pendingUI, id)
	s.pendingMu.Unlock()
}

func (s *Server) writeLine(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.out.Write(data)
	s.out.Write([]byte("\n"))
}

func (s *Server) respond(cmd Command, data any, err error) {
	resp := Response{Type: "response", ID: cmd.ID, Command: cmd.Type, Success: err == nil, Data: data}
	if err != nil {
		resp.Error = err.Error()
	}
	s.writeLine(resp)
}

// dispatch executes one Command against the Controller and writes its
// Response. Unknown commands get {success:false, error:"Unknown command:
// <t>"}, echoing the incoming ID verbatim (no attempt to correlate it
// against any pending-request table, since there is nothing to correlate
// for a command this package never recognized).
func (s *Server) dispatch(ctx context.Context, cmd Command) {
	if cmd.Type == "" || !knownCommands[cmd.Type] {
		resp := Response{Type: "response", ID: cmd.ID, Command: cmd.Type, Success: false, Error: unknownCommandError(cmd.Type)}
		s.writeLine(resp)
		return
	}

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.TraceRPCCommand(ctx, cmd.Type)
		defer span.End()
	}
	start := time.Now()

	var data any
	var err error

	switch cmd.Type {
	case "prompt":
		s.ctrl.Prompt(cmd.Text)
	case "steer":
		s.ctrl.Steer(cmd.Text)
	case "follow_up":
		s.ctrl.FollowUp(cmd.Text)
	case "queue_message":
		s.ctrl.QueueMessage(cmd.Text)
	case "abort":
		data = map[string]bool{"aborted": s.ctrl.Abort()}
	case "set_model":
		s.ctrl.SetModel(cmd.API, cmd.Model)
	case "cycle_model":
		data = map[string]string{"model": s.ctrl.CycleModel()}
	case "set_thinking_level":
		s.ctrl.SetThinkingLevel(session.ThinkingLevel(cmd.Level))
	case "set_auto_compaction":
		if cmd.Enabled != nil {
			s.ctrl.SetAutoCompaction(*cmd.Enabled)
		}
	case "compact":
		var ran bool
		ran, err = s.ctrl.Compact(ctx, cmd.Instructions)
		data = map[string]bool{"ran": ran}
	case "new_session":
		var id models.SessionID
		id, err = s.ctrl.NewSession(ctx)
		data = map[string]string{"sessionId": string(id)}
	case "switch_session":
		err = s.ctrl.SwitchSession(ctx, models.SessionID(cmd.SessionID))
		data = map[string]string{"sessionId": string(s.ctrl.ID())}
	case "branch":
		var id models.SessionID
		id, err = s.ctrl.Branch(ctx, models.EntryID(cmd.EntryID))
		data = map[string]string{"sessionId": string(id)}
	case "get_session_stats":
		data, err = s.ctrl.GetSessionStats(ctx)
	case "export_html":
		var htmlStr string
		htmlStr, err = s.ctrl.ExportHtml(ctx)
		data = map[string]string{"html": htmlStr}
	case "get_messages":
		data, err = s.ctrl.GetMessages(ctx)
	}

	s.respond(cmd, data, err)

	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordRPCCommand(cmd.Type, status, time.Since(start).Seconds())
	}
}

// knownCommands lists every cmd.Type dispatch recognizes; anything else
// gets unknownCommandError without ever entering the timed/traced path.
var knownCommands = map[string]bool{
	"prompt": true, "steer": true, "follow_up": true, "queue_message": true,
	"abort": true, "set_model": true, "cycle_model": true,
	"set_thinking_level": true, "set_auto_compaction": true, "compact": true,
	"new_session": true, "switch_session": true, "branch": true,
	"get_session_stats": true, "export_html": true, "get_messages": true,
}
