package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/agentcore/nexus/internal/models"
)

// Registry manages handler registrations and event dispatch, applying the
// per-event-kind merge rules.
type Registry struct {
	handlers map[string][]*Registration // eventKey -> handlers
	byID     map[string]*Registration
	logger   *slog.Logger
	onError  func(*models.HookError)
	mu       sync.RWMutex
}

// NewRegistry creates a new handler registry. onError, if non-nil, is
// invoked whenever a handler panics or returns an error; it never aborts
// dispatch — callers typically wire it to publish a models.HookError onto
// the session's event stream.
func NewRegistry(logger *slog.Logger, onError func(*models.HookError)) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string][]*Registration),
		byID:     make(map[string]*Registration),
		logger:   logger.With("component", "hooks"),
		onError:  onError,
	}
}

func eventKey(eventType EventType, customType string) string {
	if customType == "" {
		return string(eventType)
	}
	return string(eventType) + ":" + customType
}

// RegisterOption configures a registration.
type RegisterOption func(*Registration)

func WithPriority(p Priority) RegisterOption { return func(r *Registration) { r.Priority = p } }
func WithName(name string) RegisterOption    { return func(r *Registration) { r.Name = name } }
func WithSource(source string) RegisterOption { return func(r *Registration) { r.Source = source } }

// Register adds a handler for eventType, optionally scoped to customType
// (e.g. a tool name for tool_call/tool_result). Returns a registration ID
// for later Unregister.
func (r *Registry) Register(eventType EventType, customType string, handler Handler, opts ...RegisterOption) string {
	key := eventKey(eventType, customType)
	reg := &Registration{
		ID:       uuid.New().String(),
		EventKey: key,
		Handler:  handler,
		Priority: PriorityNormal,
	}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key] = append(r.handlers[key], reg)
	r.byID[reg.ID] = reg
	sort.SliceStable(r.handlers[key], func(i, j int) bool {
		return r.handlers[key][i].Priority < r.handlers[key][j].Priority
	})

	r.logger.Debug("registered hook", "id", reg.ID, "event_key", key, "name", reg.Name)
	return reg.ID
}

// Unregister removes a handler by its registration ID.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	handlers := r.handlers[reg.EventKey]
	for i, h := range handlers {
		if h.ID == id {
			r.handlers[reg.EventKey] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
	return true
}

// handlersFor returns the handlers registered for event.Type, both the
// general key and the CustomType-scoped key, in registration order.
func (r *Registry) handlersFor(event *Event) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	general := r.handlers[string(event.Type)]
	if event.CustomType == "" {
		out := make([]*Registration, len(general))
		copy(out, general)
		return out
	}
	specific := r.handlers[eventKey(event.Type, event.CustomType)]
	out := make([]*Registration, 0, len(general)+len(specific))
	out = append(out, general...)
	out = append(out, specific...)
	return out
}

func (r *Registry) callHandler(ctx context.Context, reg *Registration, event *Event) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("hook panic: %v", p)
		}
	}()
	return reg.Handler(ctx, event)
}

func (r *Registry) reportFailure(event *Event, reg *Registration, err error) {
	r.logger.Warn("hook handler failed", "event_type", event.Type, "handler", reg.Name, "error", err)
	if r.onError != nil {
		r.onError(&models.HookError{EventType: models.AgentEventType(event.Type), CustomType: event.CustomType, Cause: err})
	}
}

// Dispatch runs every handler registered for event in priority order,
// applying the merge rule for event.Type:
//   - tool_call: the first handler to return Block=true wins; later
//     handlers are skipped.
//   - tool_result: each handler may replace Content/Details/IsError on the
//     accumulated Result; later handlers see earlier replacements.
//   - session.before_*: any handler returning Cancel=true cancels the
//     pending transition; dispatch continues so every handler still runs.
//   - anything else: handlers run for their side effects; results are
//     ignored.
//
// A handler's panic or error is reported via onError and never aborts the
// remaining handlers.
func (r *Registry) Dispatch(ctx context.Context, event *Event) *Result {
	handlers := r.handlersFor(event)
	merged := &Result{}

	for _, reg := range handlers {
		res, err := r.callHandler(ctx, reg, event)
		if err != nil {
			r.reportFailure(event, reg, err)
			continue
		}
		if res == nil {
			continue
		}
		switch event.Type {
		case EventToolCall:
			if res.Block && !merged.Block {
				merged.Block = true
				merged.Reason = res.Reason
				return merged
			}
		case EventToolResult:
			if res.Content != nil {
				merged.Content = res.Content
			}
			if res.Details != nil {
				merged.Details = res.Details
			}
			if res.IsError != nil {
				merged.IsError = res.IsError
			}
		default:
			if res.Cancel {
				merged.Cancel = true
			}
		}
	}
	return merged
}

// RegisteredEvents returns all event keys with at least one registered
// handler.
func (r *Registry) RegisteredEvents() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	return keys
}

// HandlerCount returns the number of handlers registered for eventType,
// scoped to customType if non-empty.
func (r *Registry) HandlerCount(eventType EventType, customType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[eventKey(eventType, customType)])
}
