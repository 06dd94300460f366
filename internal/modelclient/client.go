// Package modelclient implements the ModelClient contract: a single streaming
// interface in front of whichever provider SDK a session's configured model
// belongs to. Session Controller and Streaming Turn Engine code never import
// a provider SDK directly; they depend only on the Client interface here.
package modelclient

import (
	"context"
	"fmt"

	"github.com/agentcore/nexus/internal/models"
)

// Request is one turn's worth of input to a model: the conversation so far,
// the tools it may call, and generation options. API selects which adapter
// in a Registry handles the request.
type Request struct {
	API   string
	Model string

	System   string
	Messages []models.Message
	Tools    []models.Tool

	MaxTokens int

	EnableThinking       bool
	ThinkingBudgetTokens int

	// APIKey is the resolved credential for this request, supplied by the
	// caller (e.g. from a per-session API-key resolver). Adapters never
	// read credentials from the environment themselves.
	APIKey string
}

// EventKind discriminates a StreamEvent's payload: a Start/Delta/Done/Error
// stream shape.
type EventKind string

const (
	EventStart EventKind = "start"
	EventDelta EventKind = "delta"
	EventDone  EventKind = "done"
	EventError EventKind = "error"
)

// StreamEvent is one item from a Client.Stream channel. Exactly one of
// Block, Message, Err is populated, selected by Kind.
type StreamEvent struct {
	Kind EventKind

	// Block carries one incremental content block for EventDelta: a text
	// delta, a thinking delta, or a completed tool call.
	Block *models.ContentBlock

	// Message carries the finished, byte-identical AssistantMessage for
	// EventDone.
	Message *models.AssistantMessage

	// Err carries the failure for EventError. The stream is closed
	// immediately after an EventError or EventDone event.
	Err error
}

// Client is the contract one provider adapter implements.
type Client interface {
	// API returns the provider identifier this client serves, e.g.
	// "anthropic", "openai", "bedrock", "gemini". Matched against
	// Request.API by a Registry.
	API() string

	// Stream sends req and returns a channel of StreamEvents. The channel
	// is closed after the terminal Done or Error event. Cancelling ctx
	// stops the underlying request and yields an EventError with
	// ctx.Err().
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)

	// CountTokens estimates the token count of messages as this provider
	// would tokenize them, used by the Compaction Engine to decide when
	// to summarize.
	CountTokens(ctx context.Context, messages []models.Message) (int, error)
}

// Registry resolves a Request's API field to a concrete Client. It is the
// composition point for the four adapters in this package; callers outside
// modelclient only ever see the Client interface.
type Registry struct {
	clients map[string]Client
}

// NewRegistry builds a Registry from zero or more clients, keyed by each
// client's own API() value.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[string]Client, len(clients))}
	for _, c := range clients {
		if c == nil {
			continue
		}
		r.clients[c.API()] = c
	}
	return r
}

// Register adds or replaces the client for its API() value.
func (r *Registry) Register(c Client) {
	if c == nil {
		return
	}
	r.clients[c.API()] = c
}

// Lookup returns the client registered for api, or an error if none is.
func (r *Registry) Lookup(api string) (Client, error) {
	c, ok := r.clients[api]
	if !ok {
		return nil, fmt.Errorf("modelclient: no client registered for api %q", api)
	}
	return c, nil
}

// Stream resolves req.API and delegates, so callers can hold a single
// Registry rather than threading per-provider clients around.
func (r *Registry) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	c, err := r.Lookup(req.API)
	if err != nil {
		return nil, err
	}
	return c.Stream(ctx, req)
}

// CountTokens resolves api and delegates.
func (r *Registry) CountTokens(ctx context.Context, api string, messages []models.Message) (int, error) {
	c, err := r.Lookup(api)
	if err != nil {
		return 0, err
	}
	return c.CountTokens(ctx, messages)
}
