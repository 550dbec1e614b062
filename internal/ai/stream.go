package ai

import (
	"context"
	"fmt"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type EventKind int

const (
	EventContent EventKind = iota
	EventReasoning
	EventTerminal
)

func (k EventKind) String() string {
	switch k {
	case EventContent:
		return "content"
	case EventReasoning:
		return "reasoning"
	case EventTerminal:
		return "terminal"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one normalized upstream item. A terminal event with a nil Err
// means the provider finished cleanly.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

func ContentDelta(t string) Event   { return Event{Kind: EventContent, Text: t} }
func ReasoningDelta(t string) Event { return Event{Kind: EventReasoning, Text: t} }
func Terminal(err error) Event      { return Event{Kind: EventTerminal, Err: err} }

type StreamRequest struct {
	Provider Provider
	Model    string
	APIKey   string
	Messages []Message
	// Options are provider specific. The SSE transport merges them into the
	// request body as is. The SDK transport only has typed fields, so it
	// carries the keys in SDKOptionKeys.
	Options map[string]any
}

// Streamer opens an upstream completion stream. The returned channel yields
// deltas in arrival order followed by exactly one terminal event, then closes.
// Callers must drain it.
type Streamer interface {
	Stream(ctx context.Context, req StreamRequest) <-chan Event
}

// UpstreamError carries the provider and HTTP status of a failed upstream call.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Body)
	}
	if e.Body == "" {
		return fmt.Sprintf("%s returned %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Dispatcher routes a request to the streamer for its provider's transport.
type Dispatcher struct {
	SSE Streamer
	SDK Streamer
}

func (d Dispatcher) Stream(ctx context.Context, req StreamRequest) <-chan Event {
	var s Streamer
	switch req.Provider.Transport {
	case TransportSSE:
		s = d.SSE
	case TransportSDK:
		s = d.SDK
	}
	if s == nil {
		out := make(chan Event, 1)
		out <- Terminal(fmt.Errorf("no streamer for transport %q (provider %s)", req.Provider.Transport, req.Provider.Name))
		close(out)
		return out
	}
	return s.Stream(ctx, req)
}
