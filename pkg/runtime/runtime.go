// Package runtime defines the boundary to the agent runtime collaborator:
// the LLM-driven reasoning/tool-calling loop that produces raw events.
//
// The runtime itself is opaque. This package pins down the three things the
// orchestration core needs from it: a decoded raw-event vocabulary, a pull
// iterator over one run's events, and the ability to be rebuilt with a named
// tool provider excluded (the failover hook).
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// RunInput configures one execution attempt.
type RunInput struct {
	// ConversationID identifies the owning thread.
	ConversationID string

	// Items is the bounded conversation history plus the new user turn.
	Items []Item

	// Instructions is the system prompt, opaque to the core.
	Instructions string

	// DisabledProviders names tool providers whose tools must be excluded.
	DisabledProviders map[string]bool
}

// RunStatus is the coarse lifecycle of one execution attempt.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// EventSource is a pull iterator over one run's raw events.
//
// Next returns io.EOF after the last event. HistoryItems is only valid once
// Next has returned io.EOF; it exposes the full turn's input/output items for
// the post-terminal context pass.
type EventSource interface {
	Next(ctx context.Context) (RawEvent, error)
	HistoryItems() []Item
}

// Runtime executes one reasoning/tool-calling loop.
type Runtime interface {
	Run(ctx context.Context, in RunInput) (EventSource, error)
}

// BuildOptions parameterize runtime construction.
type BuildOptions struct {
	// DisabledProviders excludes the named providers' tools from the
	// rebuilt runtime. Used by the failover path after a provider fails
	// to initialize.
	DisabledProviders map[string]bool
}

// Builder constructs runtimes. The failover supervisor rebuilds through this
// rather than mutating a live runtime.
type Builder interface {
	Build(ctx context.Context, opts BuildOptions) (Runtime, error)
}

// BuilderFunc adapts a function to the Builder interface.
type BuilderFunc func(ctx context.Context, opts BuildOptions) (Runtime, error)

func (f BuilderFunc) Build(ctx context.Context, opts BuildOptions) (Runtime, error) {
	return f(ctx, opts)
}

// MarshalItems serializes history items for the _context_items event.
func MarshalItems(items []Item) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(items))
	for i, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize item %d: %w", i, err)
		}
		out = append(out, data)
	}
	return out, nil
}
