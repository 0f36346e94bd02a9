// Package scripted provides a runtime that replays a predetermined raw-event
// script. It backs the multiplexer and supervisor tests and the CLI's demo
// mode; production deployments supply a real runtime.Builder instead.
package scripted

import (
	"context"
	"io"
	"sync"

	"github.com/relaykit/relay/pkg/runtime"
)

// Step is one scripted runtime action: either an event or a failure.
type Step struct {
	Event runtime.RawEvent
	Err   error
}

// Runtime replays its steps in order and then reports the configured history.
type Runtime struct {
	Steps   []Step
	History []runtime.Item
}

// Run returns a source over the scripted steps. The input is recorded so
// tests can assert what the supervisor passed in.
func (r *Runtime) Run(ctx context.Context, in runtime.RunInput) (runtime.EventSource, error) {
	return &source{steps: r.Steps, history: r.History}, nil
}

type source struct {
	mu      sync.Mutex
	steps   []Step
	history []runtime.Item
	pos     int
}

func (s *source) Next(ctx context.Context) (runtime.RawEvent, error) {
	if err := ctx.Err(); err != nil {
		return runtime.RawEvent{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.steps) {
		return runtime.RawEvent{}, io.EOF
	}
	step := s.steps[s.pos]
	s.pos++
	if step.Err != nil {
		return runtime.RawEvent{}, step.Err
	}
	return step.Event, nil
}

func (s *source) HistoryItems() []runtime.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history
}

// Builder returns runtimes keyed by the build attempt. The first Build call
// returns the runtime at index 0, the second at index 1, and so on; the last
// runtime is reused once the script runs out. Build options are recorded for
// assertions.
type Builder struct {
	mu       sync.Mutex
	Runtimes []*Runtime
	Builds   []runtime.BuildOptions
}

func (b *Builder) Build(ctx context.Context, opts runtime.BuildOptions) (runtime.Runtime, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := len(b.Builds)
	b.Builds = append(b.Builds, opts)
	if idx >= len(b.Runtimes) {
		idx = len(b.Runtimes) - 1
	}
	return b.Runtimes[idx], nil
}
