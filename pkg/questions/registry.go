// Package questions tracks pending human-input requests.
//
// A tool that needs human input creates a question group, emits an ask_user
// event, and blocks on Await until the client submits answers or the timeout
// elapses. The registry is shared across concurrently active runs; each
// group carries its own synchronization.
package questions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relaykit/relay/pkg/event"
)

// DefaultTimeout bounds how long a tool waits for human input.
const DefaultTimeout = 300 * time.Second

// ErrTimeout signals that no submission arrived in time. It resolves the
// suspension as a normal "no response" outcome, never as a run failure.
var ErrTimeout = errors.New("timed out waiting for user response")

// ErrNotFound is returned when a submission names an unknown or already
// cleaned-up group.
var ErrNotFound = errors.New("question group not found")

// Group is a waitable handle for one set of questions.
type Group struct {
	id        string
	questions []event.Question

	mu       sync.Mutex
	resolved bool
	ch       chan map[string]string
}

// ID returns the group identifier carried by ask_user events.
func (g *Group) ID() string {
	return g.id
}

// Questions returns the ordered question list.
func (g *Group) Questions() []event.Question {
	return g.questions
}

// Registry is the process-wide map of open question groups.
type Registry struct {
	mu             sync.RWMutex
	groups         map[string]*Group
	defaultTimeout time.Duration
}

// NewRegistry creates a registry. A zero timeout selects DefaultTimeout.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		groups:         make(map[string]*Group),
		defaultTimeout: timeout,
	}
}

// CreateGroup allocates a unique group ID and registers the questions.
func (r *Registry) CreateGroup(questions []event.Question) *Group {
	g := &Group{
		id:        event.NewGroupID(),
		questions: questions,
		ch:        make(chan map[string]string, 1),
	}

	r.mu.Lock()
	r.groups[g.id] = g
	r.mu.Unlock()

	return g
}

// Await suspends the caller until a submission arrives, the timeout elapses,
// or ctx is cancelled. A zero timeout selects the registry default.
// Exactly one of {submission, timeout} resolves the group.
func (r *Registry) Await(ctx context.Context, g *Group, timeout time.Duration) (map[string]string, error) {
	if timeout == 0 {
		timeout = r.defaultTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case responses := <-g.ch:
		return responses, nil

	case <-timer.C:
		// Resolve under the group lock so a racing Submit either lands
		// before (and wins) or observes the group as resolved.
		g.mu.Lock()
		select {
		case responses := <-g.ch:
			g.mu.Unlock()
			return responses, nil
		default:
		}
		g.resolved = true
		g.mu.Unlock()
		return nil, ErrTimeout

	case <-ctx.Done():
		g.mu.Lock()
		g.resolved = true
		g.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Submit delivers responses to the waiting tool. It wakes exactly one
// waiter; submitting to an already-resolved group is a no-op.
func (r *Registry) Submit(groupID string, responses map[string]string) error {
	r.mu.RLock()
	g, ok := r.groups[groupID]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, groupID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolved {
		return nil
	}
	g.resolved = true
	g.ch <- responses
	return nil
}

// Cleanup removes the group. Must run exactly once per group, whichever path
// resolved it, so the registry does not grow without bound.
func (r *Registry) Cleanup(groupID string) {
	r.mu.Lock()
	delete(r.groups, groupID)
	r.mu.Unlock()
}

// Pending returns the IDs of groups still awaiting resolution.
func (r *Registry) Pending() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	return ids
}
