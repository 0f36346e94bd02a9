package stream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/relaykit/relay/pkg/event"
	"github.com/relaykit/relay/pkg/runtime"
)

const (
	// DefaultQueueSize bounds the per-run event queue.
	DefaultQueueSize = 256

	// DefaultIdleInterval is the idle window after which the consumer
	// synthesizes a progress keepalive instead of blocking the client.
	DefaultIdleInterval = 20 * time.Second
)

// KeepaliveText is the body of synthesized progress events.
const KeepaliveText = "working…"

// Emitter lets tool goroutines inject out-of-band events into a run's
// stream. Injected events interleave with pump-sourced events in enqueue
// order.
type Emitter interface {
	// Emit enqueues the event. It reports false when the run is shutting
	// down and the event was discarded.
	Emit(e *event.Event) bool
}

type emitterKey struct{}

// ContextWithEmitter attaches the run's producer handle to ctx. The
// multiplexer installs it on the context it hands to the runtime, so tool
// code deep inside the run can reach its own stream.
func ContextWithEmitter(ctx context.Context, em Emitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, em)
}

// EmitterFromContext retrieves the producer handle installed by the
// multiplexer, or nil outside a run.
func EmitterFromContext(ctx context.Context) Emitter {
	em, _ := ctx.Value(emitterKey{}).(Emitter)
	return em
}

// Multiplexer produces one ordered canonical-event stream per run by merging
// the runtime's event sequence with asynchronous out-of-band tool events.
type Multiplexer struct {
	classifier   *Classifier
	queueSize    int
	idleInterval time.Duration
	logger       *slog.Logger
}

// MultiplexerOption configures a Multiplexer.
type MultiplexerOption func(*Multiplexer)

// WithQueueSize overrides the per-run queue bound.
func WithQueueSize(n int) MultiplexerOption {
	return func(m *Multiplexer) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithIdleInterval overrides the keepalive idle window.
func WithIdleInterval(d time.Duration) MultiplexerOption {
	return func(m *Multiplexer) {
		if d > 0 {
			m.idleInterval = d
		}
	}
}

// WithLogger sets the multiplexer logger.
func WithLogger(logger *slog.Logger) MultiplexerOption {
	return func(m *Multiplexer) {
		m.logger = logger
	}
}

// NewMultiplexer creates a multiplexer.
func NewMultiplexer(opts ...MultiplexerOption) *Multiplexer {
	m := &Multiplexer{
		queueSize:    DefaultQueueSize,
		idleInterval: DefaultIdleInterval,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.classifier == nil {
		m.classifier = NewClassifier(m.logger)
	}
	return m
}

// muxItem is one queue entry: a canonical event, an error sentinel, or the
// terminal sentinel marking normal pump completion.
type muxItem struct {
	ev       *event.Event
	err      error
	terminal bool
}

// consumer phases after the terminal sentinel arrives.
type phase int

const (
	phaseStreaming phase = iota
	phaseContextItems
	phaseDone
	phaseFinished
)

// Stream is one run's ordered canonical-event stream. It owns the queue and
// the pump goroutine; both are torn down together via Close. Next must be
// called from a single consumer goroutine.
type Stream struct {
	mux    *Multiplexer
	ctx    context.Context
	cancel context.CancelFunc

	ch       chan muxItem
	pumpDone chan struct{}

	// source is set by the pump before it enqueues the terminal sentinel;
	// the channel receive provides the happens-before edge.
	sourceMu sync.Mutex
	source   runtime.EventSource

	started        time.Time
	conversationID string
	finalText      strings.Builder
	records        map[string]*event.ToolCallRecord
	phase          phase
}

// Start launches exactly one pump task for the run and returns its stream.
// The pump classifies each raw runtime event and forwards the results; on
// normal completion it enqueues a terminal sentinel, on a runtime error an
// error sentinel — the consumer, not the pump, decides the failure path.
func (m *Multiplexer) Start(ctx context.Context, rt runtime.Runtime, in runtime.RunInput) *Stream {
	runCtx, cancel := context.WithCancel(ctx)

	s := &Stream{
		mux:            m,
		ctx:            runCtx,
		cancel:         cancel,
		ch:             make(chan muxItem, m.queueSize),
		pumpDone:       make(chan struct{}),
		started:        time.Now(),
		conversationID: in.ConversationID,
		records:        make(map[string]*event.ToolCallRecord),
	}

	go s.pump(rt, in)
	return s
}

// pump iterates the runtime's raw events and forwards classified canonical
// events to the queue. It never returns an error directly; failures travel
// through the error sentinel.
func (s *Stream) pump(rt runtime.Runtime, in runtime.RunInput) {
	defer close(s.pumpDone)

	// Tools running inside this run reach the queue through the context.
	ctx := ContextWithEmitter(s.ctx, s)

	src, err := rt.Run(ctx, in)
	if err != nil {
		s.push(muxItem{err: err})
		return
	}

	seen := make(map[string]bool)
	for {
		raw, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			s.sourceMu.Lock()
			s.source = src
			s.sourceMu.Unlock()
			s.push(muxItem{terminal: true})
			return
		}
		if err != nil {
			s.push(muxItem{err: err})
			return
		}

		for _, ev := range s.mux.classifier.Classify(raw, seen) {
			if !s.push(muxItem{ev: ev}) {
				return
			}
		}
	}
}

func (s *Stream) push(it muxItem) bool {
	select {
	case s.ch <- it:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Emit implements Emitter for out-of-band producers (tools). Ordering
// relative to pump events is enqueue order; no reordering by causality.
func (s *Stream) Emit(e *event.Event) bool {
	return s.push(muxItem{ev: e})
}

// ErrStreamConsumed is returned by Next after the terminal done event.
var ErrStreamConsumed = errors.New("stream fully consumed")

// Next returns the next canonical event.
//
// When no item arrives within the idle window, a progress keepalive is
// synthesized without consuming a queue item. A runtime failure surfaces as
// an error for the caller (typically the failover supervisor) to inspect.
// After the terminal sentinel, Next emits one _context_items event built
// from the runtime's turn history, then the done event, then
// ErrStreamConsumed.
func (s *Stream) Next(ctx context.Context) (*event.Event, error) {
	switch s.phase {
	case phaseContextItems:
		s.phase = phaseDone
		return s.contextItemsEvent(), nil

	case phaseDone:
		s.phase = phaseFinished
		done := event.NewDone(s.conversationID, time.Since(s.started), s.finalText.String())
		return done, nil

	case phaseFinished:
		return nil, ErrStreamConsumed
	}

	idle := time.NewTimer(s.mux.idleInterval)
	defer idle.Stop()

	select {
	case it := <-s.ch:
		if it.err != nil {
			return nil, it.err
		}
		if it.terminal {
			s.phase = phaseContextItems
			return s.Next(ctx)
		}
		s.observe(it.ev)
		return it.ev, nil

	case <-idle.C:
		return event.NewProgress(KeepaliveText), nil

	case <-ctx.Done():
		return nil, ctx.Err()

	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

// observe maintains consumer-side run state: the accumulated final text,
// the conversation id, and the tool-call records.
func (s *Stream) observe(e *event.Event) {
	switch e.Type {
	case event.TypeResponseCreated:
		if e.ConversationID != "" {
			s.conversationID = e.ConversationID
		}
	case event.TypeTextDelta:
		s.finalText.WriteString(e.Content)
	case event.TypeToolCall:
		s.records[e.CallID] = &event.ToolCallRecord{
			CallID:    e.CallID,
			Name:      e.Name,
			Arguments: e.Arguments,
			Status:    event.ToolCallPending,
		}
	case event.TypeToolResult:
		if rec, ok := s.records[e.CallID]; ok {
			rec.Status = event.ToolCallCompleted
			rec.Output = e.Output
		}
	}
}

func (s *Stream) contextItemsEvent() *event.Event {
	s.sourceMu.Lock()
	src := s.source
	s.sourceMu.Unlock()

	if src == nil {
		return event.NewContextItems(nil)
	}

	items, err := runtime.MarshalItems(src.HistoryItems())
	if err != nil {
		s.mux.logger.Warn("failed to serialize turn history", "error", err)
		return event.NewContextItems(nil)
	}
	return event.NewContextItems(items)
}

// ToolCalls returns the run's tool-call records keyed by call ID.
func (s *Stream) ToolCalls() map[string]*event.ToolCallRecord {
	return s.records
}

// FinalText returns the accumulated assistant text so far.
func (s *Stream) FinalText() string {
	return s.finalText.String()
}

// Close cancels the pump if it is still running and waits for it to absorb
// the cancellation. Safe to call more than once.
func (s *Stream) Close() {
	s.cancel()
	<-s.pumpDone
}
