package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/relaykit/relay/pkg/event"
	"github.com/relaykit/relay/pkg/runtime"
)

// SupervisorState is the failover state machine position.
type SupervisorState string

const (
	StateIdle      SupervisorState = "idle"
	StateRunning   SupervisorState = "running"
	StateRetrying  SupervisorState = "retrying"
	StateSucceeded SupervisorState = "succeeded"
	StateFailed    SupervisorState = "failed"
)

// EmitFunc receives each canonical event in stream order. Returning an error
// aborts the stream (client gone).
type EmitFunc func(e *event.Event) error

// Supervisor wraps one multiplexed run and makes exactly one recovery
// attempt when a recognized tool-provider initialization failure occurs
// mid-run. Any other error, and any error during the retried run, is
// terminal.
type Supervisor struct {
	builder runtime.Builder
	mux     *Multiplexer
	logger  *slog.Logger

	// knownProviders maps provider identifiers to display labels. A
	// failure is only recoverable when the extracted provider is known.
	knownProviders map[string]string

	state SupervisorState

	onFailover func(provider string)
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithSupervisorLogger sets the logger.
func WithSupervisorLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithFailoverHook registers a callback invoked once per degraded provider,
// for metrics.
func WithFailoverHook(fn func(provider string)) SupervisorOption {
	return func(s *Supervisor) {
		s.onFailover = fn
	}
}

// NewSupervisor creates a supervisor over builder and mux. knownProviders
// maps provider identifiers (as they appear in failures) to display labels.
func NewSupervisor(builder runtime.Builder, mux *Multiplexer, knownProviders map[string]string, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		builder:        builder,
		mux:            mux,
		knownProviders: knownProviders,
		logger:         slog.Default(),
		state:          StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state machine position.
func (s *Supervisor) State() SupervisorState {
	return s.state
}

// Stream executes the run, forwarding every canonical event to emit. The
// client always receives exactly one terminal event (done or error) unless
// ctx is cancelled first.
func (s *Supervisor) Stream(ctx context.Context, in runtime.RunInput, emit EmitFunc) error {
	s.state = StateRunning

	err := s.runOnce(ctx, in, emit)
	if err == nil {
		s.state = StateSucceeded
		return nil
	}
	if ctx.Err() != nil {
		// Client cancellation: no terminal event, no retry.
		s.state = StateFailed
		return err
	}

	provider, recoverable := runtime.ProviderFailure(err)
	label, known := s.knownProviders[provider]

	if !recoverable || !known {
		s.state = StateFailed
		return s.terminate(emit, s.failureMessage(err, provider))
	}

	// One retry, with the failed provider's tools excluded.
	s.state = StateRetrying
	s.logger.Warn("tool provider failed to initialize, retrying without it",
		"provider", provider,
		"error", err,
	)
	if s.onFailover != nil {
		s.onFailover(provider)
	}
	notice := event.NewProgress(fmt.Sprintf("%s is temporarily unavailable; continuing without it.", label))
	if emitErr := emit(notice); emitErr != nil {
		s.state = StateFailed
		return emitErr
	}

	retryIn := in
	retryIn.DisabledProviders = map[string]bool{provider: true}

	s.state = StateRunning
	if err := s.runOnce(ctx, retryIn, emit); err != nil {
		// Any error during the retried run is terminal.
		s.state = StateFailed
		if ctx.Err() != nil {
			return err
		}
		return s.terminate(emit, fmt.Sprintf("run failed after disabling %s: %v", label, err))
	}

	s.state = StateSucceeded
	return nil
}

// runOnce drives one multiplexed run to its done event, or returns the error
// surfaced by the multiplexer.
func (s *Supervisor) runOnce(ctx context.Context, in runtime.RunInput, emit EmitFunc) error {
	rt, err := s.builder.Build(ctx, runtime.BuildOptions{DisabledProviders: in.DisabledProviders})
	if err != nil {
		return err
	}

	st := s.mux.Start(ctx, rt, in)
	defer st.Close()

	for {
		ev, err := st.Next(ctx)
		if errors.Is(err, ErrStreamConsumed) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := emit(ev); err != nil {
			return err
		}
	}
}

// terminate emits the terminal error event. The emit failure, if any, wins:
// there is nobody left to receive the event.
func (s *Supervisor) terminate(emit EmitFunc, message string) error {
	if err := emit(event.NewError(message)); err != nil {
		return err
	}
	return nil
}

// failureMessage renders a terminal error with a provider-specific
// remediation hint when the failure names a provider the run cannot recover
// from.
func (s *Supervisor) failureMessage(err error, provider string) string {
	if runtime.IsToolListFailure(err) {
		if provider != "" {
			return fmt.Sprintf("tool provider %s failed to initialize; please re-authenticate %s and try again", provider, provider)
		}
		return "a tool provider failed to initialize; please re-authenticate your connected tools and try again"
	}
	return err.Error()
}
