package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaykit/relay/pkg/event"
	"github.com/relaykit/relay/pkg/memory"
	"github.com/relaykit/relay/pkg/questions"
	"github.com/relaykit/relay/pkg/runtime"
	"github.com/relaykit/relay/pkg/stream"
	"github.com/relaykit/relay/pkg/translate"
)

type chatRequest struct {
	Message      string `json:"message"`
	Instructions string `json:"instructions,omitempty"`
}

type submitRequest struct {
	Responses map[string]string `json:"responses"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleChatStream executes one run for a thread and streams canonical events
// as SSE. The client always receives a done or error terminal event.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "thread")

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	strategy, err := memory.ParseStrategy(s.cfg.Memory.Strategy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "invalid memory strategy")
		return
	}
	session := s.deps.Memory.GetOrCreate(threadID, strategy, memory.Limits{
		MaxTurns:        s.cfg.Memory.MaxTurns,
		MaxItems:        s.cfg.Memory.MaxItems,
		KeepToolOutputs: s.cfg.Memory.KeepToolOutputs,
		Threshold:       s.cfg.Memory.Threshold,
		KeepRecentTurns: s.cfg.Memory.KeepRecentTurns,
		MaxTokens:       s.cfg.Memory.MaxTokens,
		MaxBytes:        s.cfg.Memory.MaxBytes,
	})

	history := session.Items()
	items := make([]runtime.Item, 0, len(history)+1)
	items = append(items, history...)
	items = append(items, runtime.Item{
		Type:    runtime.ItemMessage,
		Role:    "user",
		Content: req.Message,
	})

	in := runtime.RunInput{
		ConversationID: threadID,
		Items:          items,
		Instructions:   req.Instructions,
	}

	mux := stream.NewMultiplexer(
		stream.WithQueueSize(s.cfg.Stream.QueueSize),
		stream.WithIdleInterval(s.cfg.Stream.IdleInterval),
		stream.WithLogger(s.deps.Logger),
	)
	sup := stream.NewSupervisor(s.deps.Builder, mux, s.labels,
		stream.WithSupervisorLogger(s.deps.Logger),
		stream.WithFailoverHook(func(provider string) {
			s.deps.Metrics.Failovers.WithLabelValues(provider).Inc()
		}),
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.deps.Metrics.ActiveStreams.Inc()
	start := time.Now()
	defer func() {
		s.deps.Metrics.ActiveStreams.Dec()
		s.deps.Metrics.StreamDuration.Observe(time.Since(start).Seconds())
	}()

	// History length before this turn; everything past it in the final
	// context items is the new turn.
	prior := len(history)

	emit := func(e *event.Event) error {
		if e.Type == event.TypeReasoning {
			translate.Apply(r.Context(), s.deps.Translator, e)
		}
		if e.Type == event.TypeContextItems {
			s.persistTurn(r, session, prior, e)
		}

		s.deps.Metrics.EventsEmitted.WithLabelValues(string(e.Type)).Inc()

		if err := event.WriteSSE(w, e); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sup.Stream(r.Context(), in, emit); err != nil {
		// Terminal events already reached the client where possible; this is
		// a transport-level failure (client gone, broken pipe).
		s.deps.Logger.Debug("stream ended with error", "thread", threadID, "error", err)
	}
}

// persistTurn folds the run's new items into the thread session.
func (s *Server) persistTurn(r *http.Request, session *memory.Session, prior int, e *event.Event) {
	full := make([]runtime.Item, 0, len(e.Items))
	for _, raw := range e.Items {
		var item runtime.Item
		if err := json.Unmarshal(raw, &item); err != nil {
			s.deps.Logger.Warn("failed to decode context item", "error", err)
			continue
		}
		full = append(full, item)
	}

	if prior > len(full) {
		prior = 0
	}
	newTurn := full[prior:]
	if len(newTurn) == 0 {
		return
	}

	if _, err := session.Apply(r.Context(), newTurn); err != nil {
		s.deps.Logger.Warn("failed to apply context strategy", "error", err)
	}
}

// handleSubmitResponses resolves an open question group.
func (s *Server) handleSubmitResponses(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "group")

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Responses) == 0 {
		writeError(w, http.StatusBadRequest, "responses are required")
		return
	}

	if err := s.deps.Registry.Submit(groupID, req.Responses); err != nil {
		if errors.Is(err, questions.ErrNotFound) {
			writeError(w, http.StatusNotFound, "question group not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
