// Package server exposes the relay over HTTP: an SSE chat stream per thread,
// a question-response endpoint, and operational endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/relaykit/relay/pkg/config"
	"github.com/relaykit/relay/pkg/memory"
	"github.com/relaykit/relay/pkg/questions"
	"github.com/relaykit/relay/pkg/runtime"
	"github.com/relaykit/relay/pkg/translate"
)

// Dependencies are the collaborators the server wires per request.
type Dependencies struct {
	// Builder constructs agent runtimes; required.
	Builder runtime.Builder

	// Registry resolves ask_user suspensions; required.
	Registry *questions.Registry

	// Memory manages per-thread history; required.
	Memory *memory.Manager

	// Translator is optional; nil disables translation.
	Translator translate.Translator

	// Metrics is optional; nil creates a fresh set.
	Metrics *Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the HTTP front of the relay.
type Server struct {
	cfg    *config.Config
	deps   Dependencies
	labels map[string]string

	httpServer *http.Server
}

// New creates a server from config and collaborators.
func New(cfg *config.Config, deps Dependencies) (*Server, error) {
	if deps.Builder == nil {
		return nil, fmt.Errorf("runtime builder is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("question registry is required")
	}
	if deps.Memory == nil {
		return nil, fmt.Errorf("memory manager is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		labels: cfg.ProviderLabels(),
	}

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     s.Router(),
		ReadTimeout: cfg.Server.ReadTimeout,
		// No WriteTimeout: SSE streams stay open arbitrarily long.
	}

	return s, nil
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestMetrics)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.HandlerFor(
		s.deps.Metrics.Registry(),
		promhttp.HandlerOpts{},
	).ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/{thread}/stream", s.handleChatStream)
		r.Post("/questions/{group}", s.handleSubmitResponses)
	})

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.deps.Logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()

		s.deps.Logger.Info("Shutting down HTTP server")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// statusWriter captures the status code for request metrics while keeping
// http.Flusher available to SSE handlers.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *Server) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}
		s.deps.Metrics.HTTPRequestCounter.
			WithLabelValues(r.Method, pattern, fmt.Sprintf("%d", sw.status)).
			Inc()

		s.deps.Logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}
