package memory

import (
	"log/slog"
	"sync"
)

// Manager caches one Session per thread for the process lifetime.
//
// The surrounding system serializes turns per thread; the cache itself is
// safe for concurrent threads.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	summarizer Summarizer
	counter    *TokenCounter
	logger     *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSummarizer supplies the LLM collaborator for the summarizing and
// compaction strategies. Without one, both degrade to trimming.
func WithSummarizer(s Summarizer) ManagerOption {
	return func(m *Manager) {
		m.summarizer = s
	}
}

// WithTokenCounter supplies the counter used for token-based compaction
// thresholds.
func WithTokenCounter(tc *TokenCounter) ManagerOption {
	return func(m *Manager) {
		m.counter = tc
	}
}

// WithManagerLogger sets the logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a session manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreate returns the thread's session, creating it lazily. Calling
// again with a different strategy or limits reconfigures the session; the
// change takes effect from the next Apply (the next turn), never
// retroactively.
func (m *Manager) GetOrCreate(threadID string, strategy Strategy, limits Limits) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[threadID]
	if !ok {
		s = &Session{
			threadID: threadID,
			manager:  m,
		}
		m.sessions[threadID] = s
	}

	s.mu.Lock()
	s.strategy = strategy
	s.limits = limits.withDefaults()
	s.mu.Unlock()

	return s
}

// Len reports how many thread sessions are cached.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
