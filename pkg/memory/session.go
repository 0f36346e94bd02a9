package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/relaykit/relay/pkg/runtime"
)

// Session is one thread's bounded history. Turns are kept as separate slices
// so turn-count cutoffs and summary tails can operate on whole turns.
type Session struct {
	threadID string
	manager  *Manager

	mu       sync.Mutex
	strategy Strategy
	limits   Limits
	turns    [][]runtime.Item
}

// ThreadID returns the owning thread.
func (s *Session) ThreadID() string {
	return s.threadID
}

// Strategy returns the currently configured strategy.
func (s *Session) Strategy() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.strategy
}

// Items returns the bounded history, flattened, for the next turn's input.
func (s *Session) Items() []runtime.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return flatten(s.turns)
}

// Apply ingests one completed turn and re-bounds the history. The returned
// items feed the next turn's input and are what gets persisted as context
// items.
func (s *Session) Apply(ctx context.Context, newTurnItems []runtime.Item) ([]runtime.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(newTurnItems) > 0 {
		s.turns = append(s.turns, newTurnItems)
	}

	switch s.strategy {
	case StrategySummarizing:
		if err := s.applySummarizing(ctx); err != nil {
			return nil, err
		}
	case StrategyCompaction:
		s.applyTrimming()
		if s.overCompactionThreshold() {
			if err := s.applySummarizing(ctx); err != nil {
				return nil, err
			}
		}
	default:
		s.applyTrimming()
	}

	return flatten(s.turns), nil
}

// applyTrimming enforces the deterministic cutoffs: turn count, item count,
// and tool-output body clearing. Fast, lossy, no model calls.
func (s *Session) applyTrimming() {
	if n := s.limits.MaxTurns; len(s.turns) > n {
		s.turns = append([][]runtime.Item(nil), s.turns[len(s.turns)-n:]...)
	}

	// Clear bodies of tool results older than the most recent
	// KeepToolOutputs, keeping only call metadata.
	kept := 0
	for ti := len(s.turns) - 1; ti >= 0; ti-- {
		turn := s.turns[ti]
		for ii := len(turn) - 1; ii >= 0; ii-- {
			if turn[ii].Type != runtime.ItemFunctionCallOutput {
				continue
			}
			kept++
			if kept > s.limits.KeepToolOutputs {
				turn[ii].Output = ""
				turn[ii].Status = "cleared"
			}
		}
	}

	// Item-count cap trims whole turns from the front, then single items
	// if one giant turn still exceeds the cap.
	for len(s.turns) > 1 && itemCount(s.turns) > s.limits.MaxItems {
		s.turns = s.turns[1:]
	}
	if len(s.turns) == 1 && len(s.turns[0]) > s.limits.MaxItems {
		over := len(s.turns[0]) - s.limits.MaxItems
		s.turns[0] = s.turns[0][over:]
	}
}

// applySummarizing compresses everything but the most recent turns into one
// summary block once the item threshold is crossed. Summarizer failures
// degrade to trimming rather than failing the turn.
func (s *Session) applySummarizing(ctx context.Context) error {
	if itemCount(s.turns) <= s.limits.Threshold {
		return nil
	}

	tail := s.limits.KeepRecentTurns
	if len(s.turns) <= tail {
		// Nothing older than the retained tail to compress, but the
		// threshold is crossed: the item cap still has to bound a few
		// oversized turns.
		s.applyTrimming()
		return nil
	}

	if s.manager.summarizer == nil {
		s.manager.logger.Warn("no summarizer configured, falling back to trimming",
			"thread", s.threadID)
		s.applyTrimming()
		return nil
	}

	older := flatten(s.turns[:len(s.turns)-tail])
	summary, err := s.manager.summarizer.Summarize(ctx, older)
	if err != nil {
		s.manager.logger.Warn("summarization failed, falling back to trimming",
			"thread", s.threadID,
			"error", err,
		)
		s.applyTrimming()
		return nil
	}

	summaryTurn := []runtime.Item{{
		Type:    runtime.ItemSummary,
		Role:    "system",
		Content: summary,
	}}

	rebuilt := make([][]runtime.Item, 0, tail+1)
	rebuilt = append(rebuilt, summaryTurn)
	rebuilt = append(rebuilt, s.turns[len(s.turns)-tail:]...)
	s.turns = rebuilt
	return nil
}

// overCompactionThreshold reports whether the flattened history crosses the
// compaction trigger: tokens when a counter and MaxTokens are configured,
// serialized bytes otherwise.
func (s *Session) overCompactionThreshold() bool {
	items := flatten(s.turns)

	if s.limits.MaxTokens > 0 && s.manager.counter != nil {
		total := 0
		for _, item := range items {
			total += s.manager.counter.Count(item.Content)
			total += s.manager.counter.Count(item.Output)
		}
		return total > s.limits.MaxTokens
	}

	data, err := json.Marshal(items)
	if err != nil {
		return false
	}
	return len(data) > s.limits.MaxBytes
}

func flatten(turns [][]runtime.Item) []runtime.Item {
	out := make([]runtime.Item, 0, itemCount(turns))
	for _, turn := range turns {
		out = append(out, turn...)
	}
	return out
}

func itemCount(turns [][]runtime.Item) int {
	n := 0
	for _, turn := range turns {
		n += len(turn)
	}
	return n
}
