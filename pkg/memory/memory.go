// Package memory bounds per-thread conversation history across turns.
//
// Three mutually exclusive strategies are selectable per thread: trimming
// (deterministic cutoffs, no model calls), summarizing (an LLM compresses
// the older portion once a threshold is crossed), and compaction (continuous
// trimming with a summarization pass amortized behind a size threshold).
package memory

import (
	"context"
	"fmt"

	"github.com/relaykit/relay/pkg/runtime"
)

// Strategy selects a history-bounding approach.
type Strategy string

const (
	StrategyTrimming    Strategy = "trimming"
	StrategySummarizing Strategy = "summarizing"
	StrategyCompaction  Strategy = "compaction"
)

// ParseStrategy validates a strategy name. Empty selects trimming.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", StrategyTrimming:
		return StrategyTrimming, nil
	case StrategySummarizing:
		return StrategySummarizing, nil
	case StrategyCompaction:
		return StrategyCompaction, nil
	default:
		return "", fmt.Errorf("unknown context strategy: %q", s)
	}
}

// Limits bounds history growth. Zero values select the defaults.
type Limits struct {
	// MaxTurns and MaxItems cap the trimming strategy.
	MaxTurns int
	MaxItems int

	// KeepToolOutputs is the number of most recent tool results whose
	// bodies are retained; older results keep only their call metadata.
	KeepToolOutputs int

	// Threshold is the item count beyond which summarizing triggers.
	Threshold int

	// KeepRecentTurns is the tail retained verbatim next to the summary
	// block.
	KeepRecentTurns int

	// MaxTokens and MaxBytes trigger the compaction summarization pass.
	// MaxTokens wins when both are set.
	MaxTokens int
	MaxBytes  int
}

// DefaultLimits mirror the reference behavior.
func DefaultLimits() Limits {
	return Limits{
		MaxTurns:        20,
		MaxItems:        200,
		KeepToolOutputs: 5,
		Threshold:       80,
		KeepRecentTurns: 4,
		MaxBytes:        64 * 1024,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxTurns <= 0 {
		l.MaxTurns = d.MaxTurns
	}
	if l.MaxItems <= 0 {
		l.MaxItems = d.MaxItems
	}
	if l.KeepToolOutputs <= 0 {
		l.KeepToolOutputs = d.KeepToolOutputs
	}
	if l.Threshold <= 0 {
		l.Threshold = d.Threshold
	}
	if l.KeepRecentTurns <= 0 {
		l.KeepRecentTurns = d.KeepRecentTurns
	}
	if l.MaxTokens <= 0 && l.MaxBytes <= 0 {
		l.MaxBytes = d.MaxBytes
	}
	return l
}

// Summarizer compresses conversation items into one summary text. The LLM
// collaborator behind it is opaque to this package.
type Summarizer interface {
	Summarize(ctx context.Context, items []runtime.Item) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, items []runtime.Item) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, items []runtime.Item) (string, error) {
	return f(ctx, items)
}
