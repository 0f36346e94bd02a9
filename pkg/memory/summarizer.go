package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/relaykit/relay/pkg/runtime"
)

// TextCompleter is the minimal LLM surface the summarizer needs.
type TextCompleter interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

const summarySystemPrompt = `You summarize conversation history. Preserve key facts, decisions, user preferences, and unresolved questions. Keep technical details that may be referenced later. Write a coherent narrative at roughly a third of the original length.`

// LLMSummarizer implements Summarizer over a text-completion collaborator.
type LLMSummarizer struct {
	llm TextCompleter
}

// NewLLMSummarizer wraps llm as a Summarizer.
func NewLLMSummarizer(llm TextCompleter) (*LLMSummarizer, error) {
	if llm == nil {
		return nil, fmt.Errorf("llm is required")
	}
	return &LLMSummarizer{llm: llm}, nil
}

// Summarize formats the items as a transcript and asks the model for a
// summary.
func (s *LLMSummarizer) Summarize(ctx context.Context, items []runtime.Item) (string, error) {
	if len(items) == 0 {
		return "", nil
	}

	user := fmt.Sprintf("Summarize this conversation, preserving all important context:\n\n%s",
		formatTranscript(items))

	summary, err := s.llm.Complete(ctx, summarySystemPrompt, user)
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}

	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("empty summary generated")
	}
	return summary, nil
}

func formatTranscript(items []runtime.Item) string {
	var b strings.Builder
	for _, item := range items {
		switch item.Type {
		case runtime.ItemMessage, runtime.ItemSummary:
			role := item.Role
			if role == "" {
				role = "assistant"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, item.Content)
		case runtime.ItemFunctionCall:
			fmt.Fprintf(&b, "tool call %s(%v)\n", item.Name, item.Arguments)
		case runtime.ItemFunctionCallOutput:
			if item.Output != "" {
				fmt.Fprintf(&b, "tool result: %s\n", item.Output)
			}
		case runtime.ItemReasoning:
			// Reasoning is internal; not part of the transcript.
		}
	}
	return b.String()
}
