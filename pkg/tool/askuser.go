package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaykit/relay/pkg/event"
	"github.com/relaykit/relay/pkg/questions"
	"github.com/relaykit/relay/pkg/stream"
)

// NoResponseText is returned to the model when the user never answers.
const NoResponseText = "no response"

// AskUserTool suspends a run until a human answers a group of questions.
//
// The tool emits an ask_user event out-of-band through the stream emitter,
// blocks on the question registry, and emits _ask_user_responses on both
// resolution paths. A timeout is a normal tool result, never an error.
type AskUserTool struct {
	registry *questions.Registry
	timeout  time.Duration
}

// NewAskUserTool creates the ask_user tool. A zero timeout selects the
// registry default.
func NewAskUserTool(registry *questions.Registry, timeout time.Duration) *AskUserTool {
	return &AskUserTool{
		registry: registry,
		timeout:  timeout,
	}
}

func (t *AskUserTool) Name() string {
	return "ask_user"
}

func (t *AskUserTool) Description() string {
	return "Ask the user one or more questions and wait for their answers. " +
		"Use this when you need input or a decision from the user before continuing."
}

func (t *AskUserTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type":        "array",
				"description": "Questions to ask the user, in order.",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":       map[string]any{"type": "string"},
						"question": map[string]any{"type": "string"},
						"type": map[string]any{
							"type": "string",
							"enum": []string{"choice", "text", "confirm"},
						},
						"options": map[string]any{
							"type":  "array",
							"items": map[string]any{"type": "string"},
						},
					},
					"required": []string{"id", "question"},
				},
			},
		},
		"required": []string{"questions"},
	}
}

// Call asks the questions and blocks until answered or timed out.
func (t *AskUserTool) Call(ctx context.Context, args map[string]any) (string, error) {
	qs, err := parseQuestions(args)
	if err != nil {
		return "", err
	}

	emitter := stream.EmitterFromContext(ctx)
	if emitter == nil {
		return "", fmt.Errorf("ask_user requires a stream emitter in context")
	}

	group := t.registry.CreateGroup(qs)
	defer t.registry.Cleanup(group.ID())

	if !emitter.Emit(event.NewAskUser(group.ID(), qs)) {
		return "", fmt.Errorf("run is shutting down, ask_user event discarded")
	}

	responses, err := t.registry.Await(ctx, group, t.timeout)
	if err != nil {
		if errors.Is(err, questions.ErrTimeout) {
			// Timeout resolves the group the same way an answer would; the
			// model sees a normal result and the client learns nobody answered.
			timedOut := make(map[string]string, len(qs))
			for _, q := range qs {
				timedOut[q.ID] = NoResponseText
			}
			emitter.Emit(event.NewAskUserResponses(group.ID(), timedOut))
			return NoResponseText, nil
		}
		return "", err
	}

	emitter.Emit(event.NewAskUserResponses(group.ID(), responses))

	return formatResponses(qs, responses), nil
}

// parseQuestions extracts the question list from raw tool arguments.
func parseQuestions(args map[string]any) ([]event.Question, error) {
	raw, ok := args["questions"].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("ask_user requires a non-empty questions list")
	}

	qs := make([]event.Question, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("question %d: expected an object", i)
		}

		q := event.Question{
			ID:   stringArg(m, "id"),
			Text: stringArg(m, "question"),
		}
		if q.ID == "" {
			q.ID = fmt.Sprintf("q%d", i+1)
		}
		if q.Text == "" {
			return nil, fmt.Errorf("question %d: question text is required", i)
		}

		switch stringArg(m, "type") {
		case "choice":
			q.Type = event.QuestionChoice
		case "confirm":
			q.Type = event.QuestionConfirm
		case "text", "":
			q.Type = event.QuestionText
		default:
			q.Type = event.QuestionText
		}

		if opts, ok := m["options"].([]any); ok {
			for _, o := range opts {
				if s, ok := o.(string); ok {
					q.Options = append(q.Options, s)
				}
			}
		}

		qs = append(qs, q)
	}

	return qs, nil
}

// formatResponses renders answers as plain text for the model.
func formatResponses(qs []event.Question, responses map[string]string) string {
	var b strings.Builder
	for _, q := range qs {
		answer, ok := responses[q.ID]
		if !ok || answer == "" {
			answer = NoResponseText
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s", q.Text, answer)
	}
	return b.String()
}

func stringArg(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

var _ Tool = (*AskUserTool)(nil)
