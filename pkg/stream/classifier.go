// Package stream is the event multiplexing, normalization, and failover
// layer. It merges the runtime's sequential event stream with out-of-band
// tool events into one ordered canonical stream, and makes a single recovery
// attempt when a tool provider fails to initialize mid-run.
package stream

import (
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/relaykit/relay/pkg/event"
	"github.com/relaykit/relay/pkg/runtime"
)

// MaxToolOutputLen bounds the output carried by tool_result events.
const MaxToolOutputLen = 4000

// ReasoningPlaceholder stands in when a reasoning item has no summary text.
const ReasoningPlaceholder = "analyzing…"

// Classifier maps one raw runtime event to zero or more canonical events.
//
// Classification is stateless per call; the seen set passed to Classify
// carries the only cross-event state (tool-call de-duplication between the
// item-lifecycle path and the discrete run-item path). Relative order of the
// raw stream is preserved: the classifier filters, dedups, and expands, but
// never reorders.
type Classifier struct {
	logger *slog.Logger
}

// NewClassifier creates a classifier. A nil logger selects slog.Default.
func NewClassifier(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{logger: logger}
}

// Classify decodes one raw event. Unrecognized shapes are logged and
// dropped; classification never fails.
func (c *Classifier) Classify(raw runtime.RawEvent, seen map[string]bool) []*event.Event {
	switch raw.Kind {
	case runtime.RawResponseCreated:
		return []*event.Event{event.NewResponseCreated(raw.ConversationID)}

	case runtime.RawTextDelta:
		return []*event.Event{event.NewTextDelta(raw.Delta)}

	case runtime.RawItemAdded:
		return c.classifyItemAdded(raw.Item, seen)

	case runtime.RawItemDone:
		return c.classifyItemDone(raw.Item, seen)

	case runtime.RawRunItem:
		return c.classifyRunItem(raw.Item, seen)

	case runtime.RawSubAgent:
		return []*event.Event{event.NewSubAgent(raw.Agent, raw.EventType, raw.Payload)}

	default:
		c.logger.Warn("dropping unrecognized raw event",
			"kind", raw.Kind,
			"shape", raw.Shape,
		)
		return nil
	}
}

// classifyItemAdded handles the first half of the item-lifecycle path: tools
// that execute synchronously inside the model turn announce themselves with
// an added event before their done event carries the outcome.
func (c *Classifier) classifyItemAdded(item runtime.Item, seen map[string]bool) []*event.Event {
	if !runtime.SynchronousToolTypes[item.Type] {
		return nil
	}
	if item.ID == "" {
		c.logger.Warn("dropping synchronous tool item without id", "item_type", item.Type)
		return nil
	}

	seen[item.ID] = true
	return []*event.Event{event.NewToolCall(item.ID, toolName(item), item.Arguments)}
}

// classifyItemDone completes the lifecycle pair: a done event for an id we
// announced yields the tool result, summarized from the item's terminal
// state.
func (c *Classifier) classifyItemDone(item runtime.Item, seen map[string]bool) []*event.Event {
	if !seen[item.ID] {
		return nil
	}
	return []*event.Event{event.NewToolResult(item.ID, Truncate(outputSummary(item), MaxToolOutputLen))}
}

// classifyRunItem handles the discrete run-item path: one event per
// completed unit, used by out-of-process tool calls and reasoning items.
func (c *Classifier) classifyRunItem(item runtime.Item, seen map[string]bool) []*event.Event {
	switch item.Type {
	case runtime.ItemFunctionCall,
		runtime.ItemCodeInterpreterCall,
		runtime.ItemWebSearchCall,
		runtime.ItemFileSearchCall,
		runtime.ItemImageGenerationCall:
		// The synchronous path may already have announced this call.
		if item.ID != "" && seen[item.ID] {
			return nil
		}
		if item.ID != "" {
			seen[item.ID] = true
		}
		return []*event.Event{event.NewToolCall(callID(item), toolName(item), item.Arguments)}

	case runtime.ItemFunctionCallOutput:
		return []*event.Event{event.NewToolResult(callID(item), Truncate(outputSummary(item), MaxToolOutputLen))}

	case runtime.ItemReasoning:
		if len(item.Summary) == 0 {
			return []*event.Event{event.NewReasoning(ReasoningPlaceholder, false, false)}
		}
		content := item.Summary[0]
		for _, s := range item.Summary[1:] {
			content += "\n\n" + s
		}
		return []*event.Event{event.NewReasoning(content, true, true)}

	case runtime.ItemMessage:
		// Message content reaches the client through text deltas; the
		// completed item would duplicate it.
		return nil

	default:
		c.logger.Warn("dropping unrecognized run item", "item_type", item.Type, "id", item.ID)
		return nil
	}
}

func toolName(item runtime.Item) string {
	if item.Name != "" {
		return item.Name
	}
	return string(item.Type)
}

func callID(item runtime.Item) string {
	if item.CallID != "" {
		return item.CallID
	}
	return item.ID
}

func outputSummary(item runtime.Item) string {
	if item.Output != "" {
		return item.Output
	}
	if item.Status != "" {
		return fmt.Sprintf("%s %s", toolName(item), item.Status)
	}
	return toolName(item) + " completed"
}

// Truncate bounds s to max bytes, marking elided content. The cut backs up
// to a rune boundary so the result stays valid UTF-8.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "… (truncated)"
}
