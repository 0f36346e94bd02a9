package stream

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/relaykit/relay/pkg/event"
	"github.com/relaykit/relay/pkg/runtime"
)

func classifyAll(t *testing.T, raws []runtime.RawEvent) []*event.Event {
	t.Helper()
	c := NewClassifier(nil)
	seen := make(map[string]bool)

	var out []*event.Event
	for _, raw := range raws {
		out = append(out, c.Classify(raw, seen)...)
	}
	return out
}

func TestClassifySynchronousToolLifecycle(t *testing.T) {
	// Text delta, then an added/done pair for a synchronous tool.
	raws := []runtime.RawEvent{
		{Kind: runtime.RawTextDelta, Delta: "Hello"},
		{Kind: runtime.RawItemAdded, Item: runtime.Item{
			ID:   "t1",
			Type: runtime.ItemCodeInterpreterCall,
			Name: "code_interpreter",
		}},
		{Kind: runtime.RawItemDone, Item: runtime.Item{
			ID:     "t1",
			Type:   runtime.ItemCodeInterpreterCall,
			Output: "42",
		}},
	}

	events := classifyAll(t, raws)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	if events[0].Type != event.TypeTextDelta || events[0].Content != "Hello" {
		t.Errorf("event 0 = %+v, want text_delta Hello", events[0])
	}
	if events[1].Type != event.TypeToolCall || events[1].CallID != "t1" {
		t.Errorf("event 1 = %+v, want tool_call t1", events[1])
	}
	if events[2].Type != event.TypeToolResult || events[2].CallID != "t1" || events[2].Output != "42" {
		t.Errorf("event 2 = %+v, want tool_result t1", events[2])
	}
}

func TestClassifyDedupAcrossPaths(t *testing.T) {
	// A discrete run-item call for an id that already fired through the
	// synchronous lifecycle must produce nothing.
	raws := []runtime.RawEvent{
		{Kind: runtime.RawItemAdded, Item: runtime.Item{ID: "t1", Type: runtime.ItemWebSearchCall}},
		{Kind: runtime.RawItemDone, Item: runtime.Item{ID: "t1", Type: runtime.ItemWebSearchCall, Output: "results"}},
		{Kind: runtime.RawRunItem, Item: runtime.Item{ID: "t1", Type: runtime.ItemWebSearchCall}},
	}

	events := classifyAll(t, raws)
	calls := 0
	for _, e := range events {
		if e.Type == event.TypeToolCall {
			calls++
		}
	}
	if calls != 1 {
		t.Fatalf("got %d tool_call events for one call id, want 1", calls)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (call + result)", len(events))
	}
}

func TestClassifyDiscreteFunctionCall(t *testing.T) {
	raws := []runtime.RawEvent{
		{Kind: runtime.RawRunItem, Item: runtime.Item{
			ID:        "fc1",
			CallID:    "call_abc",
			Type:      runtime.ItemFunctionCall,
			Name:      "crm_lookup",
			Arguments: map[string]any{"account": "acme"},
		}},
		{Kind: runtime.RawRunItem, Item: runtime.Item{
			CallID: "call_abc",
			Type:   runtime.ItemFunctionCallOutput,
			Output: "found 3 contacts",
		}},
	}

	events := classifyAll(t, raws)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != event.TypeToolCall || events[0].CallID != "call_abc" || events[0].Name != "crm_lookup" {
		t.Errorf("unexpected tool_call: %+v", events[0])
	}
	if events[1].Type != event.TypeToolResult || events[1].Output != "found 3 contacts" {
		t.Errorf("unexpected tool_result: %+v", events[1])
	}
}

func TestClassifyReasoning(t *testing.T) {
	tests := []struct {
		name        string
		item        runtime.Item
		wantContent string
		wantSummary bool
		wantXlate   bool
	}{
		{
			name:        "with summary",
			item:        runtime.Item{Type: runtime.ItemReasoning, Summary: []string{"first", "second"}},
			wantContent: "first\n\nsecond",
			wantSummary: true,
			wantXlate:   true,
		},
		{
			name:        "placeholder when empty",
			item:        runtime.Item{Type: runtime.ItemReasoning},
			wantContent: ReasoningPlaceholder,
			wantSummary: false,
			wantXlate:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := classifyAll(t, []runtime.RawEvent{{Kind: runtime.RawRunItem, Item: tt.item}})
			if len(events) != 1 {
				t.Fatalf("got %d events, want 1", len(events))
			}
			e := events[0]
			if e.Type != event.TypeReasoning {
				t.Fatalf("type = %s, want reasoning", e.Type)
			}
			if e.Content != tt.wantContent {
				t.Errorf("content = %q, want %q", e.Content, tt.wantContent)
			}
			if e.HasSummary != tt.wantSummary || e.NeedsTranslation != tt.wantXlate {
				t.Errorf("flags = (%v,%v), want (%v,%v)",
					e.HasSummary, e.NeedsTranslation, tt.wantSummary, tt.wantXlate)
			}
		})
	}
}

func TestClassifyUnknownShapesDropped(t *testing.T) {
	raws := []runtime.RawEvent{
		{Kind: runtime.RawUnknown, Shape: "mystery_event"},
		{Kind: runtime.RawRunItem, Item: runtime.Item{Type: runtime.ItemType("exotic")}},
		{Kind: runtime.RawItemAdded, Item: runtime.Item{Type: runtime.ItemMessage}},
	}
	if events := classifyAll(t, raws); len(events) != 0 {
		t.Fatalf("unknown shapes must be dropped, got %d events", len(events))
	}
}

func TestClassifyTruncatesOutput(t *testing.T) {
	long := strings.Repeat("x", MaxToolOutputLen+500)
	raws := []runtime.RawEvent{
		{Kind: runtime.RawRunItem, Item: runtime.Item{
			CallID: "c1",
			Type:   runtime.ItemFunctionCallOutput,
			Output: long,
		}},
	}

	events := classifyAll(t, raws)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	out := events[0].Output
	if len(out) >= len(long) {
		t.Errorf("output not truncated: %d bytes", len(out))
	}
	if !strings.HasSuffix(out, "(truncated)") {
		t.Errorf("missing truncation marker: %q", out[len(out)-30:])
	}
}

func TestTruncateKeepsUTF8Valid(t *testing.T) {
	tests := []struct {
		name string
		s    string
		max  int
	}{
		{"cut inside a 3-byte rune", strings.Repeat("世", 10), 10},
		{"cut inside a 2-byte rune", strings.Repeat("é", 10), 7},
		{"cut inside a 4-byte rune", strings.Repeat("🙂", 10), 6},
		{"cut on a boundary", "abc" + strings.Repeat("世", 5), 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Truncate(tt.s, tt.max)
			if !utf8.ValidString(out) {
				t.Errorf("Truncate(%q, %d) = %q is not valid UTF-8", tt.s, tt.max, out)
			}
			if !strings.HasSuffix(out, "(truncated)") {
				t.Errorf("missing truncation marker: %q", out)
			}
			body := strings.TrimSuffix(out, "… (truncated)")
			if len(body) > tt.max {
				t.Errorf("kept %d bytes, max %d", len(body), tt.max)
			}
		})
	}

	if got := Truncate("short", 100); got != "short" {
		t.Errorf("under-limit input must pass through, got %q", got)
	}
}

func TestClassifySubAgent(t *testing.T) {
	events := classifyAll(t, []runtime.RawEvent{{
		Kind:      runtime.RawSubAgent,
		Agent:     "analytics",
		EventType: "tool_call",
		Payload:   map[string]any{"name": "ga4_report"},
	}})
	if len(events) != 1 || events[0].Type != event.TypeSubAgent || events[0].Agent != "analytics" {
		t.Fatalf("unexpected events: %+v", events)
	}
}
