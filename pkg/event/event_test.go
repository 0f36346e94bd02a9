package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEventMarshalEnvelope(t *testing.T) {
	tests := []struct {
		name   string
		event  *Event
		want   map[string]any
		absent []string
	}{
		{
			name:  "text delta",
			event: NewTextDelta("Hello"),
			want:  map[string]any{"type": "text_delta", "content": "Hello"},
		},
		{
			name:  "tool call",
			event: NewToolCall("call_1", "crm_lookup", map[string]any{"account": "acme"}),
			want:  map[string]any{"type": "tool_call", "call_id": "call_1", "name": "crm_lookup"},
		},
		{
			name:   "response created without conversation",
			event:  NewResponseCreated(""),
			want:   map[string]any{"type": "response_created"},
			absent: []string{"conversation_id"},
		},
		{
			name:  "reasoning keeps translation flag",
			event: NewReasoning("analyzing data", true, true),
			want: map[string]any{
				"type":               "reasoning",
				"content":            "analyzing data",
				"has_summary":        true,
				"_needs_translation": true,
			},
		},
		{
			name:  "done carries elapsed seconds",
			event: NewDone("conv_9", 1500*time.Millisecond, "all set"),
			want: map[string]any{
				"type":            "done",
				"conversation_id": "conv_9",
				"elapsed_seconds": 1.5,
				"final_text":      "all set",
			},
		},
		{
			name:  "error",
			event: NewError("boom"),
			want:  map[string]any{"type": "error", "message": "boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}

			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}

			for key, want := range tt.want {
				if got[key] != want {
					t.Errorf("field %q = %v, want %v", key, got[key], want)
				}
			}
			for _, key := range tt.absent {
				if _, ok := got[key]; ok {
					t.Errorf("field %q should be absent, got %v", key, got[key])
				}
			}
		})
	}
}

func TestEventMarshalUnknownType(t *testing.T) {
	e := &Event{Type: Type("bogus")}
	if _, err := json.Marshal(e); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestContextItemsMarshalEmpty(t *testing.T) {
	data, err := json.Marshal(NewContextItems(nil))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"items":[]`) {
		t.Errorf("empty items should serialize as [], got %s", data)
	}
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSSE(&buf, NewTextDelta("hi")); err != nil {
		t.Fatalf("WriteSSE failed: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "data: ") {
		t.Errorf("missing data prefix: %q", out)
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Errorf("missing record terminator: %q", out)
	}
}

func TestIsTerminal(t *testing.T) {
	if !TypeDone.IsTerminal() || !TypeError.IsTerminal() {
		t.Error("done and error must be terminal")
	}
	if TypeTextDelta.IsTerminal() || TypeProgress.IsTerminal() {
		t.Error("content events must not be terminal")
	}
}
