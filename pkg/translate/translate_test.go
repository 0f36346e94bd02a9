package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaykit/relay/pkg/event"
)

func TestClientTranslate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(translateResponse{Text: "translated: " + req.Text})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	got, err := client.Translate(context.Background(), "analyzing the request")
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if got != "translated: analyzing the request" {
		t.Errorf("unexpected translation: %q", got)
	}
}

func TestClientRequiresURL(t *testing.T) {
	if _, err := NewClient("", nil); err == nil {
		t.Error("expected error for empty url")
	}
}

type fakeTranslator struct {
	out string
	err error
}

func (f *fakeTranslator) Translate(ctx context.Context, text string) (string, error) {
	return f.out, f.err
}

func TestApply(t *testing.T) {
	tests := []struct {
		name       string
		translator Translator
		ev         *event.Event
		wantText   string
		wantFlag   bool
	}{
		{
			name:       "translates flagged reasoning",
			translator: &fakeTranslator{out: "resumen"},
			ev:         event.NewReasoning("summary", true, true),
			wantText:   "resumen",
			wantFlag:   false,
		},
		{
			name:       "failure keeps original",
			translator: &fakeTranslator{err: fmt.Errorf("service down")},
			ev:         event.NewReasoning("summary", true, true),
			wantText:   "summary",
			wantFlag:   true,
		},
		{
			name:       "skips unflagged reasoning",
			translator: &fakeTranslator{out: "ignored"},
			ev:         event.NewReasoning("analyzing…", false, false),
			wantText:   "analyzing…",
			wantFlag:   false,
		},
		{
			name:       "skips non-reasoning events",
			translator: &fakeTranslator{out: "ignored"},
			ev:         event.NewTextDelta("hello"),
			wantText:   "hello",
			wantFlag:   false,
		},
		{
			name:       "nil translator is a no-op",
			translator: nil,
			ev:         event.NewReasoning("summary", true, true),
			wantText:   "summary",
			wantFlag:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Apply(context.Background(), tt.translator, tt.ev)
			if tt.ev.Content != tt.wantText {
				t.Errorf("content = %q, want %q", tt.ev.Content, tt.wantText)
			}
			if tt.ev.NeedsTranslation != tt.wantFlag {
				t.Errorf("needs_translation = %v, want %v", tt.ev.NeedsTranslation, tt.wantFlag)
			}
		})
	}
}
