// Package event defines the canonical event vocabulary exposed to stream
// consumers.
//
// Raw runtime events come in heterogeneous, partially-overlapping shapes.
// Everything downstream of the classifier speaks this vocabulary instead:
// a small, stable set of typed events with a JSON envelope suitable for SSE.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type discriminates canonical event variants.
type Type string

const (
	TypeResponseCreated  Type = "response_created"
	TypeTextDelta        Type = "text_delta"
	TypeToolCall         Type = "tool_call"
	TypeToolResult       Type = "tool_result"
	TypeReasoning        Type = "reasoning"
	TypeSubAgent         Type = "sub_agent_event"
	TypeAskUser          Type = "ask_user"
	TypeAskUserResponses Type = "_ask_user_responses"
	TypeContextItems     Type = "_context_items"
	TypeDone             Type = "done"
	TypeError            Type = "error"
	TypeProgress         Type = "progress"
)

// IsTerminal reports whether t ends a run's stream.
func (t Type) IsTerminal() bool {
	return t == TypeDone || t == TypeError
}

// QuestionType categorizes how a question should be answered.
type QuestionType string

const (
	QuestionChoice  QuestionType = "choice"
	QuestionText    QuestionType = "text"
	QuestionConfirm QuestionType = "confirm"
)

// Question is a single human-input request inside an ask_user group.
type Question struct {
	ID       string       `json:"id"`
	Text     string       `json:"question"`
	Type     QuestionType `json:"type"`
	Options  []string     `json:"options,omitempty"`
	Required bool         `json:"required,omitempty"`
}

// Event is the canonical event. Type selects the variant; only the fields
// belonging to that variant are populated and serialized. Decoding raw
// runtime shapes into Event happens exactly once, in the classifier.
type Event struct {
	Type Type

	// ConversationID identifies the thread (response_created, done).
	ConversationID string

	// Content carries text for text_delta, reasoning and progress events.
	Content string

	// Tool call fields (tool_call, tool_result).
	CallID    string
	Name      string
	Arguments map[string]any
	Output    string

	// Reasoning fields.
	HasSummary       bool
	NeedsTranslation bool

	// Sub-agent fields.
	Agent     string
	EventType string
	Data      map[string]any

	// Ask-user fields.
	GroupID   string
	Questions []Question
	Responses map[string]string

	// Context items (serialized conversation items for persistence).
	Items []json.RawMessage

	// Terminal fields (done, error).
	Elapsed   time.Duration
	FinalText string
	Message   string
}

func NewResponseCreated(conversationID string) *Event {
	return &Event{Type: TypeResponseCreated, ConversationID: conversationID}
}

func NewTextDelta(content string) *Event {
	return &Event{Type: TypeTextDelta, Content: content}
}

func NewToolCall(callID, name string, args map[string]any) *Event {
	return &Event{Type: TypeToolCall, CallID: callID, Name: name, Arguments: args}
}

func NewToolResult(callID, output string) *Event {
	return &Event{Type: TypeToolResult, CallID: callID, Output: output}
}

func NewReasoning(content string, hasSummary, needsTranslation bool) *Event {
	return &Event{
		Type:             TypeReasoning,
		Content:          content,
		HasSummary:       hasSummary,
		NeedsTranslation: needsTranslation,
	}
}

func NewSubAgent(agent, eventType string, data map[string]any) *Event {
	return &Event{Type: TypeSubAgent, Agent: agent, EventType: eventType, Data: data}
}

func NewAskUser(groupID string, questions []Question) *Event {
	return &Event{Type: TypeAskUser, GroupID: groupID, Questions: questions}
}

func NewAskUserResponses(groupID string, responses map[string]string) *Event {
	return &Event{Type: TypeAskUserResponses, GroupID: groupID, Responses: responses}
}

func NewContextItems(items []json.RawMessage) *Event {
	return &Event{Type: TypeContextItems, Items: items}
}

func NewDone(conversationID string, elapsed time.Duration, finalText string) *Event {
	return &Event{
		Type:           TypeDone,
		ConversationID: conversationID,
		Elapsed:        elapsed,
		FinalText:      finalText,
	}
}

func NewError(message string) *Event {
	return &Event{Type: TypeError, Message: message}
}

func NewProgress(text string) *Event {
	return &Event{Type: TypeProgress, Content: text}
}

// MarshalJSON renders the SSE envelope: a flat object with a "type" field
// plus the variant's fields, nothing else.
func (e *Event) MarshalJSON() ([]byte, error) {
	env := map[string]any{"type": string(e.Type)}

	switch e.Type {
	case TypeResponseCreated:
		if e.ConversationID != "" {
			env["conversation_id"] = e.ConversationID
		}
	case TypeTextDelta:
		env["content"] = e.Content
	case TypeToolCall:
		env["call_id"] = e.CallID
		env["name"] = e.Name
		env["arguments"] = e.Arguments
	case TypeToolResult:
		env["call_id"] = e.CallID
		env["output"] = e.Output
	case TypeReasoning:
		env["content"] = e.Content
		env["has_summary"] = e.HasSummary
		env["_needs_translation"] = e.NeedsTranslation
	case TypeSubAgent:
		env["agent"] = e.Agent
		env["event_type"] = e.EventType
		env["data"] = e.Data
	case TypeAskUser:
		env["group_id"] = e.GroupID
		env["questions"] = e.Questions
	case TypeAskUserResponses:
		env["group_id"] = e.GroupID
		env["responses"] = e.Responses
	case TypeContextItems:
		items := e.Items
		if items == nil {
			items = []json.RawMessage{}
		}
		env["items"] = items
	case TypeDone:
		env["conversation_id"] = e.ConversationID
		env["elapsed_seconds"] = e.Elapsed.Seconds()
		env["final_text"] = e.FinalText
	case TypeError:
		env["message"] = e.Message
	case TypeProgress:
		env["text"] = e.Content
	default:
		return nil, fmt.Errorf("unknown event type: %q", e.Type)
	}

	return json.Marshal(env)
}

// ToolCallStatus tracks a tool call's lifecycle within a run.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallCompleted ToolCallStatus = "completed"
)

// ToolCallRecord tracks one tool invocation from call to result, matched by
// call ID. A call ID never produces two tool_call events, even when both
// raw-event paths reference it.
type ToolCallRecord struct {
	CallID    string
	Name      string
	Arguments map[string]any
	Status    ToolCallStatus
	Output    string
}

// NewGroupID allocates a unique ask_user group identifier.
func NewGroupID() string {
	return uuid.NewString()
}
