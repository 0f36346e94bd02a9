package runtime

// RawKind discriminates the raw event shapes emitted by the agent runtime.
//
// Two overlapping families exist and both must be handled:
//
//   - item-lifecycle events (RawItemAdded/RawItemDone pairs), used by tools
//     that execute synchronously inside a single model turn;
//   - discrete run-item events (RawRunItem), one per completed unit, used by
//     out-of-process tool calls and reasoning items.
//
// The same logical tool call can surface through both families; the
// classifier de-duplicates by item ID.
type RawKind string

const (
	RawResponseCreated RawKind = "response_created"
	RawTextDelta       RawKind = "text_delta"
	RawItemAdded       RawKind = "item_added"
	RawItemDone        RawKind = "item_done"
	RawRunItem         RawKind = "run_item"
	RawSubAgent        RawKind = "sub_agent"
	RawUnknown         RawKind = "unknown"
)

// ItemType categorizes a conversation item.
type ItemType string

const (
	// Synchronous in-turn tool calls, surfaced via the item lifecycle.
	ItemCodeInterpreterCall ItemType = "code_interpreter_call"
	ItemWebSearchCall       ItemType = "web_search_call"
	ItemFileSearchCall      ItemType = "file_search_call"
	ItemImageGenerationCall ItemType = "image_generation_call"

	// Discrete run items.
	ItemFunctionCall       ItemType = "function_call"
	ItemFunctionCallOutput ItemType = "function_call_output"
	ItemReasoning          ItemType = "reasoning"
	ItemMessage            ItemType = "message"

	// ItemSummary marks a condensed block produced by the context window
	// manager, never by the runtime itself.
	ItemSummary ItemType = "summary"
)

// SynchronousToolTypes is the fixed set of item types whose tool calls run
// inside the model turn and therefore arrive via added/done lifecycle pairs.
var SynchronousToolTypes = map[ItemType]bool{
	ItemCodeInterpreterCall: true,
	ItemWebSearchCall:       true,
	ItemFileSearchCall:      true,
	ItemImageGenerationCall: true,
}

// Item is one unit of conversation history: a message, a tool call, a tool
// output, or a reasoning block.
type Item struct {
	ID        string         `json:"id,omitempty"`
	Type      ItemType       `json:"type"`
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
	Output    string         `json:"output,omitempty"`
	Status    string         `json:"status,omitempty"`

	// Summary holds reasoning summary paragraphs, when the model produced
	// any.
	Summary []string `json:"summary,omitempty"`
}

// RawEvent is one decoded event from the runtime stream. Kind selects which
// fields are meaningful; field probing beyond that is a classifier bug.
type RawEvent struct {
	Kind RawKind

	// ConversationID accompanies RawResponseCreated.
	ConversationID string

	// Delta carries streamed text for RawTextDelta.
	Delta string

	// Item accompanies RawItemAdded, RawItemDone and RawRunItem.
	Item Item

	// Agent and Payload accompany RawSubAgent.
	Agent     string
	EventType string
	Payload   map[string]any

	// Shape preserves the undecoded form for RawUnknown, for logging only.
	Shape string
}
