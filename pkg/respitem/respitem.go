// Package respitem defines the ResponseItem conversation-history variant
// set shared by the wire codec, the subagent manager, and the tool
// dispatcher.
package respitem

import "encoding/json"

// Kind discriminates the ResponseItem variant set.
type Kind string

const (
	KindMessage            Kind = "message"
	KindReasoning          Kind = "reasoning"
	KindFunctionCall       Kind = "function_call"
	KindFunctionCallOutput Kind = "function_call_output"
	KindLocalShellCall     Kind = "local_shell_call"
	KindCustomToolCall     Kind = "custom_tool_call"
	KindCustomToolCallOut  Kind = "custom_tool_call_output"
	KindWebSearchCall      Kind = "web_search_call"
	KindGhostSnapshot      Kind = "ghost_snapshot"
	KindOther              Kind = "other"
)

// ContentPart is one piece of a Message's content array.
type ContentPart struct {
	Type string `json:"type"` // "input_text", "output_text", "input_image", ...
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Item is a single conversation-history record. Exactly one of the
// typed fields matching Kind is populated; callers should type-switch
// on Kind rather than probing every field.
type Item struct {
	Kind Kind `json:"kind"`

	// Preserved wire id, only re-emitted for Azure compatibility (§4.1).
	ID *string `json:"id,omitempty"`

	// Message fields.
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`

	// Reasoning fields.
	Summary          []string `json:"summary,omitempty"`
	ReasoningContent *string  `json:"reasoning_content,omitempty"`
	EncryptedContent *string  `json:"encrypted_content,omitempty"`

	// FunctionCall / LocalShellCall / CustomToolCall fields.
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// FunctionCallOutput / CustomToolCallOutput fields.
	Output string `json:"output,omitempty"`

	// Raw carries the untouched payload for Other/GhostSnapshot/
	// WebSearchCall items this core does not interpret further.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// NewMessage builds a Message item.
func NewMessage(role string, content ...ContentPart) Item {
	return Item{Kind: KindMessage, Role: role, Content: content}
}

// Text returns a single-part text ContentPart.
func Text(kind, text string) ContentPart {
	return ContentPart{Type: kind, Text: text}
}

// TextContent concatenates every text-bearing content part, matching the
// Chat-wire message construction rule (§4.1): "concat(text parts)".
func (i Item) TextContent() string {
	var out string
	for _, part := range i.Content {
		out += part.Text
	}
	return out
}

// NewReasoning builds a Reasoning item.
func NewReasoning(summary []string, content *string, encrypted *string) Item {
	return Item{Kind: KindReasoning, Summary: summary, ReasoningContent: content, EncryptedContent: encrypted}
}

// ReasoningText concatenates the reasoning item's text parts: the
// summary strings followed by the free-form content, if present.
func (i Item) ReasoningText() string {
	out := ""
	for _, s := range i.Summary {
		out += s
	}
	if i.ReasoningContent != nil {
		out += *i.ReasoningContent
	}
	return out
}

// NewFunctionCall builds a FunctionCall item.
func NewFunctionCall(name, arguments, callID string) Item {
	return Item{Kind: KindFunctionCall, Name: name, Arguments: arguments, CallID: callID}
}

// NewFunctionCallOutput builds a FunctionCallOutput item.
func NewFunctionCallOutput(callID, output string) Item {
	return Item{Kind: KindFunctionCallOutput, CallID: callID, Output: output}
}

// IsAssistantAnchor reports whether this item is something the Chat-wire
// reasoning-attachment pass treats as an "assistant message" anchor.
func (i Item) IsAssistantAnchor() bool {
	return i.Kind == KindMessage && i.Role == "assistant"
}

// IsCallOrOutput reports whether the item is a function/tool call or its
// output — the items skipped while scanning forward for a following
// assistant anchor (§4.1 reasoning attachment).
func (i Item) IsCallOrOutput() bool {
	switch i.Kind {
	case KindFunctionCall, KindFunctionCallOutput, KindLocalShellCall, KindCustomToolCall, KindCustomToolCallOut:
		return true
	default:
		return false
	}
}
