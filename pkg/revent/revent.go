// Package revent defines the ResponseEvent tagged union surfaced by the
// wire codec / response stream, and the outbound lifecycle event union
// consumed by the UI collaborator (spec §3, §6).
package revent

import (
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/respitem"
)

// Kind discriminates the ResponseEvent variant set.
type Kind string

const (
	KindCreated                 Kind = "created"
	KindOutputItemAdded         Kind = "output_item_added"
	KindOutputItemDone          Kind = "output_item_done"
	KindOutputTextDelta         Kind = "output_text_delta"
	KindReasoningContentDelta   Kind = "reasoning_content_delta"
	KindReasoningSummaryDelta   Kind = "reasoning_summary_delta"
	KindReasoningSummaryPartAdd Kind = "reasoning_summary_part_added"
	KindRateLimits              Kind = "rate_limits"
	KindCompleted                Kind = "completed"
)

// RateLimitWindow is a single rate-limit window snapshot (§4.3).
type RateLimitWindow struct {
	UsedPercent   float64 `json:"used_percent"`
	WindowMinutes int     `json:"window_minutes"`
	ResetsAtUnix  int64   `json:"resets_at_unix"`
}

// RateLimitSnapshot bundles the primary and secondary rate-limit windows.
type RateLimitSnapshot struct {
	Primary   *RateLimitWindow `json:"primary,omitempty"`
	Secondary *RateLimitWindow `json:"secondary,omitempty"`
}

// TokenUsage reports token accounting from a terminal completed event.
type TokenUsage struct {
	InputTokens         int  `json:"input_tokens"`
	CachedInputTokens    *int `json:"cached_input_tokens,omitempty"`
	OutputTokens        int  `json:"output_tokens"`
	ReasoningOutputTokens *int `json:"reasoning_output_tokens,omitempty"`
	TotalTokens          int  `json:"total_tokens"`
}

// Event is a single item in a response stream.
type Event struct {
	Kind Kind

	ResponseID string
	Item       *respitem.Item
	TextDelta  string
	RateLimits *RateLimitSnapshot
	Usage      *TokenUsage
}

func Created(responseID string) Event { return Event{Kind: KindCreated, ResponseID: responseID} }

func OutputItemAdded(item respitem.Item) Event {
	return Event{Kind: KindOutputItemAdded, Item: &item}
}

func OutputItemDone(item respitem.Item) Event {
	return Event{Kind: KindOutputItemDone, Item: &item}
}

func OutputTextDelta(delta string) Event { return Event{Kind: KindOutputTextDelta, TextDelta: delta} }

func ReasoningContentDelta(delta string) Event {
	return Event{Kind: KindReasoningContentDelta, TextDelta: delta}
}

func ReasoningSummaryDelta(delta string) Event {
	return Event{Kind: KindReasoningSummaryDelta, TextDelta: delta}
}

func ReasoningSummaryPartAdded() Event { return Event{Kind: KindReasoningSummaryPartAdd} }

func RateLimits(snapshot RateLimitSnapshot) Event {
	return Event{Kind: KindRateLimits, RateLimits: &snapshot}
}

func Completed(responseID string, usage *TokenUsage) Event {
	return Event{Kind: KindCompleted, ResponseID: responseID, Usage: usage}
}

// LifecycleKind discriminates the outbound lifecycle event union (§6).
type LifecycleKind string

const (
	LifecycleCreated        LifecycleKind = "created"
	LifecycleStatus         LifecycleKind = "status"
	LifecycleReasoningHeader LifecycleKind = "reasoning_header"
	LifecycleDeleted        LifecycleKind = "deleted"
	LifecycleAgentInbox     LifecycleKind = "agent_inbox"
)

// Lifecycle is a single outbound lifecycle notification.
type Lifecycle struct {
	Kind LifecycleKind

	AgentID   convid.AgentID
	SessionID convid.ConversationID

	Status           string
	Header           string
	PendingMessages  int
	PendingInterrupts int

	// Summary carries a JSON-ish snapshot for the Created variant; left as
	// any so callers can attach whatever SubagentSummary shape they use
	// without an import cycle back into internal/subagent.
	Summary any
}
