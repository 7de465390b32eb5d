package manager

import (
	"encoding/json"
	"fmt"

	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/respitem"
)

// inboxMessageView is the JSON shape of one delivered message inside
// the synthetic await payload.
type inboxMessageView struct {
	SenderAgentID uint64 `json:"sender_agent_id"`
	Interrupt     bool   `json:"interrupt"`
	Prompt        string `json:"prompt,omitempty"`
	TimestampMs   int64  `json:"timestamp_ms"`
}

// completionView is the JSON shape of a delivered completion inside
// the synthetic await payload.
type completionView struct {
	Kind        string `json:"kind"`
	LastMessage string `json:"last_message,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message,omitempty"`
}

// awaitPayload is the JSON content of the synthetic FunctionCallOutput
// injected by §4.6.5.
type awaitPayload struct {
	SessionID        string             `json:"session_id"`
	CompletionStatus string             `json:"completion_status"`
	LifecycleStatus  string             `json:"lifecycle_status"`
	StartedAtMs      int64              `json:"started_at_ms"`
	TimedOut         bool               `json:"timed_out"`
	Messages         []inboxMessageView `json:"messages"`
	Completion       *completionView    `json:"completion,omitempty"`
	Injected         bool               `json:"injected"`
}

// buildSyntheticAwaitPair builds the FunctionCall/FunctionCallOutput
// pair from spec §4.6.5. callID must be unique within the batch of
// items a single drain produces, since a drain can emit more than one
// pair (spec §4.6.1: one synthetic subagent_await tool-output per
// sender per drain).
func buildSyntheticAwaitPair(callID string, payload awaitPayload) (respitem.Item, respitem.Item) {
	call := respitem.NewFunctionCall("subagent_await", `{"timeout_s":0}`, callID)
	content, _ := json.Marshal(payload)
	out := respitem.NewFunctionCallOutput(callID, string(content))
	return call, out
}

func toCompletionView(c *subagent.Completion) *completionView {
	if c == nil {
		return nil
	}
	v := &completionView{Kind: string(c.Kind)}
	switch c.Kind {
	case subagent.CompletionCompleted:
		v.LastMessage = c.LastMessage
	case subagent.CompletionCanceled:
		v.Reason = c.Reason
	case subagent.CompletionFailed:
		v.Message = c.Message
	}
	return v
}

// groupContiguousBySender splits an already sender-grouped slice (as
// produced by subagent.GroupBySenderThenEarliest) back into its
// per-sender runs, preserving group order.
func groupContiguousBySender(msgs []subagent.InboxMessage) [][]subagent.InboxMessage {
	if len(msgs) == 0 {
		return nil
	}
	var groups [][]subagent.InboxMessage
	start := 0
	for i := 1; i <= len(msgs); i++ {
		if i == len(msgs) || msgs[i].SenderAgentID != msgs[start].SenderAgentID {
			groups = append(groups, msgs[start:i])
			start = i
		}
	}
	return groups
}

// buildInboxDelivery constructs the ResponseItems to inject into a
// recipient's own history for a set of drained inbox messages plus an
// optional completion (spec §4.6.5). When rootAgentUsesUserMessages is
// true, messages sent by the root agent are emitted as plain user
// Message items instead of passing through the synthetic await pair;
// every other message still does, one synthetic subagent_await pair
// per sender group, in group order (spec §4.6.1, §8 scenario 5). A
// non-nil completion is delivered as its own trailing pair, since it
// belongs to the recipient's own runtime rather than any one sender.
func buildInboxDelivery(rootAgentUsesUserMessages bool, recipient subagent.Metadata, msgs []subagent.InboxMessage, completion *subagent.Completion, startedAtMs int64) []respitem.Item {
	var items []respitem.Item
	var throughAwait []subagent.InboxMessage

	for _, msg := range msgs {
		if rootAgentUsesUserMessages && msg.SenderAgentID.IsRoot() {
			items = append(items, respitem.NewMessage("user", respitem.Text("input_text", msg.Prompt)))
			continue
		}
		throughAwait = append(throughAwait, msg)
	}

	completionStatus := "pending"
	if completion != nil {
		completionStatus = string(completion.Kind)
	}

	for _, group := range groupContiguousBySender(throughAwait) {
		views := make([]inboxMessageView, 0, len(group))
		for _, msg := range group {
			views = append(views, inboxMessageView{
				SenderAgentID: uint64(msg.SenderAgentID),
				Interrupt:     msg.Interrupt,
				Prompt:        msg.Prompt,
				TimestampMs:   msg.TimestampMs,
			})
		}
		payload := awaitPayload{
			SessionID:        recipient.SessionID.String(),
			CompletionStatus: completionStatus,
			LifecycleStatus:  string(recipient.Status),
			StartedAtMs:      startedAtMs,
			TimedOut:         false,
			Messages:         views,
			Injected:         true,
		}
		callID := fmt.Sprintf("await-%d-sender-%d", uint64(recipient.AgentID), uint64(group[0].SenderAgentID))
		call, out := buildSyntheticAwaitPair(callID, payload)
		items = append(items, call, out)
	}

	if completion != nil {
		payload := awaitPayload{
			SessionID:        recipient.SessionID.String(),
			CompletionStatus: completionStatus,
			LifecycleStatus:  string(recipient.Status),
			StartedAtMs:      startedAtMs,
			TimedOut:         false,
			Completion:       toCompletionView(completion),
			Injected:         true,
		}
		callID := fmt.Sprintf("await-%d-completion", uint64(recipient.AgentID))
		call, out := buildSyntheticAwaitPair(callID, payload)
		items = append(items, call, out)
	}

	return items
}
