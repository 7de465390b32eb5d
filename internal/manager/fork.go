package manager

import (
	"encoding/json"

	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/respitem"
)

// forkPayload is the JSON content of the synthetic FunctionCallOutput
// describing the parent/child relation (spec §4.6 "Fork").
type forkPayload struct {
	Role            string `json:"role"`
	ParentSessionID string `json:"parent_session_id"`
	ChildSessionID  string `json:"child_session_id"`
	Label           string `json:"label,omitempty"`
	Summary         string `json:"summary,omitempty"`
}

// BuildForkHistory takes a snapshot of the parent's ResponseItem
// history, removes the fork tool-call pair identified by forkCallID,
// and appends a synthetic FunctionCall(name="subagent_fork") plus its
// FunctionCallOutput describing the parent/child relation.
func BuildForkHistory(parentHistory []respitem.Item, forkCallID, forkArguments string, parentSessionID, childSessionID convid.ConversationID, label, summary string) []respitem.Item {
	filtered := make([]respitem.Item, 0, len(parentHistory)+2)
	for _, item := range parentHistory {
		if item.CallID == forkCallID && (item.Kind == respitem.KindFunctionCall || item.Kind == respitem.KindFunctionCallOutput) {
			continue
		}
		filtered = append(filtered, item)
	}

	payload, _ := json.Marshal(forkPayload{
		Role:            "child",
		ParentSessionID: parentSessionID.String(),
		ChildSessionID:  childSessionID.String(),
		Label:           label,
		Summary:         summary,
	})

	filtered = append(filtered, respitem.NewFunctionCall("subagent_fork", forkArguments, forkCallID))
	filtered = append(filtered, respitem.NewFunctionCallOutput(forkCallID, string(payload)))
	return filtered
}
