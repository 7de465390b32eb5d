package collab

import (
	"github.com/swordfish444/codex-sub000/internal/manager"
	"github.com/swordfish444/codex-sub000/internal/subagent"
)

// AgentState is the JSON rendering of one peer's collaboration state
// (spec §4.9), grounded on the original's AgentState/State enum
// (tools/handlers/collaboration.rs), collapsed onto this module's
// Status/Completion pair: Running covers an active turn, Error covers a
// failed completion, and Done covers every other status (closed,
// canceled, and the non-running queued/ready/idle states).
type AgentState struct {
	AgentID uint64 `json:"agent_id"`
	State   string `json:"state"`
	Detail  string `json:"detail,omitempty"`
}

func stateForAgent(mgr *manager.Manager, meta subagent.Metadata) AgentState {
	out := AgentState{AgentID: uint64(meta.AgentID)}

	switch meta.Status {
	case subagent.StatusRunning:
		out.State = "running"
		return out
	case subagent.StatusFailed:
		out.State = "error"
		if runtime, ok := mgr.Runtime(meta.SessionID); ok {
			if completion, has := runtime.Completion(); has {
				out.Detail = completion.Message
			}
		}
		return out
	case subagent.StatusClosed:
		out.State = "done"
		out.Detail = "closed"
		return out
	case subagent.StatusCanceled:
		out.State = "done"
		out.Detail = "canceled"
		return out
	default:
		// queued, ready, idle: not actively running, nothing failed.
		out.State = "done"
		if runtime, ok := mgr.Runtime(meta.SessionID); ok {
			if completion, has := runtime.Completion(); has && completion.HasLastMessage {
				out.Detail = completion.LastMessage
				return out
			}
		}
		out.Detail = "idle"
		return out
	}
}

func isBusy(status subagent.Status) bool {
	return status == subagent.StatusRunning
}

func isRejected(status subagent.Status) bool {
	switch status {
	case subagent.StatusClosed, subagent.StatusFailed, subagent.StatusCanceled:
		return true
	default:
		return false
	}
}

// unknownState renders the error entry used for a caller-supplied
// agent id this dispatcher won't act on (non-child, unknown, or
// unparsable).
func unknownState(agentID uint64, reason string) AgentState {
	return AgentState{AgentID: agentID, State: "error", Detail: reason}
}
