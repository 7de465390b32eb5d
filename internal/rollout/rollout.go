// Package rollout consumes a persisted rollout item sequence produced
// by an external collaborator and reconstructs registry metadata and
// watchdog bookkeeping on resume (spec §6 "Rollout replay (in)").
// Grounded on codex-rs/core/src/subagents/manager.rs's replay path:
// no runtime is launched here, only the Manager's own bookkeeping
// (registry records, watchdog state) is rebuilt from what was already
// observed once.
package rollout

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/swordfish444/codex-sub000/internal/dispatch"
	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/respitem"
	"github.com/swordfish444/codex-sub000/pkg/revent"
)

// RecordKind discriminates one persisted rollout line: either an
// outbound lifecycle notification, or a single conversation-history
// item belonging to some session (used here only to recover
// subagent_watchdog call/output pairs).
type RecordKind string

const (
	RecordLifecycle   RecordKind = "lifecycle"
	RecordSessionItem RecordKind = "session_item"
)

// Record is one newline-delimited entry of a persisted rollout.
type Record struct {
	Kind      RecordKind            `json:"kind"`
	Lifecycle *revent.Lifecycle     `json:"lifecycle,omitempty"`
	SessionID convid.ConversationID `json:"session_id,omitempty"`
	Item      *respitem.Item        `json:"item,omitempty"`
}

// WatchdogKey identifies one watchdog by the pair the original
// subagent_watchdog call used to key it (mirrors manager.watchdogKey,
// duplicated here since that type is unexported).
type WatchdogKey struct {
	CallerSessionID convid.ConversationID
	TargetAgentID   convid.AgentID
}

// WatchdogState is a reconstructed, non-live watchdog observation: it
// describes what an external reader replaying this rollout would see,
// not an actual running timer (spec §6: "No actual runtime is launched
// from replay").
type WatchdogState struct {
	CallerSessionID convid.ConversationID
	TargetAgentID   convid.AgentID
	Status          string // "started" | "replaced", mirrors the dispatcher's own response field
	IntervalS       int64
	Message         string
}

// Result summarises one Replay call's reconstruction.
type Result struct {
	SessionsReplayed int
	Watchdogs        map[WatchdogKey]WatchdogState
}

type pendingWatchdogCall struct {
	sessionID convid.ConversationID
	agentID   uint64
	intervalS int64
	message   string
	cancel    bool
}

// watchdogCallArgs mirrors dispatch.WatchdogArgs's wire shape; defined
// locally so this package only depends on dispatch for the tool name
// constant, not its internal argument type.
type watchdogCallArgs struct {
	AgentID   uint64 `json:"agent_id"`
	IntervalS int64  `json:"interval_s"`
	Message   string `json:"message"`
	Cancel    bool   `json:"cancel"`
}

type watchdogCallOutput struct {
	Status    string `json:"status"`
	IntervalS int64  `json:"interval_s"`
	Message   string `json:"message"`
	Canceled  bool   `json:"canceled"`
}

// Replay reads newline-delimited Records from r, applying each one to
// registry and accumulating watchdog call/output pairs, returning a
// summary of what it reconstructed. It never launches a driver or
// otherwise touches a *manager.Manager — registry metadata is the only
// live state this package mutates.
func Replay(r io.Reader, registry *subagent.Registry) (Result, error) {
	result := Result{Watchdogs: make(map[WatchdogKey]WatchdogState)}
	pending := make(map[string]pendingWatchdogCall)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return result, fmt.Errorf("rollout: decode record at line %d: %w", lineNo, err)
		}

		switch rec.Kind {
		case RecordLifecycle:
			if rec.Lifecycle == nil {
				continue
			}
			applyLifecycle(registry, *rec.Lifecycle, &result)
		case RecordSessionItem:
			if rec.Item == nil {
				continue
			}
			applySessionItem(rec.SessionID, *rec.Item, pending, result.Watchdogs)
		default:
			return result, fmt.Errorf("rollout: unknown record kind %q at line %d", rec.Kind, lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("rollout: scan: %w", err)
	}
	return result, nil
}

func applyLifecycle(registry *subagent.Registry, lc revent.Lifecycle, result *Result) {
	switch lc.Kind {
	case revent.LifecycleCreated:
		meta, ok := decodeMetadataSummary(lc.Summary)
		if !ok {
			meta = subagent.Metadata{SessionID: lc.SessionID, AgentID: lc.AgentID, Status: subagent.StatusQueued}
		}
		registry.Register(meta)
		result.SessionsReplayed++
	case revent.LifecycleStatus:
		registry.Mutate(lc.SessionID, func(m *subagent.Metadata) { m.Status = subagent.Status(lc.Status) })
	case revent.LifecycleReasoningHeader:
		registry.Mutate(lc.SessionID, func(m *subagent.Metadata) { m.ReasoningHeader = lc.Header })
	case revent.LifecycleDeleted:
		registry.Delete(lc.SessionID)
	case revent.LifecycleAgentInbox:
		registry.Mutate(lc.SessionID, func(m *subagent.Metadata) {
			m.PendingMessages = lc.PendingMessages
			m.PendingInterrupts = lc.PendingInterrupts
		})
	}
}

// decodeMetadataSummary round-trips the Created lifecycle event's
// Summary (populated with the live subagent.Metadata at spawn/fork
// time, by the LifecycleCreated emitLifecycle call in spawn.go) back into a typed
// Metadata. Summary decodes to map[string]any through the generic
// Record unmarshal, so this re-marshals it and decodes into the
// concrete struct rather than probing map keys by hand.
func decodeMetadataSummary(summary any) (subagent.Metadata, bool) {
	if summary == nil {
		return subagent.Metadata{}, false
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return subagent.Metadata{}, false
	}
	var meta subagent.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return subagent.Metadata{}, false
	}
	return meta, true
}

func applySessionItem(sessionID convid.ConversationID, item respitem.Item, pending map[string]pendingWatchdogCall, watchdogs map[WatchdogKey]WatchdogState) {
	switch item.Kind {
	case respitem.KindFunctionCall:
		if item.Name != dispatch.ToolWatchdog {
			return
		}
		var args watchdogCallArgs
		if err := json.Unmarshal([]byte(item.Arguments), &args); err != nil {
			return
		}
		pending[item.CallID] = pendingWatchdogCall{
			sessionID: sessionID,
			agentID:   args.AgentID,
			intervalS: args.IntervalS,
			message:   args.Message,
			cancel:    args.Cancel,
		}
	case respitem.KindFunctionCallOutput:
		call, ok := pending[item.CallID]
		if !ok {
			return
		}
		delete(pending, item.CallID)

		var out watchdogCallOutput
		if err := json.Unmarshal([]byte(item.Output), &out); err != nil {
			return
		}

		key := WatchdogKey{CallerSessionID: call.sessionID, TargetAgentID: convid.AgentID(call.agentID)}
		if call.cancel {
			if out.Canceled {
				delete(watchdogs, key)
			}
			return
		}

		state := WatchdogState{
			CallerSessionID: key.CallerSessionID,
			TargetAgentID:   key.TargetAgentID,
			Status:          out.Status,
			IntervalS:       out.IntervalS,
			Message:         out.Message,
		}
		if state.IntervalS == 0 {
			state.IntervalS = call.intervalS
		}
		if state.Message == "" {
			state.Message = call.message
		}
		watchdogs[key] = state
	}
}
