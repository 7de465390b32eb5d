// Package collab implements the Collaboration Dispatcher (spec §4.9):
// a parallel-peers mode layering five tools (init_agent/send/wait/
// get_state/close) over the same Manager and Registry the Tool
// Dispatcher uses, grounded on the original's
// tools/handlers/collaboration.rs CollaborationHandler, adapted onto
// this module's Status/Completion pair instead of the original's
// separate AgentLifecycleState/collaboration-state lock.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/swordfish444/codex-sub000/internal/client"
	"github.com/swordfish444/codex-sub000/internal/manager"
	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/convid"
)

// Tool name constants.
const (
	ToolInitAgent = "collaboration_init_agent"
	ToolSend      = "collaboration_send"
	ToolWait      = "collaboration_wait"
	ToolGetState  = "collaboration_get_state"
	ToolClose     = "collaboration_close"
)

// Caller identifies the session/agent issuing a collaboration call.
type Caller struct {
	SessionID convid.ConversationID
	AgentID   convid.AgentID
}

// Limits bounds the collaboration subtree (spec §4.9 "a"): a bounded
// agent count and depth, enforced at collaboration_init_agent time.
type Limits struct {
	MaxAgents int
	MaxDepth  int
}

// DefaultLimits matches the original's CollaborationLimits test
// invariant (both bounds strictly positive) with generous values for
// a demo-scale deployment.
var DefaultLimits = Limits{MaxAgents: 64, MaxDepth: 8}

// Dispatcher binds the five collaboration_* tools to a Manager.
type Dispatcher struct {
	mgr    *manager.Manager
	limits Limits
}

// New builds a Dispatcher over mgr with the given limits. A zero
// Limits falls back to DefaultLimits.
func New(mgr *manager.Manager, limits Limits) *Dispatcher {
	if limits.MaxAgents <= 0 || limits.MaxDepth <= 0 {
		limits = DefaultLimits
	}
	return &Dispatcher{mgr: mgr, limits: limits}
}

// Handle routes one collaboration tool call by name, matching
// internal/dispatch.Dispatcher.Handle's contract: every returned error
// is a *client.RespondToModelError.
func (d *Dispatcher) Handle(ctx context.Context, toolName string, caller Caller, rawArguments string) (string, error) {
	switch toolName {
	case ToolInitAgent:
		return d.initAgent(ctx, caller, rawArguments)
	case ToolSend:
		return d.send(caller, rawArguments)
	case ToolWait:
		return d.wait(ctx, caller, rawArguments)
	case ToolGetState:
		return d.getState(caller, rawArguments)
	case ToolClose:
		return d.close(caller, rawArguments)
	default:
		return "", client.NewRespondToModelError("unknown collaboration tool %q", toolName)
	}
}

func (d *Dispatcher) initAgent(ctx context.Context, caller Caller, rawArguments string) (string, error) {
	args, err := validateArgs[InitAgentArgs](ToolInitAgent, rawArguments)
	if err != nil {
		return "", client.NewRespondToModelError("%s", err.Error())
	}

	if d.mgr.Registry().Size() >= d.limits.MaxAgents {
		return "", client.NewRespondToModelError("collaboration agent limit reached (%d); close an existing peer before starting another", d.limits.MaxAgents)
	}
	callerMeta, ok := d.mgr.Registry().GetByAgentID(caller.AgentID)
	if !ok {
		return "", client.NewRespondToModelError("unknown caller agent %d", uint64(caller.AgentID))
	}
	if callerMeta.Depth+1 > d.limits.MaxDepth {
		return "", client.NewRespondToModelError("max collaboration depth reached (%d)", d.limits.MaxDepth)
	}

	sandboxMode, err := parseSandboxMode(args.SandboxMode)
	if err != nil {
		return "", err
	}

	meta, err := d.mgr.Spawn(ctx, caller.SessionID, args.Prompt, args.Label, sandboxMode, args.Model)
	if err != nil {
		return "", mapManagerError(err)
	}
	return marshalResponse(initAgentResponse{Result: "ok", AgentID: uint64(meta.AgentID)})
}

type initAgentResponse struct {
	Result  string `json:"result"`
	AgentID uint64 `json:"agent_id"`
}

func (d *Dispatcher) send(caller Caller, rawArguments string) (string, error) {
	args, err := validateArgs[SendArgs](ToolSend, rawArguments)
	if err != nil {
		return "", client.NewRespondToModelError("%s", err.Error())
	}

	if len(args.AgentIDs) == 0 {
		return "", client.NewRespondToModelError("no recipients provided; you can only send to your direct child agents")
	}

	var invalid, busy, valid []convid.AgentID
	for _, raw := range args.AgentIDs {
		candidate := convid.AgentID(raw)
		meta, ok := d.mgr.Registry().GetByAgentID(candidate)
		if !ok || !meta.HasParent || meta.ParentAgentID != caller.AgentID {
			invalid = append(invalid, candidate)
			continue
		}
		if isRejected(meta.Status) {
			invalid = append(invalid, candidate)
			continue
		}
		if isBusy(meta.Status) {
			busy = append(busy, candidate)
			continue
		}
		valid = append(valid, candidate)
	}

	if len(invalid) > 0 {
		return "", client.NewRespondToModelError("invalid recipients %v: not a direct child, or already closed/failed/canceled", invalid)
	}
	if len(busy) > 0 {
		return "", client.NewRespondToModelError("recipients %v are busy; wait for them (collaboration_wait) before sending another message", busy)
	}
	if len(valid) == 0 {
		return "", client.NewRespondToModelError("no eligible recipients")
	}

	for _, recipient := range valid {
		if err := d.mgr.SendMessage(caller.AgentID, recipient, args.Message, true, false); err != nil {
			return "", mapManagerError(err)
		}
	}

	return marshalResponse(sendResponse{Delivered: true, AgentIDs: toUint64s(valid)})
}

type sendResponse struct {
	Delivered bool     `json:"delivered"`
	AgentIDs  []uint64 `json:"agent_ids"`
}

// wait implements spec §4.9 "e": subscribe to the active-child set and
// exit when every observed child leaves Running, or the bounded
// duration elapses, whichever happens first. No lifecycle broadcast
// fan-out exists in this module (only a single non-blocking sink,
// spec §5 "Backpressure and drops"), so this polls registry status on
// a short ticker instead of subscribing to the event stream directly —
// functionally equivalent for a bounded set of direct children.
func (d *Dispatcher) wait(ctx context.Context, caller Caller, rawArguments string) (string, error) {
	args, err := validateArgs[WaitArgs](ToolWait, rawArguments)
	if err != nil {
		return "", client.NewRespondToModelError("%s", err.Error())
	}

	targets, errStates := d.resolveChildren(caller.AgentID, args.AgentIDs)
	if len(errStates) > 0 && len(targets) == 0 {
		return marshalResponse(statesResponse{States: errStates})
	}

	maxDuration := time.Duration(args.MaxDuration) * time.Second
	if maxDuration <= 0 {
		maxDuration = 300 * time.Second
	}
	deadline := time.Now().Add(maxDuration)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if d.allLeftRunning(targets) || time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return "", client.NewRespondToModelError("collaboration_wait canceled: %v", ctx.Err())
		case <-ticker.C:
		}
	}

	states := errStates
	for _, id := range targets {
		meta, ok := d.mgr.Registry().GetByAgentID(id)
		if !ok {
			states = append(states, unknownState(uint64(id), "agent no longer registered"))
			continue
		}
		states = append(states, stateForAgent(d.mgr, meta))
	}
	return marshalResponse(statesResponse{States: states})
}

func (d *Dispatcher) allLeftRunning(targets []convid.AgentID) bool {
	for _, id := range targets {
		meta, ok := d.mgr.Registry().GetByAgentID(id)
		if ok && meta.Status == subagent.StatusRunning {
			return false
		}
	}
	return true
}

type statesResponse struct {
	States []AgentState `json:"states"`
}

func (d *Dispatcher) getState(caller Caller, rawArguments string) (string, error) {
	args, err := validateArgs[GetStateArgs](ToolGetState, rawArguments)
	if err != nil {
		return "", client.NewRespondToModelError("%s", err.Error())
	}

	targets, errStates := d.resolveChildren(caller.AgentID, args.AgentIDs)
	states := errStates
	for _, id := range targets {
		meta, _ := d.mgr.Registry().GetByAgentID(id)
		states = append(states, stateForAgent(d.mgr, meta))
	}
	return marshalResponse(statesResponse{States: states})
}

func (d *Dispatcher) close(caller Caller, rawArguments string) (string, error) {
	args, err := validateArgs[CloseArgs](ToolClose, rawArguments)
	if err != nil {
		return "", client.NewRespondToModelError("%s", err.Error())
	}

	targets, errStates := d.resolveChildren(caller.AgentID, args.AgentIDs)

	var closed []subagent.Metadata
	for _, id := range targets {
		meta, ok := d.mgr.Registry().GetByAgentID(id)
		if !ok {
			continue
		}
		closed = append(closed, meta)
		closed = append(closed, d.mgr.Registry().DescendantsOf(id)...)
	}

	for _, meta := range closed {
		if meta.Status == subagent.StatusRunning {
			_ = d.mgr.Cancel(meta.SessionID, "closed by collaboration_close")
		}
		d.mgr.Registry().Mutate(meta.SessionID, func(m *subagent.Metadata) { m.Status = subagent.StatusClosed })
	}

	if !args.ReturnStates {
		return marshalResponse(statesResponse{States: errStates})
	}

	states := errStates
	for _, meta := range closed {
		updated, ok := d.mgr.Registry().Get(meta.SessionID)
		if !ok {
			updated = meta
			updated.Status = subagent.StatusClosed
		}
		states = append(states, stateForAgent(d.mgr, updated))
	}
	return marshalResponse(statesResponse{States: states})
}

// resolveChildren validates explicit ids as direct children of caller,
// or (when ids is empty) returns every direct child. Invalid entries
// are rendered as error AgentStates rather than aborting the whole
// call, matching the original's per-id error collection in handle_wait/
// handle_get_state.
func (d *Dispatcher) resolveChildren(caller convid.AgentID, ids []uint64) (valid []convid.AgentID, errStates []AgentState) {
	if len(ids) == 0 {
		for _, child := range d.mgr.Registry().ChildrenOf(caller) {
			valid = append(valid, child.AgentID)
		}
		return valid, nil
	}
	for _, raw := range ids {
		candidate := convid.AgentID(raw)
		meta, ok := d.mgr.Registry().GetByAgentID(candidate)
		if !ok || !meta.HasParent || meta.ParentAgentID != caller {
			errStates = append(errStates, unknownState(raw, "invalid or non-child agent"))
			continue
		}
		valid = append(valid, candidate)
	}
	return valid, errStates
}

func toUint64s(ids []convid.AgentID) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	return out
}

func parseSandboxMode(raw string) (subagent.SandboxMode, error) {
	switch raw {
	case "":
		return "", nil
	case "read-only":
		return subagent.SandboxReadOnly, nil
	case "workspace-write":
		return subagent.SandboxWorkspaceWrite, nil
	case "danger-full-access":
		return subagent.SandboxDangerFullAccess, nil
	default:
		return "", client.NewRespondToModelError("unknown sandbox_mode '%s'; expected one of read-only, workspace-write, danger-full-access", raw)
	}
}

func mapManagerError(err error) error {
	if err == nil {
		return nil
	}
	var sandboxErr *subagent.SandboxOverrideForbiddenError
	if errors.As(err, &sandboxErr) {
		return client.NewRespondToModelError("sandbox_mode %q exceeds the caller's own %q; peers cannot request more access than their parent", sandboxErr.Requested, sandboxErr.Parent)
	}
	return client.NewRespondToModelError("%s", err.Error())
}

func marshalResponse(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", client.NewRespondToModelError("failed to render tool response: %v", err)
	}
	return string(data), nil
}
