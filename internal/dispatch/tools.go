package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/swordfish444/codex-sub000/internal/client"
	"github.com/swordfish444/codex-sub000/internal/manager"
	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/respitem"
)

// subagentView is the JSON rendering of one Metadata record, shared by
// spawn/fork/cancel/list/await responses.
type subagentView struct {
	SessionID         string `json:"session_id"`
	AgentID           uint64 `json:"agent_id"`
	ParentAgentID     uint64 `json:"parent_agent_id,omitempty"`
	Origin            string `json:"origin"`
	Status            string `json:"status"`
	Label             string `json:"label,omitempty"`
	SandboxMode       string `json:"sandbox_mode"`
	CreatedAtMs       int64  `json:"created_at_ms"`
	PendingMessages   int    `json:"pending_messages"`
	PendingInterrupts int    `json:"pending_interrupts"`
}

func toSubagentView(m subagent.Metadata) subagentView {
	return subagentView{
		SessionID:         m.SessionID.String(),
		AgentID:           uint64(m.AgentID),
		ParentAgentID:     uint64(m.ParentAgentID),
		Origin:            string(m.Origin),
		Status:            string(m.Status),
		Label:             m.Label,
		SandboxMode:       string(m.SandboxMode),
		CreatedAtMs:       m.CreatedAtMs,
		PendingMessages:   m.PendingMessages,
		PendingInterrupts: m.PendingInterrupts,
	}
}

func marshalResponse(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", client.NewRespondToModelError("failed to render tool response: %v", err)
	}
	return string(data), nil
}

// parseSandboxMode accepts the dash-spelled wire form ("read-only",
// "workspace-write", "danger-full-access") used in tool arguments, or
// blank to inherit the caller's own mode.
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

// mapManagerError turns a Manager-level error into the dispatcher's
// single error band, translating the cases a model can act on into
// actionable text (spec §4.8).
func mapManagerError(err error) error {
	if err == nil {
		return nil
	}

	var sandboxErr *subagent.SandboxOverrideForbiddenError
	if errors.As(err, &sandboxErr) {
		return client.NewRespondToModelError("sandbox_mode %q exceeds the caller's own %q; subagents cannot request more access than their parent", sandboxErr.Requested, sandboxErr.Parent)
	}

	switch {
	case errors.Is(err, manager.ErrUnknownSession):
		return client.NewRespondToModelError("agent_id not found; refresh subagent_list")
	case errors.Is(err, manager.ErrNoRuntime):
		return client.NewRespondToModelError("agent_id has no live runtime; it may already be pruned")
	case errors.Is(err, manager.ErrRootSendMessageToSelf):
		return client.NewRespondToModelError("cannot send_message to agent_id 0 (the root UI thread) from root itself; respond directly instead")
	default:
		return client.NewRespondToModelError("%s", err.Error())
	}
}

func (d *Dispatcher) resolveTargetSession(agentID uint64) (subagent.Metadata, error) {
	meta, ok := d.mgr.Registry().GetByAgentID(convid.AgentID(agentID))
	if !ok {
		return subagent.Metadata{}, client.NewRespondToModelError("agent_id %d not found; refresh subagent_list", agentID)
	}
	return meta, nil
}

func (d *Dispatcher) spawn(ctx context.Context, caller Caller, rawArguments string) (string, error) {
	args, err := validateArgs[SpawnArgs](ToolSpawn, rawArguments)
	if err != nil {
		return "", client.NewRespondToModelError("%s", err.Error())
	}
	sandboxMode, err := parseSandboxMode(args.SandboxMode)
	if err != nil {
		return "", err
	}

	meta, err := d.mgr.Spawn(ctx, caller.SessionID, args.Prompt, args.Label, sandboxMode, args.Model)
	if err != nil {
		return "", mapManagerError(err)
	}
	return marshalResponse(toSubagentView(meta))
}

func (d *Dispatcher) fork(ctx context.Context, caller Caller, callID, rawArguments string) (string, error) {
	args, err := validateArgs[ForkArgs](ToolFork, rawArguments)
	if err != nil {
		return "", client.NewRespondToModelError("%s", err.Error())
	}
	sandboxMode, err := parseSandboxMode(args.SandboxMode)
	if err != nil {
		return "", err
	}

	var history []respitem.Item
	if caller.History != nil {
		history = caller.History()
	}

	meta, err := d.mgr.Fork(ctx, caller.SessionID, history, callID, rawArguments, args.Prompt, args.Label, sandboxMode, args.Model)
	if err != nil {
		return "", mapManagerError(err)
	}
	return marshalResponse(toSubagentView(meta))
}

func (d *Dispatcher) sendMessage(caller Caller, rawArguments string) (string, error) {
	args, err := validateArgs[SendMessageArgs](ToolSendMessage, rawArguments)
	if err != nil {
		return "", client.NewRespondToModelError("%s", err.Error())
	}

	targetAgentID := convid.AgentID(args.AgentID)
	if targetAgentID.IsRoot() && args.Interrupt {
		return "", client.NewRespondToModelError("cannot send an interrupt to agent 0 (the root UI thread)")
	}
	if targetAgentID.IsRoot() && caller.AgentID.IsRoot() {
		return "", client.NewRespondToModelError("root agent cannot target agent 0; send a normal user message instead")
	}

	if err := d.mgr.SendMessage(caller.AgentID, targetAgentID, args.Prompt, args.Prompt != "", args.Interrupt); err != nil {
		return "", mapManagerError(err)
	}

	type response struct {
		Delivered bool   `json:"delivered"`
		AgentID   uint64 `json:"agent_id"`
	}
	return marshalResponse(response{Delivered: true, AgentID: args.AgentID})
}

func (d *Dispatcher) watchdog(caller Caller, rawArguments string) (string, error) {
	args, err := validateArgs[WatchdogArgs](ToolWatchdog, rawArguments)
	if err != nil {
		return "", client.NewRespondToModelError("%s", err.Error())
	}

	targetAgentID := convid.AgentID(args.AgentID)

	if args.Cancel {
		canceled := d.mgr.CancelWatchdog(caller.SessionID, targetAgentID)
		type response struct {
			Canceled bool `json:"canceled"`
		}
		return marshalResponse(response{Canceled: canceled})
	}

	interval := defaultWatchdogInterval
	if args.IntervalS > 0 {
		interval = time.Duration(args.IntervalS) * time.Second
	}
	if interval < minWatchdogInterval {
		return "", client.NewRespondToModelError("interval_s must be at least %d seconds", int(minWatchdogInterval.Seconds()))
	}

	replaced := d.mgr.StartWatchdog(caller.SessionID, targetAgentID, interval, args.Message)

	type response struct {
		Status     string `json:"status"`
		IntervalS  int64  `json:"interval_s"`
		Message    string `json:"message"`
	}
	status := "started"
	if replaced {
		status = "replaced"
	}
	message := args.Message
	if message == "" {
		message = manager.DefaultWatchdogMessage
	}
	return marshalResponse(response{Status: status, IntervalS: int64(interval.Seconds()), Message: message})
}

func (d *Dispatcher) list(caller Caller) (string, error) {
	entries := d.mgr.ListForRequesterSnapshot(caller.SessionID)
	views := make([]subagentView, 0, len(entries))
	for _, m := range entries {
		views = append(views, toSubagentView(m))
	}

	type response struct {
		Subagents []subagentView `json:"subagents"`
	}
	return marshalResponse(response{Subagents: views})
}

// resolveAwaitTimeout bounds a requested subagent_await timeout into
// [minAwaitTimeout, maxAwaitTimeout], treating 0/omitted as the maximum
// (spec §4.8, ported from resolve_await_timeout).
func resolveAwaitTimeout(timeoutS int64) (time.Duration, error) {
	if timeoutS <= 0 {
		return maxAwaitTimeout, nil
	}
	requested := time.Duration(timeoutS) * time.Second
	if requested < minAwaitTimeout {
		return 0, client.NewRespondToModelError("subagent_await timeout must be at least %d seconds (got %ds)", int(minAwaitTimeout.Seconds()), timeoutS)
	}
	if requested > maxAwaitTimeout {
		return 0, client.NewRespondToModelError("subagent_await timeout_s (%ds) exceeds the %d-minute limit", timeoutS, int(maxAwaitTimeout.Minutes()))
	}
	return requested, nil
}

func (d *Dispatcher) await(ctx context.Context, caller Caller, rawArguments string) (string, error) {
	args, err := validateArgs[AwaitArgs](ToolAwait, rawArguments)
	if err != nil {
		return "", client.NewRespondToModelError("%s", err.Error())
	}

	timeout, err := resolveAwaitTimeout(args.TimeoutS)
	if err != nil {
		return "", err
	}

	targetAgentID := convid.AgentID(args.AgentID)
	if args.AgentID == 0 {
		children := d.mgr.ListForRequesterSnapshot(caller.SessionID)
		if len(children) == 0 {
			return "", client.NewRespondToModelError("no subagents to await; spawn or fork one first")
		}
		best := children[0]
		for _, m := range children[1:] {
			if m.PendingMessages > best.PendingMessages {
				best = m
			}
		}
		targetAgentID = best.AgentID
	}

	targetMeta, err := d.resolveTargetSession(uint64(targetAgentID))
	if err != nil {
		return "", err
	}

	meta, completion, msgs, err := d.mgr.AwaitInboxAndCompletion(ctx, targetMeta.SessionID, timeout)

	var timedOut *manager.AwaitTimedOutError
	if errors.As(err, &timedOut) {
		type response struct {
			AgentID  uint64 `json:"agent_id"`
			TimedOut bool   `json:"timed_out"`
		}
		return marshalResponse(response{AgentID: uint64(targetAgentID), TimedOut: true})
	}
	if err != nil {
		return "", mapManagerError(err)
	}

	type messageView struct {
		SenderAgentID uint64 `json:"sender_agent_id"`
		Interrupt     bool   `json:"interrupt"`
		Prompt        string `json:"prompt,omitempty"`
		TimestampMs   int64  `json:"timestamp_ms"`
	}
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, messageView{
			SenderAgentID: uint64(m.SenderAgentID),
			Interrupt:     m.Interrupt,
			Prompt:        m.Prompt,
			TimestampMs:   m.TimestampMs,
		})
	}

	type response struct {
		AgentID    uint64         `json:"agent_id"`
		TimedOut   bool           `json:"timed_out"`
		Status     string         `json:"status"`
		Messages   []messageView  `json:"messages,omitempty"`
		Completion *completionRsp `json:"completion,omitempty"`
	}
	return marshalResponse(response{
		AgentID:    uint64(targetAgentID),
		TimedOut:   false,
		Status:     string(meta.Status),
		Messages:   views,
		Completion: toCompletionRsp(completion),
	})
}

// completionRsp is the JSON rendering of a subagent.Completion inside
// subagent_await's response.
type completionRsp struct {
	Kind        string `json:"kind"`
	LastMessage string `json:"last_message,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message,omitempty"`
}

func toCompletionRsp(c *subagent.Completion) *completionRsp {
	if c == nil {
		return nil
	}
	v := &completionRsp{Kind: string(c.Kind)}
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

func (d *Dispatcher) prune(caller Caller, rawArguments string) (string, error) {
	args, err := validateArgs[PruneArgs](ToolPrune, rawArguments)
	if err != nil {
		return "", client.NewRespondToModelError("%s", err.Error())
	}

	var targets []convid.ConversationID
	for _, id := range args.AgentIDs {
		meta, ok := d.mgr.Registry().GetByAgentID(convid.AgentID(id))
		if !ok {
			continue
		}
		targets = append(targets, meta.SessionID)
	}

	result := d.mgr.Prune(targets, args.All, args.CompletedOnly)

	// Agent ids for deleted sessions aren't resolvable once their
	// registry entry is gone, so prune reports session ids instead.
	render := func(sessionIDs []convid.ConversationID) []string {
		out := make([]string, 0, len(sessionIDs))
		for _, sid := range sessionIDs {
			out = append(out, sid.String())
		}
		return out
	}

	type response struct {
		Deleted       []string `json:"deleted_session_ids"`
		SkippedActive []string `json:"skipped_active_session_ids"`
		Unknown       []string `json:"unknown_session_ids"`
	}
	return marshalResponse(response{
		Deleted:       render(result.Deleted),
		SkippedActive: render(result.SkippedActive),
		Unknown:       render(result.Unknown),
	})
}

func (d *Dispatcher) logs(caller Caller, rawArguments string) (string, error) {
	args, err := validateArgs[LogsArgs](ToolLogs, rawArguments)
	if err != nil {
		return "", client.NewRespondToModelError("%s", err.Error())
	}

	meta, err := d.resolveTargetSession(args.AgentID)
	if err != nil {
		return "", err
	}
	runtime, ok := d.mgr.Runtime(meta.SessionID)
	if !ok {
		return "", client.NewRespondToModelError("agent_id %d has no live runtime; it may already be pruned", args.AgentID)
	}

	all := runtime.Logs()
	window, truncated := applyLogWindow(all, args.Limit, args.MaxBytes)
	payload, err := renderLogsPayload(args.AgentID, all, window, truncated)
	if err != nil {
		return "", err
	}
	return payload, nil
}

func (d *Dispatcher) cancel(caller Caller, rawArguments string) (string, error) {
	args, err := validateArgs[CancelArgs](ToolCancel, rawArguments)
	if err != nil {
		return "", client.NewRespondToModelError("%s", err.Error())
	}

	meta, err := d.resolveTargetSession(args.AgentID)
	if err != nil {
		return "", err
	}
	if err := d.mgr.Cancel(meta.SessionID, args.Reason); err != nil {
		return "", mapManagerError(err)
	}

	type response struct {
		AgentID uint64 `json:"agent_id"`
		Status  string `json:"status"`
	}
	return marshalResponse(response{AgentID: args.AgentID, Status: string(subagent.StatusCanceled)})
}
