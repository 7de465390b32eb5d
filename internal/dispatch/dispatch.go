// Package dispatch implements the Tool Dispatcher (spec §4.8): it
// exposes the nine subagent_* tools as a single Handle entry point,
// validating each call's arguments against a generated JSON Schema and
// translating Manager results into the tool-output JSON a model
// expects back, grounded on the teacher's SpawnTool/StatusTool/
// CancelTool shape (internal/tools/subagent/spawn.go) generalised to
// cover every one of the nine operations behind one dispatcher instead
// of one Tool type apiece.
package dispatch

import (
	"context"
	"time"

	"github.com/swordfish444/codex-sub000/internal/client"
	"github.com/swordfish444/codex-sub000/internal/manager"
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/respitem"
)

// Tool name constants, exported so a registry assembling the model's
// tool list can use them as map keys alongside SchemaFor.
const (
	ToolSpawn       = "subagent_spawn"
	ToolFork        = "subagent_fork"
	ToolSendMessage = "subagent_send_message"
	ToolWatchdog    = "subagent_watchdog"
	ToolList        = "subagent_list"
	ToolAwait       = "subagent_await"
	ToolPrune       = "subagent_prune"
	ToolLogs        = "subagent_logs"
	ToolCancel      = "subagent_cancel"
)

// Caller identifies the session/agent issuing a tool call and, where
// needed (fork), how to read that session's current history. History
// is a lazy callback rather than a stored slice because the dispatcher
// never owns conversation state itself — only the driver backing a
// session's inner conversation does.
type Caller struct {
	SessionID convid.ConversationID
	AgentID   convid.AgentID
	History   func() []respitem.Item
}

// Dispatcher binds the nine subagent_* tools to a Manager.
type Dispatcher struct {
	mgr *manager.Manager
}

// New builds a Dispatcher over mgr.
func New(mgr *manager.Manager) *Dispatcher {
	return &Dispatcher{mgr: mgr}
}

// Handle routes one tool call by name. The returned string is the raw
// tool-output payload (JSON) to hand back to the model; a non-nil error
// is always a *client.RespondToModelError, never a raw Go error, since
// every failure mode reachable from a well-formed dispatcher call is
// recoverable from the model's perspective (spec §4.8: "every dispatcher
// failure is respond-to-model, never fatal").
func (d *Dispatcher) Handle(ctx context.Context, toolName string, caller Caller, callID, rawArguments string) (string, error) {
	switch toolName {
	case ToolSpawn:
		return d.spawn(ctx, caller, rawArguments)
	case ToolFork:
		return d.fork(ctx, caller, callID, rawArguments)
	case ToolSendMessage:
		return d.sendMessage(caller, rawArguments)
	case ToolWatchdog:
		return d.watchdog(caller, rawArguments)
	case ToolList:
		return d.list(caller)
	case ToolAwait:
		return d.await(ctx, caller, rawArguments)
	case ToolPrune:
		return d.prune(caller, rawArguments)
	case ToolLogs:
		return d.logs(caller, rawArguments)
	case ToolCancel:
		return d.cancel(caller, rawArguments)
	default:
		return "", client.NewRespondToModelError("unknown tool %q", toolName)
	}
}

// Watchdog interval and await timeout bounds (spec §4.6.6/§4.8), ported from
// codex-rs's apply_log_window/resolve_await_timeout neighbours in
// tools/handlers/subagent.rs.
const (
	minWatchdogInterval     = 30 * time.Second
	defaultWatchdogInterval = 300 * time.Second
	minAwaitTimeout         = 300 * time.Second
	maxAwaitTimeout         = 1800 * time.Second
)
