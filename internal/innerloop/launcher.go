package innerloop

import (
	"context"
	"encoding/json"

	"github.com/swordfish444/codex-sub000/internal/client"
	"github.com/swordfish444/codex-sub000/internal/collab"
	"github.com/swordfish444/codex-sub000/internal/dispatch"
	"github.com/swordfish444/codex-sub000/internal/manager"
	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/internal/wire"
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/respitem"
)

// Launcher implements manager.Launcher by building a *Driver per
// session and routing its function calls to whichever of the tool
// dispatcher/collaboration dispatcher owns the call's name, grounded on
// the teacher's AgentRuntimeFactory (internal/runtime/factory.go)
// one-factory-per-session shape.
//
// A Launcher is handed to manager.New before the Manager it will serve
// exists (New requires a non-nil Launcher up front, but dispatch.New/
// collab.New each require the *manager.Manager they dispatch against) —
// Attach breaks that cycle: construct with NewLauncher, build mgr, then
// call Attach once with mgr's own registry and dispatchers before any
// Spawn/Fork can reach Launch.
type Launcher struct {
	cl       *client.Client
	registry *subagent.Registry
	tools    *dispatch.Dispatcher
	collab   *collab.Dispatcher

	model        string
	instructions string
	toolSpecs    []wire.ToolSpec
	reasoning    *wire.ReasoningConfig
}

// NewLauncher builds a Launcher. toolSpecs should list every
// subagent_*/collaboration_* tool the model may call; reasoning may be
// nil to disable the reasoning config entirely. Call Attach before the
// owning Manager spawns or forks anything.
func NewLauncher(cl *client.Client, model, instructions string, toolSpecs []wire.ToolSpec, reasoning *wire.ReasoningConfig) *Launcher {
	return &Launcher{
		cl:           cl,
		model:        model,
		instructions: instructions,
		toolSpecs:    toolSpecs,
		reasoning:    reasoning,
	}
}

// Attach binds the registry and tool dispatchers a Manager owns. It
// must be called exactly once, before the Manager's first Spawn/Fork.
func (l *Launcher) Attach(registry *subagent.Registry, tools *dispatch.Dispatcher, collabDispatcher *collab.Dispatcher) {
	l.registry = registry
	l.tools = tools
	l.collab = collabDispatcher
}

// Launch implements manager.Launcher.
func (l *Launcher) Launch(ctx context.Context, opts manager.LaunchOptions) (subagent.Driver, error) {
	meta, _ := l.registry.Get(opts.SessionID)
	return l.newDriver(ctx, opts.SessionID, meta.AgentID, opts.Model, opts.InitialHistory), nil
}

// NewRootDriver builds the driver for the root session, which the
// Manager pre-registers itself rather than routing through Launch —
// the caller is responsible for handing the result to
// manager.Manager.SetRootDriver.
func (l *Launcher) NewRootDriver(ctx context.Context, sessionID convid.ConversationID, model string) *Driver {
	return l.newDriver(ctx, sessionID, convid.RootAgentID, model, nil)
}

func (l *Launcher) newDriver(ctx context.Context, sessionID convid.ConversationID, agentID convid.AgentID, model string, initialHistory []respitem.Item) *Driver {
	if model == "" {
		model = l.model
	}

	cfg := Config{
		Model:              model,
		Instructions:       l.instructions,
		Tools:              l.toolSpecs,
		ReasoningSupported: l.reasoning != nil,
		Reasoning:          l.reasoning,
	}

	var d *Driver
	handleTool := func(ctx context.Context, name, callID, arguments string) (string, error) {
		if isCollabTool(name) {
			collabCaller := collab.Caller{SessionID: sessionID, AgentID: agentID}
			return l.collab.Handle(ctx, name, collabCaller, arguments)
		}
		caller := dispatch.Caller{
			SessionID: sessionID,
			AgentID:   agentID,
			History:   d.snapshotHistory,
		}
		return l.tools.Handle(ctx, name, caller, callID, arguments)
	}

	d = New(ctx, l.cl, sessionID, sessionID, cfg, handleTool, initialHistory)
	return d
}

func isCollabTool(name string) bool {
	switch name {
	case collab.ToolInitAgent, collab.ToolSend, collab.ToolWait, collab.ToolGetState, collab.ToolClose:
		return true
	default:
		return false
	}
}

// ToolSpecs builds the full wire.ToolSpec list for every subagent_* and
// collaboration_* tool, for handing to Launcher/NewLauncher.
func ToolSpecs() []wire.ToolSpec {
	return []wire.ToolSpec{
		toolSpec(dispatch.ToolSpawn, "Spawn a new child subagent with an initial prompt.", dispatch.SchemaFor[dispatch.SpawnArgs](dispatch.ToolSpawn)),
		toolSpec(dispatch.ToolFork, "Fork the caller's own history into a new child subagent.", dispatch.SchemaFor[dispatch.ForkArgs](dispatch.ToolFork)),
		toolSpec(dispatch.ToolSendMessage, "Deliver a message to another agent's inbox.", dispatch.SchemaFor[dispatch.SendMessageArgs](dispatch.ToolSendMessage)),
		toolSpec(dispatch.ToolWatchdog, "Start, replace, or cancel a periodic check-in watchdog for a child.", dispatch.SchemaFor[dispatch.WatchdogArgs](dispatch.ToolWatchdog)),
		toolSpec(dispatch.ToolList, "List known subagents visible to the caller.", dispatch.SchemaFor[struct{}](dispatch.ToolList)),
		toolSpec(dispatch.ToolAwait, "Block until a child delivers messages or completes.", dispatch.SchemaFor[dispatch.AwaitArgs](dispatch.ToolAwait)),
		toolSpec(dispatch.ToolPrune, "Remove terminal subagent sessions from the registry.", dispatch.SchemaFor[dispatch.PruneArgs](dispatch.ToolPrune)),
		toolSpec(dispatch.ToolLogs, "Read a subagent's recent log ring.", dispatch.SchemaFor[dispatch.LogsArgs](dispatch.ToolLogs)),
		toolSpec(dispatch.ToolCancel, "Cancel a running subagent.", dispatch.SchemaFor[dispatch.CancelArgs](dispatch.ToolCancel)),
		toolSpec(collab.ToolInitAgent, "Initialise a parallel-peers collaboration agent.", collab.SchemaFor[collab.InitAgentArgs](collab.ToolInitAgent)),
		toolSpec(collab.ToolSend, "Send a collaboration message to a peer.", collab.SchemaFor[collab.SendArgs](collab.ToolSend)),
		toolSpec(collab.ToolWait, "Wait for a collaboration peer's reply.", collab.SchemaFor[collab.WaitArgs](collab.ToolWait)),
		toolSpec(collab.ToolGetState, "Read a collaboration peer's current state.", collab.SchemaFor[collab.GetStateArgs](collab.ToolGetState)),
		toolSpec(collab.ToolClose, "Tear down a collaboration peer and its descendants.", collab.SchemaFor[collab.CloseArgs](collab.ToolClose)),
	}
}

func toolSpec(name, description string, schema map[string]any) wire.ToolSpec {
	raw, err := json.Marshal(schema)
	if err != nil {
		raw = nil
	}
	return wire.ToolSpec{Name: name, Description: description, Schema: raw}
}
