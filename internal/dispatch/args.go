package dispatch

// SpawnArgs is the subagent_spawn tool's argument shape (spec §4.8).
type SpawnArgs struct {
	Prompt      string `json:"prompt" jsonschema:"required,description=Initial prompt for the new subagent."`
	Label       string `json:"label,omitempty" jsonschema:"description=Short human-readable label for this subagent."`
	SandboxMode string `json:"sandbox_mode,omitempty" jsonschema:"description=One of read-only, workspace-write, danger-full-access. Defaults to the caller's own mode; cannot exceed it."`
	Model       string `json:"model,omitempty" jsonschema:"description=Model override for the new subagent's inner conversation."`
}

// ForkArgs is the subagent_fork tool's argument shape. The call id of
// the in-flight subagent_fork FunctionCall is not an argument: it
// arrives as Handle's callID parameter, so the manager can excise that
// call/output pair before building the child's synthetic history.
type ForkArgs struct {
	Prompt      string `json:"prompt" jsonschema:"required,description=Initial prompt for the forked subagent."`
	Label       string `json:"label,omitempty"`
	SandboxMode string `json:"sandbox_mode,omitempty"`
	Model       string `json:"model,omitempty"`
}

// SendMessageArgs is the subagent_send_message tool's argument shape.
type SendMessageArgs struct {
	AgentID   uint64 `json:"agent_id" jsonschema:"required,description=Target agent id. 0 means the root UI thread."`
	Prompt    string `json:"prompt,omitempty" jsonschema:"description=Message text to deliver."`
	Interrupt bool   `json:"interrupt,omitempty" jsonschema:"description=Deliver as an interrupt, jumping ahead of the target's regular pending-ops queue."`
}

// WatchdogArgs is the subagent_watchdog tool's argument shape.
type WatchdogArgs struct {
	AgentID    uint64 `json:"agent_id" jsonschema:"required,description=Target agent id to watch."`
	IntervalS  int64  `json:"interval_s,omitempty" jsonschema:"description=Seconds between check-in deliveries; floor 30s, default 300s."`
	Message    string `json:"message,omitempty" jsonschema:"description=Check-in message text; defaults to a generic prompt."`
	Cancel     bool   `json:"cancel,omitempty" jsonschema:"description=If true, cancel the existing watchdog for this agent_id instead of starting one."`
}

// AwaitArgs is the subagent_await tool's argument shape.
type AwaitArgs struct {
	AgentID    uint64 `json:"agent_id,omitempty" jsonschema:"description=Specific agent id to await. Omit to await whichever direct child has the most pending messages."`
	TimeoutS   int64  `json:"timeout_s,omitempty" jsonschema:"description=Seconds to wait; 0 or omitted uses the 1800s maximum, floor 300s."`
}

// PruneArgs is the subagent_prune tool's argument shape.
type PruneArgs struct {
	AgentIDs      []uint64 `json:"agent_ids,omitempty" jsonschema:"description=Specific agent ids to prune."`
	All           bool     `json:"all,omitempty" jsonschema:"description=Prune every known session instead of just agent_ids."`
	CompletedOnly bool     `json:"completed_only,omitempty" jsonschema:"description=Skip sessions that are not yet in a terminal state."`
}

// LogsArgs is the subagent_logs tool's argument shape.
type LogsArgs struct {
	AgentID  uint64 `json:"agent_id" jsonschema:"required,description=Target agent id whose log ring to read."`
	Limit    int    `json:"limit,omitempty" jsonschema:"description=Maximum number of most-recent entries to return."`
	MaxBytes int    `json:"max_bytes,omitempty" jsonschema:"description=Approximate byte budget for the rendered payload; oldest-first entries are dropped to fit."`
}

// CancelArgs is the subagent_cancel tool's argument shape.
type CancelArgs struct {
	AgentID uint64 `json:"agent_id" jsonschema:"required,description=Target agent id to cancel."`
	Reason  string `json:"reason,omitempty"`
}
