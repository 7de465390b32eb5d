package collab

// InitAgentArgs is the collaboration_init_agent tool's argument shape
// (spec §4.9).
type InitAgentArgs struct {
	Prompt      string `json:"prompt" jsonschema:"required,description=Initial prompt for the new peer agent."`
	Label       string `json:"label,omitempty" jsonschema:"description=Short human-readable label for this peer."`
	SandboxMode string `json:"sandbox_mode,omitempty" jsonschema:"description=One of read-only, workspace-write, danger-full-access. Defaults to the caller's own mode; cannot exceed it."`
	Model       string `json:"model,omitempty" jsonschema:"description=Model override for the new peer's inner conversation."`
}

// SendArgs is the collaboration_send tool's argument shape.
type SendArgs struct {
	AgentIDs []uint64 `json:"agent_ids" jsonschema:"required,description=Direct child agent ids to deliver this message to."`
	Message  string   `json:"message" jsonschema:"required,description=Message text to deliver to every listed recipient."`
}

// WaitArgs is the collaboration_wait tool's argument shape.
type WaitArgs struct {
	AgentIDs    []uint64 `json:"agent_ids,omitempty" jsonschema:"description=Direct child agent ids to wait on. Omitted means every direct child."`
	MaxDuration int64    `json:"max_duration_s" jsonschema:"required,description=Seconds to wait before giving up, whichever happens first against every target leaving Running."`
}

// GetStateArgs is the collaboration_get_state tool's argument shape.
type GetStateArgs struct {
	AgentIDs []uint64 `json:"agent_ids,omitempty" jsonschema:"description=Direct child agent ids to report on. Omitted means every direct child."`
}

// CloseArgs is the collaboration_close tool's argument shape.
type CloseArgs struct {
	AgentIDs      []uint64 `json:"agent_ids,omitempty" jsonschema:"description=Direct child agent ids (and their transitive descendants) to close. Omitted means every direct child."`
	ReturnStates  bool     `json:"return_states,omitempty" jsonschema:"description=If true, include each closed agent's final state in the response."`
}
