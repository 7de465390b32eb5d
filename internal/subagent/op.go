package subagent

import "github.com/swordfish444/codex-sub000/pkg/respitem"

// OpKind discriminates the Op union submitted to a child's inner
// conversation driver.
type OpKind string

const (
	OpUserInput  OpKind = "user_input"
	OpInterrupt  OpKind = "interrupt"
	OpShutdown   OpKind = "shutdown"
)

// Op is one operation submitted to a ManagedSubagent's driver.
type Op struct {
	Kind OpKind
	Text string // OpUserInput payload
}

// InnerEventKind discriminates the event union produced by the inner
// conversation driver (spec §4.6.3).
type InnerEventKind string

const (
	InnerAgentReasoningDelta InnerEventKind = "agent_reasoning_delta"
	InnerAgentReasoning      InnerEventKind = "agent_reasoning"
	InnerTaskComplete        InnerEventKind = "task_complete"
	InnerTurnAborted         InnerEventKind = "turn_aborted"
	InnerStreamError         InnerEventKind = "stream_error"
	InnerError               InnerEventKind = "error"
)

// InnerEvent is one event surfaced by the inner conversation driver.
type InnerEvent struct {
	Kind InnerEventKind

	Delta string // AgentReasoningDelta

	Text string // AgentReasoning

	LastAgentMessage    string // TaskComplete
	HasLastAgentMessage bool

	Reason string // TurnAborted

	Message string // StreamError / Error
}

// Driver is the handle to an inner conversation driver: it accepts
// submitted Ops and surfaces a stream of InnerEvents until closed.
type Driver interface {
	Submit(op Op) error
	Events() <-chan InnerEvent
	// InjectHistory appends items directly to the live conversation's
	// history without driving a new turn — used to deliver the
	// synthetic subagent_await call/output pair (spec §4.6.5).
	InjectHistory(items []respitem.Item) error
	// SubmitItems drives a new turn seeded with pre-built items rather
	// than a plain text prompt — used for the root inbox autosubmit
	// path (spec §4.6.2).
	SubmitItems(items []respitem.Item) error
	Close()
}
