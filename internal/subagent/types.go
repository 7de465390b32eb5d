// Package subagent holds the per-session data model and the managed
// runtime wrapper around one child conversation (spec §3, §4.5).
package subagent

import "github.com/swordfish444/codex-sub000/pkg/convid"

// Origin records how a session came into being.
type Origin string

const (
	OriginSpawn       Origin = "spawn"
	OriginFork        Origin = "fork"
	OriginSendMessage Origin = "send_message"
)

// Status is the lifecycle state of a session, mirrored in its metadata
// record and surfaced via lifecycle events.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusReady    Status = "ready"
	StatusIdle     Status = "idle"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
	// StatusClosed marks a session (and, transitively, its descendants)
	// as closed by a collaboration_close call (spec §4.9 "f"): no
	// further model-issued operation may target it.
	StatusClosed Status = "closed"
)

// IsTerminal reports whether s is one of the set {Idle, Failed,
// Canceled, Closed} that a completion or an explicit close finalises
// into.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusIdle, StatusFailed, StatusCanceled, StatusClosed:
		return true
	default:
		return false
	}
}

// Metadata is one record per session (spec §3 "SubagentMetadata").
// agent_id == 0 iff the session is root iff ParentSessionID is unset;
// callers that mint root metadata should leave ParentSessionID and
// ParentAgentID at their zero values.
type Metadata struct {
	SessionID        convid.ConversationID
	AgentID          convid.AgentID
	ParentSessionID  convid.ConversationID
	HasParent        bool
	ParentAgentID    convid.AgentID

	Origin Origin
	Status Status

	// Depth is the number of spawn/fork/collaboration_init_agent hops
	// from root (root itself is depth 0). Collaboration's bounded-depth
	// rule (spec §4.9 "a") reads this field.
	Depth int

	CreatedAtMs int64
	Label       string
	Summary     string
	ReasoningHeader string

	InitialMessageCount int
	PendingMessages     int
	PendingInterrupts   int

	SandboxMode SandboxMode
}

// IsRoot reports whether this metadata describes the root session.
func (m Metadata) IsRoot() bool {
	return m.AgentID.IsRoot()
}

// InboxMessage is one entry delivered to a recipient's inbox, totally
// ordered within that recipient by TimestampMs (ties broken by enqueue
// order, i.e. slice position).
type InboxMessage struct {
	SenderAgentID    convid.AgentID
	RecipientAgentID convid.AgentID
	Interrupt        bool
	Prompt           string
	HasPrompt        bool
	TimestampMs      int64
}

// PendingMessage is one entry in a runtime's pending-ops FIFO.
type PendingMessage struct {
	Prompt    string
	HasPrompt bool
	Interrupt bool
}

// CompletionKind discriminates the SubagentCompletion tagged union.
type CompletionKind string

const (
	CompletionCompleted CompletionKind = "completed"
	CompletionCanceled  CompletionKind = "canceled"
	CompletionFailed    CompletionKind = "failed"
)

// Completion is the terminal outcome of one child runtime.
type Completion struct {
	Kind CompletionKind

	// Completed.
	LastMessage    string
	HasLastMessage bool

	// Canceled.
	Reason string

	// Failed.
	Message string
}

// CompletedWith builds a Completed completion.
func CompletedWith(lastMessage string, hasLastMessage bool) Completion {
	return Completion{Kind: CompletionCompleted, LastMessage: lastMessage, HasLastMessage: hasLastMessage}
}

// CanceledWith builds a Canceled completion.
func CanceledWith(reason string) Completion {
	return Completion{Kind: CompletionCanceled, Reason: reason}
}

// FailedWith builds a Failed completion.
func FailedWith(message string) Completion {
	return Completion{Kind: CompletionFailed, Message: message}
}

// Status maps a completion to the terminal status it finalises into
// (spec §3: "Completed→Idle, Failed→Failed, Canceled→Canceled").
func (c Completion) Status() Status {
	switch c.Kind {
	case CompletionCompleted:
		return StatusIdle
	case CompletionFailed:
		return StatusFailed
	case CompletionCanceled:
		return StatusCanceled
	default:
		return StatusFailed
	}
}
