package manager

import (
	"errors"
	"fmt"

	"github.com/swordfish444/codex-sub000/pkg/convid"
)

// ErrUnknownSession is returned when an operation targets a session
// id absent from the registry.
var ErrUnknownSession = errors.New("unknown subagent session")

// ErrNoRuntime is returned when an operation requires a live runtime
// (not merely a registry entry) and none exists, e.g. a terminal
// session that was never pruned.
var ErrNoRuntime = errors.New("subagent has no live runtime")

// ErrRootSendMessageToSelf is returned when root tries to
// send_message targeting agent_id 0 (itself) — spec §4.8:
// "agent_id==0 from root is rejected".
var ErrRootSendMessageToSelf = errors.New("root cannot send_message to itself")

// AwaitTimedOutError reports that await_inbox_and_completion's
// deadline elapsed before an inbox message or completion arrived.
type AwaitTimedOutError struct {
	SessionID convid.ConversationID
	AgentID   convid.AgentID
	TimeoutMs int64
}

func (e *AwaitTimedOutError) Error() string {
	return fmt.Sprintf("await timed out after %dms for agent_id %d (session %s)", e.TimeoutMs, e.AgentID, e.SessionID)
}
