package manager

import (
	"context"
	"time"

	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/convid"
)

// AwaitInboxAndCompletion implements spec §4.6 "Await
// inbox-and-completion". timeout<=0 uses the Manager's configured
// default.
func (mgr *Manager) AwaitInboxAndCompletion(ctx context.Context, sessionID convid.ConversationID, timeout time.Duration) (subagent.Metadata, *subagent.Completion, []subagent.InboxMessage, error) {
	if timeout <= 0 {
		timeout = mgr.cfg.DefaultAwaitTimeout
	}

	managed, ok := mgr.getRuntime(sessionID)
	if !ok {
		return subagent.Metadata{}, nil, nil, ErrNoRuntime
	}

	// Fast path: a completion is already stored.
	if c, ok := managed.Completion(); ok {
		return mgr.finishAwait(sessionID, nil, &c)
	}

	// Subscribe before the second fast-path check so no notification
	// between here and the select loop is missed.
	_, _, changed := managed.WatchCompletion()

	if msgs := managed.DrainInbox(); len(msgs) > 0 {
		return mgr.finishAwait(sessionID, msgs, nil)
	}
	if c, ok := managed.Completion(); ok {
		return mgr.finishAwait(sessionID, nil, &c)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return subagent.Metadata{}, nil, nil, ctx.Err()
		case <-deadline.C:
			meta, _ := mgr.registry.Get(sessionID)
			return meta, nil, nil, &AwaitTimedOutError{SessionID: sessionID, AgentID: managed.AgentID, TimeoutMs: timeout.Milliseconds()}
		case <-managed.InboxNotify():
			if msgs := managed.DrainInbox(); len(msgs) > 0 {
				return mgr.finishAwait(sessionID, msgs, nil)
			}
			// Spurious: the notifier fires on every enqueue, including
			// one this call already drained; keep waiting.
		case <-changed:
			c, ok := managed.Completion()
			if !ok {
				continue
			}
			return mgr.finishAwait(sessionID, nil, &c)
		}
	}
}

func (mgr *Manager) finishAwait(sessionID convid.ConversationID, msgs []subagent.InboxMessage, completion *subagent.Completion) (subagent.Metadata, *subagent.Completion, []subagent.InboxMessage, error) {
	if completion != nil {
		mgr.registry.Mutate(sessionID, func(m *subagent.Metadata) { m.Status = completion.Status() })
	}
	meta, _ := mgr.registry.Get(sessionID)
	return meta, completion, msgs, nil
}
