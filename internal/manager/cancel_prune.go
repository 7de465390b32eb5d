package manager

import (
	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/revent"
)

// Cancel moves a session to terminal Canceled (spec §4.6 "Cancel").
// If a runtime exists its completion is set and logs/inbox remain
// available for post-hoc inspection; the runtime itself is left alive
// until an explicit Prune.
func (mgr *Manager) Cancel(sessionID convid.ConversationID, reason string) error {
	if _, ok := mgr.registry.Get(sessionID); !ok {
		return ErrUnknownSession
	}

	completion := subagent.CanceledWith(reason)
	if managed, ok := mgr.getRuntime(sessionID); ok {
		mgr.finalize(sessionID, managed, completion)
		return nil
	}

	mgr.registry.Mutate(sessionID, func(m *subagent.Metadata) { m.Status = subagent.StatusCanceled })
	meta, _ := mgr.registry.Get(sessionID)
	mgr.emitLifecycle(revent.Lifecycle{Kind: revent.LifecycleStatus, SessionID: sessionID, AgentID: meta.AgentID, Status: string(subagent.StatusCanceled)})
	return nil
}

// PruneResult reports the outcome of a Prune call.
type PruneResult struct {
	Deleted       []convid.ConversationID
	SkippedActive []convid.ConversationID
	Unknown       []convid.ConversationID
}

// Prune implements spec §4.6 "Prune". targets is ignored when all is
// true, in which case every registered session is considered.
func (mgr *Manager) Prune(targets []convid.ConversationID, all, completedOnly bool) PruneResult {
	if all {
		targets = targets[:0]
		for _, m := range mgr.registry.All() {
			targets = append(targets, m.SessionID)
		}
	}

	var result PruneResult
	for _, sessionID := range targets {
		meta, ok := mgr.registry.Get(sessionID)
		if !ok {
			result.Unknown = append(result.Unknown, sessionID)
			continue
		}
		if completedOnly && !meta.Status.IsTerminal() {
			result.SkippedActive = append(result.SkippedActive, sessionID)
			continue
		}
		if managed, ok := mgr.getRuntime(sessionID); ok {
			_ = managed.Shutdown()
			mgr.deleteRuntime(sessionID)
		}
		mgr.registry.Delete(sessionID)
		mgr.emitLifecycle(revent.Lifecycle{Kind: revent.LifecycleDeleted, SessionID: sessionID, AgentID: meta.AgentID})
		result.Deleted = append(result.Deleted, sessionID)
	}
	return result
}
