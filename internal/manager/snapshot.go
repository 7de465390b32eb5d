package manager

import (
	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/convid"
)

// Snapshot returns sessionID's metadata with PendingMessages/
// PendingInterrupts refreshed from the live runtime's queues, since the
// registry's own copy is only updated as pumps drain them (spec §4.8
// "list"/"await" both need the current count, not the last-observed
// one).
func (mgr *Manager) Snapshot(sessionID convid.ConversationID) (subagent.Metadata, bool) {
	meta, ok := mgr.registry.Get(sessionID)
	if !ok {
		return subagent.Metadata{}, false
	}
	if managed, ok := mgr.getRuntime(sessionID); ok {
		meta.PendingMessages, meta.PendingInterrupts = managed.PendingCounts()
	}
	return meta, true
}

// ListForRequesterSnapshot returns requester's direct children with live
// pending counts, used by "list" and by "await"'s
// highest-pending_messages selection.
func (mgr *Manager) ListForRequesterSnapshot(requester convid.ConversationID) []subagent.Metadata {
	entries := mgr.registry.ListForRequester(requester)
	out := make([]subagent.Metadata, len(entries))
	for i, m := range entries {
		if managed, ok := mgr.getRuntime(m.SessionID); ok {
			m.PendingMessages, m.PendingInterrupts = managed.PendingCounts()
		}
		out[i] = m
	}
	return out
}
