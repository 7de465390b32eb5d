package subagent

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/swordfish444/codex-sub000/pkg/convid"
)

// Registry holds Metadata by value/clone, keyed by session id (spec §3
// "Ownership": "the registry holds metadata by value/clone"). It is
// grounded on the teacher's SubagentRegistry
// (internal/multiagent/subagent_registry.go) but swaps its
// mutex-guarded map for a lock-free xsync.MapOf, since every mutation
// here is a single-key read-modify-write rather than the teacher's
// sweep-the-whole-map timeout scan.
type Registry struct {
	sessions *xsync.MapOf[convid.ConversationID, Metadata]

	// rootInbox holds, per root session id, the queue of messages
	// directed at that root (spec §4.6.2). Root inboxes are small and
	// drained as a unit, so a plain mutex-guarded map is simpler than a
	// lock-free one here.
	mu        sync.Mutex
	rootInbox map[convid.ConversationID][]InboxMessage
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions:  xsync.NewMapOf[convid.ConversationID, Metadata](),
		rootInbox: make(map[convid.ConversationID][]InboxMessage),
	}
}

// Register stores a freshly-minted metadata record.
func (r *Registry) Register(m Metadata) {
	r.sessions.Store(m.SessionID, m)
}

// Get returns the metadata for sessionID, if present.
func (r *Registry) Get(sessionID convid.ConversationID) (Metadata, bool) {
	return r.sessions.Load(sessionID)
}

// Mutate applies fn to the stored metadata for sessionID under the
// map's internal per-bucket lock, returning false if no entry exists.
func (r *Registry) Mutate(sessionID convid.ConversationID, fn func(*Metadata)) bool {
	var existed bool
	r.sessions.Compute(sessionID, func(old Metadata, loaded bool) (Metadata, bool) {
		existed = loaded
		if !loaded {
			return old, true // delete=true: leave the map untouched, there was nothing here
		}
		fn(&old)
		return old, false
	})
	return existed
}

// Delete removes a session's metadata, returning false if it was not
// present.
func (r *Registry) Delete(sessionID convid.ConversationID) bool {
	_, existed := r.sessions.LoadAndDelete(sessionID)
	return existed
}

// GetByAgentID scans for the session owned by agentID. The registry is
// bounded by max_active_subagents plus retained-terminal sessions, so a
// linear scan is simpler than maintaining a second index.
func (r *Registry) GetByAgentID(agentID convid.AgentID) (Metadata, bool) {
	var found Metadata
	var ok bool
	r.sessions.Range(func(_ convid.ConversationID, m Metadata) bool {
		if m.AgentID == agentID {
			found, ok = m, true
			return false
		}
		return true
	})
	return found, ok
}

// ListForRequester returns every session whose ParentSessionID is
// requester, in no particular order.
func (r *Registry) ListForRequester(requester convid.ConversationID) []Metadata {
	var out []Metadata
	r.sessions.Range(func(_ convid.ConversationID, m Metadata) bool {
		if m.HasParent && m.ParentSessionID == requester {
			out = append(out, m)
		}
		return true
	})
	return out
}

// ChildrenOf returns every session whose ParentAgentID is parent, in no
// particular order (spec §4.9 "every sender can only target its direct
// children").
func (r *Registry) ChildrenOf(parent convid.AgentID) []Metadata {
	var out []Metadata
	r.sessions.Range(func(_ convid.ConversationID, m Metadata) bool {
		if m.HasParent && m.ParentAgentID == parent {
			out = append(out, m)
		}
		return true
	})
	return out
}

// DescendantsOf returns root's full transitive child set (breadth-
// first), used by collaboration_close to cascade a close down the
// subtree (spec §4.9 "f").
func (r *Registry) DescendantsOf(root convid.AgentID) []Metadata {
	var out []Metadata
	frontier := []convid.AgentID{root}
	for len(frontier) > 0 {
		var next []convid.AgentID
		for _, parent := range frontier {
			for _, child := range r.ChildrenOf(parent) {
				out = append(out, child)
				next = append(next, child.AgentID)
			}
		}
		frontier = next
	}
	return out
}

// ListActive returns every session whose status is non-terminal.
func (r *Registry) ListActive() []Metadata {
	var out []Metadata
	r.sessions.Range(func(_ convid.ConversationID, m Metadata) bool {
		if !m.Status.IsTerminal() {
			out = append(out, m)
		}
		return true
	})
	return out
}

// All returns every registered session.
func (r *Registry) All() []Metadata {
	var out []Metadata
	r.sessions.Range(func(_ convid.ConversationID, m Metadata) bool {
		out = append(out, m)
		return true
	})
	return out
}

// Size reports the number of registered sessions.
func (r *Registry) Size() int {
	return r.sessions.Size()
}

// EnqueueRootInbox appends a message to root's inbox and returns the
// new pending/interrupt counts (spec §4.6.2).
func (r *Registry) EnqueueRootInbox(root convid.ConversationID, msg InboxMessage) (pending, interrupts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rootInbox[root] = append(r.rootInbox[root], msg)
	return countInbox(r.rootInbox[root])
}

// DrainRootInbox removes and returns, grouped per §4.6.1, every
// message queued for root.
func (r *Registry) DrainRootInbox(root convid.ConversationID) []InboxMessage {
	r.mu.Lock()
	queued := r.rootInbox[root]
	delete(r.rootInbox, root)
	r.mu.Unlock()
	return GroupBySenderThenEarliest(queued)
}

// RootInboxCounts reports the current pending/interrupt counts for
// root without draining.
func (r *Registry) RootInboxCounts(root convid.ConversationID) (pending, interrupts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return countInbox(r.rootInbox[root])
}

func countInbox(msgs []InboxMessage) (pending, interrupts int) {
	pending = len(msgs)
	for _, m := range msgs {
		if m.Interrupt {
			interrupts++
		}
	}
	return pending, interrupts
}

// GroupBySenderThenEarliest implements spec §4.6.1's drain ordering:
// "grouped by sender agent_id; within each group, entries are ordered
// by timestamp; groups themselves are ordered by the earliest
// timestamp within the group." in is assumed already in enqueue
// (hence timestamp) order, so a stable group-and-sort suffices.
func GroupBySenderThenEarliest(in []InboxMessage) []InboxMessage {
	if len(in) == 0 {
		return nil
	}

	order := make([]convid.AgentID, 0, len(in))
	groups := make(map[convid.AgentID][]InboxMessage, len(in))
	earliest := make(map[convid.AgentID]int64, len(in))

	for _, m := range in {
		if _, seen := groups[m.SenderAgentID]; !seen {
			order = append(order, m.SenderAgentID)
			earliest[m.SenderAgentID] = m.TimestampMs
		}
		groups[m.SenderAgentID] = append(groups[m.SenderAgentID], m)
	}

	// Stable-sort the sender order by each group's earliest timestamp;
	// ties keep first-seen order, matching a stable sort.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && earliest[order[j]] < earliest[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	out := make([]InboxMessage, 0, len(in))
	for _, sender := range order {
		out = append(out, groups[sender]...)
	}
	return out
}
