package manager

import (
	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/revent"
)

// SetRootDriver attaches the driver handle for the root session's own
// inner conversation, enabling root-inbox autosubmit (spec §4.6.2).
// Left unset, autosubmit is a no-op.
func (mgr *Manager) SetRootDriver(d subagent.Driver) {
	mgr.rootDriver = d
}

// SendMessage delivers a message to targetAgentID, either into its own
// runtime's pending-ops/inbox queues or, if targetAgentID is root, into
// the root inbox (spec §4.6 "Send-message").
func (mgr *Manager) SendMessage(senderAgentID, targetAgentID convid.AgentID, prompt string, hasPrompt, interrupt bool) error {
	if targetAgentID.IsRoot() {
		return mgr.SendMessageToRoot(senderAgentID, prompt, hasPrompt, interrupt)
	}

	targetMeta, ok := mgr.registry.GetByAgentID(targetAgentID)
	if !ok {
		return ErrUnknownSession
	}
	managed, ok := mgr.getRuntime(targetMeta.SessionID)
	if !ok {
		return ErrNoRuntime
	}

	if hasPrompt || interrupt {
		managed.EnqueueMessage(subagent.PendingMessage{Prompt: prompt, HasPrompt: hasPrompt, Interrupt: interrupt})
	}
	managed.EnqueueInboxMessage(subagent.InboxMessage{
		SenderAgentID:    senderAgentID,
		RecipientAgentID: targetAgentID,
		Interrupt:        interrupt,
		Prompt:           prompt,
		HasPrompt:        hasPrompt,
		TimestampMs:      nowMs(),
	})
	return nil
}

// SendMessageToRoot enqueues a message in the root inbox and, if
// autosubmit is configured, attempts an immediate drain.
func (mgr *Manager) SendMessageToRoot(senderAgentID convid.AgentID, prompt string, hasPrompt, interrupt bool) error {
	pending, interrupts := mgr.registry.EnqueueRootInbox(mgr.RootSessionID, subagent.InboxMessage{
		SenderAgentID:    senderAgentID,
		RecipientAgentID: convid.RootAgentID,
		Interrupt:        interrupt,
		Prompt:           prompt,
		HasPrompt:        hasPrompt,
		TimestampMs:      nowMs(),
	})
	mgr.emitLifecycle(revent.Lifecycle{Kind: revent.LifecycleAgentInbox, SessionID: mgr.RootSessionID, AgentID: convid.RootAgentID, PendingMessages: pending, PendingInterrupts: interrupts})
	mgr.maybeAutosubmitRootInbox()
	return nil
}

// maybeAutosubmitRootInbox implements spec §4.6.2: when autosubmit is
// enabled and root has no active turn, drain the root inbox into a
// synthetic subagent_await pair and submit it as root's next turn.
func (mgr *Manager) maybeAutosubmitRootInbox() {
	if !mgr.cfg.RootInboxAutosubmit || mgr.rootDriver == nil {
		return
	}
	rootMeta, ok := mgr.registry.Get(mgr.RootSessionID)
	if !ok || rootMeta.Status == subagent.StatusRunning {
		return
	}

	drained := mgr.registry.DrainRootInbox(mgr.RootSessionID)
	if len(drained) == 0 {
		return
	}

	items := buildInboxDelivery(mgr.cfg.RootAgentUsesUserMessages, rootMeta, drained, nil, rootMeta.CreatedAtMs)
	if len(items) == 0 {
		return
	}
	if err := mgr.rootDriver.SubmitItems(items); err != nil {
		// Re-queue isn't attempted: a submit failure here means root's
		// own driver is in a bad state, which is out of this manager's
		// remit to repair.
		return
	}
	mgr.registry.Mutate(mgr.RootSessionID, func(m *subagent.Metadata) { m.Status = subagent.StatusRunning })
	mgr.emitLifecycle(revent.Lifecycle{Kind: revent.LifecycleAgentInbox, SessionID: mgr.RootSessionID, AgentID: convid.RootAgentID, PendingMessages: 0, PendingInterrupts: 0})
}
