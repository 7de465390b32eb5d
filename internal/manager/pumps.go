package manager

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/revent"
)

// errRuntimeFinished is eventPump's sentinel return once a runtime
// reaches a terminal completion — not a failure, just the errgroup
// signal that tells pendingOpsPump (its sibling within the same
// runtime's group) to stop draining a session nothing will ever read
// from again.
var errRuntimeFinished = errors.New("runtime finished")

// runPumps supervises one runtime's event and pending-ops pumps with an
// errgroup.Group scoped to that single runtime (spec §4.6: "per-runtime
// event pump and pending-ops pump goroutines are supervised with
// golang.org/x/sync/errgroup"). The group's derived context is private
// to this one runtime's pair of pumps: a terminal completion in
// eventPump cancels only its own pendingOpsPump sibling, never another
// runtime's pumps or root's, since every runtime gets its own runPumps
// call over its own runCtx.
func (mgr *Manager) runPumps(ctx context.Context, sessionID convid.ConversationID, managed *subagent.ManagedSubagent) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.eventPump(gctx, sessionID, managed) })
	g.Go(func() error { return mgr.pendingOpsPump(gctx, sessionID, managed) })
	_ = g.Wait()
}

// eventPump is the per-runtime task from spec §4.6.3: it awaits the
// next inner event and drives reasoning-header extraction plus
// terminal-completion finalisation.
func (mgr *Manager) eventPump(ctx context.Context, sessionID convid.ConversationID, managed *subagent.ManagedSubagent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-managed.Driver.Events():
			if !ok {
				return nil
			}
			managed.RecordEvent(ev)

			switch ev.Kind {
			case subagent.InnerAgentReasoningDelta:
				mgr.maybeEmitReasoningHeader(sessionID, managed, ev.Delta)
			case subagent.InnerAgentReasoning:
				mgr.maybeEmitReasoningHeader(sessionID, managed, ev.Text)
			case subagent.InnerTaskComplete:
				mgr.finalize(sessionID, managed, subagent.CompletedWith(ev.LastAgentMessage, ev.HasLastAgentMessage))
				return errRuntimeFinished
			case subagent.InnerTurnAborted:
				mgr.finalize(sessionID, managed, subagent.CanceledWith(ev.Reason))
				return errRuntimeFinished
			case subagent.InnerStreamError, subagent.InnerError:
				mgr.finalize(sessionID, managed, subagent.FailedWith(ev.Message))
				return errRuntimeFinished
			}
		}
	}
}

func (mgr *Manager) maybeEmitReasoningHeader(sessionID convid.ConversationID, managed *subagent.ManagedSubagent, delta string) {
	header, found := managed.FeedReasoningDelta(delta)
	if !found {
		return
	}
	mgr.registry.Mutate(sessionID, func(m *subagent.Metadata) { m.ReasoningHeader = header })
	mgr.emitLifecycle(revent.Lifecycle{Kind: revent.LifecycleReasoningHeader, SessionID: sessionID, AgentID: managed.AgentID, Header: header})
}

// finalize sets the runtime's completion, updates registry status,
// synthesises the immediate non-blocking inbox-and-completion delivery
// into the agent's own history, and emits a status lifecycle event
// (spec §4.6.3's "synthesise an immediate ... await_inbox_and_completion(0ms)").
func (mgr *Manager) finalize(sessionID convid.ConversationID, managed *subagent.ManagedSubagent, completion subagent.Completion) {
	managed.SetCompletion(completion)
	mgr.registry.Mutate(sessionID, func(m *subagent.Metadata) { m.Status = completion.Status() })

	meta, _ := mgr.registry.Get(sessionID)
	mgr.deliverInboxAndCompletion(meta, managed, &completion)

	mgr.emitLifecycle(revent.Lifecycle{Kind: revent.LifecycleStatus, SessionID: sessionID, AgentID: managed.AgentID, Status: string(completion.Status())})

	if meta.HasParent {
		mgr.routeCompletionToParent(meta, completion)
	}
}

// deliverInboxAndCompletion drains the recipient's own inbox, builds
// the synthetic subagent_await pair (and any root-as-user-message
// items) per §4.6.5, and injects them into the live driver history.
func (mgr *Manager) deliverInboxAndCompletion(meta subagent.Metadata, managed *subagent.ManagedSubagent, completion *subagent.Completion) {
	msgs := managed.DrainInbox()
	if len(msgs) == 0 && completion == nil {
		return
	}
	items := buildInboxDelivery(mgr.cfg.RootAgentUsesUserMessages, meta, msgs, completion, meta.CreatedAtMs)
	if len(items) == 0 {
		return
	}
	_ = managed.Driver.InjectHistory(items)
	mgr.emitLifecycle(revent.Lifecycle{Kind: revent.LifecycleAgentInbox, SessionID: meta.SessionID, AgentID: meta.AgentID, PendingMessages: 0, PendingInterrupts: 0})
}

// routeCompletionToParent enqueues an InboxMessage reporting the
// child's completion to whichever inbox the parent owns: the root
// inbox if the parent is root, else the parent runtime's own inbox.
func (mgr *Manager) routeCompletionToParent(meta subagent.Metadata, completion subagent.Completion) {
	msg := subagent.InboxMessage{
		SenderAgentID:    meta.AgentID,
		RecipientAgentID: meta.ParentAgentID,
		TimestampMs:      nowMs(),
	}
	if meta.ParentAgentID.IsRoot() {
		pending, interrupts := mgr.registry.EnqueueRootInbox(mgr.RootSessionID, msg)
		mgr.emitLifecycle(revent.Lifecycle{Kind: revent.LifecycleAgentInbox, SessionID: mgr.RootSessionID, AgentID: convid.RootAgentID, PendingMessages: pending, PendingInterrupts: interrupts})
		mgr.maybeAutosubmitRootInbox()
		return
	}
	if parentRuntime, ok := mgr.getRuntime(meta.ParentSessionID); ok {
		parentRuntime.EnqueueInboxMessage(msg)
	}
}

// pendingOpsPump is the per-runtime task from spec §4.6.4.
func (mgr *Manager) pendingOpsPump(ctx context.Context, sessionID convid.ConversationID, managed *subagent.ManagedSubagent) error {
	for {
		for {
			msg, ok := managed.DequeueMessage()
			if !ok {
				break
			}
			regular, interrupts := managed.PendingCounts()
			mgr.emitLifecycle(revent.Lifecycle{Kind: revent.LifecycleAgentInbox, SessionID: sessionID, AgentID: managed.AgentID, PendingMessages: regular, PendingInterrupts: interrupts})

			if msg.Interrupt {
				_ = managed.Interrupt()
			}

			switch {
			case msg.HasPrompt:
				submitted, err := managed.SubmitPrompt(msg.Prompt)
				if err != nil {
					mgr.finalize(sessionID, managed, subagent.FailedWith(err.Error()))
					return errRuntimeFinished
				}
				status := subagent.StatusReady
				if submitted {
					status = subagent.StatusRunning
				}
				mgr.registry.Mutate(sessionID, func(m *subagent.Metadata) { m.Status = status })
			case msg.Interrupt:
				mgr.registry.Mutate(sessionID, func(m *subagent.Metadata) { m.Status = subagent.StatusReady })
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-managed.PendingOpsNotify():
			continue
		}
	}
}
