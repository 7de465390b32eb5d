package manager

import (
	"context"
	"strings"

	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/respitem"
	"github.com/swordfish444/codex-sub000/pkg/revent"
)

// Spawn allocates a fresh session and agent id, launches an inner
// conversation driver, and submits the initial prompt (spec §4.6
// "Spawn").
func (mgr *Manager) Spawn(ctx context.Context, parentSessionID convid.ConversationID, prompt, label string, sandboxMode subagent.SandboxMode, model string) (subagent.Metadata, error) {
	return mgr.launchWithHistoryFn(ctx, parentSessionID, subagent.OriginSpawn, prompt, label, sandboxMode, model, nil)
}

// Fork behaves like Spawn but seeds the child with a synthetic history
// snapshot built by BuildForkHistory (spec §4.6 "Fork").
func (mgr *Manager) Fork(ctx context.Context, parentSessionID convid.ConversationID, parentHistory []respitem.Item, forkCallID, forkArguments, prompt, label string, sandboxMode subagent.SandboxMode, model string) (subagent.Metadata, error) {
	// childSessionID is allocated inside launchWithHistoryFn;
	// BuildForkHistory needs it, so a history-builder closure is
	// passed instead of a precomputed slice.
	return mgr.launchWithHistoryFn(ctx, parentSessionID, subagent.OriginFork, prompt, label, sandboxMode, model, func(childSessionID convid.ConversationID) []respitem.Item {
		return BuildForkHistory(parentHistory, forkCallID, forkArguments, parentSessionID, childSessionID, label, "")
	})
}

func (mgr *Manager) launchWithHistoryFn(
	ctx context.Context,
	parentSessionID convid.ConversationID,
	origin subagent.Origin,
	prompt, label string,
	sandboxMode subagent.SandboxMode,
	model string,
	historyFn func(childSessionID convid.ConversationID) []respitem.Item,
) (subagent.Metadata, error) {
	parentMeta, _ := mgr.registry.Get(parentSessionID)

	if err := subagent.CheckSandboxOverride(sandboxMode, parentMeta.SandboxMode); err != nil {
		return subagent.Metadata{}, err
	}
	effectiveSandbox := sandboxMode
	if effectiveSandbox == "" {
		effectiveSandbox = parentMeta.SandboxMode
	}

	sessionID := convid.New()
	agentID := mgr.counter.Next()

	meta := subagent.Metadata{
		SessionID:       sessionID,
		AgentID:         agentID,
		ParentSessionID: parentSessionID,
		HasParent:       true,
		ParentAgentID:   parentMeta.AgentID,
		Origin:          origin,
		Status:          subagent.StatusQueued,
		Depth:           parentMeta.Depth + 1,
		CreatedAtMs:     nowMs(),
		Label:           label,
		SandboxMode:     effectiveSandbox,
	}
	mgr.registry.Register(meta)

	if err := mgr.sem.Acquire(ctx, 1); err != nil {
		mgr.rollback(sessionID)
		return subagent.Metadata{}, err
	}

	var history []respitem.Item
	if historyFn != nil {
		history = historyFn(sessionID)
		mgr.registry.Mutate(sessionID, func(m *subagent.Metadata) { m.InitialMessageCount = len(history) })
	}

	driver, err := mgr.launcher.Launch(ctx, LaunchOptions{
		SessionID:       sessionID,
		ParentSessionID: parentSessionID,
		InitialHistory:  history,
		SandboxMode:     effectiveSandbox,
		Model:           model,
	})
	if err != nil {
		mgr.sem.Release(1)
		mgr.rollback(sessionID)
		return subagent.Metadata{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	managed := subagent.NewManagedSubagent(sessionID, agentID, driver, cancel, func() { mgr.sem.Release(1) })
	mgr.putRuntime(sessionID, managed)

	mgr.emitLifecycle(revent.Lifecycle{Kind: revent.LifecycleCreated, SessionID: sessionID, AgentID: agentID, Summary: meta})
	mgr.emitLifecycle(revent.Lifecycle{Kind: revent.LifecycleAgentInbox, SessionID: sessionID, AgentID: agentID, PendingMessages: 0, PendingInterrupts: 0})

	go mgr.runPumps(runCtx, sessionID, managed)

	trimmed := strings.TrimSpace(prompt)
	switch {
	case trimmed == "":
		mgr.registry.Mutate(sessionID, func(m *subagent.Metadata) { m.Status = subagent.StatusReady })
	default:
		submitted, err := managed.SubmitPrompt(trimmed)
		if err != nil {
			mgr.finalize(sessionID, managed, subagent.FailedWith(err.Error()))
			updated, _ := mgr.registry.Get(sessionID)
			return updated, err
		}
		status := subagent.StatusReady
		if submitted {
			status = subagent.StatusRunning
		}
		mgr.registry.Mutate(sessionID, func(m *subagent.Metadata) { m.Status = status })
	}

	updated, _ := mgr.registry.Get(sessionID)
	return updated, nil
}

func (mgr *Manager) rollback(sessionID convid.ConversationID) {
	mgr.registry.Delete(sessionID)
	mgr.emitLifecycle(revent.Lifecycle{Kind: revent.LifecycleDeleted, SessionID: sessionID})
}
