package manager

import (
	"context"
	"time"

	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/convid"
)

// watchdogMinInterval is the floor enforced at the dispatcher per spec
// §4.6.6; Manager re-enforces it so any caller bypassing the
// dispatcher still gets the guarantee.
const watchdogMinInterval = 30 * time.Second

// DefaultWatchdogMessage is used when a watchdog is started with a
// blank message; exported so the dispatcher can echo the effective
// message back to the model.
const DefaultWatchdogMessage = "watchdog: checking in"

type watchdogKey struct {
	CallerSessionID convid.ConversationID
	TargetAgentID   convid.AgentID
}

// StartWatchdog starts a recurring watchdog keyed by
// (callerSessionID, targetAgentID), replacing any existing one for
// that key (spec §4.6.6), and reports whether it replaced one.
func (mgr *Manager) StartWatchdog(callerSessionID convid.ConversationID, targetAgentID convid.AgentID, interval time.Duration, message string) (replaced bool) {
	if interval < watchdogMinInterval {
		interval = watchdogMinInterval
	}
	if message == "" {
		message = DefaultWatchdogMessage
	}

	key := watchdogKey{CallerSessionID: callerSessionID, TargetAgentID: targetAgentID}
	ctx, cancel := context.WithCancel(context.Background())

	mgr.watchdogMu.Lock()
	if existing, ok := mgr.watchdogs[key]; ok {
		existing()
		replaced = true
	}
	mgr.watchdogs[key] = cancel
	mgr.watchdogMu.Unlock()

	go mgr.runWatchdog(ctx, key, interval, message)
	return replaced
}

// CancelWatchdog cancels the watchdog for the given key, if any.
func (mgr *Manager) CancelWatchdog(callerSessionID convid.ConversationID, targetAgentID convid.AgentID) bool {
	key := watchdogKey{CallerSessionID: callerSessionID, TargetAgentID: targetAgentID}
	mgr.watchdogMu.Lock()
	defer mgr.watchdogMu.Unlock()
	cancel, ok := mgr.watchdogs[key]
	if !ok {
		return false
	}
	cancel()
	delete(mgr.watchdogs, key)
	return true
}

func (mgr *Manager) runWatchdog(ctx context.Context, key watchdogKey, interval time.Duration, message string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	callerMeta, _ := mgr.registry.Get(key.CallerSessionID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := mgr.deliverWatchdog(callerMeta, key.TargetAgentID, message); err != nil {
				mgr.CancelWatchdog(key.CallerSessionID, key.TargetAgentID)
				return
			}
		}
	}
}

func (mgr *Manager) deliverWatchdog(caller subagent.Metadata, target convid.AgentID, message string) error {
	switch {
	case target.IsRoot() && caller.IsRoot():
		mgr.registry.EnqueueRootInbox(mgr.RootSessionID, subagent.InboxMessage{
			SenderAgentID:    convid.RootAgentID,
			RecipientAgentID: convid.RootAgentID,
			Prompt:           message,
			HasPrompt:        true,
			TimestampMs:      nowMs(),
		})
		return nil
	case target.IsRoot():
		return mgr.SendMessageToRoot(caller.AgentID, message, true, false)
	default:
		return mgr.SendMessage(caller.AgentID, target, message, true, false)
	}
}
