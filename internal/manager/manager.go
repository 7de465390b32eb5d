// Package manager implements the Subagent Manager: spawn/fork/
// send_message/await_inbox_and_completion/cancel/prune plus the event
// and pending-ops pumps and watchdogs that drive each child runtime
// (spec §4.6), grounded on the teacher's SubagentRegistry sweep/callback
// shape (internal/multiagent/subagent_registry.go) generalised with a
// live per-child runtime instead of a passive run record.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"

	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/respitem"
	"github.com/swordfish444/codex-sub000/pkg/revent"
)

// LaunchOptions parameterises a single inner-conversation-driver
// launch, covering both spawn (no initial history) and fork (a
// synthetic history snapshot).
type LaunchOptions struct {
	SessionID       convid.ConversationID
	ParentSessionID convid.ConversationID
	InitialHistory  []respitem.Item // nil for a plain spawn
	SandboxMode     subagent.SandboxMode
	Model           string
}

// Launcher starts an inner conversation driver for a newly registered
// session.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (subagent.Driver, error)
}

// Config tunes a Manager instance.
type Config struct {
	MaxActiveSubagents        int64
	RootInboxAutosubmit       bool
	RootAgentUsesUserMessages bool
	DefaultAwaitTimeout       time.Duration // spec §4.8 default/0 -> 1800s cap
	RootSandboxMode           subagent.SandboxMode
}

// Manager owns every ManagedSubagent and the shared registry.
type Manager struct {
	cfg      Config
	registry *subagent.Registry
	counter  *convid.Counter
	sem      *semaphore.Weighted
	launcher Launcher

	runtimes *xsync.MapOf[convid.ConversationID, *subagent.ManagedSubagent]

	RootSessionID convid.ConversationID
	rootDriver    subagent.Driver // nil until SetRootDriver; enables root autosubmit

	lifecycle chan<- revent.Lifecycle // non-blocking emit target; nil discards

	metricsSink MetricsSink // nil discards; set via SetMetricsSink

	watchdogMu sync.Mutex
	watchdogs  map[watchdogKey]context.CancelFunc
}

// MetricsSink receives best-effort operational signals a Manager emits
// as a side channel, grounded on spec §5 "Backpressure and drops":
// observing a drop must never feed back into the orchestration path,
// so this is a tiny fire-and-forget interface rather than a return
// value or error.
type MetricsSink interface {
	LifecycleEventDropped()
}

// SetMetricsSink attaches sink to receive drop notifications. Passing
// nil detaches it.
func (mgr *Manager) SetMetricsSink(sink MetricsSink) {
	mgr.metricsSink = sink
}

// New builds a Manager. lifecycle may be nil to discard lifecycle
// events (e.g. in tests).
func New(cfg Config, rootSessionID convid.ConversationID, launcher Launcher, lifecycle chan<- revent.Lifecycle) *Manager {
	if cfg.MaxActiveSubagents <= 0 {
		cfg.MaxActiveSubagents = 16
	}
	if cfg.DefaultAwaitTimeout <= 0 {
		cfg.DefaultAwaitTimeout = 1800 * time.Second
	}
	if cfg.RootSandboxMode == "" {
		cfg.RootSandboxMode = subagent.SandboxDangerFullAccess
	}
	mgr := &Manager{
		cfg:           cfg,
		registry:      subagent.NewRegistry(),
		counter:       convid.NewCounter(),
		sem:           semaphore.NewWeighted(cfg.MaxActiveSubagents),
		launcher:      launcher,
		runtimes:      xsync.NewMapOf[convid.ConversationID, *subagent.ManagedSubagent](),
		RootSessionID: rootSessionID,
		lifecycle:     lifecycle,
		watchdogs:     make(map[watchdogKey]context.CancelFunc),
	}
	mgr.registry.Register(subagent.Metadata{
		SessionID:   rootSessionID,
		AgentID:     convid.RootAgentID,
		Status:      subagent.StatusRunning,
		CreatedAtMs: nowMs(),
		SandboxMode: cfg.RootSandboxMode,
	})
	return mgr
}

// Registry exposes the underlying metadata registry (read paths only;
// mutation goes through Manager operations).
func (mgr *Manager) Registry() *subagent.Registry { return mgr.registry }

func (mgr *Manager) getRuntime(sessionID convid.ConversationID) (*subagent.ManagedSubagent, bool) {
	return mgr.runtimes.Load(sessionID)
}

// Runtime exposes the live ManagedSubagent for sessionID, if any — used
// by the Tool Dispatcher for subagent_logs (spec §4.8).
func (mgr *Manager) Runtime(sessionID convid.ConversationID) (*subagent.ManagedSubagent, bool) {
	return mgr.getRuntime(sessionID)
}

func (mgr *Manager) putRuntime(sessionID convid.ConversationID, m *subagent.ManagedSubagent) {
	mgr.runtimes.Store(sessionID, m)
}

func (mgr *Manager) deleteRuntime(sessionID convid.ConversationID) {
	mgr.runtimes.Delete(sessionID)
}

// emitLifecycle performs a non-blocking send, matching spec §5
// "Backpressure and drops": failure to send is observed but never
// fails the core.
func (mgr *Manager) emitLifecycle(ev revent.Lifecycle) {
	if mgr.lifecycle == nil {
		return
	}
	select {
	case mgr.lifecycle <- ev:
	default:
		if mgr.metricsSink != nil {
			mgr.metricsSink.LifecycleEventDropped()
		}
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }
