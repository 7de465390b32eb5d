package subagent

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/swordfish444/codex-sub000/internal/reasoning"
	"github.com/swordfish444/codex-sub000/pkg/convid"
)

// logCapacity is the bounded ring size for a child's event log (spec
// §4.5: "logs: bounded ring (e.g. 200 entries)").
const logCapacity = 200

// LogEntry is one ring-buffer record.
type LogEntry struct {
	TimestampMs int64
	Event       InnerEvent
}

// logRing is a fixed-capacity ring buffer evicting the oldest entry on
// overflow.
type logRing struct {
	mu      sync.Mutex
	entries []LogEntry
	start   int // index of the oldest entry within entries, once full
	full    bool
}

func newLogRing() *logRing {
	return &logRing{entries: make([]LogEntry, 0, logCapacity)}
}

func (r *logRing) push(e LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		r.entries = append(r.entries, e)
		if len(r.entries) == logCapacity {
			r.full = true
		}
		return
	}
	r.entries[r.start] = e
	r.start = (r.start + 1) % logCapacity
}

// Snapshot returns the retained entries in chronological order.
func (r *logRing) Snapshot() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		out := make([]LogEntry, len(r.entries))
		copy(out, r.entries)
		return out
	}
	out := make([]LogEntry, 0, logCapacity)
	out = append(out, r.entries[r.start:]...)
	out = append(out, r.entries[:r.start]...)
	return out
}

// completionCell is a latchable, broadcastable cell holding at most one
// Completion (spec §4.5: "latchable cell with broadcast semantics
// (watch-like)"), grounded on Go's own sync.Cond / close-channel watch
// idiom rather than any teacher file, since the teacher has no
// equivalent construct.
type completionCell struct {
	mu      sync.Mutex
	value   *Completion
	changed chan struct{}
}

func newCompletionCell() *completionCell {
	return &completionCell{changed: make(chan struct{})}
}

func (c *completionCell) Get() (Completion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil {
		return Completion{}, false
	}
	return *c.value, true
}

func (c *completionCell) Set(v Completion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = &v
	close(c.changed)
	c.changed = make(chan struct{})
}

func (c *completionCell) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
	close(c.changed)
	c.changed = make(chan struct{})
}

// Watch returns the current value (if any) plus a channel that closes
// the next time Set or Clear is called.
func (c *completionCell) Watch() (Completion, bool, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.changed
	if c.value == nil {
		return Completion{}, false, ch
	}
	return *c.value, true, ch
}

// inbox is a FIFO queue of InboxMessage plus a single-waiter notifier.
type inbox struct {
	mu     sync.Mutex
	queued []InboxMessage
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{notify: make(chan struct{}, 1)}
}

func (b *inbox) enqueue(msg InboxMessage) {
	b.mu.Lock()
	b.queued = append(b.queued, msg)
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// drain removes and returns every queued message, grouped per §4.6.1.
func (b *inbox) drain() []InboxMessage {
	b.mu.Lock()
	queued := b.queued
	b.queued = nil
	b.mu.Unlock()
	return GroupBySenderThenEarliest(queued)
}

func (b *inbox) isEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queued) == 0
}

// Notify returns the inbox's single-waiter notification channel.
func (b *inbox) Notify() <-chan struct{} { return b.notify }

// pendingOps holds the two FIFOs from spec §4.5/§4.6.4: interrupts are
// always dequeued ahead of regular entries.
type pendingOps struct {
	mu         sync.Mutex
	interrupts []PendingMessage
	regular    []PendingMessage
	notify     chan struct{}
}

func newPendingOps() *pendingOps {
	return &pendingOps{notify: make(chan struct{}, 1)}
}

func (p *pendingOps) enqueue(msg PendingMessage) {
	p.mu.Lock()
	if msg.Interrupt {
		p.interrupts = append(p.interrupts, msg)
	} else {
		p.regular = append(p.regular, msg)
	}
	p.mu.Unlock()
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// dequeue pops one interrupt if present, else one regular entry.
func (p *pendingOps) dequeue() (PendingMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.interrupts) > 0 {
		msg := p.interrupts[0]
		p.interrupts = p.interrupts[1:]
		return msg, true
	}
	if len(p.regular) > 0 {
		msg := p.regular[0]
		p.regular = p.regular[1:]
		return msg, true
	}
	return PendingMessage{}, false
}

// Notify returns the pending-ops single-waiter notification channel.
func (p *pendingOps) Notify() <-chan struct{} { return p.notify }

// Counts reports the current (regular, interrupt) queue lengths.
func (p *pendingOps) Counts() (regular, interrupts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.regular), len(p.interrupts)
}

// ManagedSubagent is the runtime wrapper around one child conversation
// (spec §4.5). The Manager exclusively owns a ManagedSubagent; other
// components reach it only via the registry-mediated session id.
type ManagedSubagent struct {
	SessionID convid.ConversationID
	AgentID   convid.AgentID

	Driver Driver
	cancel context.CancelFunc

	logs *logRing

	completion *completionCell

	reasoningHeader *reasoning.HeaderExtractor

	Inbox      *inbox
	PendingOps *pendingOps

	// permitRelease releases one slot in the Manager's global
	// active-subagent semaphore; called exactly once, from shutdown.
	permitRelease func()
	releaseOnce   sync.Once
}

// NewManagedSubagent wraps driver as the runtime for sessionID/agentID.
// cancel is invoked by Shutdown; permitRelease is invoked exactly once,
// also by Shutdown (spec §4.5 "_permit: handle releasing one slot ...
// on drop").
func NewManagedSubagent(sessionID convid.ConversationID, agentID convid.AgentID, driver Driver, cancel context.CancelFunc, permitRelease func()) *ManagedSubagent {
	return &ManagedSubagent{
		SessionID:       sessionID,
		AgentID:         agentID,
		Driver:          driver,
		cancel:          cancel,
		logs:            newLogRing(),
		completion:      newCompletionCell(),
		reasoningHeader: reasoning.NewHeaderExtractor(),
		Inbox:           newInbox(),
		PendingOps:      newPendingOps(),
		permitRelease:   permitRelease,
	}
}

// SubmitPrompt trims text; an empty result is a no-op (returns false).
// Otherwise it submits a UserInput op and returns true.
func (m *ManagedSubagent) SubmitPrompt(text string) (submitted bool, err error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false, nil
	}
	return true, m.Driver.Submit(Op{Kind: OpUserInput, Text: trimmed})
}

// EnqueueMessage pushes msg onto the pending-ops FIFO appropriate to
// its Interrupt flag.
func (m *ManagedSubagent) EnqueueMessage(msg PendingMessage) {
	m.PendingOps.enqueue(msg)
}

// DequeueMessage pops one interrupt if present, else one regular
// pending-ops entry.
func (m *ManagedSubagent) DequeueMessage() (PendingMessage, bool) {
	return m.PendingOps.dequeue()
}

// EnqueueInboxMessage queues msg for a future AwaitInboxAndCompletion
// call.
func (m *ManagedSubagent) EnqueueInboxMessage(msg InboxMessage) {
	m.Inbox.enqueue(msg)
}

// DrainInbox removes and returns every queued inbox message, grouped
// per §4.6.1.
func (m *ManagedSubagent) DrainInbox() []InboxMessage {
	return m.Inbox.drain()
}

// SetCompletion broadcasts c to every current and future watcher.
func (m *ManagedSubagent) SetCompletion(c Completion) {
	m.completion.Set(c)
}

// ClearCompletion resets the completion cell to empty.
func (m *ManagedSubagent) ClearCompletion() {
	m.completion.Clear()
}

// Completion returns the current completion, if any.
func (m *ManagedSubagent) Completion() (Completion, bool) {
	return m.completion.Get()
}

// WatchCompletion returns the current completion plus a channel that
// closes on the next SetCompletion/ClearCompletion.
func (m *ManagedSubagent) WatchCompletion() (Completion, bool, <-chan struct{}) {
	return m.completion.Watch()
}

// Interrupt submits an Interrupt op to the driver.
func (m *ManagedSubagent) Interrupt() error {
	return m.Driver.Submit(Op{Kind: OpInterrupt})
}

// Shutdown submits a Shutdown op, cancels the runtime's context, and
// releases the active-subagent permit exactly once.
func (m *ManagedSubagent) Shutdown() error {
	err := m.Driver.Submit(Op{Kind: OpShutdown})
	if m.cancel != nil {
		m.cancel()
	}
	m.Driver.Close()
	m.releaseOnce.Do(func() {
		if m.permitRelease != nil {
			m.permitRelease()
		}
	})
	return err
}

// RecordEvent appends e to the bounded log ring, evicting the oldest
// entry on overflow.
func (m *ManagedSubagent) RecordEvent(e InnerEvent) {
	m.logs.push(LogEntry{TimestampMs: time.Now().UnixMilli(), Event: e})
}

// Logs returns a chronological snapshot of the retained log entries.
func (m *ManagedSubagent) Logs() []LogEntry {
	return m.logs.Snapshot()
}

// FeedReasoningDelta forwards delta to the header extractor and
// reports the header plus true the first time one is found.
func (m *ManagedSubagent) FeedReasoningDelta(delta string) (string, bool) {
	return m.reasoningHeader.Feed(delta)
}

// ReasoningHeader returns the extracted header, if any.
func (m *ManagedSubagent) ReasoningHeader() (string, bool) {
	return m.reasoningHeader.Header()
}

// InboxNotify returns the inbox's single-waiter notification channel.
func (m *ManagedSubagent) InboxNotify() <-chan struct{} {
	return m.Inbox.Notify()
}

// PendingOpsNotify returns the pending-ops single-waiter notification
// channel.
func (m *ManagedSubagent) PendingOpsNotify() <-chan struct{} {
	return m.PendingOps.Notify()
}

// PendingCounts reports the current (regular, interrupt) pending-ops
// queue lengths.
func (m *ManagedSubagent) PendingCounts() (regular, interrupts int) {
	return m.PendingOps.Counts()
}
