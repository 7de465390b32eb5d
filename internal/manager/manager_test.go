package manager

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/respitem"
)

type testDriver struct {
	mu        sync.Mutex
	submitted []subagent.Op
	injected  [][]respitem.Item
	submittedItems [][]respitem.Item
	events    chan subagent.InnerEvent
	closed    bool
}

func newTestDriver() *testDriver {
	return &testDriver{events: make(chan subagent.InnerEvent, 8)}
}

func (d *testDriver) Submit(op subagent.Op) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitted = append(d.submitted, op)
	return nil
}

func (d *testDriver) Events() <-chan subagent.InnerEvent { return d.events }

func (d *testDriver) InjectHistory(items []respitem.Item) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.injected = append(d.injected, items)
	return nil
}

func (d *testDriver) SubmitItems(items []respitem.Item) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submittedItems = append(d.submittedItems, items)
	return nil
}

func (d *testDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

type fakeLauncher struct {
	mu       sync.Mutex
	drivers  map[convid.ConversationID]*testDriver
	err      error
	lastOpts LaunchOptions
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{drivers: make(map[convid.ConversationID]*testDriver)}
}

func (f *fakeLauncher) Launch(ctx context.Context, opts LaunchOptions) (subagent.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	d := newTestDriver()
	f.drivers[opts.SessionID] = d
	return d, nil
}

func (f *fakeLauncher) driverFor(sessionID convid.ConversationID) *testDriver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drivers[sessionID]
}

func newTestManager(t *testing.T) (*Manager, *fakeLauncher, convid.ConversationID) {
	t.Helper()
	root := convid.New()
	launcher := newFakeLauncher()
	mgr := New(Config{MaxActiveSubagents: 4}, root, launcher, nil)
	return mgr, launcher, root
}

func TestManager_SpawnSubmitsPromptAndTracksStatus(t *testing.T) {
	mgr, launcher, root := newTestManager(t)

	meta, err := mgr.Spawn(context.Background(), root, "do the thing", "worker", "", "gpt-5")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if meta.AgentID == convid.RootAgentID {
		t.Fatalf("AgentID = root, want non-root")
	}
	if meta.Status != subagent.StatusRunning {
		t.Errorf("Status = %v, want Running", meta.Status)
	}

	driver := launcher.driverFor(meta.SessionID)
	if driver == nil {
		t.Fatalf("no driver launched for %v", meta.SessionID)
	}
	if len(driver.submitted) != 1 || driver.submitted[0].Text != "do the thing" {
		t.Errorf("submitted = %+v, want one UserInput(do the thing)", driver.submitted)
	}
}

func TestManager_SpawnEmptyPromptIsReady(t *testing.T) {
	mgr, _, root := newTestManager(t)

	meta, err := mgr.Spawn(context.Background(), root, "   ", "", "", "")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if meta.Status != subagent.StatusReady {
		t.Errorf("Status = %v, want Ready", meta.Status)
	}
}

func TestManager_SpawnRejectsSandboxOverride(t *testing.T) {
	mgr, _, root := newTestManager(t)
	mgr.registry.Mutate(root, func(m *subagent.Metadata) { m.SandboxMode = subagent.SandboxReadOnly })

	_, err := mgr.Spawn(context.Background(), root, "prompt", "", subagent.SandboxDangerFullAccess, "")
	if err == nil {
		t.Fatalf("expected SandboxOverrideForbiddenError")
	}
	if _, ok := err.(*subagent.SandboxOverrideForbiddenError); !ok {
		t.Errorf("err = %T, want *SandboxOverrideForbiddenError", err)
	}
}

func TestManager_ForkStripsCallPairAndAppendsSynthetic(t *testing.T) {
	mgr, launcher, root := newTestManager(t)

	parentHistory := []respitem.Item{
		respitem.NewMessage("user", respitem.Text("input_text", "hi")),
		respitem.NewFunctionCall("subagent_fork", `{"label":"x"}`, "call-1"),
	}

	meta, err := mgr.Fork(context.Background(), root, parentHistory, "call-1", `{"label":"x"}`, "", "child-a", "", "")
	if err != nil {
		t.Fatalf("Fork() error = %v", err)
	}

	driver := launcher.driverFor(meta.SessionID)
	opts := launcher.lastOpts
	if len(opts.InitialHistory) != 3 {
		t.Fatalf("len(InitialHistory) = %d, want 3 (message + synthetic call + synthetic output)", len(opts.InitialHistory))
	}
	last := opts.InitialHistory[len(opts.InitialHistory)-1]
	if last.Kind != respitem.KindFunctionCallOutput || last.CallID != "call-1" {
		t.Errorf("last item = %+v, want synthetic FunctionCallOutput(call-1)", last)
	}
	_ = driver
}

func TestManager_SendMessageToChildEnqueuesPendingAndInbox(t *testing.T) {
	mgr, _, root := newTestManager(t)
	meta, err := mgr.Spawn(context.Background(), root, "", "", "", "")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	if err := mgr.SendMessage(convid.RootAgentID, meta.AgentID, "please continue", true, false); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	managed, ok := mgr.getRuntime(meta.SessionID)
	if !ok {
		t.Fatalf("no runtime for %v", meta.SessionID)
	}
	msg, ok := managed.DequeueMessage()
	if !ok || msg.Prompt != "please continue" {
		t.Errorf("pending-ops = (%+v, %v), want please continue", msg, ok)
	}
	inboxMsgs := managed.DrainInbox()
	if len(inboxMsgs) != 1 || inboxMsgs[0].Prompt != "please continue" {
		t.Errorf("inbox = %+v, want one please-continue message", inboxMsgs)
	}
}

func TestManager_SendMessageToRootFromRootRoutesToRootInbox(t *testing.T) {
	// send_message{agent_id:0} issued by root is a dispatcher-level
	// rejection (spec §4.8), not a Manager-level one; Manager's
	// SendMessage just routes to root regardless of sender. This test
	// documents that routing, leaving the "from root" rejection to the
	// dispatch layer which has the caller's own identity in scope.
	mgr, _, root := newTestManager(t)
	if err := mgr.SendMessage(convid.RootAgentID, convid.RootAgentID, "note", true, false); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	drained := mgr.registry.DrainRootInbox(root)
	if len(drained) != 1 {
		t.Fatalf("len(drained) = %d, want 1", len(drained))
	}
}

func TestManager_RootInboxFIFOGroupedBySender(t *testing.T) {
	mgr, _, root := newTestManager(t)
	c1, err1 := mgr.Spawn(context.Background(), root, "", "c1", "", "")
	c2, err2 := mgr.Spawn(context.Background(), root, "", "c2", "", "")
	if err1 != nil || err2 != nil {
		t.Fatalf("Spawn errors: %v, %v", err1, err2)
	}

	mgr.registry.EnqueueRootInbox(root, subagent.InboxMessage{SenderAgentID: c2.AgentID, TimestampMs: 5, Prompt: "m2-first"})
	mgr.registry.EnqueueRootInbox(root, subagent.InboxMessage{SenderAgentID: c1.AgentID, TimestampMs: 10, Prompt: "m1-only"})
	mgr.registry.EnqueueRootInbox(root, subagent.InboxMessage{SenderAgentID: c2.AgentID, TimestampMs: 15, Prompt: "m2-late"})

	drained := mgr.registry.DrainRootInbox(root)
	want := []string{"m2-first", "m2-late", "m1-only"}
	if len(drained) != len(want) {
		t.Fatalf("len(drained) = %d, want %d", len(drained), len(want))
	}
	for i, w := range want {
		if drained[i].Prompt != w {
			t.Errorf("drained[%d] = %q, want %q", i, drained[i].Prompt, w)
		}
	}
}

func TestBuildInboxDelivery_OnePairPerSenderGroup(t *testing.T) {
	// Spec §8 scenario 5's literal drain example: [(c2,t5,"m2-first"),
	// (c1,t10,"m1-only"),(c2,t15,"m2-late")] must deliver as four
	// ResponseItems, a call/output pair for sender=2 followed by a
	// separate call/output pair for sender=1 - not one pair bundling
	// every sender into a single payload.
	mgr, _, root := newTestManager(t)
	c1, err1 := mgr.Spawn(context.Background(), root, "", "c1", "", "")
	c2, err2 := mgr.Spawn(context.Background(), root, "", "c2", "", "")
	if err1 != nil || err2 != nil {
		t.Fatalf("Spawn errors: %v, %v", err1, err2)
	}

	mgr.registry.EnqueueRootInbox(root, subagent.InboxMessage{SenderAgentID: c2.AgentID, TimestampMs: 5, Prompt: "m2-first"})
	mgr.registry.EnqueueRootInbox(root, subagent.InboxMessage{SenderAgentID: c1.AgentID, TimestampMs: 10, Prompt: "m1-only"})
	mgr.registry.EnqueueRootInbox(root, subagent.InboxMessage{SenderAgentID: c2.AgentID, TimestampMs: 15, Prompt: "m2-late"})

	drained := mgr.registry.DrainRootInbox(root)
	rootMeta, _ := mgr.registry.Get(root)
	items := buildInboxDelivery(false, rootMeta, drained, nil, rootMeta.CreatedAtMs)

	if len(items) != 4 {
		t.Fatalf("len(items) = %d, want 4", len(items))
	}

	wantKinds := []respitem.Kind{respitem.KindFunctionCall, respitem.KindFunctionCallOutput, respitem.KindFunctionCall, respitem.KindFunctionCallOutput}
	for i, wantKind := range wantKinds {
		if items[i].Kind != wantKind {
			t.Errorf("items[%d].Kind = %q, want %q", i, items[i].Kind, wantKind)
		}
	}

	if items[0].CallID != items[1].CallID {
		t.Errorf("first pair call_id mismatch: %q vs %q", items[0].CallID, items[1].CallID)
	}
	if items[2].CallID != items[3].CallID {
		t.Errorf("second pair call_id mismatch: %q vs %q", items[2].CallID, items[3].CallID)
	}
	if items[0].CallID == items[2].CallID {
		t.Errorf("both pairs share call_id %q, want distinct per sender group", items[0].CallID)
	}

	var firstPayload, secondPayload awaitPayload
	if err := json.Unmarshal([]byte(items[1].Output), &firstPayload); err != nil {
		t.Fatalf("unmarshal first payload: %v", err)
	}
	if err := json.Unmarshal([]byte(items[3].Output), &secondPayload); err != nil {
		t.Fatalf("unmarshal second payload: %v", err)
	}

	if len(firstPayload.Messages) != 2 {
		t.Fatalf("first payload has %d messages, want 2 (m2-first, m2-late)", len(firstPayload.Messages))
	}
	for _, m := range firstPayload.Messages {
		if m.SenderAgentID != uint64(c2.AgentID) {
			t.Errorf("first payload message sender = %d, want c2 agent id %d", m.SenderAgentID, uint64(c2.AgentID))
		}
	}

	if len(secondPayload.Messages) != 1 {
		t.Fatalf("second payload has %d messages, want 1 (m1-only)", len(secondPayload.Messages))
	}
	if secondPayload.Messages[0].SenderAgentID != uint64(c1.AgentID) {
		t.Errorf("second payload message sender = %d, want c1 agent id %d", secondPayload.Messages[0].SenderAgentID, uint64(c1.AgentID))
	}
}

func TestManager_AwaitInboxAndCompletion_FastPathCompletion(t *testing.T) {
	mgr, _, root := newTestManager(t)
	meta, err := mgr.Spawn(context.Background(), root, "", "", "", "")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	managed, _ := mgr.getRuntime(meta.SessionID)
	managed.SetCompletion(subagent.CompletedWith("final", true))

	_, completion, msgs, err := mgr.AwaitInboxAndCompletion(context.Background(), meta.SessionID, 0)
	if err != nil {
		t.Fatalf("AwaitInboxAndCompletion() error = %v", err)
	}
	if completion == nil || completion.LastMessage != "final" {
		t.Errorf("completion = %+v, want Completed(final)", completion)
	}
	if len(msgs) != 0 {
		t.Errorf("msgs = %v, want empty on the stored-completion fast path", msgs)
	}

	updated, _ := mgr.registry.Get(meta.SessionID)
	if updated.Status != subagent.StatusIdle {
		t.Errorf("Status = %v, want Idle", updated.Status)
	}
}

func TestManager_AwaitInboxAndCompletion_TimesOut(t *testing.T) {
	mgr, _, root := newTestManager(t)
	meta, err := mgr.Spawn(context.Background(), root, "", "", "", "")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	_, _, _, err = mgr.AwaitInboxAndCompletion(context.Background(), meta.SessionID, 10*time.Millisecond)
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
	if _, ok := err.(*AwaitTimedOutError); !ok {
		t.Errorf("err = %T, want *AwaitTimedOutError", err)
	}
}

func TestManager_AwaitInboxAndCompletion_WakesOnInboxMessage(t *testing.T) {
	mgr, _, root := newTestManager(t)
	meta, err := mgr.Spawn(context.Background(), root, "", "", "", "")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = mgr.SendMessage(convid.RootAgentID, meta.AgentID, "ping", true, false)
	}()

	_, completion, msgs, err := mgr.AwaitInboxAndCompletion(context.Background(), meta.SessionID, time.Second)
	if err != nil {
		t.Fatalf("AwaitInboxAndCompletion() error = %v", err)
	}
	if completion != nil {
		t.Errorf("completion = %+v, want nil", completion)
	}
	if len(msgs) != 1 || msgs[0].Prompt != "ping" {
		t.Errorf("msgs = %+v, want one ping message", msgs)
	}
}

func TestManager_Cancel(t *testing.T) {
	mgr, launcher, root := newTestManager(t)
	meta, err := mgr.Spawn(context.Background(), root, "", "", "", "")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	if err := mgr.Cancel(meta.SessionID, "user requested"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	updated, _ := mgr.registry.Get(meta.SessionID)
	if updated.Status != subagent.StatusCanceled {
		t.Errorf("Status = %v, want Canceled", updated.Status)
	}
	if _, stillRuntime := mgr.getRuntime(meta.SessionID); !stillRuntime {
		t.Errorf("runtime was removed on Cancel; spec requires it survive until Prune")
	}
	if launcher.driverFor(meta.SessionID).closed {
		t.Errorf("driver was closed on Cancel; spec requires it survive until Prune")
	}
}

func TestManager_PruneCompletedOnlySkipsActive(t *testing.T) {
	mgr, _, root := newTestManager(t)
	active, err := mgr.Spawn(context.Background(), root, "keep going", "", "", "")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	done, err := mgr.Spawn(context.Background(), root, "", "", "", "")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if err := mgr.Cancel(done.SessionID, "done"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	result := mgr.Prune([]convid.ConversationID{active.SessionID, done.SessionID}, false, true)
	if len(result.SkippedActive) != 1 || result.SkippedActive[0] != active.SessionID {
		t.Errorf("SkippedActive = %v, want [%v]", result.SkippedActive, active.SessionID)
	}
	if len(result.Deleted) != 1 || result.Deleted[0] != done.SessionID {
		t.Errorf("Deleted = %v, want [%v]", result.Deleted, done.SessionID)
	}
	if _, ok := mgr.registry.Get(done.SessionID); ok {
		t.Errorf("pruned session still present in registry")
	}
	if _, ok := mgr.registry.Get(active.SessionID); !ok {
		t.Errorf("skipped-active session was removed from registry")
	}
}

func TestManager_PruneUnknownSession(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	result := mgr.Prune([]convid.ConversationID{convid.New()}, false, false)
	if len(result.Unknown) != 1 {
		t.Errorf("Unknown = %v, want one entry", result.Unknown)
	}
}

func TestManager_WatchdogStartReplacesExistingKey(t *testing.T) {
	mgr, _, root := newTestManager(t)
	target := convid.AgentID(7)

	mgr.StartWatchdog(root, target, time.Hour, "")
	if n := len(mgr.watchdogs); n != 1 {
		t.Fatalf("watchdogs count = %d, want 1", n)
	}
	mgr.StartWatchdog(root, target, time.Hour, "replacement")
	if n := len(mgr.watchdogs); n != 1 {
		t.Fatalf("watchdogs count after replace = %d, want 1 (same key)", n)
	}

	if !mgr.CancelWatchdog(root, target) {
		t.Errorf("CancelWatchdog on existing key returned false")
	}
	if mgr.CancelWatchdog(root, target) {
		t.Errorf("CancelWatchdog on already-canceled key returned true")
	}
}

func TestManager_EventPump_TaskCompleteFinalizesAndRoutesToRoot(t *testing.T) {
	mgr, launcher, root := newTestManager(t)
	meta, err := mgr.Spawn(context.Background(), root, "go", "", "", "")
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	driver := launcher.driverFor(meta.SessionID)
	driver.events <- subagent.InnerEvent{Kind: subagent.InnerTaskComplete, LastAgentMessage: "all done", HasLastAgentMessage: true}

	deadline := time.After(time.Second)
	for {
		updated, _ := mgr.registry.Get(meta.SessionID)
		if updated.Status == subagent.StatusIdle {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("status never reached Idle, still %v", updated.Status)
		case <-time.After(time.Millisecond):
		}
	}

	drained := mgr.registry.DrainRootInbox(root)
	if len(drained) != 1 || drained[0].SenderAgentID != meta.AgentID {
		t.Errorf("root inbox = %+v, want one message from %v", drained, meta.AgentID)
	}
}
