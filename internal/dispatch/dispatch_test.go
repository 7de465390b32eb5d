package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/swordfish444/codex-sub000/internal/client"
	"github.com/swordfish444/codex-sub000/internal/manager"
	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/respitem"
)

type testDriver struct {
	mu     sync.Mutex
	events chan subagent.InnerEvent
}

func newTestDriver() *testDriver { return &testDriver{events: make(chan subagent.InnerEvent, 8)} }

func (d *testDriver) Submit(subagent.Op) error                   { return nil }
func (d *testDriver) Events() <-chan subagent.InnerEvent         { return d.events }
func (d *testDriver) InjectHistory(items []respitem.Item) error  { return nil }
func (d *testDriver) SubmitItems(items []respitem.Item) error    { return nil }
func (d *testDriver) Close()                                     {}

type fakeLauncher struct {
	mu      sync.Mutex
	drivers map[convid.ConversationID]*testDriver
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{drivers: make(map[convid.ConversationID]*testDriver)}
}

func (f *fakeLauncher) Launch(ctx context.Context, opts manager.LaunchOptions) (subagent.Driver, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := newTestDriver()
	f.drivers[opts.SessionID] = d
	return d, nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *manager.Manager, convid.ConversationID) {
	t.Helper()
	root := convid.New()
	mgr := manager.New(manager.Config{MaxActiveSubagents: 4}, root, newFakeLauncher(), nil)
	return New(mgr), mgr, root
}

func rootCaller(root convid.ConversationID) Caller {
	return Caller{SessionID: root, AgentID: convid.RootAgentID}
}

func decodeRespondErr(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatalf("expected a *client.RespondToModelError, got nil")
	}
	rtm, ok := err.(*client.RespondToModelError)
	if !ok {
		t.Fatalf("err = %T (%v), want *client.RespondToModelError", err, err)
	}
	return rtm.Message
}

func TestDispatcher_Spawn(t *testing.T) {
	d, _, root := newTestDispatcher(t)

	raw, err := d.Handle(context.Background(), ToolSpawn, rootCaller(root), "call-1", `{"prompt":"do work","label":"worker"}`)
	if err != nil {
		t.Fatalf("Handle(spawn) error = %v", err)
	}

	var view subagentView
	if err := json.Unmarshal([]byte(raw), &view); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if view.Label != "worker" {
		t.Errorf("Label = %q, want worker", view.Label)
	}
	if view.AgentID == 0 {
		t.Errorf("AgentID = 0, want non-root child id")
	}
}

func TestDispatcher_Spawn_InvalidSandboxMode(t *testing.T) {
	d, _, root := newTestDispatcher(t)

	_, err := d.Handle(context.Background(), ToolSpawn, rootCaller(root), "call-1", `{"prompt":"x","sandbox_mode":"god-mode"}`)
	msg := decodeRespondErr(t, err)
	if !strings.Contains(msg, "unknown sandbox_mode") {
		t.Errorf("message = %q, want unknown sandbox_mode complaint", msg)
	}
}

func TestDispatcher_Spawn_RejectsSandboxOverride(t *testing.T) {
	d, mgr, root := newTestDispatcher(t)
	mgr.Registry().Mutate(root, func(m *subagent.Metadata) { m.SandboxMode = subagent.SandboxReadOnly })

	_, err := d.Handle(context.Background(), ToolSpawn, rootCaller(root), "call-1", `{"prompt":"x","sandbox_mode":"danger-full-access"}`)
	msg := decodeRespondErr(t, err)
	if !strings.Contains(msg, "exceeds the caller's own") {
		t.Errorf("message = %q, want sandbox override rejection", msg)
	}
}

func TestDispatcher_Spawn_MissingPromptFailsSchema(t *testing.T) {
	d, _, root := newTestDispatcher(t)

	_, err := d.Handle(context.Background(), ToolSpawn, rootCaller(root), "call-1", `{"label":"worker"}`)
	if err == nil {
		t.Fatalf("expected a schema validation error for a missing required prompt")
	}
}

func TestDispatcher_SendMessage_RootInterruptToSelfRejected(t *testing.T) {
	d, _, root := newTestDispatcher(t)

	_, err := d.Handle(context.Background(), ToolSendMessage, rootCaller(root), "call-1", `{"agent_id":0,"prompt":"x","interrupt":true}`)
	msg := decodeRespondErr(t, err)
	if !strings.Contains(msg, "cannot send an interrupt to agent 0") {
		t.Errorf("message = %q, want interrupt-to-root rejection", msg)
	}
}

func TestDispatcher_SendMessage_RootToSelfRejected(t *testing.T) {
	d, _, root := newTestDispatcher(t)

	_, err := d.Handle(context.Background(), ToolSendMessage, rootCaller(root), "call-1", `{"agent_id":0,"prompt":"note"}`)
	msg := decodeRespondErr(t, err)
	if !strings.Contains(msg, "cannot target agent 0") {
		t.Errorf("message = %q, want root-to-self rejection", msg)
	}
}

func TestDispatcher_SendMessage_ChildToRootAllowed(t *testing.T) {
	d, mgr, root := newTestDispatcher(t)
	raw, err := d.Handle(context.Background(), ToolSpawn, rootCaller(root), "call-1", `{"prompt":""}`)
	if err != nil {
		t.Fatalf("spawn error = %v", err)
	}
	var child subagentView
	_ = json.Unmarshal([]byte(raw), &child)

	childSession, _ := mgr.Registry().GetByAgentID(convid.AgentID(child.AgentID))
	caller := Caller{SessionID: childSession.SessionID, AgentID: convid.AgentID(child.AgentID)}

	_, err = d.Handle(context.Background(), ToolSendMessage, caller, "call-2", `{"agent_id":0,"prompt":"status update"}`)
	if err != nil {
		t.Fatalf("child-to-root send_message should be allowed, got %v", err)
	}
}

func TestDispatcher_Watchdog_IntervalFloor(t *testing.T) {
	d, _, root := newTestDispatcher(t)

	_, err := d.Handle(context.Background(), ToolWatchdog, rootCaller(root), "call-1", `{"agent_id":1,"interval_s":5}`)
	msg := decodeRespondErr(t, err)
	if !strings.Contains(msg, "at least 30 seconds") {
		t.Errorf("message = %q, want floor complaint", msg)
	}
}

func TestDispatcher_Watchdog_DefaultIntervalAndReplace(t *testing.T) {
	d, _, root := newTestDispatcher(t)

	raw, err := d.Handle(context.Background(), ToolWatchdog, rootCaller(root), "call-1", `{"agent_id":7}`)
	if err != nil {
		t.Fatalf("Handle(watchdog) error = %v", err)
	}
	var first struct {
		Status    string `json:"status"`
		IntervalS int64  `json:"interval_s"`
	}
	_ = json.Unmarshal([]byte(raw), &first)
	if first.Status != "started" || first.IntervalS != 300 {
		t.Errorf("first = %+v, want started/300", first)
	}

	raw, err = d.Handle(context.Background(), ToolWatchdog, rootCaller(root), "call-2", `{"agent_id":7,"interval_s":60}`)
	if err != nil {
		t.Fatalf("Handle(watchdog) error = %v", err)
	}
	var second struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal([]byte(raw), &second)
	if second.Status != "replaced" {
		t.Errorf("second.Status = %q, want replaced", second.Status)
	}
}

func TestDispatcher_Await_TimeoutBounds(t *testing.T) {
	d, _, root := newTestDispatcher(t)

	_, err := d.Handle(context.Background(), ToolAwait, rootCaller(root), "call-1", `{"agent_id":1,"timeout_s":10}`)
	msg := decodeRespondErr(t, err)
	if !strings.Contains(msg, "at least") {
		t.Errorf("message = %q, want min-timeout complaint", msg)
	}

	_, err = d.Handle(context.Background(), ToolAwait, rootCaller(root), "call-2", `{"agent_id":1,"timeout_s":999999}`)
	msg = decodeRespondErr(t, err)
	if !strings.Contains(msg, "exceeds the") {
		t.Errorf("message = %q, want max-timeout complaint", msg)
	}
}

func TestDispatcher_Await_SelectsHighestPendingChild(t *testing.T) {
	d, mgr, root := newTestDispatcher(t)

	lowRaw, _ := d.Handle(context.Background(), ToolSpawn, rootCaller(root), "c1", `{"prompt":""}`)
	highRaw, _ := d.Handle(context.Background(), ToolSpawn, rootCaller(root), "c2", `{"prompt":""}`)
	var low, high subagentView
	_ = json.Unmarshal([]byte(lowRaw), &low)
	_ = json.Unmarshal([]byte(highRaw), &high)

	highMeta, _ := mgr.Registry().GetByAgentID(convid.AgentID(high.AgentID))
	highRuntime, _ := mgr.Runtime(highMeta.SessionID)
	highRuntime.EnqueueMessage(subagent.PendingMessage{Prompt: "a", HasPrompt: true})
	highRuntime.EnqueueMessage(subagent.PendingMessage{Prompt: "b", HasPrompt: true})

	lowMeta, _ := mgr.Registry().GetByAgentID(convid.AgentID(low.AgentID))
	lowRuntime, _ := mgr.Runtime(lowMeta.SessionID)
	lowRuntime.EnqueueMessage(subagent.PendingMessage{Prompt: "a", HasPrompt: true})

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = mgr.SendMessage(convid.RootAgentID, highMeta.AgentID, "ping", true, false)
	}()

	raw, err := d.Handle(context.Background(), ToolAwait, rootCaller(root), "call-await", `{"timeout_s":300}`)
	if err != nil {
		t.Fatalf("Handle(await) error = %v", err)
	}
	var resp struct {
		AgentID uint64 `json:"agent_id"`
	}
	_ = json.Unmarshal([]byte(raw), &resp)
	if resp.AgentID != high.AgentID {
		t.Errorf("await selected agent_id %d, want %d (highest pending_messages)", resp.AgentID, high.AgentID)
	}
}

func TestDispatcher_Prune_ByAgentIDs(t *testing.T) {
	d, _, root := newTestDispatcher(t)
	raw, _ := d.Handle(context.Background(), ToolSpawn, rootCaller(root), "c1", `{"prompt":""}`)
	var child subagentView
	_ = json.Unmarshal([]byte(raw), &child)
	if err := d.cancelByAgentID(root, child.AgentID); err != nil {
		t.Fatalf("cancel setup error = %v", err)
	}

	out, err := d.Handle(context.Background(), ToolPrune, rootCaller(root), "call-1", `{"agent_ids":[`+itoaUint(child.AgentID)+`]}`)
	if err != nil {
		t.Fatalf("Handle(prune) error = %v", err)
	}
	var resp struct {
		Deleted []string `json:"deleted_session_ids"`
	}
	_ = json.Unmarshal([]byte(out), &resp)
	if len(resp.Deleted) != 1 {
		t.Errorf("Deleted = %v, want one entry", resp.Deleted)
	}
}

func TestDispatcher_Logs_Windowing(t *testing.T) {
	d, mgr, root := newTestDispatcher(t)
	raw, _ := d.Handle(context.Background(), ToolSpawn, rootCaller(root), "c1", `{"prompt":""}`)
	var child subagentView
	_ = json.Unmarshal([]byte(raw), &child)

	childMeta, _ := mgr.Registry().GetByAgentID(convid.AgentID(child.AgentID))
	runtime, _ := mgr.Runtime(childMeta.SessionID)
	for i := 0; i < 5; i++ {
		runtime.RecordEvent(subagent.InnerEvent{Kind: subagent.InnerAgentReasoning, Text: "step"})
	}

	out, err := d.Handle(context.Background(), ToolLogs, rootCaller(root), "call-1", `{"agent_id":`+itoaUint(child.AgentID)+`,"limit":2}`)
	if err != nil {
		t.Fatalf("Handle(logs) error = %v", err)
	}
	var payload logsPayload
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("unmarshal logs payload: %v", err)
	}
	if payload.Returned != 2 || payload.TotalEntries != 5 {
		t.Errorf("payload = %+v, want Returned=2 TotalEntries=5", payload)
	}
}

func TestDispatcher_Cancel(t *testing.T) {
	d, _, root := newTestDispatcher(t)
	raw, _ := d.Handle(context.Background(), ToolSpawn, rootCaller(root), "c1", `{"prompt":""}`)
	var child subagentView
	_ = json.Unmarshal([]byte(raw), &child)

	out, err := d.Handle(context.Background(), ToolCancel, rootCaller(root), "call-1", `{"agent_id":`+itoaUint(child.AgentID)+`,"reason":"no longer needed"}`)
	if err != nil {
		t.Fatalf("Handle(cancel) error = %v", err)
	}
	var resp struct {
		Status string `json:"status"`
	}
	_ = json.Unmarshal([]byte(out), &resp)
	if resp.Status != "canceled" {
		t.Errorf("Status = %q, want canceled", resp.Status)
	}
}

func TestDispatcher_List(t *testing.T) {
	d, _, root := newTestDispatcher(t)
	_, _ = d.Handle(context.Background(), ToolSpawn, rootCaller(root), "c1", `{"prompt":"","label":"a"}`)
	_, _ = d.Handle(context.Background(), ToolSpawn, rootCaller(root), "c2", `{"prompt":"","label":"b"}`)

	out, err := d.Handle(context.Background(), ToolList, rootCaller(root), "call-1", `{}`)
	if err != nil {
		t.Fatalf("Handle(list) error = %v", err)
	}
	var resp struct {
		Subagents []subagentView `json:"subagents"`
	}
	_ = json.Unmarshal([]byte(out), &resp)
	if len(resp.Subagents) != 2 {
		t.Errorf("Subagents = %+v, want 2 entries", resp.Subagents)
	}
}

// cancelByAgentID is a small test helper that goes through the same
// resolve-then-Cancel path as the cancel tool, without marshaling JSON
// arguments, used to set up prune-eligible fixtures.
func (d *Dispatcher) cancelByAgentID(root convid.ConversationID, agentID uint64) error {
	meta, err := d.resolveTargetSession(agentID)
	if err != nil {
		return err
	}
	return d.mgr.Cancel(meta.SessionID, "test setup")
}

func itoaUint(v uint64) string {
	data, _ := json.Marshal(v)
	return string(data)
}
