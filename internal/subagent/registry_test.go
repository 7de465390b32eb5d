package subagent

import (
	"testing"

	"github.com/swordfish444/codex-sub000/pkg/convid"
)

func TestGroupBySenderThenEarliest(t *testing.T) {
	s1 := convid.AgentID(1)
	s2 := convid.AgentID(2)

	in := []InboxMessage{
		{SenderAgentID: s2, TimestampMs: 5, Prompt: "m2a"},
		{SenderAgentID: s1, TimestampMs: 10, Prompt: "m1"},
		{SenderAgentID: s2, TimestampMs: 15, Prompt: "m2b"},
	}

	out := GroupBySenderThenEarliest(in)
	want := []string{"m2a", "m2b", "m1"}
	if len(out) != len(want) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(want))
	}
	for i, w := range want {
		if out[i].Prompt != w {
			t.Errorf("out[%d].Prompt = %q, want %q", i, out[i].Prompt, w)
		}
	}
}

func TestRegistry_RootInboxFIFO(t *testing.T) {
	reg := NewRegistry()
	root := convid.New()
	c1 := convid.AgentID(1)
	c2 := convid.AgentID(2)

	reg.EnqueueRootInbox(root, InboxMessage{SenderAgentID: c2, TimestampMs: 5, Prompt: "m2-first"})
	reg.EnqueueRootInbox(root, InboxMessage{SenderAgentID: c1, TimestampMs: 10, Prompt: "m1-only"})
	pending, _ := reg.EnqueueRootInbox(root, InboxMessage{SenderAgentID: c2, TimestampMs: 15, Prompt: "m2-late"})
	if pending != 3 {
		t.Fatalf("pending = %d, want 3", pending)
	}

	drained := reg.DrainRootInbox(root)
	want := []string{"m2-first", "m2-late", "m1-only"}
	if len(drained) != len(want) {
		t.Fatalf("len(drained) = %d, want %d", len(drained), len(want))
	}
	for i, w := range want {
		if drained[i].Prompt != w {
			t.Errorf("drained[%d].Prompt = %q, want %q", i, drained[i].Prompt, w)
		}
	}

	if again := reg.DrainRootInbox(root); len(again) != 0 {
		t.Errorf("second drain = %v, want empty", again)
	}
}

func TestRegistry_MutateAndDelete(t *testing.T) {
	reg := NewRegistry()
	sid := convid.New()
	reg.Register(Metadata{SessionID: sid, AgentID: 1, Status: StatusQueued})

	ok := reg.Mutate(sid, func(m *Metadata) { m.Status = StatusRunning })
	if !ok {
		t.Fatalf("Mutate on existing entry returned false")
	}
	got, _ := reg.Get(sid)
	if got.Status != StatusRunning {
		t.Errorf("Status = %v, want Running", got.Status)
	}

	if ok := reg.Mutate(convid.New(), func(m *Metadata) {}); ok {
		t.Errorf("Mutate on missing entry returned true")
	}

	if !reg.Delete(sid) {
		t.Errorf("Delete on existing entry returned false")
	}
	if reg.Delete(sid) {
		t.Errorf("second Delete returned true")
	}
}
