package innerloop

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/swordfish444/codex-sub000/internal/client"
	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/convid"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *client.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return client.New(client.Config{
		BaseURL:           srv.URL,
		APIKey:            "sk-test",
		RequestMaxRetries: 1,
		StreamIdleTimeout: time.Second,
	}, nil)
}

func TestDriver_PlainTurnYieldsTaskComplete(t *testing.T) {
	cl := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: response.output_item.done\ndata: {\"item\":{\"type\":\"message\",\"role\":\"assistant\",\"content\":[{\"type\":\"output_text\",\"text\":\"done\"}]}}\n\n")
		fmt.Fprint(w, "event: response.completed\ndata: {\"response\":{\"id\":\"r1\"}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	sessionID := convid.New()
	handleTool := func(context.Context, string, string, string) (string, error) {
		t.Fatalf("no tool call should have been issued")
		return "", nil
	}

	d := New(context.Background(), cl, sessionID, sessionID, Config{Model: "gpt-5"}, handleTool, nil)
	defer d.Close()

	if err := d.Submit(subagent.Op{Kind: subagent.OpUserInput, Text: "hello"}); err != nil {
		t.Fatalf("Submit error = %v", err)
	}

	select {
	case ev := <-d.Events():
		if ev.Kind != subagent.InnerTaskComplete {
			t.Fatalf("event kind = %v, want InnerTaskComplete", ev.Kind)
		}
		if ev.LastAgentMessage != "done" {
			t.Errorf("LastAgentMessage = %q, want %q", ev.LastAgentMessage, "done")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task_complete")
	}
}

func TestDriver_FunctionCallRoundTripsThroughToolHandler(t *testing.T) {
	var calls int32
	cl := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if atomic.AddInt32(&calls, 1) == 1 {
			fmt.Fprint(w, "event: response.output_item.done\ndata: {\"item\":{\"type\":\"function_call\",\"name\":\"subagent_list\",\"arguments\":\"{}\",\"call_id\":\"call-1\"}}\n\n")
			fmt.Fprint(w, "event: response.completed\ndata: {\"response\":{\"id\":\"r1\"}}\n\n")
		} else {
			fmt.Fprint(w, "event: response.output_item.done\ndata: {\"item\":{\"type\":\"message\",\"role\":\"assistant\",\"content\":[{\"type\":\"output_text\",\"text\":\"ok\"}]}}\n\n")
			fmt.Fprint(w, "event: response.completed\ndata: {\"response\":{\"id\":\"r2\"}}\n\n")
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	sessionID := convid.New()
	var gotName, gotCallID string
	handleTool := func(_ context.Context, name, callID, _ string) (string, error) {
		gotName, gotCallID = name, callID
		return `{"subagents":[]}`, nil
	}

	d := New(context.Background(), cl, sessionID, sessionID, Config{Model: "gpt-5"}, handleTool, nil)
	defer d.Close()

	if err := d.Submit(subagent.Op{Kind: subagent.OpUserInput, Text: "list them"}); err != nil {
		t.Fatalf("Submit error = %v", err)
	}

	select {
	case ev := <-d.Events():
		if ev.Kind != subagent.InnerTaskComplete {
			t.Fatalf("event kind = %v, want InnerTaskComplete", ev.Kind)
		}
		if ev.LastAgentMessage != "ok" {
			t.Errorf("LastAgentMessage = %q, want %q", ev.LastAgentMessage, "ok")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for task_complete")
	}

	if gotName != "subagent_list" || gotCallID != "call-1" {
		t.Errorf("handleTool got name=%q callID=%q", gotName, gotCallID)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("server calls = %d, want 2 (one per turn)", calls)
	}
}

func TestDriver_InjectHistoryAppendsWithoutDrivingATurn(t *testing.T) {
	cl := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("InjectHistory must not drive a turn")
	})

	sessionID := convid.New()
	d := New(context.Background(), cl, sessionID, sessionID, Config{Model: "gpt-5"}, nil, nil)
	defer d.Close()

	if err := d.InjectHistory(nil); err != nil {
		t.Fatalf("InjectHistory error = %v", err)
	}
	if len(d.snapshotHistory()) != 0 {
		t.Errorf("snapshotHistory = %v, want empty", d.snapshotHistory())
	}
}
