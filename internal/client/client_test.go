package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/swordfish444/codex-sub000/internal/wire"
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/revent"
)

func TestClient_StreamResponses_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("missing Accept header")
		}
		if r.Header.Get("conversation_id") == "" || r.Header.Get("session_id") == "" {
			t.Errorf("missing conversation_id/session_id headers")
		}
		w.Header().Set("x-codex-primary-used-percent", "12.5")
		w.Header().Set("x-codex-primary-window-minutes", "5")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: response.created\ndata: {\"response\":{\"id\":\"r1\"}}\n\n")
		fmt.Fprint(w, "event: response.completed\ndata: {\"response\":{\"id\":\"r1\"}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "sk-test", RequestMaxRetries: 1, StreamIdleTimeout: time.Second}, nil)
	ch, cancel, err := c.StreamResponses(context.Background(), convid.New(), convid.New(), wire.ResponsesRequest{Model: "gpt-5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cancel()

	var kinds []revent.Kind
	for r := range ch {
		if r.Err != nil {
			t.Fatalf("unexpected stream error: %v", r.Err)
		}
		kinds = append(kinds, r.Event.Kind)
	}
	want := []revent.Kind{revent.KindRateLimits, revent.KindCreated, revent.KindCompleted}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestClient_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: response.completed\ndata: {\"response\":{\"id\":\"r2\"}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL:           srv.URL,
		APIKey:            "sk-test",
		RequestMaxRetries: 2,
		StreamIdleTimeout:  time.Second,
		Backoff:           BackoffPolicy{InitialMs: 1, MaxMs: 2, Factor: 1, Jitter: 0},
	}, nil)

	ch, cancel, err := c.StreamResponses(context.Background(), convid.New(), convid.New(), wire.ResponsesRequest{Model: "gpt-5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cancel()

	var sawCompleted bool
	for r := range ch {
		if r.Err != nil {
			t.Fatalf("unexpected stream error: %v", r.Err)
		}
		if r.Event.Kind == revent.KindCompleted {
			sawCompleted = true
		}
	}
	if !sawCompleted {
		t.Errorf("expected a Completed event after retry")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestClient_FatalOnQuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"code":"insufficient_quota","message":"no quota"}}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, APIKey: "sk-test", RequestMaxRetries: 2, StreamIdleTimeout: time.Second}, nil)
	_, _, err := c.StreamResponses(context.Background(), convid.New(), convid.New(), wire.ResponsesRequest{Model: "gpt-5"})
	if err == nil {
		t.Fatalf("expected an error")
	}
	fe, ok := err.(*FatalError)
	if !ok || fe.Kind != FatalQuotaExceeded {
		t.Errorf("error = %+v, want FatalQuotaExceeded", err)
	}
}

func TestComputeBackoff_Deterministic(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 100, MaxMs: 10000, Factor: 2, Jitter: 0}
	got := ComputeBackoffWithRand(policy, 3, 0)
	want := 400 * time.Millisecond
	if got != want {
		t.Errorf("ComputeBackoffWithRand(attempt=3) = %v, want %v", got, want)
	}
}

func TestComputeBackoff_ClampsToMax(t *testing.T) {
	policy := BackoffPolicy{InitialMs: 1000, MaxMs: 1500, Factor: 10, Jitter: 0}
	got := ComputeBackoffWithRand(policy, 5, 0)
	if got != 1500*time.Millisecond {
		t.Errorf("got %v, want clamp to 1500ms", got)
	}
}

func TestParseRateLimits_PrefersCodexHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("x-codex-primary-used-percent", "40")
	h.Set("x-codex-primary-window-minutes", "60")
	h.Set("x-ratelimit-limit-requests", "100")
	h.Set("x-ratelimit-remaining-requests", "10")

	snap := ParseRateLimits(h)
	if snap.Primary == nil || snap.Primary.UsedPercent != 40 || snap.Primary.WindowMinutes != 60 {
		t.Errorf("snapshot = %+v, want codex-derived primary window", snap)
	}
}

func TestParseRateLimits_FallsBackToOpenAIHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("x-ratelimit-limit-requests", "100")
	h.Set("x-ratelimit-remaining-requests", "25")

	snap := ParseRateLimits(h)
	if snap.Primary == nil || snap.Primary.UsedPercent != 75 {
		t.Errorf("snapshot = %+v, want used_percent=75", snap)
	}
}
