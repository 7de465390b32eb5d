package client

import (
	"net/http"
	"strconv"
	"time"

	"github.com/swordfish444/codex-sub000/pkg/revent"
)

// ParseRateLimits extracts a RateLimitSnapshot from response headers,
// preferring the custom x-codex-* windows and falling back to
// OpenAI-style headers (spec §4.3 "Rate-limit parsing").
func ParseRateLimits(h http.Header) revent.RateLimitSnapshot {
	if primary, ok := parseCodexWindow(h, "x-codex-primary"); ok {
		snapshot := revent.RateLimitSnapshot{Primary: &primary}
		if secondary, ok := parseCodexWindow(h, "x-codex-secondary"); ok {
			snapshot.Secondary = &secondary
		}
		return snapshot
	}
	if window, ok := parseOpenAIWindow(h); ok {
		return revent.RateLimitSnapshot{Primary: &window}
	}
	return revent.RateLimitSnapshot{}
}

func parseCodexWindow(h http.Header, prefix string) (revent.RateLimitWindow, bool) {
	usedStr := h.Get(prefix + "-used-percent")
	if usedStr == "" {
		return revent.RateLimitWindow{}, false
	}
	used, err := strconv.ParseFloat(usedStr, 64)
	if err != nil {
		return revent.RateLimitWindow{}, false
	}
	windowMin, _ := strconv.Atoi(h.Get(prefix + "-window-minutes"))
	resetsAt, _ := strconv.ParseInt(h.Get(prefix+"-reset-at"), 10, 64)
	return revent.RateLimitWindow{UsedPercent: used, WindowMinutes: windowMin, ResetsAtUnix: resetsAt}, true
}

func parseOpenAIWindow(h http.Header) (revent.RateLimitWindow, bool) {
	limitStr := h.Get("x-ratelimit-limit-requests")
	remainingStr := h.Get("x-ratelimit-remaining-requests")
	if limitStr == "" || remainingStr == "" {
		return revent.RateLimitWindow{}, false
	}
	limit, err := strconv.ParseFloat(limitStr, 64)
	if err != nil || limit <= 0 {
		return revent.RateLimitWindow{}, false
	}
	remaining, err := strconv.ParseFloat(remainingStr, 64)
	if err != nil {
		return revent.RateLimitWindow{}, false
	}
	usedPercent := (limit - remaining) / limit * 100

	var resetsAt int64
	if resetMs, err := strconv.ParseInt(h.Get("x-ratelimit-reset-requests"), 10, 64); err == nil {
		resetsAt = time.Now().Add(time.Duration(resetMs) * time.Millisecond).Unix()
	}
	return revent.RateLimitWindow{UsedPercent: usedPercent, WindowMinutes: 0, ResetsAtUnix: resetsAt}, true
}

// ParseRetryAfter reads the Retry-After header as seconds, returning
// false if absent or unparseable.
func ParseRetryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
