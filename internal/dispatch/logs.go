package dispatch

import (
	"encoding/json"

	"github.com/swordfish444/codex-sub000/internal/subagent"
)

// defaultLogLimit bounds how many ring entries subagent_logs returns
// when the caller doesn't specify limit.
const defaultLogLimit = 50

// logEntryView is the JSON shape of one rendered log entry.
type logEntryView struct {
	TimestampMs int64  `json:"timestamp_ms"`
	Kind        string `json:"kind"`
	Text        string `json:"text,omitempty"`
}

// logsPayload is the subagent_logs tool's JSON response shape.
type logsPayload struct {
	AgentID      uint64         `json:"agent_id"`
	Entries      []logEntryView `json:"entries"`
	TotalEntries int            `json:"total_entries"`
	Returned     int            `json:"returned"`
	TruncatedByBytes bool       `json:"truncated_by_bytes"`
}

// applyLogWindow takes the most recent min(limit, len(entries)) entries,
// then drops further from the oldest end of that window while the
// rendered JSON would exceed maxBytes, a direct port of
// apply_log_window/render_logs_payload: bound by count first, then by
// an approximate byte budget, since the model's context window is the
// scarcer resource of the two.
func applyLogWindow(entries []subagent.LogEntry, limit, maxBytes int) (window []subagent.LogEntry, truncatedByBytes bool) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > len(entries) {
		limit = len(entries)
	}
	window = entries[len(entries)-limit:]

	if maxBytes <= 0 {
		return window, false
	}

	for len(window) > 0 && approxRenderedSize(window) > maxBytes {
		window = window[1:]
		truncatedByBytes = true
	}
	return window, truncatedByBytes
}

// approxRenderedSize estimates the JSON size of window without actually
// marshaling every candidate window on each trim iteration.
func approxRenderedSize(window []subagent.LogEntry) int {
	total := 0
	for _, e := range window {
		total += len(renderLogEntryText(e)) + 48 // rough per-entry JSON overhead
	}
	return total
}

func renderLogEntryText(e subagent.LogEntry) string {
	switch e.Event.Kind {
	case subagent.InnerAgentReasoning:
		return e.Event.Text
	case subagent.InnerAgentReasoningDelta:
		return e.Event.Delta
	case subagent.InnerTaskComplete:
		return e.Event.LastAgentMessage
	case subagent.InnerTurnAborted:
		return e.Event.Reason
	case subagent.InnerStreamError, subagent.InnerError:
		return e.Event.Message
	default:
		return ""
	}
}

// renderLogsPayload builds the JSON response for subagent_logs given the
// full ring snapshot and the already-applied window.
func renderLogsPayload(agentID uint64, all []subagent.LogEntry, window []subagent.LogEntry, truncatedByBytes bool) (string, error) {
	views := make([]logEntryView, 0, len(window))
	for _, e := range window {
		views = append(views, logEntryView{
			TimestampMs: e.TimestampMs,
			Kind:        string(e.Event.Kind),
			Text:        renderLogEntryText(e),
		})
	}

	payload := logsPayload{
		AgentID:          agentID,
		Entries:          views,
		TotalEntries:     len(all),
		Returned:         len(views),
		TruncatedByBytes: truncatedByBytes,
	}
	data, err := json.Marshal(payload)
	return string(data), err
}
