// Package reasoning implements first-bold-header extraction from a
// reasoning stream (spec §4.7).
package reasoning

import "strings"

// HeaderExtractor tracks the buffered reasoning text for a single turn
// and extracts the first-bold header exactly once. It is not safe for
// concurrent use; each managed subagent owns one instance per turn.
type HeaderExtractor struct {
	buffer   strings.Builder
	scanFrom int
	header   string
	found    bool
}

// NewHeaderExtractor returns a fresh extractor for one turn.
func NewHeaderExtractor() *HeaderExtractor {
	return &HeaderExtractor{}
}

// Feed appends a delta to the buffered text and returns the header and
// true the first time a complete "**...**" pair yields a non-empty,
// trimmed header. Once a header has been found it is immutable for the
// lifetime of this extractor; subsequent calls return ("", false).
func (h *HeaderExtractor) Feed(delta string) (string, bool) {
	if h.found {
		return "", false
	}
	h.buffer.WriteString(delta)
	full := h.buffer.String()

	for {
		header, consumed, ok := extractFirstBold(full[h.scanFrom:])
		if !ok {
			return "", false
		}
		if header == "" {
			// Empty enclosed result: ignore and keep scanning past this
			// pair for a later one.
			h.scanFrom += consumed
			continue
		}
		h.header = header
		h.found = true
		return header, true
	}
}

// Header returns the extracted header, if any.
func (h *HeaderExtractor) Header() (string, bool) {
	return h.header, h.found
}

// extractFirstBold returns the trimmed substring between the first pair
// of "**" markers in s, the number of bytes consumed through the closing
// marker (for callers that want to keep scanning past it), and ok=false
// if no closing pair exists yet.
func extractFirstBold(s string) (header string, consumed int, ok bool) {
	open := strings.Index(s, "**")
	if open < 0 {
		return "", 0, false
	}
	rest := s[open+2:]
	closeIdx := strings.Index(rest, "**")
	if closeIdx < 0 {
		return "", 0, false
	}
	header = strings.TrimSpace(rest[:closeIdx])
	consumed = open + 2 + closeIdx + 2
	return header, consumed, true
}
