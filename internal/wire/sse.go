// Package wire implements the Responses and Chat provider wire formats:
// request construction, SSE decoding, and the Chat-wire message/reasoning
// normalisation algorithm (spec §4.1).
package wire

import (
	"bufio"
	"io"
	"strings"
)

// RawEvent is one decoded SSE frame: the optional "event:" name and the
// concatenated "data:" payload, matching the text/event-stream framing
// both provider wire APIs use.
type RawEvent struct {
	Name string
	Data string
}

// SSEReader decodes a text/event-stream body into RawEvents, one per
// blank-line-terminated frame.
//
// Grounded on the teacher's internal/agent/providers/openai.go
// processStream loop, generalised from the go-openai SDK's own (opaque)
// stream reader into an explicit scanner so custom fields such as
// "reasoning" deltas and the Responses-wire event names can be carried.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader wraps r for frame-at-a-time decoding.
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &SSEReader{scanner: scanner}
}

// Next reads and returns the next frame. It returns io.EOF once the
// underlying reader is exhausted with no further frame pending.
func (s *SSEReader) Next() (RawEvent, error) {
	var name string
	var data []string
	sawAny := false

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if sawAny {
				return RawEvent{Name: name, Data: strings.Join(data, "\n")}, nil
			}
			continue
		}
		sawAny = true
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// Comments (lines starting with ":") and any other field
			// (id:, retry:) are not meaningful to either wire API here.
		}
	}
	if err := s.scanner.Err(); err != nil {
		return RawEvent{}, err
	}
	if sawAny {
		return RawEvent{Name: name, Data: strings.Join(data, "\n")}, nil
	}
	return RawEvent{}, io.EOF
}

// DoneToken is the literal terminal token both wire APIs send as a final
// "data:" payload.
const DoneToken = "[DONE]"
