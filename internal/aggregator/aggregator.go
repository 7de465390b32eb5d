// Package aggregator implements the Chat-API event aggregator: a stream
// transformer sitting atop the raw Chat-wire decoder (spec §4.4).
//
// Grounded on the teacher's internal/agent/providers/openai.go
// processStream single pass over chunks, generalised into a standalone
// transformer that wraps any internal/stream channel.
package aggregator

import (
	"github.com/swordfish444/codex-sub000/internal/stream"
	"github.com/swordfish444/codex-sub000/pkg/revent"
)

// Wrap forwards every result from in, in arrival order, but guarantees
// the returned channel yields at most one terminal item: the first
// Completed event or error seen. Anything the upstream decoder sends
// afterward (a duplicate Completed, a stray reasoning delta) is never
// forwarded.
func Wrap(in <-chan stream.Result) <-chan stream.Result {
	out := make(chan stream.Result, stream.Capacity)
	go func() {
		defer close(out)
		for r := range in {
			out <- r
			if r.Err != nil {
				return
			}
			if r.Event.Kind == revent.KindCompleted {
				return
			}
		}
	}()
	return out
}
