// Package stream implements the Response Stream: a single-consumer,
// bounded queue of decoded events sitting atop a wire decoder, with an
// idle-timeout watchdog on each await (spec §4.2).
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/swordfish444/codex-sub000/pkg/revent"
)

// Capacity is the bounded queue depth backing every response stream.
const Capacity = 1600

// ErrIdleTimeout is pushed, as the sole terminal item, when no event
// arrives from the decoder within the configured idle window.
var ErrIdleTimeout = errors.New("idle timeout waiting for SSE")

// Result is one queue slot: either a decoded event or a terminal error.
// No event ever follows an error: the producer stops after sending it.
type Result struct {
	Event revent.Event
	Err   error
}

// Decoder is implemented by both internal/wire.ResponsesDecoder and
// internal/wire.ChatDecoder: pull one event, or report the stream is
// exhausted (done) or failed (err).
type Decoder interface {
	Next() (revent.Event, error, bool)
}

// New starts a pump goroutine that decodes dec into a bounded channel of
// Results, honouring idleTimeout between events and ctx cancellation.
// Cancelling the returned context.CancelFunc (or the parent ctx) causes
// the producer to stop at its next opportunity; the channel is always
// closed when the pump exits.
func New(ctx context.Context, dec Decoder, idleTimeout time.Duration) (<-chan Result, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan Result, Capacity)
	go pump(ctx, dec, ch, idleTimeout)
	return ch, cancel
}

type nextOutcome struct {
	ev   revent.Event
	err  error
	done bool
}

func pump(ctx context.Context, dec Decoder, ch chan<- Result, idleTimeout time.Duration) {
	defer close(ch)

	for {
		outcomeCh := make(chan nextOutcome, 1)
		go func() {
			ev, err, done := dec.Next()
			outcomeCh <- nextOutcome{ev: ev, err: err, done: done}
		}()

		timer := time.NewTimer(idleTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			return

		case o := <-outcomeCh:
			timer.Stop()
			if o.err != nil {
				send(ctx, ch, Result{Err: o.err})
				return
			}
			if o.done {
				return
			}
			if !send(ctx, ch, Result{Event: o.ev}) {
				return
			}

		case <-timer.C:
			send(ctx, ch, Result{Err: ErrIdleTimeout})
			return
		}
	}
}

// send delivers r to ch, returning false if ctx was cancelled first (the
// consumer dropped the stream).
func send(ctx context.Context, ch chan<- Result, r Result) bool {
	select {
	case ch <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
