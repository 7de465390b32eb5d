// Package innerloop implements a concrete subagent.Driver: the
// Responses-wire request/response turn loop that actually drives a
// session's conversation, wiring internal/client, internal/wire,
// internal/aggregator, and a caller-supplied tool handler together.
//
// Grounded on the teacher's internal/agent/loop.go turn-driving shape
// (build request -> stream -> drain function calls -> feed outputs back
// -> repeat), generalised onto this module's Responses wire and its own
// InnerEvent union instead of the teacher's single text-completion
// event type.
package innerloop

import (
	"context"
	"fmt"
	"sync"

	"github.com/swordfish444/codex-sub000/internal/aggregator"
	"github.com/swordfish444/codex-sub000/internal/client"
	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/internal/wire"
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/respitem"
	"github.com/swordfish444/codex-sub000/pkg/revent"
)

// ToolHandler routes one function-call item to whichever dispatcher
// owns its tool name, returning the raw tool-output payload.
type ToolHandler func(ctx context.Context, name, callID, arguments string) (string, error)

// Config parameterises one Driver's turns.
type Config struct {
	Model              string
	Instructions       string
	Tools              []wire.ToolSpec
	ReasoningSupported bool
	Reasoning          *wire.ReasoningConfig
}

const turnQueueDepth = 32

// Driver drives a single session's Responses-wire conversation,
// implementing subagent.Driver.
type Driver struct {
	cl         *client.Client
	convID     convid.ConversationID
	sessionID  convid.ConversationID
	cfg        Config
	handleTool ToolHandler

	mu      sync.Mutex
	history []respitem.Item

	turns  chan []respitem.Item
	events chan subagent.InnerEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New builds a Driver for sessionID, already running its turn loop in
// the background. initialHistory seeds the conversation (a fork's
// synthetic snapshot, or nil for a plain spawn).
func New(parentCtx context.Context, cl *client.Client, convID, sessionID convid.ConversationID, cfg Config, handleTool ToolHandler, initialHistory []respitem.Item) *Driver {
	ctx, cancel := context.WithCancel(parentCtx)
	d := &Driver{
		cl:         cl,
		convID:     convID,
		sessionID:  sessionID,
		cfg:        cfg,
		handleTool: handleTool,
		history:    append([]respitem.Item{}, initialHistory...),
		turns:      make(chan []respitem.Item, turnQueueDepth),
		events:     make(chan subagent.InnerEvent, 256),
		ctx:        ctx,
		cancel:     cancel,
	}
	d.wg.Add(1)
	go d.loop()
	return d
}

// Submit implements subagent.Driver.
func (d *Driver) Submit(op subagent.Op) error {
	switch op.Kind {
	case subagent.OpUserInput:
		item := respitem.NewMessage("user", respitem.Text("input_text", op.Text))
		return d.enqueueTurn([]respitem.Item{item})
	case subagent.OpInterrupt:
		item := respitem.NewMessage("user", respitem.Text("input_text", "[interrupt] "+op.Text))
		return d.enqueueTurn([]respitem.Item{item})
	case subagent.OpShutdown:
		d.Close()
		return nil
	default:
		return fmt.Errorf("innerloop: unknown op kind %q", op.Kind)
	}
}

// InjectHistory implements subagent.Driver: it appends directly without
// driving a new turn.
func (d *Driver) InjectHistory(items []respitem.Item) error {
	d.mu.Lock()
	d.history = append(d.history, items...)
	d.mu.Unlock()
	return nil
}

// SubmitItems implements subagent.Driver: it seeds a new turn with
// pre-built items rather than a plain text prompt.
func (d *Driver) SubmitItems(items []respitem.Item) error {
	return d.enqueueTurn(items)
}

// Events implements subagent.Driver.
func (d *Driver) Events() <-chan subagent.InnerEvent { return d.events }

// Close implements subagent.Driver.
func (d *Driver) Close() {
	d.closeOnce.Do(func() {
		d.cancel()
		close(d.turns)
	})
	d.wg.Wait()
}

func (d *Driver) enqueueTurn(items []respitem.Item) error {
	select {
	case d.turns <- items:
		return nil
	case <-d.ctx.Done():
		return d.ctx.Err()
	default:
		return fmt.Errorf("innerloop: turn queue full for session %s", d.sessionID)
	}
}

func (d *Driver) emit(ev subagent.InnerEvent) {
	select {
	case d.events <- ev:
	case <-d.ctx.Done():
	}
}

func (d *Driver) appendHistory(item respitem.Item) {
	d.mu.Lock()
	d.history = append(d.history, item)
	d.mu.Unlock()
}

func (d *Driver) snapshotHistory() []respitem.Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]respitem.Item{}, d.history...)
}

func (d *Driver) loop() {
	defer d.wg.Done()
	defer close(d.events)
	for seed := range d.turns {
		d.mu.Lock()
		d.history = append(d.history, seed...)
		d.mu.Unlock()
		if !d.runTurn() {
			return
		}
	}
}

// runTurn drives one Responses-wire request/response cycle to
// completion, looping through any function calls until the model
// yields a plain message with no further tool use. It returns false if
// the driver's context was canceled mid-turn.
func (d *Driver) runTurn() bool {
	for {
		req := wire.BuildResponsesRequest(d.cfg.Model, d.cfg.Instructions, d.snapshotHistory(), d.cfg.Tools, d.cfg.ReasoningSupported, d.cfg.Reasoning, false, "", "", nil)

		ch, cancelStream, err := d.cl.StreamResponses(d.ctx, d.convID, d.sessionID, req)
		if err != nil {
			d.emit(subagent.InnerEvent{Kind: subagent.InnerError, Message: err.Error()})
			return d.ctx.Err() == nil
		}

		var calls []respitem.Item
		var lastMessage string
		var sawMessage bool
		streamFailed := false

		for res := range aggregator.Wrap(ch) {
			if res.Err != nil {
				if d.ctx.Err() != nil {
					cancelStream()
					return false
				}
				d.emit(subagent.InnerEvent{Kind: subagent.InnerStreamError, Message: res.Err.Error()})
				streamFailed = true
				continue
			}

			switch res.Event.Kind {
			case revent.KindReasoningContentDelta, revent.KindReasoningSummaryDelta:
				d.emit(subagent.InnerEvent{Kind: subagent.InnerAgentReasoningDelta, Delta: res.Event.TextDelta})
			case revent.KindOutputItemDone:
				if res.Event.Item == nil {
					continue
				}
				item := *res.Event.Item
				d.appendHistory(item)
				switch item.Kind {
				case respitem.KindFunctionCall:
					calls = append(calls, item)
				case respitem.KindMessage:
					lastMessage = item.TextContent()
					sawMessage = true
				case respitem.KindReasoning:
					if text := item.ReasoningText(); text != "" {
						d.emit(subagent.InnerEvent{Kind: subagent.InnerAgentReasoning, Text: text})
					}
				}
			}
		}
		cancelStream()

		if streamFailed {
			return d.ctx.Err() == nil
		}

		if len(calls) == 0 {
			d.emit(subagent.InnerEvent{Kind: subagent.InnerTaskComplete, LastAgentMessage: lastMessage, HasLastAgentMessage: sawMessage})
			return true
		}

		for _, call := range calls {
			output, herr := d.handleTool(d.ctx, call.Name, call.CallID, call.Arguments)
			if herr != nil {
				output = herr.Error()
			}
			d.appendHistory(respitem.NewFunctionCallOutput(call.CallID, output))
		}
		if d.ctx.Err() != nil {
			return false
		}
		// loop: feed the tool outputs back in as the next turn's input.
	}
}
