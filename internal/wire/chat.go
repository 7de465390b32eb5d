package wire

import (
	"encoding/json"
	"io"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/swordfish444/codex-sub000/pkg/respitem"
	"github.com/swordfish444/codex-sub000/pkg/revent"
)

// ChatRequest is the Chat-wire request body (spec §4.1). Messages reuse
// github.com/sashabaranov/go-openai's ChatCompletionMessage so tool-call
// shapes match the SDK's own JSON tags.
type ChatRequest struct {
	Model         string                            `json:"model"`
	Messages      []goopenai.ChatCompletionMessage  `json:"messages"`
	Stream        bool                              `json:"stream"`
	StreamOptions *ChatStreamOptions                `json:"stream_options,omitempty"`
	Tools         []ToolSpec                        `json:"tools,omitempty"`
	ToolChoice    string                            `json:"tool_choice,omitempty"`
}

// ChatStreamOptions requests usage accounting on the final chunk.
type ChatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

// reasoningAttachment records where a Reasoning item's text should land
// once the history is converted to Chat messages.
type reasoningAttachment struct {
	// attachToItemIndex, when >= 0, is the index of the assistant Message
	// item in the original history whose converted content gets this
	// text appended.
	attachToItemIndex int
	// insertAfterItemIndex, used when attachToItemIndex < 0, is the
	// index of the last history item (a call or its output) after whose
	// converted message a brand-new synthetic assistant message carrying
	// this text is inserted.
	insertAfterItemIndex int
	text                 string
}

// planReasoningAttachments implements the §4.1 "Reasoning attachment"
// pre-scan: it decides, for every Reasoning item past the last user
// message, whether its text is folded into a neighbouring assistant
// message, emitted as a new synthetic one, or dropped.
func planReasoningAttachments(items []respitem.Item) []reasoningAttachment {
	lastUserIndex := -1
	for i, it := range items {
		if it.Kind == respitem.KindMessage && it.Role == "user" {
			lastUserIndex = i
		}
	}

	lastEmittedRole := "assistant"
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if it.Kind == respitem.KindReasoning {
			continue
		}
		switch it.Kind {
		case respitem.KindMessage:
			lastEmittedRole = it.Role
		case respitem.KindFunctionCallOutput, respitem.KindCustomToolCallOut:
			lastEmittedRole = "tool"
		default:
			lastEmittedRole = "assistant"
		}
		break
	}
	if lastEmittedRole == "user" {
		return nil
	}

	var out []reasoningAttachment
	for i, it := range items {
		if it.Kind != respitem.KindReasoning || i <= lastUserIndex {
			continue
		}
		text := it.ReasoningText()
		if text == "" {
			continue
		}

		if i > 0 && items[i-1].IsAssistantAnchor() {
			out = append(out, reasoningAttachment{attachToItemIndex: i - 1, insertAfterItemIndex: -1, text: text})
			continue
		}

		j := i + 1
		for j < len(items) && items[j].IsCallOrOutput() {
			j++
		}
		switch {
		case j < len(items) && items[j].IsAssistantAnchor():
			out = append(out, reasoningAttachment{attachToItemIndex: j, insertAfterItemIndex: -1, text: text})
		case j == len(items):
			out = append(out, reasoningAttachment{attachToItemIndex: -1, insertAfterItemIndex: j - 1, text: text})
		default:
			// A non-assistant, non-call/output item interrupts the scan
			// (e.g. a following user message): drop.
		}
	}
	return out
}

// BuildChatMessages converts a ResponseItem history plus a system
// preamble into Chat-wire messages, applying reasoning attachment.
func BuildChatMessages(systemPreamble string, items []respitem.Item) []goopenai.ChatCompletionMessage {
	attachments := planReasoningAttachments(items)

	appendPrev := make(map[int]string)
	insertAfter := make(map[int]string)
	for _, a := range attachments {
		if a.attachToItemIndex >= 0 {
			appendPrev[a.attachToItemIndex] += a.text
		} else {
			insertAfter[a.insertAfterItemIndex] += a.text
		}
	}

	messages := []goopenai.ChatCompletionMessage{{Role: "system", Content: systemPreamble}}

	for i, it := range items {
		switch it.Kind {
		case respitem.KindMessage:
			content := it.TextContent()
			if extra, ok := appendPrev[i]; ok {
				content += extra
			}
			messages = append(messages, goopenai.ChatCompletionMessage{Role: it.Role, Content: content})

		case respitem.KindFunctionCall, respitem.KindLocalShellCall, respitem.KindCustomToolCall:
			args := it.Arguments
			if args == "" {
				args = "{}"
			}
			messages = append(messages, goopenai.ChatCompletionMessage{
				Role: "assistant",
				ToolCalls: []goopenai.ToolCall{{
					ID:   it.CallID,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      it.Name,
						Arguments: args,
					},
				}},
			})

		case respitem.KindFunctionCallOutput, respitem.KindCustomToolCallOut:
			messages = append(messages, goopenai.ChatCompletionMessage{
				Role:       "tool",
				ToolCallID: it.CallID,
				Content:    it.Output,
			})

		default:
			// Reasoning, WebSearchCall, GhostSnapshot, Other items never
			// convert to a Chat message on their own.
		}

		if extra, ok := insertAfter[i]; ok {
			messages = append(messages, goopenai.ChatCompletionMessage{Role: "assistant", Content: extra})
		}
	}
	return messages
}

// BuildChatRequest assembles the Chat-wire request body.
func BuildChatRequest(model, systemPreamble string, items []respitem.Item, tools []ToolSpec) ChatRequest {
	req := ChatRequest{
		Model:         model,
		Messages:      BuildChatMessages(systemPreamble, items),
		Stream:        true,
		StreamOptions: &ChatStreamOptions{IncludeUsage: true},
		Tools:         tools,
	}
	if len(tools) > 0 {
		req.ToolChoice = "auto"
	}
	return req
}

// chatChunk mirrors one Chat-wire streaming response chunk.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content   string          `json:"content,omitempty"`
			Reasoning json.RawMessage `json:"reasoning,omitempty"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id,omitempty"`
				Function struct {
					Name      string `json:"name,omitempty"`
					Arguments string `json:"arguments,omitempty"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// decodeReasoningDelta unwraps the three shapes the Chat-wire "reasoning"
// delta field can take: a bare string, {"text": "..."}, or
// {"content": "..."}.
func decodeReasoningDelta(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Text    string `json:"text"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Text != "" {
			return obj.Text
		}
		return obj.Content
	}
	return ""
}

// pendingToolCall accumulates one streamed tool call by its delta index.
type pendingToolCall struct {
	id        string
	name      string
	arguments strings.Builder
}

// ChatDecoder consumes a Chat-wire SSE body and yields revent.Event
// values, implementing the delta-accumulation state machine and
// finish_reason dispatch from spec §4.1.
type ChatDecoder struct {
	reader *SSEReader

	textBuf      strings.Builder
	haveText     bool
	reasoningBuf strings.Builder
	haveReason   bool
	toolCalls    map[int]*pendingToolCall
	toolOrder    []int

	pending []revent.Event
	doneErr error
	closed  bool
}

// NewChatDecoder wraps r for Chat-wire decoding.
func NewChatDecoder(r io.Reader) *ChatDecoder {
	return &ChatDecoder{
		reader:    NewSSEReader(r),
		toolCalls: make(map[int]*pendingToolCall),
	}
}

// Next returns the next decoded event. done is true once no further
// events remain.
func (d *ChatDecoder) Next() (ev revent.Event, err error, done bool) {
	for {
		if len(d.pending) > 0 {
			ev, d.pending = d.pending[0], d.pending[1:]
			return ev, nil, false
		}
		if d.closed {
			return revent.Event{}, d.doneErr, true
		}

		raw, rerr := d.reader.Next()
		if rerr == io.EOF {
			d.flushFinal(nil)
			d.closed = true
			continue
		}
		if rerr != nil {
			return revent.Event{}, rerr, true
		}
		if strings.TrimSpace(raw.Data) == DoneToken {
			d.flushFinal(nil)
			d.closed = true
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(raw.Data), &chunk); err != nil {
			return revent.Event{}, err, true
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if !d.haveText {
				d.haveText = true
			}
			d.textBuf.WriteString(choice.Delta.Content)
			d.pending = append(d.pending, revent.OutputTextDelta(choice.Delta.Content))
		}
		if reasoningDelta := decodeReasoningDelta(choice.Delta.Reasoning); reasoningDelta != "" {
			d.haveReason = true
			d.reasoningBuf.WriteString(reasoningDelta)
			d.pending = append(d.pending, revent.ReasoningContentDelta(reasoningDelta))
		}
		for _, tc := range choice.Delta.ToolCalls {
			pc, ok := d.toolCalls[tc.Index]
			if !ok {
				pc = &pendingToolCall{}
				d.toolCalls[tc.Index] = pc
				d.toolOrder = append(d.toolOrder, tc.Index)
			}
			if tc.ID != "" && pc.id == "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" && pc.name == "" {
				pc.name = tc.Function.Name
			}
			pc.arguments.WriteString(tc.Function.Arguments)
		}

		switch choice.FinishReason {
		case "tool_calls":
			if d.haveText {
				d.pending = append(d.pending, revent.OutputItemAdded(d.assembledMessage()))
			}
			if d.haveReason {
				d.pending = append(d.pending, revent.OutputItemDone(d.assembledReasoning()))
			}
			for _, idx := range d.toolOrder {
				d.pending = append(d.pending, revent.OutputItemDone(d.assembledCall(idx)))
			}
			d.flushFinal(chunk.Usage)
			d.closed = true
		case "stop":
			if d.haveText {
				d.pending = append(d.pending, revent.OutputItemDone(d.assembledMessage()))
			}
			if d.haveReason {
				d.pending = append(d.pending, revent.OutputItemDone(d.assembledReasoning()))
			}
			d.flushFinal(chunk.Usage)
			d.closed = true
		case "":
			// No finish yet; keep reading.
		default:
			d.flushFinal(chunk.Usage)
			d.closed = true
		}
	}
}

func (d *ChatDecoder) assembledMessage() respitem.Item {
	return respitem.NewMessage("assistant", respitem.Text("output_text", d.textBuf.String()))
}

func (d *ChatDecoder) assembledReasoning() respitem.Item {
	content := d.reasoningBuf.String()
	return respitem.NewReasoning(nil, &content, nil)
}

func (d *ChatDecoder) assembledCall(idx int) respitem.Item {
	pc := d.toolCalls[idx]
	return respitem.NewFunctionCall(pc.name, pc.arguments.String(), pc.id)
}

// flushFinal appends any items left pending at stream end (no
// finish_reason observed) and the terminal Completed event.
func (d *ChatDecoder) flushFinal(usage *struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}) {
	if usage != nil {
		d.pending = append(d.pending, revent.Completed("", &revent.TokenUsage{
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
			TotalTokens:  usage.TotalTokens,
		}))
		return
	}
	d.pending = append(d.pending, revent.Completed("", nil))
}
