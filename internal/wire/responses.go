package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/swordfish444/codex-sub000/pkg/respitem"
	"github.com/swordfish444/codex-sub000/pkg/revent"
)

// ReasoningConfig is the Responses-wire "reasoning" request field.
type ReasoningConfig struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// TextConfig is the Responses-wire "text" request field, used to carry
// verbosity for model families that support it.
type TextConfig struct {
	Verbosity string `json:"verbosity,omitempty"`
}

// ToolSpec is a tool definition attached to either wire request.
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"parameters"`
}

// ResponsesRequest is the Responses-wire request body (spec §4.1).
type ResponsesRequest struct {
	Model             string           `json:"model"`
	Instructions      string           `json:"instructions"`
	Input             []wireItem       `json:"input"`
	Tools             []ToolSpec       `json:"tools,omitempty"`
	ToolChoice        string           `json:"tool_choice,omitempty"`
	ParallelToolCalls bool             `json:"parallel_tool_calls"`
	Reasoning         *ReasoningConfig `json:"reasoning,omitempty"`
	Include           []string         `json:"include,omitempty"`
	Store             bool             `json:"store"`
	Stream            bool             `json:"stream"`
	PromptCacheKey    string           `json:"prompt_cache_key,omitempty"`
	Text              *TextConfig      `json:"text,omitempty"`
}

// wireItem is the on-the-wire shape of a respitem.Item.
type wireItem struct {
	Type             string              `json:"type"`
	ID               *string             `json:"id,omitempty"`
	Role             string              `json:"role,omitempty"`
	Content          []respitem.ContentPart `json:"content,omitempty"`
	Summary          []string            `json:"summary,omitempty"`
	ReasoningContent *string             `json:"reasoning_content,omitempty"`
	EncryptedContent *string             `json:"encrypted_content,omitempty"`
	Name             string              `json:"name,omitempty"`
	Arguments        string              `json:"arguments,omitempty"`
	CallID           string              `json:"call_id,omitempty"`
	Output           string              `json:"output,omitempty"`
	Raw              json.RawMessage     `json:"-"`
}

func toWireItem(item respitem.Item) wireItem {
	return wireItem{
		Type:             string(item.Kind),
		ID:               item.ID,
		Role:             item.Role,
		Content:          item.Content,
		Summary:          item.Summary,
		ReasoningContent: item.ReasoningContent,
		EncryptedContent: item.EncryptedContent,
		Name:             item.Name,
		Arguments:        item.Arguments,
		CallID:           item.CallID,
		Output:           item.Output,
	}
}

func fromWireItem(w wireItem) respitem.Item {
	return respitem.Item{
		Kind:             respitem.Kind(w.Type),
		ID:               w.ID,
		Role:             w.Role,
		Content:          w.Content,
		Summary:          w.Summary,
		ReasoningContent: w.ReasoningContent,
		EncryptedContent: w.EncryptedContent,
		Name:             w.Name,
		Arguments:        w.Arguments,
		CallID:           w.CallID,
		Output:           w.Output,
		Raw:              w.Raw,
	}
}

// BuildResponsesRequest assembles the Responses-wire request body.
//
// preserveID is called once per input item; when it returns true for an
// item that carries an id, that id is re-emitted on the wire item
// (Azure compatibility, §4.1) — normally it is omitted.
func BuildResponsesRequest(model, instructions string, input []respitem.Item, tools []ToolSpec, reasoningSupported bool, reasoning *ReasoningConfig, verbositySupported bool, verbosity string, promptCacheKey string, preserveID func(respitem.Item) bool) ResponsesRequest {
	items := make([]wireItem, 0, len(input))
	for _, it := range input {
		w := toWireItem(it)
		if it.ID == nil || preserveID == nil || !preserveID(it) {
			w.ID = nil
		}
		items = append(items, w)
	}

	req := ResponsesRequest{
		Model:             model,
		Instructions:      instructions,
		Input:             items,
		Tools:             tools,
		ToolChoice:        "auto",
		ParallelToolCalls: true,
		Store:             true,
		Stream:            true,
		PromptCacheKey:    promptCacheKey,
	}

	if reasoningSupported && reasoning != nil {
		req.Reasoning = reasoning
		req.Include = append(req.Include, "reasoning.encrypted_content")
	}
	if verbositySupported && verbosity != "" {
		req.Text = &TextConfig{Verbosity: verbosity}
	}
	return req
}

// responsesErrorBody is the structured error payload carried by
// response.failed events and non-retryable HTTP error bodies.
type responsesErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ResponsesDecoder consumes a Responses-wire SSE body and yields
// revent.Event values, enforcing the completion discipline from §4.2:
// the stream is only well-formed if response.completed was observed
// before EOF.
type ResponsesDecoder struct {
	reader       *SSEReader
	sawCompleted bool
	failedErr    error
}

// NewResponsesDecoder wraps r for Responses-wire decoding.
func NewResponsesDecoder(r io.Reader) *ResponsesDecoder {
	return &ResponsesDecoder{reader: NewSSEReader(r)}
}

// StreamClosedErr is returned when the Responses stream ends without a
// response.completed event and without a prior response.failed.
var StreamClosedErr = errors.New("stream closed before response.completed")

// Next returns the next decoded event. done is true once the stream has
// no more events to yield (terminal event already returned, or EOF with
// no further data).
func (d *ResponsesDecoder) Next() (ev revent.Event, err error, done bool) {
	for {
		raw, rerr := d.reader.Next()
		if rerr == io.EOF {
			if d.failedErr != nil {
				return revent.Event{}, d.failedErr, true
			}
			if !d.sawCompleted {
				return revent.Event{}, StreamClosedErr, true
			}
			return revent.Event{}, nil, true
		}
		if rerr != nil {
			return revent.Event{}, rerr, true
		}
		if strings.TrimSpace(raw.Data) == DoneToken {
			continue
		}

		switch raw.Name {
		case "response.created":
			var body struct {
				Response struct {
					ID string `json:"id"`
				} `json:"response"`
			}
			if err := json.Unmarshal([]byte(raw.Data), &body); err != nil {
				return revent.Event{}, err, true
			}
			return revent.Created(body.Response.ID), nil, false

		case "response.output_item.added":
			item, err := decodeItemEvent(raw.Data)
			if err != nil {
				return revent.Event{}, err, true
			}
			return revent.OutputItemAdded(item), nil, false

		case "response.output_item.done":
			item, err := decodeItemEvent(raw.Data)
			if err != nil {
				return revent.Event{}, err, true
			}
			return revent.OutputItemDone(item), nil, false

		case "response.output_text.delta":
			delta, err := decodeDelta(raw.Data)
			if err != nil {
				return revent.Event{}, err, true
			}
			return revent.OutputTextDelta(delta), nil, false

		case "response.reasoning_text.delta":
			delta, err := decodeDelta(raw.Data)
			if err != nil {
				return revent.Event{}, err, true
			}
			return revent.ReasoningContentDelta(delta), nil, false

		case "response.reasoning_summary_text.delta":
			delta, err := decodeDelta(raw.Data)
			if err != nil {
				return revent.Event{}, err, true
			}
			return revent.ReasoningSummaryDelta(delta), nil, false

		case "response.reasoning_summary_part.added":
			return revent.ReasoningSummaryPartAdded(), nil, false

		case "response.completed":
			var body struct {
				Response struct {
					ID    string `json:"id"`
					Usage *struct {
						InputTokens        int `json:"input_tokens"`
						InputTokensDetails *struct {
							CachedTokens *int `json:"cached_tokens,omitempty"`
						} `json:"input_tokens_details,omitempty"`
						OutputTokens        int `json:"output_tokens"`
						OutputTokensDetails *struct {
							ReasoningTokens *int `json:"reasoning_tokens,omitempty"`
						} `json:"output_tokens_details,omitempty"`
						TotalTokens int `json:"total_tokens"`
					} `json:"usage,omitempty"`
				} `json:"response"`
			}
			if err := json.Unmarshal([]byte(raw.Data), &body); err != nil {
				return revent.Event{}, err, true
			}
			d.sawCompleted = true
			var usage *revent.TokenUsage
			if body.Response.Usage != nil {
				usage = &revent.TokenUsage{
					InputTokens:  body.Response.Usage.InputTokens,
					OutputTokens: body.Response.Usage.OutputTokens,
					TotalTokens:  body.Response.Usage.TotalTokens,
				}
				if body.Response.Usage.InputTokensDetails != nil {
					usage.CachedInputTokens = body.Response.Usage.InputTokensDetails.CachedTokens
				}
				if body.Response.Usage.OutputTokensDetails != nil {
					usage.ReasoningOutputTokens = body.Response.Usage.OutputTokensDetails.ReasoningTokens
				}
			}
			return revent.Completed(body.Response.ID, usage), nil, false

		case "response.failed":
			var body responsesErrorBody
			if err := json.Unmarshal([]byte(raw.Data), &body); err != nil {
				return revent.Event{}, err, true
			}
			d.failedErr = ClassifyResponsesError(body.Error.Type, body.Error.Code, body.Error.Message)
			continue

		case "response.in_progress", "response.content_part.done":
			continue

		default:
			// Other per-spec-ignored deltas (e.g. content_part deltas not
			// named above).
			continue
		}
	}
}

func decodeItemEvent(data string) (respitem.Item, error) {
	var body struct {
		Item wireItem `json:"item"`
	}
	if err := json.Unmarshal([]byte(data), &body); err != nil {
		return respitem.Item{}, err
	}
	return fromWireItem(body.Item), nil
}

func decodeDelta(data string) (string, error) {
	var body struct {
		Delta string `json:"delta"`
	}
	if err := json.Unmarshal([]byte(data), &body); err != nil {
		return "", err
	}
	return body.Delta, nil
}

// Fatal error kinds surfaced from Responses-wire stream-time failures
// (spec §4.3 "Stream-time errors").
var (
	ErrContextWindowExceeded = errors.New("context_window_exceeded")
	ErrQuotaExceeded         = errors.New("quota_exceeded")
)

// ClassifyResponsesError turns a response.failed error body into a Go
// error, recognising context_length_exceeded and quota codes, and
// otherwise parsing a "Try again in N ms" retry-after hint.
func ClassifyResponsesError(errType, code, message string) error {
	switch errType {
	case "context_length_exceeded":
		return fmt.Errorf("%w: %s", ErrContextWindowExceeded, message)
	}
	switch code {
	case "insufficient_quota", "insufficient_quota_org", "insufficient_quota_project", "insufficient_quota_user":
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, message)
	}
	if ms, ok := ParseTryAgainMs(message); ok {
		return &RetryAfterError{Message: message, RetryAfterMs: ms}
	}
	return errors.New(message)
}

// RetryAfterError carries a retry-after hint parsed out of a provider
// error message.
type RetryAfterError struct {
	Message      string
	RetryAfterMs int
}

func (e *RetryAfterError) Error() string { return e.Message }

// ParseTryAgainMs extracts N from the literal substring
// "Try again in N ms" if present.
func ParseTryAgainMs(message string) (int, bool) {
	const marker = "Try again in "
	idx := strings.Index(message, marker)
	if idx < 0 {
		return 0, false
	}
	rest := message[idx+len(marker):]
	end := strings.Index(rest, " ms")
	if end < 0 {
		return 0, false
	}
	numStr := strings.TrimSpace(rest[:end])
	var n int
	if _, err := fmt.Sscanf(numStr, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}
