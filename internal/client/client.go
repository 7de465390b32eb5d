// Package client implements the Model Client: Responses/Chat wire
// request dispatch over HTTP, retry with backoff, ChatGPT-auth refresh,
// and rate-limit header parsing (spec §4.3).
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/swordfish444/codex-sub000/internal/stream"
	"github.com/swordfish444/codex-sub000/internal/wire"
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/revent"
)

// Config holds per-client tuning, grounded on the teacher's
// OpenAIProvider field set (apiKey, maxRetries, retryDelay) generalised
// to the spec's retry/backoff/idle-timeout knobs.
type Config struct {
	BaseURL          string
	APIKey           string
	RequestMaxRetries int
	StreamIdleTimeout time.Duration
	Backoff          BackoffPolicy
	SubagentLabel    string // empty for the root session
}

// Client dispatches Responses/Chat-wire requests.
type Client struct {
	http *http.Client
	cfg  Config
	auth *ChatGPTAuth // nil when using a plain bearer API key
}

// New builds a Client using a plain bearer API key.
func New(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.Backoff == (BackoffPolicy{}) {
		cfg.Backoff = DefaultBackoffPolicy()
	}
	return &Client{http: httpClient, cfg: cfg}
}

// WithChatGPTAuth attaches a refreshable ChatGPT-style auth source,
// taking priority over cfg.APIKey for the Authorization header.
func (c *Client) WithChatGPTAuth(auth *ChatGPTAuth) *Client {
	c.auth = auth
	return c
}

// StreamResponses dispatches a Responses-wire request and returns a
// decoded event stream, retrying per §4.3's retry policy.
func (c *Client) StreamResponses(ctx context.Context, convID convid.ConversationID, sessionID convid.ConversationID, req wire.ResponsesRequest) (<-chan stream.Result, context.CancelFunc, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, &FatalError{Kind: FatalInternal, Message: err.Error()}
	}

	resp, initial, err := c.dispatchWithRetry(ctx, "/v1/responses", convID, sessionID, body)
	if err != nil {
		return nil, nil, err
	}

	dec := wire.NewResponsesDecoder(resp.Body)
	ch, cancel := stream.New(ctx, &closingDecoder{Decoder: dec, closer: resp.Body}, c.cfg.StreamIdleTimeout)
	return prependRateLimits(ch, initial), cancel, nil
}

// StreamChat dispatches a Chat-wire request and returns a decoded event
// stream.
func (c *Client) StreamChat(ctx context.Context, convID convid.ConversationID, sessionID convid.ConversationID, req wire.ChatRequest) (<-chan stream.Result, context.CancelFunc, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, &FatalError{Kind: FatalInternal, Message: err.Error()}
	}

	resp, initial, err := c.dispatchWithRetry(ctx, "/v1/chat/completions", convID, sessionID, body)
	if err != nil {
		return nil, nil, err
	}

	dec := wire.NewChatDecoder(resp.Body)
	ch, cancel := stream.New(ctx, &closingDecoder{Decoder: dec, closer: resp.Body}, c.cfg.StreamIdleTimeout)
	return prependRateLimits(ch, initial), cancel, nil
}

// closingDecoder closes the HTTP response body once the decoder is
// exhausted, since stream.New never sees the *http.Response directly.
type closingDecoder struct {
	Decoder interface {
		Next() (revent.Event, error, bool)
	}
	closer io.Closer
	closed bool
}

func (d *closingDecoder) Next() (revent.Event, error, bool) {
	ev, err, done := d.Decoder.Next()
	if (err != nil || done) && !d.closed {
		d.closed = true
		_ = d.closer.Close()
	}
	return ev, err, done
}

// prependRateLimits emits an initial RateLimits event (spec §4.3: "start
// SSE consumption (emit an initial RateLimits event ...)") ahead of the
// decoder's own events.
func prependRateLimits(ch <-chan stream.Result, initial revent.RateLimitSnapshot) <-chan stream.Result {
	out := make(chan stream.Result, stream.Capacity)
	go func() {
		defer close(out)
		out <- stream.Result{Event: revent.RateLimits(initial)}
		for r := range ch {
			out <- r
		}
	}()
	return out
}

// dispatchWithRetry performs the attempt loop from spec §4.3. On
// success it returns the still-open *http.Response (caller owns
// draining/closing its body via the decoder) and the parsed initial
// rate-limit snapshot.
func (c *Client) dispatchWithRetry(ctx context.Context, path string, convID, sessionID convid.ConversationID, body []byte) (*http.Response, revent.RateLimitSnapshot, error) {
	maxAttempts := c.cfg.RequestMaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.attempt(ctx, path, convID, sessionID, body)
		if err == nil {
			return resp, ParseRateLimits(resp.Header), nil
		}

		if refreshErr, ok := err.(*needsAuthRefresh); ok {
			if refreshed := c.tryRefresh(ctx); refreshed != nil {
				return nil, revent.RateLimitSnapshot{}, refreshed
			}
			lastErr = refreshErr.cause
			continue // retry immediately with the refreshed token, same attempt budget
		}

		if !IsRetryable(err) {
			return nil, revent.RateLimitSnapshot{}, err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}
		if err := c.sleepBeforeRetry(ctx, err, attempt); err != nil {
			return nil, revent.RateLimitSnapshot{}, err
		}
	}
	return nil, revent.RateLimitSnapshot{}, lastErr
}

// needsAuthRefresh signals a 401 on a ChatGPT-auth session.
type needsAuthRefresh struct{ cause error }

func (e *needsAuthRefresh) Error() string { return e.cause.Error() }

func (c *Client) tryRefresh(ctx context.Context) error {
	if c.auth == nil {
		return &FatalError{Kind: FatalAuthRefreshFailed, Message: "401 received with no ChatGPT auth configured"}
	}
	if err := c.auth.Refresh(ctx); err != nil {
		if IsFatal(err) {
			return err
		}
		return nil // transient refresh failure: caller continues the retry loop
	}
	return nil
}

func (c *Client) sleepBeforeRetry(ctx context.Context, err error, attempt int) error {
	wait := ComputeBackoff(c.cfg.Backoff, attempt)
	if re, ok := err.(*RetryableError); ok && re.RetryAfterMs > 0 {
		wait = time.Duration(re.RetryAfterMs) * time.Millisecond
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// attempt performs a single HTTP round trip and classifies the outcome.
func (c *Client) attempt(ctx context.Context, path string, convID, sessionID convid.ConversationID, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, &FatalError{Kind: FatalInternal, Message: err.Error()}
	}
	c.setHeaders(httpReq, convID, sessionID)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &RetryableError{Cause: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, c.classifyErrorResponse(resp)
}

func (c *Client) setHeaders(req *http.Request, convID, sessionID convid.ConversationID) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("conversation_id", convID.String())
	req.Header.Set("session_id", sessionID.String())
	if c.cfg.SubagentLabel != "" {
		req.Header.Set("x-openai-subagent", c.cfg.SubagentLabel)
	}
	token := c.cfg.APIKey
	if c.auth != nil {
		token = c.auth.AccessToken()
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

// errorBody is the structured error envelope on a non-2xx response.
type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`

		PlanType string `json:"plan_type"`
		ResetsAt int64  `json:"resets_at"`
	} `json:"error"`
}

func (c *Client) classifyErrorResponse(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var parsed errorBody
	_ = json.Unmarshal(raw, &parsed)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if c.auth != nil {
			return &needsAuthRefresh{cause: fmt.Errorf("401: %s", string(raw))}
		}
		return &FatalError{Kind: FatalUnexpectedStatus, StatusCode: resp.StatusCode, Body: string(raw)}

	case resp.StatusCode == http.StatusTooManyRequests:
		switch parsed.Error.Type {
		case "usage_limit_reached":
			return &FatalError{
				Kind:     FatalUsageLimitReached,
				Message:  parsed.Error.Message,
				PlanType: parsed.Error.PlanType,
				ResetsAt: parsed.Error.ResetsAt,
			}
		case "usage_not_included":
			return &FatalError{Kind: FatalUsageNotIncluded, Message: parsed.Error.Message}
		}
		switch parsed.Error.Code {
		case "insufficient_quota", "insufficient_quota_org", "insufficient_quota_project", "insufficient_quota_user":
			return &FatalError{Kind: FatalQuotaExceeded, Message: parsed.Error.Message}
		}
		retryErr := &RetryableError{StatusCode: resp.StatusCode, Cause: fmt.Errorf("429: %s", parsed.Error.Message)}
		if wait, ok := ParseRetryAfter(resp.Header); ok {
			retryErr.RetryAfterMs = int(wait.Milliseconds())
		} else if ms, ok := wire.ParseTryAgainMs(parsed.Error.Message); ok {
			retryErr.RetryAfterMs = ms
		}
		return retryErr

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &FatalError{Kind: FatalUnexpectedStatus, StatusCode: resp.StatusCode, Body: string(raw), Message: parsed.Error.Message}

	default: // 5xx
		retryErr := &RetryableError{StatusCode: resp.StatusCode, Cause: fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))}
		if wait, ok := ParseRetryAfter(resp.Header); ok {
			retryErr.RetryAfterMs = int(wait.Milliseconds())
		}
		return retryErr
	}
}
