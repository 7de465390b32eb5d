package client

import (
	"errors"
	"fmt"
)

// Band classifies a client-facing error into one of the three bands from
// spec §7.
type Band string

const (
	BandRespondToModel Band = "respond_to_model"
	BandRetryable      Band = "retryable"
	BandFatal          Band = "fatal"
)

// FatalKind discriminates the fatal-band error variants.
type FatalKind string

const (
	FatalContextWindowExceeded FatalKind = "context_window_exceeded"
	FatalQuotaExceeded         FatalKind = "quota_exceeded"
	FatalUsageLimitReached     FatalKind = "usage_limit_reached"
	FatalUsageNotIncluded      FatalKind = "usage_not_included"
	FatalUnexpectedStatus      FatalKind = "unexpected_status"
	FatalAuthRefreshFailed     FatalKind = "auth_refresh_failed"
	FatalInternal              FatalKind = "internal"
)

// FatalError is a terminal, non-retryable model-client failure.
type FatalError struct {
	Kind    FatalKind
	Message string

	// UsageLimitReached fields, populated only when Kind is that variant.
	PlanType   string
	ResetsAt   int64

	// UnexpectedStatus fields: the HTTP status code and response body.
	StatusCode int
	Body       string
}

func (e *FatalError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// RetryableError wraps a per-attempt failure that the retry loop should
// re-attempt (429 without a structured-fatal code, 5xx, transport
// errors, idle timeouts on a re-entrant retry path).
type RetryableError struct {
	StatusCode   int
	RetryAfterMs int
	Cause        error
}

func (e *RetryableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("retryable (status=%d): %s", e.StatusCode, e.Cause.Error())
	}
	return fmt.Sprintf("retryable (status=%d)", e.StatusCode)
}

func (e *RetryableError) Unwrap() error { return e.Cause }

// RespondToModelError is a recoverable dispatcher-level error surfaced
// as a normal tool output with success=false, never propagated as a Go
// error past the dispatcher boundary.
type RespondToModelError struct {
	Message string
}

func (e *RespondToModelError) Error() string { return e.Message }

// NewRespondToModelError builds a RespondToModelError with actionable
// guidance text, matching the dispatcher's "respond-to-model" band.
func NewRespondToModelError(format string, args ...any) *RespondToModelError {
	return &RespondToModelError{Message: fmt.Sprintf(format, args...)}
}

// ClassifyStatus maps an HTTP response status and structured error body
// (already parsed by the caller) to a Band, per spec §4.3 / §7.
func ClassifyStatus(status int, errType, errCode string) Band {
	switch {
	case status == 401:
		return BandRetryable // caller attempts a single auth refresh first
	case status == 429:
		switch errType {
		case "usage_limit_reached", "usage_not_included":
			return BandFatal
		}
		switch errCode {
		case "insufficient_quota", "insufficient_quota_org", "insufficient_quota_project", "insufficient_quota_user":
			return BandFatal
		}
		return BandRetryable
	case status >= 400 && status < 500:
		return BandFatal
	case status >= 500:
		return BandRetryable
	default:
		return BandRespondToModel
	}
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsRetryable reports whether err is (or wraps) a RetryableError.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
