package client

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy parameterises exponential backoff with jitter for the
// retry loop (spec §4.3 "Retryable: sleep for Retry-After ... else
// exponential backoff").
type BackoffPolicy struct {
	InitialMs float64
	MaxMs     float64
	Factor    float64
	Jitter    float64
}

// DefaultBackoffPolicy mirrors the teacher's default retry tuning.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{InitialMs: 100, MaxMs: 30000, Factor: 2, Jitter: 0.1}
}

// ComputeBackoff returns the backoff duration for the given attempt
// (1-indexed): base = InitialMs * Factor^(attempt-1), jitter = base *
// Jitter * rand(), clamped to MaxMs.
func ComputeBackoff(policy BackoffPolicy, attempt int) time.Duration {
	return ComputeBackoffWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter, not security sensitive
}

// ComputeBackoffWithRand is ComputeBackoff with an injected random value
// in [0, 1) for deterministic tests.
func ComputeBackoffWithRand(policy BackoffPolicy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitter := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitter)
	return time.Duration(math.Round(total)) * time.Millisecond
}
