package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// MinWindowMs is the smallest window a Policy may use.
const MinWindowMs int64 = 1000

// ErrStoreUnavailable wraps every counter store failure surfaced by Check.
var ErrStoreUnavailable = errors.New("counter store unavailable")

// Scope identifies one counter family.
type Scope struct {
	// Route is the logical name of the protected operation.
	Route string
	// Identifier is the caller key, e.g. "ip:203.0.113.7".
	Identifier string
	// UserID attributes audit records. It never affects counting.
	UserID string
}

// Policy is the limit applied to a Scope.
type Policy struct {
	WindowMs int64
	Max      float64
}

// PolicyFromDuration builds a Policy from a window duration.
func PolicyFromDuration(window time.Duration, max float64) Policy {
	return Policy{WindowMs: window.Milliseconds(), Max: max}
}

// Normalize returns p with the window clamped to MinWindowMs.
func (p Policy) Normalize() Policy {
	if p.WindowMs < MinWindowMs {
		p.WindowMs = MinWindowMs
	}
	return p
}

// WindowSeconds is the window rounded up to whole seconds.
func (p Policy) WindowSeconds() int64 {
	return ceilDiv(p.WindowMs, 1000)
}

// Result is the outcome of one Check.
type Result struct {
	Blocked bool `json:"blocked"`
	// Hits is the raw current-bucket count after this request.
	Hits      int64 `json:"hits"`
	Remaining int64 `json:"remaining"`
	// RetryAfter is in seconds. Zero when not blocked.
	RetryAfter int `json:"retry_after,omitempty"`
	// ResetAt is the epoch millisecond at which the current bucket ends.
	ResetAt  int64   `json:"reset_at"`
	WindowMs int64   `json:"window_ms"`
	Limit    float64 `json:"limit"`
	// Estimate is the weighted hit count the decision was made on.
	Estimate float64 `json:"estimate"`
}

// ResetTime returns ResetAt as a time.Time.
func (r *Result) ResetTime() time.Time {
	return time.UnixMilli(r.ResetAt)
}

// FailureMode decides what callers do when the counter store fails.
type FailureMode string

const (
	// FailOpen lets requests through while the store is unavailable.
	FailOpen FailureMode = "fail-open"
	// FailClosed blocks requests while the store is unavailable.
	FailClosed FailureMode = "fail-closed"
)

// ParseFailureMode parses a configured failure mode.
func ParseFailureMode(s string) (FailureMode, error) {
	switch FailureMode(s) {
	case FailOpen, FailClosed:
		return FailureMode(s), nil
	case "":
		return FailOpen, nil
	}
	return "", fmt.Errorf("invalid failure mode: %s", s)
}

// Fallback returns the result to act on when Check could not reach the store.
func (m FailureMode) Fallback(p Policy, now time.Time) *Result {
	p = p.Normalize()
	nowMs := now.UnixMilli()
	resetAt := nowMs - nowMs%p.WindowMs + p.WindowMs

	res := &Result{
		ResetAt:  resetAt,
		WindowMs: p.WindowMs,
		Limit:    p.Max,
	}

	if m == FailClosed {
		res.Blocked = true
		res.RetryAfter = int(p.WindowSeconds())
		return res
	}

	if p.Max > 0 {
		res.Remaining = int64(p.Max)
	}
	return res
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
