// Package retry implements the bounded-attempt, exponential-backoff-with-
// jitter executor (L5) used to wrap external calls (OAuth refresh,
// Correlation Store calls, Producer snapshot writes) before they reach L4's
// circuit breaker gate.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"
)

// Result is the outcome of a retried call.
type Result[T any] struct {
	Value   T
	Err     error
	Attempts int
}

// Options configures retry behavior. Zero values fall back to spec
// defaults (§4.5).
type Options struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	Factor        float64
	JitterFrac    float64 // e.g. 0.25 for ±25%
	RetryPredicate func(error) bool
	// Sleep is overridable in tests to avoid real time.Sleep waits.
	Sleep func(time.Duration)
	// Rand is overridable in tests for deterministic jitter.
	Rand *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Factor <= 0 {
		o.Factor = 2.0
	}
	if o.JitterFrac <= 0 {
		o.JitterFrac = 0.25
	}
	if o.RetryPredicate == nil {
		o.RetryPredicate = DefaultRetryPredicate
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

// DefaultRetryPredicate retries on timeouts, connection-refused/reset/
// unreachable/no-such-host, HTTP 429/500/502/503/504, and on error strings
// containing timeout|connection|rate limit (case-insensitive).
func DefaultRetryPredicate(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var httpErr interface{ StatusCode() int }
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode() {
		case 429, 500, 502, 503, 504:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"timeout", "connection refused", "connection reset",
		"unreachable", "no such host", "connection", "rate limit",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// delayFor computes the pre-attempt-k delay (k>=2 is 1-indexed attempt
// number): min(base*factor^(k-2), max) jittered by a uniform factor in
// [1-jitter, 1+jitter].
func delayFor(o Options, attempt int) time.Duration {
	if attempt < 2 {
		return 0
	}
	raw := float64(o.BaseDelay) * math.Pow(o.Factor, float64(attempt-2))
	if raw > float64(o.MaxDelay) {
		raw = float64(o.MaxDelay)
	}
	jitterScale := 1 - o.JitterFrac + o.Rand.Float64()*2*o.JitterFrac
	return time.Duration(raw * jitterScale)
}

// Do executes thunk up to opts.MaxAttempts times, sleeping the computed
// backoff between attempts, stopping early if the error is not retryable
// per opts.RetryPredicate or if ctx is cancelled.
func Do[T any](ctx context.Context, thunk func(ctx context.Context) (T, error), opts Options) Result[T] {
	opts = opts.withDefaults()

	var lastErr error
	var zero T
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			d := delayFor(opts, attempt)
			select {
			case <-ctx.Done():
				return Result[T]{Value: zero, Err: ctx.Err(), Attempts: attempt - 1}
			default:
			}
			opts.Sleep(d)
		}

		v, err := thunk(ctx)
		if err == nil {
			return Result[T]{Value: v, Err: nil, Attempts: attempt}
		}
		lastErr = err
		if !opts.RetryPredicate(err) {
			return Result[T]{Value: zero, Err: err, Attempts: attempt}
		}
	}
	return Result[T]{Value: zero, Err: lastErr, Attempts: opts.MaxAttempts}
}
