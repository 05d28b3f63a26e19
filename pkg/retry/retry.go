// Package retry is the single bounded-retry helper used by the platform adapters,
// the publish orchestrator and the insights reader.
package retry

import (
	"context"
	"errors"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

const minInterval = time.Millisecond

// Predicate reports whether a failed attempt may be retried.
type Predicate func(error) bool

// BackoffPolicy builds a fresh backoff sequence. Sequences are stateful, so every Do call asks for a new one.
type BackoffPolicy func() goretry.Backoff

// Func is one attempt. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// Exponential doubles from initial up to max, with jitterPercent of random spread.
func Exponential(initial, max time.Duration, jitterPercent uint64) BackoffPolicy {
	return func() goretry.Backoff {
		if initial <= 0 {
			initial = minInterval
		}
		b := goretry.NewExponential(initial)
		if max > 0 {
			b = goretry.WithCappedDuration(max, b)
		}
		if jitterPercent > 0 {
			b = goretry.WithJitterPercent(jitterPercent, b)
		}
		return b
	}
}

// Constant waits the same interval between attempts.
func Constant(interval time.Duration) BackoffPolicy {
	if interval <= 0 {
		interval = minInterval
	}
	return func() goretry.Backoff {
		return goretry.NewConstant(interval)
	}
}

// Always retries every error.
func Always(error) bool { return true }

// Do runs fn at most maxAttempts times. Errors rejected by retryable are returned
// immediately. It returns the number of attempts made and the last error.
func Do(ctx context.Context, maxAttempts int, policy BackoffPolicy, retryable Predicate, fn Func) (int, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if policy == nil {
		policy = Constant(minInterval)
	}
	if retryable == nil {
		retryable = Always
	}

	attempts := 0
	var lastErr error
	backoff := goretry.WithMaxRetries(uint64(maxAttempts-1), policy())
	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := fn(ctx, attempts)
		lastErr = err
		if err == nil {
			return nil
		}
		if retryable(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
	if err != nil && lastErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return attempts, lastErr
	}
	return attempts, err
}

// Policy is the configured shape of a retry loop.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterPercent  uint64
}

// Backoff returns the exponential policy described by p.
func (p Policy) Backoff() BackoffPolicy {
	return Exponential(p.InitialBackoff, p.MaxBackoff, p.JitterPercent)
}

// Do runs fn under p.
func (p Policy) Do(ctx context.Context, retryable Predicate, fn Func) (int, error) {
	return Do(ctx, p.MaxAttempts, p.Backoff(), retryable, fn)
}
