package probe

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/storewatch/internal/monitor"
)

// RetryPolicy retries retriable transport errors with doubling backoff.
// Attempt 1 runs immediately; attempt n waits BaseDelay * 2^(n-2).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the production policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// ShouldRetry decides whether another attempt follows attempt.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	var te *monitor.TransportError
	if !errors.As(err, &te) {
		return false
	}
	return te.Retriable()
}

// Backoff returns the wait after a failed attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay < 0) {
		delay = p.MaxDelay
	}
	return delay
}

// AttemptFunc performs one probe attempt.
type AttemptFunc func(ctx context.Context, attempt int) (monitor.ProbeResult, error)

// Retry runs fn under the policy. The result of the last attempt is returned
// together with its error so callers can still inspect what was received.
func Retry(ctx context.Context, policy RetryPolicy, fn AttemptFunc) (monitor.ProbeResult, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	var (
		result monitor.ProbeResult
		err    error
		prior  [][]byte
	)
	for attempt := 1; ; attempt++ {
		result, err = fn(ctx, attempt)
		result.Attempts = attempt
		result.PriorBodies = prior
		if !policy.ShouldRetry(err, attempt) {
			return result, err
		}
		prior = append(prior, result.Body)
		if waitErr := sleep(ctx, policy.Backoff(attempt)); waitErr != nil {
			return result, err
		}
	}
}
