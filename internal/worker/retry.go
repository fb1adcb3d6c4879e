package worker

import (
	"time"

	"github.com/ontimehq/shorts-pipeline/internal/shorts"
)

// RetryPolicy is the explicit retry contract applied by the worker loop
// around pipeline execution: bounded attempts, exponential backoff, and a
// retryable-error predicate.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool
}

// DefaultRetryPolicy retries transient failures up to maxAttempts with
// exponential backoff starting at 2s and capped at 30s.
func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Retryable:   shorts.IsRetryable,
	}
}

// ShouldRetry reports whether a failure with the given prior attempt count
// warrants another attempt.
func (p RetryPolicy) ShouldRetry(err error, attempts int) bool {
	if attempts >= p.MaxAttempts {
		return false
	}
	if p.Retryable == nil {
		return false
	}
	return p.Retryable(err)
}

// Delay returns the backoff before the given attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
