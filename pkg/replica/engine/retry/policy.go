// Package retry retries single data-access calls that fail with transient faults.
package retry

import (
	"time"

	"github.com/tigerroll/replica/pkg/replica/support/util/exception"
)

const (
	// DefaultMaxAttempts is the number of attempts made before giving up.
	DefaultMaxAttempts = 5
	// DefaultInterval is the fixed delay between attempts.
	DefaultInterval = 100 * time.Millisecond
)

// RetryPolicy decides whether and when a failed call is attempted again.
type RetryPolicy interface {
	// ShouldRetry determines if a given error is retryable.
	ShouldRetry(err error) bool
	// GetBackoffInterval returns the delay before attempt+1, given that attempt (starting at 1) failed.
	GetBackoffInterval(attempt int) time.Duration
	// GetMaxAttempts returns the maximum number of attempts, including the first.
	GetMaxAttempts() int
}

// NewTransientPolicy returns a fixed-interval policy that retries transient
// data-access faults only. Non-positive arguments fall back to the defaults.
func NewTransientPolicy(maxAttempts int, interval time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if interval < 0 {
		interval = DefaultInterval
	}
	return &transientPolicy{maxAttempts: maxAttempts, interval: interval}
}

// DefaultPolicy is NewTransientPolicy(DefaultMaxAttempts, DefaultInterval).
func DefaultPolicy() RetryPolicy {
	return NewTransientPolicy(DefaultMaxAttempts, DefaultInterval)
}

type transientPolicy struct {
	maxAttempts int
	interval    time.Duration
}

func (p *transientPolicy) GetMaxAttempts() int { return p.maxAttempts }

func (p *transientPolicy) ShouldRetry(err error) bool {
	return exception.IsTransient(err)
}

// GetBackoffInterval always returns the configured interval.
func (p *transientPolicy) GetBackoffInterval(int) time.Duration {
	return p.interval
}

var _ RetryPolicy = (*transientPolicy)(nil)
