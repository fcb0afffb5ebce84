// Package retry provides a bounded retry policy with linear backoff.
package retry

import (
	"context"
	"time"

	retrygo "github.com/avast/retry-go/v4"
)

// Policy describes how many times an operation is attempted and how long to
// wait between attempts. The delay before attempt n+1 is BaseDelay*n.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// Retryable reports whether err is worth another attempt. nil retries
	// every error.
	Retryable func(error) bool

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Unrecoverable marks err so that Do stops immediately regardless of Retryable.
func Unrecoverable(err error) error {
	return retrygo.Unrecoverable(err)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. attempt is 1-based. It returns the number
// of attempts made and the last error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempts := 0
	err := retrygo.Do(
		func() error {
			attempts++
			return fn(ctx, attempts)
		},
		retrygo.Context(ctx),
		retrygo.Attempts(uint(maxAttempts)),
		retrygo.LastErrorOnly(true),
		retrygo.DelayType(p.delay),
		retrygo.RetryIf(func(err error) bool {
			if !retrygo.IsRecoverable(err) {
				return false
			}
			if p.Retryable == nil {
				return true
			}
			return p.Retryable(err)
		}),
		retrygo.OnRetry(func(n uint, err error) {
			if p.OnRetry != nil && int(n)+1 < maxAttempts {
				p.OnRetry(int(n)+1, err)
			}
		}),
	)
	return attempts, err
}

// delay implements retrygo.DelayTypeFunc. n is the zero-based index of the
// attempt that just failed.
func (p Policy) delay(n uint, _ error, _ *retrygo.Config) time.Duration {
	return p.BaseDelay * time.Duration(n+1)
}

// Delay returns the wait before the attempt following attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return p.BaseDelay * time.Duration(attempt)
}
