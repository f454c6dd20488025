// Package retry provides the retry policy applied to upstream requests
// and index transactions. By default no retries are performed; the sync
// orchestrator installs an exponential backoff retrier tuned to its
// batch schedule.
package retry

import (
	"context"
	"errors"
	"math"
	"net"
	"time"

	"github.com/aurmirror/aurmeta/protocol/client"
)

// Retrier determines when to retry and how long to wait between attempts.
type Retrier interface {
	// ShouldRetry determines if an error should be retried.
	// attempt is the current attempt number (1-indexed).
	ShouldRetry(err error, attempt int) bool

	// Wait waits before the next retry attempt.
	// Returns an error if the context was cancelled during the wait.
	Wait(ctx context.Context, attempt int) error

	// MaxAttempts returns the maximum number of attempts, including the
	// initial one.
	MaxAttempts() int
}

// Do runs fn under the retrier's policy and returns the last error.
func Do(ctx context.Context, r Retrier, fn func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= r.MaxAttempts() || !r.ShouldRetry(err, attempt) {
			return err
		}
		if werr := r.Wait(ctx, attempt); werr != nil {
			return werr
		}
	}
}

// NoopRetrier is a retrier that never retries.
type NoopRetrier struct{}

func (NoopRetrier) ShouldRetry(error, int) bool     { return false }
func (NoopRetrier) Wait(context.Context, int) error { return nil }
func (NoopRetrier) MaxAttempts() int                { return 1 }

// ExponentialBackoffRetrier retries transport errors and retryable
// upstream statuses with exponentially growing delays.
//
// It does not retry context cancellation, authentication failures,
// protocol violations, or 4xx upstream responses.
type ExponentialBackoffRetrier struct {
	// MaxAttemptsValue is the maximum number of attempts, including the
	// initial one. Default is 3.
	MaxAttemptsValue int

	// InitialDelay is the delay before the first retry. Default is 1s.
	InitialDelay time.Duration

	// Multiplier is the backoff multiplier. Default is 4, giving the
	// 1s, 4s, 16s schedule.
	Multiplier float64
}

// NewExponentialBackoffRetrier creates a retrier with the sync defaults:
// 3 attempts, delays of 1s and 4s between them (16s would follow were a
// fourth attempt configured).
func NewExponentialBackoffRetrier() *ExponentialBackoffRetrier {
	return &ExponentialBackoffRetrier{
		MaxAttemptsValue: 3,
		InitialDelay:     time.Second,
		Multiplier:       4,
	}
}

// WithMaxAttempts sets the maximum number of attempts.
func (r *ExponentialBackoffRetrier) WithMaxAttempts(attempts int) *ExponentialBackoffRetrier {
	r.MaxAttemptsValue = attempts
	return r
}

// ShouldRetry reports whether the error class is transient.
func (r *ExponentialBackoffRetrier) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= r.MaxAttempts() {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var upstream *client.UpstreamError
	if errors.As(err, &upstream) {
		return upstream.IsRetryable()
	}
	if errors.Is(err, client.ErrUnauthorized) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}

// Wait sleeps for the backoff delay of the given attempt, honouring
// context cancellation.
func (r *ExponentialBackoffRetrier) Wait(ctx context.Context, attempt int) error {
	delay := time.Duration(float64(r.initialDelay()) * math.Pow(r.multiplier(), float64(attempt-1)))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MaxAttempts returns the maximum number of attempts.
func (r *ExponentialBackoffRetrier) MaxAttempts() int {
	if r.MaxAttemptsValue <= 0 {
		return 3
	}
	return r.MaxAttemptsValue
}

func (r *ExponentialBackoffRetrier) initialDelay() time.Duration {
	if r.InitialDelay <= 0 {
		return time.Second
	}
	return r.InitialDelay
}

func (r *ExponentialBackoffRetrier) multiplier() float64 {
	if r.Multiplier <= 0 {
		return 4
	}
	return r.Multiplier
}
