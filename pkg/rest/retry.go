package rest

import (
	"context"
	"errors"
	"net"
	"time"

	"hullclient/pkg/problems"
)

// RetryPolicy decides how often and how patiently a call is repeated.
type RetryPolicy struct {
	// MaxAttempts counts the first try; values below 1 mean a single attempt.
	MaxAttempts int
	// Backoff returns the delay before retry number n (starting at 1).
	Backoff func(n int) time.Duration
	// IsRetryable reports whether err is worth another attempt. Nil means
	// Transient.
	IsRetryable func(err error) bool
	// OnRetry is called before each retry with the retry number and the error
	// that caused it.
	OnRetry func(n int, err error)
}

// DefaultRetryPolicy retries timeouts and 5xx responses twice with
// exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     Exponential(100*time.Millisecond, 2*time.Second),
		IsRetryable: Transient,
	}
}

// Exponential doubles base for every retry, capped at limit.
func Exponential(base, limit time.Duration) func(int) time.Duration {
	return func(n int) time.Duration {
		if n < 1 {
			return 0
		}
		d := base << (n - 1)
		if d <= 0 || d > limit {
			return limit
		}
		return d
	}
}

// Constant waits d before every retry.
func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Transient matches client-side timeouts and 5xx responses.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var te *problems.TransportError
	if errors.As(err, &te) && te.StatusCode >= 500 {
		return true
	}
	return isTimeout(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Do runs op until it succeeds, fails permanently, or the attempts run out.
// The returned error is the last one seen; a *problems.TransportError gets its
// Attempts field set. Cancelling ctx stops further retries.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)
	retryable := p.IsRetryable
	if retryable == nil {
		retryable = Transient
	}

	var err error
	n := 0
	for n < attempts {
		if n > 0 {
			if p.OnRetry != nil {
				p.OnRetry(n, err)
			}
			if !p.wait(ctx, n) {
				break
			}
		}
		n++
		if err = op(ctx); err == nil {
			return nil
		}
		if !retryable(err) || ctx.Err() != nil {
			break
		}
	}

	var te *problems.TransportError
	if errors.As(err, &te) {
		te.Attempts = n
	}
	return err
}

func (p RetryPolicy) wait(ctx context.Context, n int) bool {
	var d time.Duration
	if p.Backoff != nil {
		d = p.Backoff(n)
	}
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
