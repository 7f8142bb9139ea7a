package rest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hullclient/pkg/problems"
)

func TestExponentialBackoff(t *testing.T) {
	b := Exponential(100*time.Millisecond, time.Second)
	require.Equal(t, time.Duration(0), b(0))
	require.Equal(t, 100*time.Millisecond, b(1))
	require.Equal(t, 200*time.Millisecond, b(2))
	require.Equal(t, 400*time.Millisecond, b(3))
	require.Equal(t, time.Second, b(5))
	require.Equal(t, time.Second, b(80))
}

func TestTransient(t *testing.T) {
	require.False(t, Transient(nil))
	require.True(t, Transient(&problems.TransportError{StatusCode: 500}))
	require.False(t, Transient(&problems.TransportError{StatusCode: 404}))
	require.True(t, Transient(&problems.TransportError{Err: context.DeadlineExceeded}))
	require.False(t, Transient(errors.New("boom")))
}

func TestDoStopsOnSuccess(t *testing.T) {
	var retries []int
	n := 0
	p := RetryPolicy{
		MaxAttempts: 5,
		IsRetryable: func(error) bool { return true },
		OnRetry:     func(i int, _ error) { retries = append(retries, i) },
	}
	err := p.Do(context.Background(), func(context.Context) error {
		n++
		if n < 3 {
			return errors.New("again")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []int{1, 2}, retries)
}

func TestDoRecordsAttempts(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2}
	err := p.Do(context.Background(), func(context.Context) error {
		return &problems.TransportError{StatusCode: 502}
	})
	var te *problems.TransportError
	require.True(t, errors.As(err, &te))
	require.Equal(t, 2, te.Attempts)
}

func TestDoSingleAttemptByDefault(t *testing.T) {
	n := 0
	err := RetryPolicy{}.Do(context.Background(), func(context.Context) error {
		n++
		return &problems.TransportError{StatusCode: 503}
	})
	require.Error(t, err)
	require.Equal(t, 1, n)
}

func TestDoHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	p := RetryPolicy{MaxAttempts: 5, Backoff: Constant(time.Hour)}
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error {
			n++
			return &problems.TransportError{StatusCode: 500}
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, problems.ErrTransport)
		require.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancel")
	}
}
