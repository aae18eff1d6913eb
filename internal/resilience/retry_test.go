package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/vaayugo-api/internal/resilience"
)

var errTransient = errors.New("connection reset")

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	retried := 0
	r := resilience.Retry{
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
		OnRetry:     func(context.Context, int, error) { retried++ },
	}
	got, err := resilience.Call(context.Background(), r, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errTransient
		}
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", got)
	require.Equal(t, 2, calls)
	require.Equal(t, 1, retried)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := resilience.Retry{MaxAttempts: 2, BaseBackoff: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	require.Equal(t, 2, calls)
}

func TestRetrySkipsNonRetryableErrors(t *testing.T) {
	permanent := errors.New("not found")
	calls := 0
	r := resilience.Retry{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, calls)
}

func TestRetryShortCircuitsWhenBreakerOpen(t *testing.T) {
	breaker := resilience.NewBreaker(1, 0.5, time.Minute).WithTarget("retry_test")
	r := resilience.Retry{Breaker: breaker, MaxAttempts: 1}
	ctx := context.Background()

	require.ErrorIs(t, r.Do(ctx, func(context.Context) error { return errTransient }), errTransient)

	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Zero(t, calls)
}

func TestRetryHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := resilience.Retry{MaxAttempts: 3, BaseBackoff: time.Second}
	err := r.Do(ctx, func(context.Context) error {
		cancel()
		return errTransient
	})
	require.ErrorIs(t, err, context.Canceled)
}
