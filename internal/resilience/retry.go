package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Retry runs an operation with a bounded number of attempts, exponential backoff between them and
// an optional circuit breaker in front of the dependency.
type Retry struct {
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	// Retryable decides whether an error is worth another attempt. Nil retries every error.
	Retryable func(error) bool
	// OnRetry is invoked before sleeping ahead of the next attempt.
	OnRetry func(ctx context.Context, attempt int, err error)
}

// Do executes fn until it succeeds, returns a non-retryable error or the attempts are exhausted.
// When the breaker is open ErrOpenCircuit is returned without calling fn.
func (r Retry) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Call(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call is Do for operations returning a value.
func Call[T any](ctx context.Context, r Retry, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if fn == nil {
		return zero, errors.New("resilience: nil operation")
	}
	maxAttempts := r.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	base := r.BaseBackoff
	if base <= 0 {
		base = 50 * time.Millisecond
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if r.Breaker != nil && !r.Breaker.Allow(ctx) {
			RetryAttemptsTotal.WithLabelValues("rejected").Inc()
			return zero, ErrOpenCircuit
		}
		v, err := fn(ctx)
		if err == nil {
			if r.Breaker != nil {
				r.Breaker.Report(ctx, true)
			}
			RetryAttemptsTotal.WithLabelValues("ok").Inc()
			return v, nil
		}
		lastErr = err
		if r.Retryable != nil && !r.Retryable(err) {
			// the dependency answered, so the breaker counts it as healthy
			if r.Breaker != nil {
				r.Breaker.Report(ctx, true)
			}
			return zero, err
		}
		if r.Breaker != nil {
			r.Breaker.Report(ctx, false)
		}
		if attempt == maxAttempts {
			RetryAttemptsTotal.WithLabelValues("gave_up").Inc()
			break
		}
		RetryAttemptsTotal.WithLabelValues("retry").Inc()
		if r.OnRetry != nil {
			r.OnRetry(ctx, attempt, err)
		}
		timer := time.NewTimer(Backoff(base, attempt, r.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}

// Backoff doubles base for every attempt after the first and spreads the result by up to
// jitterPct in either direction.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << max(attempt-1, 0)
	if jitterPct <= 0 {
		return d
	}
	spread := float64(d) * jitterPct
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
