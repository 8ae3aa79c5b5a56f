package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retrier wraps an operation with retry semantics. AdaptiveLimiter is
// the canonical implementation.
type Retrier interface {
	RetryWithBackoff(ctx context.Context, maxAttempts int, op func(context.Context) error) error
}

// geometricBackoff yields waits of factor^1, factor^2, ... seconds, so
// the wait before attempt k is factor^(k-1).
func geometricBackoff(factor float64) retry.Backoff {
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		wait := time.Duration(math.Pow(factor, float64(attempt)) * float64(time.Second))
		return wait, false
	})
}

// RetryWithBackoff runs op until it succeeds, fails with a non-retryable
// error, or the attempt budget is spent. maxAttempts counts every call
// to op, the first included; values <= 0 use the configured default.
// There is no wait before the first attempt; waits between attempts grow
// geometrically with the configured backoff factor.
//
// Rate-limited and transient failures (see Classify) are retried; any
// other failure propagates immediately without consuming the remaining
// budget. When the budget ends on a retryable failure the returned error
// matches ErrRetriesExhausted and still wraps the last attempt's error.
// Cancellation during a wait returns ctx.Err().
func (l *AdaptiveLimiter) RetryWithBackoff(ctx context.Context, maxAttempts int, op func(context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = l.maxAttempts
	}

	attempts := 0
	backoff := retry.WithMaxRetries(uint64(maxAttempts-1), geometricBackoff(l.backoffFactor))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsRetryable(err) {
			slog.Warn("Retryable upstream failure",
				"attempt", attempts,
				"max_attempts", maxAttempts,
				"kind", KindOf(err).String(),
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if attempts >= maxAttempts && IsRetryable(err) {
		return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
	}
	return err
}

// Retry runs op through r and returns its result. It exists so callers
// returning a value do not have to thread it out of the closure
// themselves.
func Retry[T any](ctx context.Context, r Retrier, maxAttempts int, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := r.RetryWithBackoff(ctx, maxAttempts, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
