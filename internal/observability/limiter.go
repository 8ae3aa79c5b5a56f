package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"stockd/internal/ratelimit"
)

// InstrumentedLimiter wraps an AdaptiveLimiter with OpenTelemetry tracing
// and metrics. It exposes the limiter's full method set so it drops in
// wherever the limiter is used: the upstream client for admission and the
// API handlers for stats and administration.
type InstrumentedLimiter struct {
	inner      *ratelimit.AdaptiveLimiter
	tracer     trace.Tracer
	waitTime   metric.Float64Histogram
	outcomes   metric.Int64Counter
	downgrades metric.Int64Counter
	exhausted  metric.Int64Counter
}

// NewInstrumentedLimiter creates an instrumented wrapper around the given
// limiter.
func NewInstrumentedLimiter(inner *ratelimit.AdaptiveLimiter) (*InstrumentedLimiter, error) {
	tracer := otel.Tracer("stockd/ratelimit")
	meter := otel.Meter("stockd/ratelimit")

	waitTime, err := meter.Float64Histogram(
		"limiter.acquire.wait",
		metric.WithDescription("Time spent waiting for limiter admission in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create wait time histogram: %w", err)
	}

	outcomes, err := meter.Int64Counter(
		"limiter.outcomes",
		metric.WithDescription("Upstream responses observed by the limiter, by status class"),
		metric.WithUnit("{response}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create outcomes counter: %w", err)
	}

	downgrades, err := meter.Int64Counter(
		"limiter.strategy.downgrades",
		metric.WithDescription("Automatic strategy downgrades triggered by upstream rate limiting"),
		metric.WithUnit("{downgrade}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create downgrades counter: %w", err)
	}

	exhausted, err := meter.Int64Counter(
		"limiter.retries.exhausted",
		metric.WithDescription("Operations that failed after exhausting their retry budget"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exhausted counter: %w", err)
	}

	return &InstrumentedLimiter{
		inner:      inner,
		tracer:     tracer,
		waitTime:   waitTime,
		outcomes:   outcomes,
		downgrades: downgrades,
		exhausted:  exhausted,
	}, nil
}

// Acquire waits for admission on the endpoint and records how long the
// wait took.
func (l *InstrumentedLimiter) Acquire(ctx context.Context, endpoint string) error {
	ctx, span := l.tracer.Start(ctx, "limiter.Acquire",
		trace.WithAttributes(attribute.String("endpoint", endpoint)))
	defer span.End()

	start := time.Now()
	err := l.inner.Acquire(ctx, endpoint)
	l.waitTime.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("endpoint", endpoint)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// RecordOutcome forwards the response verdict and counts it by status
// class. A strategy downgrade caused by the outcome increments the
// downgrade counter with the transition recorded as attributes.
func (l *InstrumentedLimiter) RecordOutcome(endpoint string, statusCode int) {
	before := l.inner.Strategy()
	l.inner.RecordOutcome(endpoint, statusCode)
	after := l.inner.Strategy()

	ctx := context.Background()
	l.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status_class", statusClass(statusCode)),
	))
	if after != before {
		l.downgrades.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(before)),
			attribute.String("to", string(after)),
		))
	}
}

// RetryWithBackoff delegates to the wrapped limiter and counts attempts
// that spend their whole retry budget.
func (l *InstrumentedLimiter) RetryWithBackoff(ctx context.Context, maxAttempts int, op func(context.Context) error) error {
	err := l.inner.RetryWithBackoff(ctx, maxAttempts, op)
	if errors.Is(err, ratelimit.ErrRetriesExhausted) {
		l.exhausted.Add(ctx, 1)
	}
	return err
}

// Stats returns a snapshot of the wrapped limiter's state.
func (l *InstrumentedLimiter) Stats() ratelimit.Stats {
	return l.inner.Stats()
}

// SetStrategy overrides the wrapped limiter's strategy.
func (l *InstrumentedLimiter) SetStrategy(s ratelimit.Strategy) error {
	return l.inner.SetStrategy(s)
}

// ResetCooldown clears the cooldown for a single endpoint.
func (l *InstrumentedLimiter) ResetCooldown(endpoint string) {
	l.inner.ResetCooldown(endpoint)
}

// ResetCooldowns clears all endpoint cooldowns.
func (l *InstrumentedLimiter) ResetCooldowns() {
	l.inner.ResetCooldowns()
}

func statusClass(statusCode int) string {
	if statusCode < 100 || statusCode > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", statusCode/100)
}
