package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Stats is a point-in-time snapshot of an AdaptiveLimiter.
// CooldownUntil lists every recorded deadline, including entries that
// expired but have not been swept by an Acquire or a reset yet.
type Stats struct {
	Strategy          Strategy
	RequestsPerMinute int
	TotalRequests     int64
	RequestCounts     map[string]int64
	CooldownUntil     map[string]time.Time

	activeCooldowns int
}

// ActiveCooldowns returns the number of endpoints whose cooldown
// deadline was still in the future when the snapshot was taken.
func (s Stats) ActiveCooldowns() int {
	return s.activeCooldowns
}

// AdaptiveLimiter paces outbound requests per endpoint and adapts when
// the upstream pushes back. Every admission is spaced at least one
// strategy interval after the previous admission for the same endpoint.
// A 429 outcome puts the offending endpoint in cooldown and downgrades
// the shared strategy one step; the strategy never upgrades on its own.
//
// Admissions are strictly ordered: a single gate serializes every
// Acquire call, waits included. Bookkeeping lives behind a separate
// mutex so RecordOutcome, Stats and the administrative operations never
// queue behind a sleeping caller.
type AdaptiveLimiter struct {
	cooldown      time.Duration
	backoffFactor float64
	maxAttempts   int

	gate *semaphore.Weighted

	mu          sync.Mutex
	strategy    Strategy
	lastRequest map[string]time.Time
	cooldowns   map[string]time.Time
	counts      map[string]int64
	total       int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customizes an AdaptiveLimiter.
type Option func(*AdaptiveLimiter)

// WithClock replaces the limiter's time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *AdaptiveLimiter) {
		l.now = now
	}
}

// WithSleep replaces the limiter's wait function. Used by tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *AdaptiveLimiter) {
		l.sleep = sleep
	}
}

// NewAdaptiveLimiter creates a limiter with the given configuration.
// Zero config fields fall back to DefaultConfig values.
func NewAdaptiveLimiter(cfg Config, opts ...Option) *AdaptiveLimiter {
	cfg = cfg.withDefaults()
	l := &AdaptiveLimiter{
		cooldown:      cfg.Cooldown,
		backoffFactor: cfg.BackoffFactor,
		maxAttempts:   cfg.MaxAttempts,
		gate:          semaphore.NewWeighted(1),
		strategy:      cfg.Strategy,
		lastRequest:   make(map[string]time.Time),
		cooldowns:     make(map[string]time.Time),
		counts:        make(map[string]int64),
		now:           time.Now,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Acquire blocks until a request to endpoint may be issued. An endpoint
// in cooldown waits out the remaining cooldown; the cooldown wait
// replaces the pacing wait for that call. Otherwise the call waits just
// long enough to keep at least one strategy interval between admissions.
// On admission the endpoint's last-request time and counters update.
//
// Cancellation returns ctx.Err() and leaves all pacing and cooldown
// state intact for the next caller.
func (l *AdaptiveLimiter) Acquire(ctx context.Context, endpoint string) error {
	if err := l.gate.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.gate.Release(1)

	waited := false
	for {
		l.mu.Lock()
		now := l.now()

		if until, ok := l.cooldowns[endpoint]; ok {
			remaining := until.Sub(now)
			if remaining <= 0 {
				delete(l.cooldowns, endpoint)
				if waited {
					// This caller slept out a live cooldown; that
					// wait subsumes the pacing wait.
					l.admit(endpoint, now)
					l.mu.Unlock()
					return nil
				}
				// Stale entry left over from an expired cooldown
				// nobody waited out. Sweep it and pace normally.
			} else {
				l.mu.Unlock()
				slog.Warn("Endpoint in cooldown, waiting",
					"endpoint", endpoint,
					"remaining", remaining,
				)
				if err := l.sleep(ctx, remaining); err != nil {
					return err
				}
				waited = true
				continue
			}
		}

		if last, ok := l.lastRequest[endpoint]; ok {
			if wait := l.strategy.minInterval() - now.Sub(last); wait > 0 {
				l.mu.Unlock()
				slog.Debug("Pacing request",
					"endpoint", endpoint,
					"wait", wait,
				)
				if err := l.sleep(ctx, wait); err != nil {
					return err
				}
				continue
			}
		}

		l.admit(endpoint, now)
		l.mu.Unlock()
		return nil
	}
}

// admit records an admission. Caller must hold mu.
func (l *AdaptiveLimiter) admit(endpoint string, now time.Time) {
	l.lastRequest[endpoint] = now
	l.counts[endpoint]++
	l.total++
}

// RecordOutcome tells the limiter how an upstream call for endpoint
// ended. A 429 status places the endpoint in cooldown and downgrades
// the shared strategy one step; every other status is a no-op.
func (l *AdaptiveLimiter) RecordOutcome(endpoint string, statusCode int) {
	if statusCode != http.StatusTooManyRequests {
		return
	}

	l.mu.Lock()
	until := l.now().Add(l.cooldown)
	l.cooldowns[endpoint] = until
	prev := l.strategy
	l.strategy = prev.Downgrade()
	next := l.strategy
	l.mu.Unlock()

	slog.Warn("Upstream rate limit hit",
		"endpoint", endpoint,
		"cooldown_until", until,
		"strategy", next,
		"downgraded", next != prev,
	)
}

// Stats returns a snapshot of the limiter. Cooldowns whose deadline has
// already passed still appear in the deadlines map until an Acquire
// sweeps them, but do not count as active.
func (l *AdaptiveLimiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	counts := make(map[string]int64, len(l.counts))
	for endpoint, n := range l.counts {
		counts[endpoint] = n
	}
	active := 0
	cooldowns := make(map[string]time.Time, len(l.cooldowns))
	for endpoint, until := range l.cooldowns {
		cooldowns[endpoint] = until
		if until.After(now) {
			active++
		}
	}

	return Stats{
		Strategy:          l.strategy,
		RequestsPerMinute: l.strategy.RequestsPerMinute(),
		TotalRequests:     l.total,
		RequestCounts:     counts,
		CooldownUntil:     cooldowns,
		activeCooldowns:   active,
	}
}

// Strategy returns the active pacing strategy.
func (l *AdaptiveLimiter) Strategy() Strategy {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.strategy
}

// SetStrategy overrides the active strategy, in either direction. This
// is the only path that can upgrade after automatic downgrades.
func (l *AdaptiveLimiter) SetStrategy(s Strategy) error {
	parsed, err := ParseStrategy(string(s))
	if err != nil {
		return err
	}

	l.mu.Lock()
	prev := l.strategy
	l.strategy = parsed
	l.mu.Unlock()

	if prev != parsed {
		slog.Info("Limiter strategy changed", "from", prev, "to", parsed)
	}
	return nil
}

// ResetCooldown clears the cooldown for one endpoint. Callers already
// waiting keep their computed wait; subsequent calls admit normally.
func (l *AdaptiveLimiter) ResetCooldown(endpoint string) {
	l.mu.Lock()
	_, had := l.cooldowns[endpoint]
	delete(l.cooldowns, endpoint)
	l.mu.Unlock()

	if had {
		slog.Info("Cooldown cleared", "endpoint", endpoint)
	}
}

// ResetCooldowns clears every cooldown.
func (l *AdaptiveLimiter) ResetCooldowns() {
	l.mu.Lock()
	n := len(l.cooldowns)
	l.cooldowns = make(map[string]time.Time)
	l.mu.Unlock()

	if n > 0 {
		slog.Info("All cooldowns cleared", "count", n)
	}
}
