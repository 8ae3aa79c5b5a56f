package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucket pairs a client's token bucket with its last access time so the
// eviction loop can drop idle clients.
type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter rate limits inbound callers with one token bucket per
// client key, backed by golang.org/x/time/rate. Clients idle for longer
// than staleAfter are evicted by a background goroutine.
type ClientLimiter struct {
	perMinute       int
	refill          rate.Limit
	burst           int
	cleanupInterval time.Duration
	staleAfter      time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	done      chan struct{}
	closeOnce sync.Once
}

// NewClientLimiter creates a limiter admitting requestsPerMinute per
// client with the given burst. The eviction loop runs every
// cleanupInterval and drops clients idle for twice that long.
func NewClientLimiter(requestsPerMinute, burst int, cleanupInterval time.Duration) *ClientLimiter {
	l := &ClientLimiter{
		perMinute:       requestsPerMinute,
		refill:          rate.Every(time.Minute / time.Duration(requestsPerMinute)),
		burst:           burst,
		cleanupInterval: cleanupInterval,
		staleAfter:      2 * cleanupInterval,
		buckets:         make(map[string]*bucket),
		done:            make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

// Allow checks whether a request from the given client key should be
// admitted.
func (l *ClientLimiter) Allow(key string) (bool, Info) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.refill, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	allowed := b.lim.Allow()

	now := time.Now()
	tokens := b.lim.TokensAt(now)
	info := Info{
		Limit:     l.perMinute,
		Remaining: int(math.Max(0, math.Floor(tokens))),
		ResetAt:   l.fullAt(now, tokens),
	}
	if !allowed {
		// Time until the next token becomes available
		r := b.lim.Reserve()
		info.RetryAfter = r.Delay()
		r.Cancel()
	}
	return allowed, info
}

// fullAt estimates when a bucket holding tokens at now refills completely.
func (l *ClientLimiter) fullAt(now time.Time, tokens float64) time.Time {
	missing := float64(l.burst) - tokens
	if missing <= 0 {
		return now
	}
	return now.Add(time.Duration(missing / float64(l.refill) * float64(time.Second)))
}

// Close stops the eviction goroutine. Safe to call more than once.
func (l *ClientLimiter) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}

func (l *ClientLimiter) evictLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evictStale()
		}
	}
}

func (l *ClientLimiter) evictStale() {
	cutoff := time.Now().Add(-l.staleAfter)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}
