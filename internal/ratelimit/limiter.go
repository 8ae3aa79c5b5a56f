// Package ratelimit paces traffic in both directions of the service.
//
// Outbound, AdaptiveLimiter spaces requests to the upstream market data
// API per endpoint, imposes a cooldown after upstream 429 rejections and
// downgrades the shared pacing strategy one step per rejection.
// RetryWithBackoff wraps upstream operations with classified,
// exponentially backed-off retries.
//
// Inbound, ClientLimiter applies per-client token buckets to the
// service's own HTTP API, with middleware that sets standard rate limit
// response headers.
package ratelimit

import "time"

// Limiter is the inbound rate limiting contract. Implementations must be
// safe for concurrent use.
type Limiter interface {
	// Allow checks whether a request identified by key should be
	// admitted, returning rate information for response headers.
	Allow(key string) (allowed bool, info Info)

	// Close stops background goroutines and releases resources.
	Close()
}

// Info contains inbound rate limit state for populating response headers.
type Info struct {
	Limit      int           // Maximum requests per window
	Remaining  int           // Approximate tokens remaining
	ResetAt    time.Time     // When the bucket will be full again
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}
