package models

import "context"

type contextKey int

const apiKeyContextKey contextKey = iota

// ContextWithAPIKey returns a context carrying the authenticated API key.
// Set by the auth middleware and read by handlers and the rate limiter.
func ContextWithAPIKey(ctx context.Context, key *APIKey) context.Context {
	return context.WithValue(ctx, apiKeyContextKey, key)
}

// APIKeyFromContext returns the authenticated API key, if any.
func APIKeyFromContext(ctx context.Context) (*APIKey, bool) {
	key, ok := ctx.Value(apiKeyContextKey).(*APIKey)
	return key, ok && key != nil
}
