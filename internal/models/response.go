// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - Rich error information with codes and details for debugging
// - Cache provenance (cached/stale flags) is always explicit
// - Helper methods for easy response construction
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"
)

// QuoteResponse wraps a quote with cache provenance.
//
// Provenance Strategy:
// - Cached tells the client the quote was served from storage
// - Stale additionally marks entries past their TTL, served because the
//   upstream provider was unavailable (graceful degradation)
// - FetchedAt lets clients judge freshness themselves
type QuoteResponse struct {
	Quote     Quote     `json:"quote"`
	Cached    bool      `json:"cached"`
	Stale     bool      `json:"stale,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

type HistoryResponse struct {
	History   History   `json:"history"`
	Cached    bool      `json:"cached"`
	Stale     bool      `json:"stale,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

type PredictionResponse struct {
	Prediction Prediction `json:"prediction"`
	Cached     bool       `json:"cached"` // True when the underlying history came from cache
}

// LimiterStatsResponse is the admin view of the outbound limiter.
type LimiterStatsResponse struct {
	Strategy          string               `json:"strategy"`
	RequestsPerMinute int                  `json:"requests_per_minute"`
	TotalRequests     int64                `json:"total_requests"`
	ActiveCooldowns   int                  `json:"active_cooldowns"`
	RequestCounts     map[string]int64     `json:"request_counts"`
	CooldownUntil     map[string]time.Time `json:"cooldown_until,omitempty"`
	Timestamp         time.Time            `json:"timestamp"`
}

type SetStrategyResponse struct {
	Strategy  string    `json:"strategy"`
	Message   string    `json:"message"`
	AppliedAt time.Time `json:"applied_at"`
}

type ResetCooldownsResponse struct {
	Endpoint string `json:"endpoint,omitempty"` // Empty when all cooldowns were reset
	Message  string `json:"message"`
}

// CreateKeyResponse returns the raw key exactly once; only its hash survives.
type CreateKeyResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"` // Shown only in this response
	Prefix    string    `json:"prefix"`
	CreatedAt time.Time `json:"created_at"`
}

type KeyInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Prefix      string    `json:"prefix"`
	Permissions []string  `json:"permissions"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ListKeysResponse struct {
	Keys       []KeyInfo `json:"keys"`
	TotalCount int       `json:"total_count"`
}

// ErrorResponse provides structured error information with debugging context.
//
// Error Handling Design:
// - Consistent error structure across all endpoints
// - Machine-readable error codes for programmatic handling
// - Human-readable messages for user interfaces
// - Details map for field-specific validation errors
// - Request ID for distributed tracing and support
// - Timestamps for debugging and audit trails
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

type ValidationErrorResponse struct {
	Error  string            `json:"error"`
	Errors map[string]string `json:"errors"`
}

// Health Status Constants
//
// Health Monitoring:
// - Healthy: All systems operational
// - Degraded: Partial functionality (some features may be slow/limited)
// - Unhealthy: Major issues affecting core functionality
// - Unknown: Health status cannot be determined
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
	StatusUnknown   = "unknown"   // Status indeterminate
)

// Standard HTTP Error Codes
//
// Error Code Strategy:
// - Upper-case with underscores for consistency
// - Maps to standard HTTP status codes
// - Machine-readable for client error handling
// - Extensible for service-specific errors
const (
	ErrorCodeNotFound           = "NOT_FOUND"            // 404: Resource doesn't exist
	ErrorCodeSymbolNotFound     = "SYMBOL_NOT_FOUND"     // 404: Unknown ticker symbol
	ErrorCodeBadRequest         = "BAD_REQUEST"          // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"      // 400: Invalid request data
	ErrorCodeValidation         = "VALIDATION_ERROR"     // 422: Input validation failed
	ErrorCodeInternalError      = "INTERNAL_ERROR"       // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"         // 401: Authentication required
	ErrorCodeForbidden          = "FORBIDDEN"            // 403: Permission denied
	ErrorCodeConflict           = "CONFLICT"             // 409: Resource conflict
	ErrorCodeRateLimited        = "RATE_LIMITED"         // 429: Client sent too many requests
	ErrorCodeUpstreamRateLimit  = "UPSTREAM_RATE_LIMIT"  // 502: Provider throttled us
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE"  // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewValidationErrorResponse(errors map[string]string) *ValidationErrorResponse {
	return &ValidationErrorResponse{
		Error:  "validation_error",
		Errors: errors,
	}
}

// NewQuoteResponse builds a response from a cache entry, deriving provenance
// from the entry's lifetime.
func NewQuoteResponse(entry *CachedQuote, cached bool, now time.Time) *QuoteResponse {
	return &QuoteResponse{
		Quote:     entry.Quote,
		Cached:    cached,
		Stale:     cached && entry.IsExpired(now),
		FetchedAt: entry.FetchedAt,
	}
}

func NewHistoryResponse(entry *CachedHistory, cached bool, now time.Time) *HistoryResponse {
	return &HistoryResponse{
		History:   entry.History,
		Cached:    cached,
		Stale:     cached && entry.IsExpired(now),
		FetchedAt: entry.FetchedAt,
	}
}

// FromAPIKey populates the public view of a stored key. The hash never
// leaves the server.
func (ki *KeyInfo) FromAPIKey(key *APIKey) {
	ki.ID = key.ID
	ki.Name = key.Name
	ki.Prefix = key.Prefix
	ki.Permissions = key.Permissions
	ki.Enabled = key.Enabled
	ki.CreatedAt = key.CreatedAt
	ki.UpdatedAt = key.UpdatedAt
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
