package storage

import (
	"context"
	"time"

	"stockd/internal/models"
)

// Storage is the persistence contract for cached market data and API
// keys. It can be implemented by different backends such as JSON files,
// SQLite or PostgreSQL.
//
// Cache reads return entries past their expiry as-is; callers decide
// whether an expired entry is still acceptable. Missing records are
// reported as ErrNotFound.
type Storage interface {
	// GetQuote retrieves the cached quote for a symbol.
	GetQuote(ctx context.Context, symbol string) (*models.CachedQuote, error)

	// SaveQuote stores or replaces the cached quote for a symbol.
	SaveQuote(ctx context.Context, entry *models.CachedQuote) error

	// GetHistory retrieves the cached candle series for a symbol at one
	// range/interval combination.
	GetHistory(ctx context.Context, symbol, timeRange, interval string) (*models.CachedHistory, error)

	// SaveHistory stores or replaces a cached candle series.
	SaveHistory(ctx context.Context, entry *models.CachedHistory) error

	// PruneExpired deletes cache entries whose expiry passed before
	// cutoff and reports how many were removed. API keys are never
	// pruned.
	PruneExpired(ctx context.Context, cutoff time.Time) (int64, error)

	// CreateAPIKey stores a new API key.
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)

	// ListAPIKeys returns all API keys, enabled or not.
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)

	// UpdateAPIKey replaces the mutable fields of an existing API key.
	UpdateAPIKey(ctx context.Context, key *models.APIKey) error

	// DeleteAPIKey permanently removes an API key by ID.
	DeleteAPIKey(ctx context.Context, id string) error

	// Ping verifies the backend is reachable and operational.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// historyKey identifies one cached series in map-backed implementations.
func historyKey(symbol, timeRange, interval string) string {
	return symbol + "|" + timeRange + "|" + interval
}
