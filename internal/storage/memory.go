package storage

import (
	"context"
	"sync"
	"time"

	"stockd/internal/models"
)

// MemoryStorage implements the Storage interface using in-memory data
// structures. This provider is ideal for development, testing, and
// scenarios where persistence across restarts is not required.
type MemoryStorage struct {
	mu           sync.RWMutex
	quotes       map[string]*models.CachedQuote   // keyed by symbol
	histories    map[string]*models.CachedHistory // keyed by symbol|range|interval
	apiKeys      map[string]*models.APIKey        // keyed by ID
	apiKeyHashes map[string]string                // hash -> ID
}

// NewMemoryStorage creates a new memory-based storage instance.
func NewMemoryStorage() (*MemoryStorage, error) {
	return &MemoryStorage{
		quotes:       make(map[string]*models.CachedQuote),
		histories:    make(map[string]*models.CachedHistory),
		apiKeys:      make(map[string]*models.APIKey),
		apiKeyHashes: make(map[string]string),
	}, nil
}

// GetQuote retrieves the cached quote for a symbol.
func (m *MemoryStorage) GetQuote(ctx context.Context, symbol string) (*models.CachedQuote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.quotes[symbol]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy to prevent external modification
	c := *entry
	return &c, nil
}

// SaveQuote stores or replaces the cached quote for a symbol.
func (m *MemoryStorage) SaveQuote(ctx context.Context, entry *models.CachedQuote) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *entry
	m.quotes[entry.Quote.Symbol] = &c
	return nil
}

// GetHistory retrieves a cached candle series.
func (m *MemoryStorage) GetHistory(ctx context.Context, symbol, timeRange, interval string) (*models.CachedHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.histories[historyKey(symbol, timeRange, interval)]
	if !ok {
		return nil, ErrNotFound
	}

	return copyHistory(entry), nil
}

// SaveHistory stores or replaces a cached candle series.
func (m *MemoryStorage) SaveHistory(ctx context.Context, entry *models.CachedHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := entry.History
	m.histories[historyKey(h.Symbol, h.Range, h.Interval)] = copyHistory(entry)
	return nil
}

// PruneExpired deletes cache entries whose expiry passed before cutoff.
func (m *MemoryStorage) PruneExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for symbol, entry := range m.quotes {
		if entry.ExpiresAt.Before(cutoff) {
			delete(m.quotes, symbol)
			removed++
		}
	}
	for key, entry := range m.histories {
		if entry.ExpiresAt.Before(cutoff) {
			delete(m.histories, key)
			removed++
		}
	}
	return removed, nil
}

// CreateAPIKey stores a new API key in memory.
func (m *MemoryStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.apiKeys[key.ID]; exists {
		return ErrAlreadyExists
	}
	if _, exists := m.apiKeyHashes[key.KeyHash]; exists {
		return ErrAlreadyExists
	}

	m.apiKeys[key.ID] = copyAPIKey(key)
	m.apiKeyHashes[key.KeyHash] = key.ID
	return nil
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
// Returns ErrNotFound if no matching key exists.
func (m *MemoryStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.apiKeyHashes[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAPIKey(m.apiKeys[id]), nil
}

// ListAPIKeys returns all API keys (both enabled and disabled).
func (m *MemoryStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.APIKey, 0, len(m.apiKeys))
	for _, k := range m.apiKeys {
		out = append(out, copyAPIKey(k))
	}
	return out, nil
}

// UpdateAPIKey replaces the mutable fields of an existing API key.
// Returns ErrNotFound if the key does not exist.
func (m *MemoryStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.apiKeys[key.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.KeyHash != key.KeyHash {
		delete(m.apiKeyHashes, existing.KeyHash)
		m.apiKeyHashes[key.KeyHash] = key.ID
	}
	m.apiKeys[key.ID] = copyAPIKey(key)
	return nil
}

// DeleteAPIKey permanently removes an API key by ID.
// Returns ErrNotFound if the key does not exist.
func (m *MemoryStorage) DeleteAPIKey(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.apiKeyHashes, k.KeyHash)
	delete(m.apiKeys, id)
	return nil
}

// Ping verifies the storage backend is reachable and operational.
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close clears all stored data.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.quotes = make(map[string]*models.CachedQuote)
	m.histories = make(map[string]*models.CachedHistory)
	m.apiKeys = make(map[string]*models.APIKey)
	m.apiKeyHashes = make(map[string]string)
	return nil
}

// copyHistory deep-copies a cached series; the points slice must not be
// shared with callers.
func copyHistory(entry *models.CachedHistory) *models.CachedHistory {
	c := *entry
	c.History.Points = append([]models.PricePoint(nil), entry.History.Points...)
	return &c
}

// copyAPIKey deep-copies a key; the permissions slice must not be shared
// with callers.
func copyAPIKey(key *models.APIKey) *models.APIKey {
	c := *key
	c.Permissions = append([]string(nil), key.Permissions...)
	return &c
}
