package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"stockd/internal/models"
)

// jsonCacheTTL bounds how long the in-memory copy of the file is trusted
// before the file's modification time is checked again.
const jsonCacheTTL = 5 * time.Minute

// JSONStorage implements the Storage interface using a JSON file for
// persistence. It keeps an in-memory cache for performance and supports
// concurrent access.
type JSONStorage struct {
	filePath     string
	mu           sync.RWMutex
	data         *jsonData
	lastModified time.Time
	cacheExpiry  time.Time
}

// jsonData is the on-disk document layout.
type jsonData struct {
	Quotes      []*models.CachedQuote   `json:"quotes"`
	Histories   []*models.CachedHistory `json:"histories"`
	APIKeys     []*models.APIKey        `json:"api_keys"`
	LastUpdated time.Time               `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-file-backed storage instance.
func NewJSONStorage(path string) (*JSONStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	storage := &JSONStorage{filePath: path}

	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist.
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		empty := &jsonData{
			Quotes:    []*models.CachedQuote{},
			Histories: []*models.CachedHistory{},
			APIKeys:   []*models.APIKey{},
		}
		return j.saveData(empty)
	}
	return nil
}

// loadData loads data from the JSON file with caching.
// It uses double-checked locking: a fast read-lock path for cache hits,
// and a write-lock slow path with re-validation to prevent TOCTOU races.
func (j *JSONStorage) loadData() error {
	// Fast path: cache is still valid.
	j.mu.RLock()
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		j.mu.RUnlock()
		return nil
	}
	j.mu.RUnlock()

	// Slow path: acquire write lock and re-validate before doing any I/O.
	j.mu.Lock()
	defer j.mu.Unlock()

	// Another goroutine may have loaded while we waited for the write lock.
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		return nil
	}

	info, err := os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	// If the file hasn't changed, extend the cache and return.
	if j.data != nil && !info.ModTime().After(j.lastModified) {
		j.cacheExpiry = time.Now().Add(jsonCacheTTL)
		return nil
	}

	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var data jsonData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	j.data = &data
	j.lastModified = info.ModTime()
	j.cacheExpiry = time.Now().Add(jsonCacheTTL)
	return nil
}

// saveData writes the document to disk. Caller must hold the write lock
// except during construction.
func (j *JSONStorage) saveData(data *jsonData) error {
	data.LastUpdated = time.Now()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	// Write to a sibling temp file and rename it over the target so a
	// crash mid-write never leaves a torn document behind.
	tmp, err := os.CreateTemp(filepath.Dir(j.filePath), filepath.Base(j.filePath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(fileData); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to set temp file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), j.filePath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace file: %w", err)
	}

	return nil
}

// GetQuote retrieves the cached quote for a symbol.
func (j *JSONStorage) GetQuote(ctx context.Context, symbol string) (*models.CachedQuote, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, entry := range j.data.Quotes {
		if entry.Quote.Symbol == symbol {
			c := *entry
			return &c, nil
		}
	}

	return nil, ErrNotFound
}

// SaveQuote stores or replaces the cached quote for a symbol.
func (j *JSONStorage) SaveQuote(ctx context.Context, entry *models.CachedQuote) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	c := *entry
	for i, existing := range j.data.Quotes {
		if existing.Quote.Symbol == entry.Quote.Symbol {
			j.data.Quotes[i] = &c
			return j.saveData(j.data)
		}
	}

	j.data.Quotes = append(j.data.Quotes, &c)
	return j.saveData(j.data)
}

// GetHistory retrieves a cached candle series.
func (j *JSONStorage) GetHistory(ctx context.Context, symbol, timeRange, interval string) (*models.CachedHistory, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, entry := range j.data.Histories {
		h := entry.History
		if h.Symbol == symbol && h.Range == timeRange && h.Interval == interval {
			return copyHistory(entry), nil
		}
	}

	return nil, ErrNotFound
}

// SaveHistory stores or replaces a cached candle series.
func (j *JSONStorage) SaveHistory(ctx context.Context, entry *models.CachedHistory) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	c := copyHistory(entry)
	h := entry.History
	for i, existing := range j.data.Histories {
		eh := existing.History
		if eh.Symbol == h.Symbol && eh.Range == h.Range && eh.Interval == h.Interval {
			j.data.Histories[i] = c
			return j.saveData(j.data)
		}
	}

	j.data.Histories = append(j.data.Histories, c)
	return j.saveData(j.data)
}

// PruneExpired deletes cache entries whose expiry passed before cutoff.
func (j *JSONStorage) PruneExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := j.loadData(); err != nil {
		return 0, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	var removed int64

	quotes := j.data.Quotes[:0]
	for _, entry := range j.data.Quotes {
		if entry.ExpiresAt.Before(cutoff) {
			removed++
			continue
		}
		quotes = append(quotes, entry)
	}
	j.data.Quotes = quotes

	histories := j.data.Histories[:0]
	for _, entry := range j.data.Histories {
		if entry.ExpiresAt.Before(cutoff) {
			removed++
			continue
		}
		histories = append(histories, entry)
	}
	j.data.Histories = histories

	if removed == 0 {
		return 0, nil
	}
	return removed, j.saveData(j.data)
}

// CreateAPIKey stores a new API key.
func (j *JSONStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	for _, existing := range j.data.APIKeys {
		if existing.ID == key.ID || existing.KeyHash == key.KeyHash {
			return ErrAlreadyExists
		}
	}

	j.data.APIKeys = append(j.data.APIKeys, copyAPIKey(key))
	return j.saveData(j.data)
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
func (j *JSONStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	for _, key := range j.data.APIKeys {
		if key.KeyHash == hash {
			return copyAPIKey(key), nil
		}
	}

	return nil, ErrNotFound
}

// ListAPIKeys returns all API keys (both enabled and disabled).
func (j *JSONStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]*models.APIKey, 0, len(j.data.APIKeys))
	for _, key := range j.data.APIKeys {
		out = append(out, copyAPIKey(key))
	}
	return out, nil
}

// UpdateAPIKey replaces the mutable fields of an existing API key.
func (j *JSONStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	for i, existing := range j.data.APIKeys {
		if existing.ID == key.ID {
			j.data.APIKeys[i] = copyAPIKey(key)
			return j.saveData(j.data)
		}
	}

	return ErrNotFound
}

// DeleteAPIKey permanently removes an API key by ID.
func (j *JSONStorage) DeleteAPIKey(ctx context.Context, id string) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	for i, existing := range j.data.APIKeys {
		if existing.ID == id {
			j.data.APIKeys = append(j.data.APIKeys[:i], j.data.APIKeys[i+1:]...)
			return j.saveData(j.data)
		}
	}

	return ErrNotFound
}

// Ping verifies the storage backend is reachable and operational.
func (j *JSONStorage) Ping(_ context.Context) error {
	return nil
}

// Close drops the in-memory cache.
func (j *JSONStorage) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.data = nil
	j.cacheExpiry = time.Time{}
	return nil
}
