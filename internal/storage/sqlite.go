package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"stockd/internal/models"
)

// schemaStatements bootstrap the SQLite database on startup. Each
// statement is idempotent so reopening an existing file is safe.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS quotes (
		symbol TEXT PRIMARY KEY,
		currency TEXT NOT NULL DEFAULT '',
		exchange TEXT NOT NULL DEFAULT '',
		price REAL NOT NULL,
		previous_close REAL NOT NULL DEFAULT 0,
		day_high REAL NOT NULL DEFAULT 0,
		day_low REAL NOT NULL DEFAULT 0,
		volume INTEGER NOT NULL DEFAULT 0,
		market_time INTEGER NOT NULL,
		quote_fetched_at INTEGER NOT NULL,
		fetched_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quotes_expires_at ON quotes(expires_at)`,
	`CREATE TABLE IF NOT EXISTS histories (
		symbol TEXT NOT NULL,
		time_range TEXT NOT NULL,
		time_interval TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT '',
		points BLOB NOT NULL,
		fetched_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		PRIMARY KEY (symbol, time_range, time_interval)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_histories_expires_at ON histories(expires_at)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		key_hash TEXT NOT NULL UNIQUE,
		prefix TEXT NOT NULL DEFAULT '',
		permissions TEXT NOT NULL DEFAULT '[]',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// SQLiteStorage implements the Storage interface on a SQLite database
// file using the pure-Go modernc.org/sqlite driver.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (creating if needed) the SQLite database the
// DSN points at and applies the schema.
func NewSQLiteStorage(dsn string) (*SQLiteStorage, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The driver serializes writers; a single connection avoids
	// SQLITE_BUSY errors under concurrent access.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return &SQLiteStorage{db: db}, nil
}

// GetQuote retrieves the cached quote for a symbol.
func (s *SQLiteStorage) GetQuote(ctx context.Context, symbol string) (*models.CachedQuote, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, currency, exchange, price, previous_close,
		       day_high, day_low, volume, market_time, quote_fetched_at,
		       fetched_at, expires_at
		FROM quotes WHERE symbol = ?`, symbol)

	var entry models.CachedQuote
	var marketTime, quoteFetchedAt, fetchedAt, expiresAt int64
	err := row.Scan(
		&entry.Quote.Symbol,
		&entry.Quote.Currency,
		&entry.Quote.Exchange,
		&entry.Quote.Price,
		&entry.Quote.PreviousClose,
		&entry.Quote.DayHigh,
		&entry.Quote.DayLow,
		&entry.Quote.Volume,
		&marketTime,
		&quoteFetchedAt,
		&fetchedAt,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}

	entry.Quote.MarketTime = fromUnixNano(marketTime)
	entry.Quote.FetchedAt = fromUnixNano(quoteFetchedAt)
	entry.Quote.DeriveChange()
	entry.FetchedAt = fromUnixNano(fetchedAt)
	entry.ExpiresAt = fromUnixNano(expiresAt)
	return &entry, nil
}

// SaveQuote stores or replaces the cached quote for a symbol.
func (s *SQLiteStorage) SaveQuote(ctx context.Context, entry *models.CachedQuote) error {
	q := entry.Quote
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quotes (symbol, currency, exchange, price, previous_close,
			day_high, day_low, volume, market_time, quote_fetched_at,
			fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			currency = excluded.currency,
			exchange = excluded.exchange,
			price = excluded.price,
			previous_close = excluded.previous_close,
			day_high = excluded.day_high,
			day_low = excluded.day_low,
			volume = excluded.volume,
			market_time = excluded.market_time,
			quote_fetched_at = excluded.quote_fetched_at,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at`,
		q.Symbol, q.Currency, q.Exchange, q.Price, q.PreviousClose,
		q.DayHigh, q.DayLow, q.Volume, unixNano(q.MarketTime), unixNano(q.FetchedAt),
		unixNano(entry.FetchedAt), unixNano(entry.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to save quote: %w", err)
	}
	return nil
}

// GetHistory retrieves a cached candle series.
func (s *SQLiteStorage) GetHistory(ctx context.Context, symbol, timeRange, interval string) (*models.CachedHistory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT symbol, time_range, time_interval, currency, points,
		       fetched_at, expires_at
		FROM histories WHERE symbol = ? AND time_range = ? AND time_interval = ?`,
		symbol, timeRange, interval)

	var entry models.CachedHistory
	var points []byte
	var fetchedAt, expiresAt int64
	err := row.Scan(
		&entry.History.Symbol,
		&entry.History.Range,
		&entry.History.Interval,
		&entry.History.Currency,
		&points,
		&fetchedAt,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	entry.History.Points, err = unmarshalPoints(points)
	if err != nil {
		return nil, err
	}
	entry.FetchedAt = fromUnixNano(fetchedAt)
	entry.ExpiresAt = fromUnixNano(expiresAt)
	return &entry, nil
}

// SaveHistory stores or replaces a cached candle series.
func (s *SQLiteStorage) SaveHistory(ctx context.Context, entry *models.CachedHistory) error {
	points, err := marshalPoints(entry.History.Points)
	if err != nil {
		return err
	}

	h := entry.History
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO histories (symbol, time_range, time_interval, currency,
			points, fetched_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, time_range, time_interval) DO UPDATE SET
			currency = excluded.currency,
			points = excluded.points,
			fetched_at = excluded.fetched_at,
			expires_at = excluded.expires_at`,
		h.Symbol, h.Range, h.Interval, h.Currency,
		points, unixNano(entry.FetchedAt), unixNano(entry.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// PruneExpired deletes cache entries whose expiry passed before cutoff.
func (s *SQLiteStorage) PruneExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	for _, table := range []string{"quotes", "histories"} {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table), unixNano(cutoff))
		if err != nil {
			return removed, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return removed, fmt.Errorf("failed to count pruned rows: %w", err)
		}
		removed += n
	}
	return removed, nil
}

// CreateAPIKey stores a new API key.
func (s *SQLiteStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM api_keys WHERE id = ? OR key_hash = ?)",
		key.ID, key.KeyHash).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check existing api key: %w", err)
	}
	if exists {
		return ErrAlreadyExists
	}

	perms, err := marshalPermissions(key.Permissions)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, key_hash, prefix, permissions,
			enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.Name, key.KeyHash, key.Prefix, perms,
		key.Enabled, unixNano(key.CreatedAt), unixNano(key.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
func (s *SQLiteStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, key_hash, prefix, permissions, enabled,
		       created_at, updated_at
		FROM api_keys WHERE key_hash = ?`, hash)

	key, err := scanAPIKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return key, nil
}

// ListAPIKeys returns all API keys (both enabled and disabled).
func (s *SQLiteStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, key_hash, prefix, permissions, enabled,
		       created_at, updated_at
		FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := []*models.APIKey{}
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read api keys: %w", err)
	}
	return keys, nil
}

// UpdateAPIKey replaces the mutable fields of an existing API key.
func (s *SQLiteStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := marshalPermissions(key.Permissions)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET name = ?, key_hash = ?, prefix = ?, permissions = ?,
		    enabled = ?, updated_at = ?
		WHERE id = ?`,
		key.Name, key.KeyHash, key.Prefix, perms,
		key.Enabled, unixNano(key.UpdatedAt), key.ID)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAPIKey permanently removes an API key by ID.
func (s *SQLiteStorage) DeleteAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count deleted rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping verifies the storage backend is reachable and operational.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAPIKey(row scanner) (*models.APIKey, error) {
	var key models.APIKey
	var perms string
	var createdAt, updatedAt int64
	if err := row.Scan(&key.ID, &key.Name, &key.KeyHash, &key.Prefix,
		&perms, &key.Enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	permissions, err := unmarshalPermissions(perms)
	if err != nil {
		return nil, err
	}
	key.Permissions = permissions
	key.CreatedAt = fromUnixNano(createdAt)
	key.UpdatedAt = fromUnixNano(updatedAt)
	return &key, nil
}

// unixNano stores timestamps as integer nanoseconds; zero times map to 0.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
