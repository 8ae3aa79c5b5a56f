package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"stockd/internal/models"
)

// pgSchemaStatements bootstrap the PostgreSQL schema on startup. Each
// statement is idempotent so the service can share a database with
// earlier deployments.
var pgSchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS quotes (
		symbol TEXT PRIMARY KEY,
		currency TEXT,
		exchange TEXT,
		price DOUBLE PRECISION NOT NULL,
		previous_close DOUBLE PRECISION NOT NULL DEFAULT 0,
		day_high DOUBLE PRECISION NOT NULL DEFAULT 0,
		day_low DOUBLE PRECISION NOT NULL DEFAULT 0,
		volume BIGINT NOT NULL DEFAULT 0,
		market_time TIMESTAMPTZ,
		quote_fetched_at TIMESTAMPTZ,
		fetched_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quotes_expires_at ON quotes(expires_at)`,
	`CREATE TABLE IF NOT EXISTS histories (
		symbol TEXT NOT NULL,
		time_range TEXT NOT NULL,
		time_interval TEXT NOT NULL,
		currency TEXT,
		points JSONB NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (symbol, time_range, time_interval)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_histories_expires_at ON histories(expires_at)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		key_hash TEXT NOT NULL UNIQUE,
		prefix TEXT NOT NULL DEFAULT '',
		permissions JSONB NOT NULL DEFAULT '[]',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
}

// PostgresStorage implements the Storage interface on PostgreSQL using
// a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to PostgreSQL, verifies the connection
// and applies the schema. Pool sizing comes from the database config.
func NewPostgresStorage(cfg models.DatabaseConfig) (*PostgresStorage, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required for PostgreSQL storage")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	if cfg.ConnMaxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.ConnMaxIdleTime
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range pgSchemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	return &PostgresStorage{pool: pool}, nil
}

// GetQuote retrieves the cached quote for a symbol.
func (p *PostgresStorage) GetQuote(ctx context.Context, symbol string) (*models.CachedQuote, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT symbol, currency, exchange, price, previous_close,
		       day_high, day_low, volume, market_time, quote_fetched_at,
		       fetched_at, expires_at
		FROM quotes WHERE symbol = $1`, symbol)

	var entry models.CachedQuote
	var currency, exchange pgtype.Text
	var marketTime, quoteFetchedAt, fetchedAt, expiresAt pgtype.Timestamptz
	err := row.Scan(
		&entry.Quote.Symbol,
		&currency,
		&exchange,
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
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}

	entry.Quote.Currency = pgTextToString(currency)
	entry.Quote.Exchange = pgTextToString(exchange)
	entry.Quote.MarketTime = pgTimestamptzToTime(marketTime)
	entry.Quote.FetchedAt = pgTimestamptzToTime(quoteFetchedAt)
	entry.Quote.DeriveChange()
	entry.FetchedAt = pgTimestamptzToTime(fetchedAt)
	entry.ExpiresAt = pgTimestamptzToTime(expiresAt)
	return &entry, nil
}

// SaveQuote stores or replaces the cached quote for a symbol.
func (p *PostgresStorage) SaveQuote(ctx context.Context, entry *models.CachedQuote) error {
	q := entry.Quote
	_, err := p.pool.Exec(ctx, `
		INSERT INTO quotes (symbol, currency, exchange, price, previous_close,
			day_high, day_low, volume, market_time, quote_fetched_at,
			fetched_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (symbol) DO UPDATE SET
			currency = EXCLUDED.currency,
			exchange = EXCLUDED.exchange,
			price = EXCLUDED.price,
			previous_close = EXCLUDED.previous_close,
			day_high = EXCLUDED.day_high,
			day_low = EXCLUDED.day_low,
			volume = EXCLUDED.volume,
			market_time = EXCLUDED.market_time,
			quote_fetched_at = EXCLUDED.quote_fetched_at,
			fetched_at = EXCLUDED.fetched_at,
			expires_at = EXCLUDED.expires_at`,
		q.Symbol, stringToPgText(q.Currency), stringToPgText(q.Exchange),
		q.Price, q.PreviousClose, q.DayHigh, q.DayLow, q.Volume,
		timeToPgTimestamptz(q.MarketTime), timeToPgTimestamptz(q.FetchedAt),
		timeToPgTimestamptz(entry.FetchedAt), timeToPgTimestamptz(entry.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to save quote: %w", err)
	}
	return nil
}

// GetHistory retrieves a cached candle series.
func (p *PostgresStorage) GetHistory(ctx context.Context, symbol, timeRange, interval string) (*models.CachedHistory, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT symbol, time_range, time_interval, currency, points,
		       fetched_at, expires_at
		FROM histories WHERE symbol = $1 AND time_range = $2 AND time_interval = $3`,
		symbol, timeRange, interval)

	var entry models.CachedHistory
	var currency pgtype.Text
	var points []byte
	var fetchedAt, expiresAt pgtype.Timestamptz
	err := row.Scan(
		&entry.History.Symbol,
		&entry.History.Range,
		&entry.History.Interval,
		&currency,
		&points,
		&fetchedAt,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	entry.History.Currency = pgTextToString(currency)
	entry.History.Points, err = unmarshalPoints(points)
	if err != nil {
		return nil, err
	}
	entry.FetchedAt = pgTimestamptzToTime(fetchedAt)
	entry.ExpiresAt = pgTimestamptzToTime(expiresAt)
	return &entry, nil
}

// SaveHistory stores or replaces a cached candle series.
func (p *PostgresStorage) SaveHistory(ctx context.Context, entry *models.CachedHistory) error {
	points, err := marshalPoints(entry.History.Points)
	if err != nil {
		return err
	}

	h := entry.History
	_, err = p.pool.Exec(ctx, `
		INSERT INTO histories (symbol, time_range, time_interval, currency,
			points, fetched_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, time_range, time_interval) DO UPDATE SET
			currency = EXCLUDED.currency,
			points = EXCLUDED.points,
			fetched_at = EXCLUDED.fetched_at,
			expires_at = EXCLUDED.expires_at`,
		h.Symbol, h.Range, h.Interval, stringToPgText(h.Currency),
		points, timeToPgTimestamptz(entry.FetchedAt), timeToPgTimestamptz(entry.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// PruneExpired deletes cache entries whose expiry passed before cutoff.
func (p *PostgresStorage) PruneExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	for _, table := range []string{"quotes", "histories"} {
		tag, err := p.pool.Exec(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE expires_at < $1", table),
			timeToPgTimestamptz(cutoff))
		if err != nil {
			return removed, fmt.Errorf("failed to prune %s: %w", table, err)
		}
		removed += tag.RowsAffected()
	}
	return removed, nil
}

// CreateAPIKey stores a new API key.
func (p *PostgresStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	var exists bool
	err := p.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM api_keys WHERE id = $1 OR key_hash = $2)",
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

	_, err = p.pool.Exec(ctx, `
		INSERT INTO api_keys (id, name, key_hash, prefix, permissions,
			enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.Name, key.KeyHash, key.Prefix, []byte(perms),
		key.Enabled, timeToPgTimestamptz(key.CreatedAt), timeToPgTimestamptz(key.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
func (p *PostgresStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, name, key_hash, prefix, permissions, enabled,
		       created_at, updated_at
		FROM api_keys WHERE key_hash = $1`, hash)

	key, err := pgScanAPIKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return key, nil
}

// ListAPIKeys returns all API keys (both enabled and disabled).
func (p *PostgresStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name, key_hash, prefix, permissions, enabled,
		       created_at, updated_at
		FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	keys := []*models.APIKey{}
	for rows.Next() {
		key, err := pgScanAPIKey(rows)
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
func (p *PostgresStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := marshalPermissions(key.Permissions)
	if err != nil {
		return err
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE api_keys
		SET name = $1, key_hash = $2, prefix = $3, permissions = $4,
		    enabled = $5, updated_at = $6
		WHERE id = $7`,
		key.Name, key.KeyHash, key.Prefix, []byte(perms),
		key.Enabled, timeToPgTimestamptz(key.UpdatedAt), key.ID)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAPIKey permanently removes an API key by ID.
func (p *PostgresStorage) DeleteAPIKey(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, "DELETE FROM api_keys WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping verifies the storage backend is reachable and operational.
func (p *PostgresStorage) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the connection pool.
func (p *PostgresStorage) Close() error {
	p.pool.Close()
	return nil
}

func pgScanAPIKey(row scanner) (*models.APIKey, error) {
	var key models.APIKey
	var perms []byte
	var createdAt, updatedAt pgtype.Timestamptz
	if err := row.Scan(&key.ID, &key.Name, &key.KeyHash, &key.Prefix,
		&perms, &key.Enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	permissions, err := unmarshalPermissions(string(perms))
	if err != nil {
		return nil, err
	}
	key.Permissions = permissions
	key.CreatedAt = pgTimestamptzToTime(createdAt)
	key.UpdatedAt = pgTimestamptzToTime(updatedAt)
	return &key, nil
}
