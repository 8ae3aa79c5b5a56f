package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stockd/internal/models"
)

func newSQLiteTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	storage, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create SQLite storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestSQLiteStorage(t *testing.T) {
	storage := newSQLiteTestStore(t)
	ctx := context.Background()

	t.Run("Quote Round Trip", func(t *testing.T) {
		_, err := storage.GetQuote(ctx, "AAPL")
		if err != ErrNotFound {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}

		entry := createTestQuote("AAPL", 189.5)
		if err := storage.SaveQuote(ctx, entry); err != nil {
			t.Fatalf("Failed to save quote: %v", err)
		}

		got, err := storage.GetQuote(ctx, "AAPL")
		if err != nil {
			t.Fatalf("Failed to get quote: %v", err)
		}
		if got.Quote.Symbol != "AAPL" {
			t.Errorf("Expected symbol 'AAPL', got '%s'", got.Quote.Symbol)
		}
		if got.Quote.Price != 189.5 {
			t.Errorf("Expected price 189.5, got %v", got.Quote.Price)
		}
		if got.Quote.Change != entry.Quote.Change {
			t.Errorf("Expected change %v, got %v", entry.Quote.Change, got.Quote.Change)
		}
		if got.Quote.Volume != entry.Quote.Volume {
			t.Errorf("Expected volume %d, got %d", entry.Quote.Volume, got.Quote.Volume)
		}
		if !got.Quote.MarketTime.Equal(entry.Quote.MarketTime) {
			t.Errorf("Expected market time %v, got %v", entry.Quote.MarketTime, got.Quote.MarketTime)
		}
		if !got.ExpiresAt.Equal(entry.ExpiresAt) {
			t.Errorf("Expected expires at %v, got %v", entry.ExpiresAt, got.ExpiresAt)
		}
	})

	t.Run("Quote Overwrite", func(t *testing.T) {
		if err := storage.SaveQuote(ctx, createTestQuote("MSFT", 410.0)); err != nil {
			t.Fatalf("Failed to save quote: %v", err)
		}
		if err := storage.SaveQuote(ctx, createTestQuote("MSFT", 415.5)); err != nil {
			t.Fatalf("Failed to overwrite quote: %v", err)
		}

		got, err := storage.GetQuote(ctx, "MSFT")
		if err != nil {
			t.Fatalf("Failed to get quote: %v", err)
		}
		if got.Quote.Price != 415.5 {
			t.Errorf("Expected price 415.5, got %v", got.Quote.Price)
		}
	})

	t.Run("History Round Trip", func(t *testing.T) {
		_, err := storage.GetHistory(ctx, "AAPL", "1mo", "1d")
		if err != ErrNotFound {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}

		entry := createTestHistory("AAPL", "1mo", "1d")
		if err := storage.SaveHistory(ctx, entry); err != nil {
			t.Fatalf("Failed to save history: %v", err)
		}

		got, err := storage.GetHistory(ctx, "AAPL", "1mo", "1d")
		if err != nil {
			t.Fatalf("Failed to get history: %v", err)
		}
		if got.History.Range != "1mo" || got.History.Interval != "1d" {
			t.Errorf("Unexpected range/interval: %s/%s", got.History.Range, got.History.Interval)
		}
		if len(got.History.Points) != 3 {
			t.Fatalf("Expected 3 points, got %d", len(got.History.Points))
		}
		if got.History.Points[2].Close != 102 {
			t.Errorf("Expected last close 102, got %v", got.History.Points[2].Close)
		}
		if !got.History.Points[0].Time.Equal(entry.History.Points[0].Time) {
			t.Errorf("Expected first point time %v, got %v",
				entry.History.Points[0].Time, got.History.Points[0].Time)
		}

		// Different range/interval is a separate row.
		_, err = storage.GetHistory(ctx, "AAPL", "1y", "1d")
		if err != ErrNotFound {
			t.Errorf("Expected ErrNotFound for other range, got %v", err)
		}
	})

	t.Run("Expired Entries Remain Readable", func(t *testing.T) {
		stale := createTestQuote("STALE", 10)
		stale.ExpiresAt = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
		if err := storage.SaveQuote(ctx, stale); err != nil {
			t.Fatalf("Failed to save quote: %v", err)
		}

		got, err := storage.GetQuote(ctx, "STALE")
		if err != nil {
			t.Fatalf("Expected expired quote to be readable: %v", err)
		}
		if !got.IsExpired(time.Now()) {
			t.Error("Expected entry to report expired")
		}
	})

	t.Run("Prune Expired", func(t *testing.T) {
		past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

		old := createTestQuote("PRUNE1", 1)
		old.ExpiresAt = past
		if err := storage.SaveQuote(ctx, old); err != nil {
			t.Fatalf("Failed to save quote: %v", err)
		}
		oldHist := createTestHistory("PRUNE1", "1mo", "1d")
		oldHist.ExpiresAt = past
		if err := storage.SaveHistory(ctx, oldHist); err != nil {
			t.Fatalf("Failed to save history: %v", err)
		}
		if err := storage.SaveQuote(ctx, createTestQuote("KEEP", 2)); err != nil {
			t.Fatalf("Failed to save quote: %v", err)
		}

		removed, err := storage.PruneExpired(ctx, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC))
		if err != nil {
			t.Fatalf("Failed to prune: %v", err)
		}
		// STALE from the previous subtest is expired too.
		if removed != 3 {
			t.Errorf("Expected 3 rows pruned, got %d", removed)
		}

		if _, err := storage.GetQuote(ctx, "PRUNE1"); err != ErrNotFound {
			t.Errorf("Expected pruned quote to be gone, got %v", err)
		}
		if _, err := storage.GetQuote(ctx, "KEEP"); err != nil {
			t.Errorf("Live quote should survive pruning: %v", err)
		}
	})

	t.Run("API Key CRUD", func(t *testing.T) {
		raw, err := models.GenerateAPIKey()
		if err != nil {
			t.Fatalf("Failed to generate key: %v", err)
		}
		key := models.NewAPIKey(models.NewKeyID(), "ci", raw, []string{"read", "write"})

		if err := storage.CreateAPIKey(ctx, key); err != nil {
			t.Fatalf("Failed to create api key: %v", err)
		}
		if err := storage.CreateAPIKey(ctx, key); err != ErrAlreadyExists {
			t.Errorf("Expected ErrAlreadyExists, got %v", err)
		}

		got, err := storage.GetAPIKeyByHash(ctx, key.KeyHash)
		if err != nil {
			t.Fatalf("Failed to get api key: %v", err)
		}
		if got.Name != "ci" {
			t.Errorf("Expected name 'ci', got '%s'", got.Name)
		}
		if len(got.Permissions) != 2 || got.Permissions[0] != "read" {
			t.Errorf("Unexpected permissions: %v", got.Permissions)
		}
		if !got.Enabled {
			t.Error("Expected key to be enabled")
		}

		keys, err := storage.ListAPIKeys(ctx)
		if err != nil {
			t.Fatalf("Failed to list api keys: %v", err)
		}
		if len(keys) != 1 {
			t.Errorf("Expected 1 key, got %d", len(keys))
		}

		key.Name = "ci-updated"
		key.Enabled = false
		if err := storage.UpdateAPIKey(ctx, key); err != nil {
			t.Fatalf("Failed to update api key: %v", err)
		}
		got, err = storage.GetAPIKeyByHash(ctx, key.KeyHash)
		if err != nil {
			t.Fatalf("Failed to get api key: %v", err)
		}
		if got.Name != "ci-updated" || got.Enabled {
			t.Errorf("Update not applied: name=%s enabled=%v", got.Name, got.Enabled)
		}

		if err := storage.DeleteAPIKey(ctx, key.ID); err != nil {
			t.Fatalf("Failed to delete api key: %v", err)
		}
		if _, err := storage.GetAPIKeyByHash(ctx, key.KeyHash); err != ErrNotFound {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
		if err := storage.DeleteAPIKey(ctx, key.ID); err != ErrNotFound {
			t.Errorf("Expected ErrNotFound for second delete, got %v", err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := storage.Ping(ctx); err != nil {
			t.Errorf("Ping should succeed: %v", err)
		}
	})
}

func TestSQLiteStorage_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	storage, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create SQLite storage: %v", err)
	}
	if err := storage.SaveQuote(ctx, createTestQuote("AAPL", 189.5)); err != nil {
		t.Fatalf("Failed to save quote: %v", err)
	}
	if err := storage.Close(); err != nil {
		t.Fatalf("Failed to close storage: %v", err)
	}

	reopened, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen SQLite storage: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetQuote(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Failed to get quote after reopen: %v", err)
	}
	if got.Quote.Price != 189.5 {
		t.Errorf("Expected price 189.5, got %v", got.Quote.Price)
	}
}

func TestSQLiteStorageErrors(t *testing.T) {
	t.Run("Empty DSN", func(t *testing.T) {
		_, err := NewSQLiteStorage("")
		if err == nil {
			t.Error("Expected error with empty DSN")
		}
	})

	t.Run("Database Creation", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "created.db")

		storage, err := NewSQLiteStorage(dbPath)
		if err != nil {
			t.Fatalf("SQLite should create database file: %v", err)
		}
		storage.Close()

		// Check if file was created
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("Database file should have been created")
		}
	})
}
