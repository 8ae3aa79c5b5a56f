package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	assert.Equal(t, "AAPL", NormalizeSymbol("  aapl "))
	assert.Equal(t, "BRK.B", NormalizeSymbol("brk.b"))
	assert.Equal(t, "EURUSD=X", NormalizeSymbol("eurusd=x"))
}

func TestValidateSymbol(t *testing.T) {
	valid := []string{"A", "AAPL", "BRK.B", "^GSPC", "EURUSD=X", "BTC-USD", "7203.T"}
	for _, s := range valid {
		assert.NoError(t, ValidateSymbol(s), "symbol %s should be valid", s)
	}

	invalid := []string{"", "aapl", "AAPL ", "AAPL;DROP", "ABCDEFGHIJKLM", "A/B"}
	for _, s := range invalid {
		assert.Error(t, ValidateSymbol(s), "symbol %q should be invalid", s)
	}
}

func TestNewQuote_DerivesChange(t *testing.T) {
	marketTime := time.Date(2026, 2, 20, 21, 0, 0, 0, time.UTC)
	quote := NewQuote("aapl", 105, 100, marketTime)

	require.NotNil(t, quote)
	assert.Equal(t, "AAPL", quote.Symbol)
	assert.InDelta(t, 5.0, quote.Change, 1e-9)
	assert.InDelta(t, 5.0, quote.ChangePercent, 1e-9)
	assert.False(t, quote.FetchedAt.IsZero())
}

func TestQuote_DeriveChange_ZeroPreviousClose(t *testing.T) {
	quote := Quote{Symbol: "AAPL", Price: 10}
	quote.DeriveChange()

	assert.InDelta(t, 10.0, quote.Change, 1e-9)
	assert.Zero(t, quote.ChangePercent)
}

func TestQuote_Validate(t *testing.T) {
	marketTime := time.Date(2026, 2, 20, 21, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		quote       Quote
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid",
			quote:       Quote{Symbol: "AAPL", Price: 231.5, MarketTime: marketTime},
			expectError: false,
		},
		{
			name:        "negative price",
			quote:       Quote{Symbol: "AAPL", Price: -1, MarketTime: marketTime},
			expectError: true,
			errorMsg:    "price cannot be negative",
		},
		{
			name:        "zero market time",
			quote:       Quote{Symbol: "AAPL", Price: 231.5},
			expectError: true,
			errorMsg:    "market time cannot be zero",
		},
		{
			name:        "bad symbol",
			quote:       Quote{Symbol: "aapl", Price: 231.5, MarketTime: marketTime},
			expectError: true,
			errorMsg:    "invalid symbol",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.quote.Validate()

			if tt.expectError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCachedQuote_IsExpired(t *testing.T) {
	now := time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)
	entry := CachedQuote{
		FetchedAt: now.Add(-10 * time.Minute),
		ExpiresAt: now.Add(-5 * time.Minute),
	}

	assert.True(t, entry.IsExpired(now))
	assert.False(t, entry.IsExpired(now.Add(-6*time.Minute)))
}
