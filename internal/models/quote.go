// Package models - Stock quote entities and symbol validation.
// This file handles the core quote snapshot model and ticker symbol rules.
//
// Symbol Design Principles:
// - Symbols are normalized to upper case before any lookup or storage
// - Strict character set validation to prevent injection into upstream URLs
// - Support for index (^GSPC), class-share (BRK.B) and FX (EURUSD=X) notation
// - Length capped to keep cache keys and URLs bounded
package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// symbolPattern accepts exchange tickers, index symbols and FX pairs after
// normalization: leading alphanumeric or caret, then up to 11 of [A-Z0-9.^=-].
var symbolPattern = regexp.MustCompile(`^[A-Z0-9^][A-Z0-9.^=\-]{0,11}$`)

// Quote represents a point-in-time market snapshot for a single symbol.
//
// Design Rationale:
// - Mirrors the upstream chart meta block so nothing is lost in translation
// - Change/ChangePercent are derived once at construction, not per render
// - MarketTime is the exchange timestamp, FetchedAt is our observation time;
//   the two differ outside trading hours and matter for staleness decisions
type Quote struct {
	Symbol        string    `json:"symbol"`                   // Normalized ticker symbol
	Currency      string    `json:"currency,omitempty"`       // ISO currency of the price
	Exchange      string    `json:"exchange,omitempty"`       // Full exchange name
	Price         float64   `json:"price"`                    // Regular market price
	PreviousClose float64   `json:"previous_close,omitempty"` // Prior session close
	Change        float64   `json:"change"`                   // Price - PreviousClose
	ChangePercent float64   `json:"change_percent"`           // Change relative to previous close
	DayHigh       float64   `json:"day_high,omitempty"`       // Session high
	DayLow        float64   `json:"day_low,omitempty"`        // Session low
	Volume        int64     `json:"volume,omitempty"`         // Regular market volume
	MarketTime    time.Time `json:"market_time"`              // Exchange quote timestamp
	FetchedAt     time.Time `json:"fetched_at"`               // When stockd observed the quote
}

// CachedQuote wraps a quote with its cache lifetime. Expired entries are
// still readable so the service can serve stale data when the upstream
// provider is unavailable.
type CachedQuote struct {
	Quote     Quote     `json:"quote"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewQuote creates a quote snapshot and derives its change fields.
func NewQuote(symbol string, price, previousClose float64, marketTime time.Time) *Quote {
	q := &Quote{
		Symbol:        NormalizeSymbol(symbol),
		Price:         price,
		PreviousClose: previousClose,
		MarketTime:    marketTime,
		FetchedAt:     time.Now().UTC(),
	}
	q.DeriveChange()
	return q
}

// DeriveChange recomputes Change and ChangePercent from the close fields.
func (q *Quote) DeriveChange() {
	q.Change = q.Price - q.PreviousClose
	if q.PreviousClose != 0 {
		q.ChangePercent = q.Change / q.PreviousClose * 100
	} else {
		q.ChangePercent = 0
	}
}

func (q *Quote) Validate() error {
	if err := ValidateSymbol(q.Symbol); err != nil {
		return err
	}

	if q.Price < 0 {
		return errors.New("price cannot be negative")
	}

	if q.Volume < 0 {
		return errors.New("volume cannot be negative")
	}

	if q.MarketTime.IsZero() {
		return errors.New("market time cannot be zero")
	}

	return nil
}

// IsExpired reports whether the cache entry's lifetime has passed.
func (cq *CachedQuote) IsExpired(now time.Time) bool {
	return now.After(cq.ExpiresAt)
}

// NormalizeSymbol trims whitespace and upper-cases a raw ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidateSymbol checks a normalized symbol against the accepted pattern.
func ValidateSymbol(symbol string) error {
	if symbol == "" {
		return errors.New("symbol is required")
	}

	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("invalid symbol: %s", symbol)
	}

	return nil
}
