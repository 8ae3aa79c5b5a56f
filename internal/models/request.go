// Package models - API request types and input validation.
// This file defines all incoming API request structures with comprehensive validation.
//
// Validation Philosophy:
// - Fail fast with clear error messages for invalid input
// - Normalize input data for consistent processing (upper-case symbols, trimmed strings)
// - Validate business rules (symbol format, range/interval combinations)
// - Provide sensible defaults where appropriate
// - Separate validation from normalization for clear error reporting
package models

import (
	"errors"
	"fmt"
	"strings"
)

// QuoteRequest asks for the current market snapshot of one symbol.
type QuoteRequest struct {
	Symbol  string `json:"symbol" validate:"required"` // Ticker symbol
	Refresh bool   `json:"refresh,omitempty"`          // Bypass the cache when true
}

// HistoryRequest asks for a candle series.
//
// Range and interval follow the upstream chart API vocabulary; empty values
// are filled with defaults during normalization so handlers can bind query
// parameters directly.
type HistoryRequest struct {
	Symbol   string `json:"symbol" validate:"required"`
	Range    string `json:"range,omitempty"`    // Defaults to 1mo
	Interval string `json:"interval,omitempty"` // Defaults to 1d
}

// PredictionRequest asks for a trend estimate derived from daily history.
type PredictionRequest struct {
	Symbol      string `json:"symbol" validate:"required"`
	ShortWindow int    `json:"short_window,omitempty"` // Defaults to 5
	LongWindow  int    `json:"long_window,omitempty"`  // Defaults to 20
}

// SetStrategyRequest switches the outbound limiter pacing strategy.
type SetStrategyRequest struct {
	Strategy string `json:"strategy" validate:"required"`
}

// CreateKeyRequest registers a new API key (admin operation).
type CreateKeyRequest struct {
	Name        string   `json:"name" validate:"required"`
	Permissions []string `json:"permissions" validate:"required,min=1"`
}

func (r *QuoteRequest) Validate() error {
	return ValidateSymbol(r.Symbol)
}

func (r *QuoteRequest) Normalize() {
	r.Symbol = NormalizeSymbol(r.Symbol)
}

func (r *HistoryRequest) Validate() error {
	if err := ValidateSymbol(r.Symbol); err != nil {
		return err
	}

	return ValidateRangeInterval(r.Range, r.Interval)
}

func (r *HistoryRequest) Normalize() {
	r.Symbol = NormalizeSymbol(r.Symbol)
	r.Range = strings.ToLower(strings.TrimSpace(r.Range))
	r.Interval = strings.ToLower(strings.TrimSpace(r.Interval))

	if r.Range == "" {
		r.Range = RangeOneMonth
	}
	if r.Interval == "" {
		r.Interval = IntervalOneDay
	}
}

func (r *PredictionRequest) Validate() error {
	if err := ValidateSymbol(r.Symbol); err != nil {
		return err
	}

	if r.ShortWindow <= 0 {
		return errors.New("short_window must be positive")
	}

	if r.LongWindow <= r.ShortWindow {
		return fmt.Errorf("long_window must exceed short_window (%d)", r.ShortWindow)
	}

	return nil
}

func (r *PredictionRequest) Normalize() {
	r.Symbol = NormalizeSymbol(r.Symbol)

	if r.ShortWindow == 0 {
		r.ShortWindow = DefaultShortWindow
	}
	if r.LongWindow == 0 {
		r.LongWindow = DefaultLongWindow
	}
}

func (r *SetStrategyRequest) Validate() error {
	if strings.TrimSpace(r.Strategy) == "" {
		return errors.New("strategy is required")
	}
	return nil
}

func (r *SetStrategyRequest) Normalize() {
	r.Strategy = strings.ToLower(strings.TrimSpace(r.Strategy))
}

func (r *CreateKeyRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}

	if len(r.Permissions) == 0 {
		return errors.New("at least one permission must be specified")
	}

	for _, p := range r.Permissions {
		switch p {
		case "read", "write", "admin":
		default:
			return fmt.Errorf("invalid permission: %s", p)
		}
	}

	return nil
}

func (r *CreateKeyRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	for i, p := range r.Permissions {
		r.Permissions[i] = strings.ToLower(strings.TrimSpace(p))
	}
}
