// Package models - Price history series and range/interval vocabulary.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Supported history ranges, matching the upstream chart API vocabulary.
const (
	RangeOneDay     = "1d"
	RangeFiveDays   = "5d"
	RangeOneMonth   = "1mo"
	RangeThreeMonth = "3mo"
	RangeSixMonth   = "6mo"
	RangeOneYear    = "1y"
	RangeFiveYears  = "5y"
	RangeMax        = "max"
)

// Supported sampling intervals.
const (
	IntervalFiveMinutes    = "5m"
	IntervalFifteenMinutes = "15m"
	IntervalOneHour        = "1h"
	IntervalOneDay         = "1d"
	IntervalOneWeek        = "1wk"
	IntervalOneMonth       = "1mo"
)

var SupportedRanges = []string{
	RangeOneDay,
	RangeFiveDays,
	RangeOneMonth,
	RangeThreeMonth,
	RangeSixMonth,
	RangeOneYear,
	RangeFiveYears,
	RangeMax,
}

var SupportedIntervals = []string{
	IntervalFiveMinutes,
	IntervalFifteenMinutes,
	IntervalOneHour,
	IntervalOneDay,
	IntervalOneWeek,
	IntervalOneMonth,
}

// PricePoint is a single OHLCV candle.
type PricePoint struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// History is an ordered candle series for one symbol at one range/interval.
// Points are ordered oldest first, the order the upstream delivers them.
type History struct {
	Symbol   string       `json:"symbol"`
	Currency string       `json:"currency,omitempty"`
	Range    string       `json:"range"`
	Interval string       `json:"interval"`
	Points   []PricePoint `json:"points"`
}

// CachedHistory wraps a history series with its cache lifetime.
type CachedHistory struct {
	History   History   `json:"history"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *History) Validate() error {
	if err := ValidateSymbol(h.Symbol); err != nil {
		return err
	}

	if !IsValidRange(h.Range) {
		return fmt.Errorf("invalid range: %s", h.Range)
	}

	if !IsValidInterval(h.Interval) {
		return fmt.Errorf("invalid interval: %s", h.Interval)
	}

	return nil
}

// Closes extracts the close column, skipping zero-valued gap candles the
// upstream emits for halted sessions.
func (h *History) Closes() []float64 {
	closes := make([]float64, 0, len(h.Points))
	for _, p := range h.Points {
		if p.Close == 0 {
			continue
		}
		closes = append(closes, p.Close)
	}
	return closes
}

// IsExpired reports whether the cache entry's lifetime has passed.
func (ch *CachedHistory) IsExpired(now time.Time) bool {
	return now.After(ch.ExpiresAt)
}

func IsValidRange(r string) bool {
	for _, v := range SupportedRanges {
		if r == v {
			return true
		}
	}
	return false
}

func IsValidInterval(i string) bool {
	for _, v := range SupportedIntervals {
		if i == v {
			return true
		}
	}
	return false
}

// ValidateRangeInterval rejects combinations the upstream refuses: intraday
// intervals are only available for ranges up to six months.
func ValidateRangeInterval(r, interval string) error {
	if !IsValidRange(r) {
		return fmt.Errorf("invalid range: %s", r)
	}

	if !IsValidInterval(interval) {
		return fmt.Errorf("invalid interval: %s", interval)
	}

	if isIntradayInterval(interval) && isLongRange(r) {
		return errors.New("intraday intervals are limited to ranges of six months or less")
	}

	return nil
}

func isIntradayInterval(interval string) bool {
	switch interval {
	case IntervalFiveMinutes, IntervalFifteenMinutes, IntervalOneHour:
		return true
	}
	return false
}

func isLongRange(r string) bool {
	switch r {
	case RangeOneYear, RangeFiveYears, RangeMax:
		return true
	}
	return false
}
