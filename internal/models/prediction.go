// Package models - Naive trend prediction over recent close prices.
//
// The prediction is deliberately simple: crossing short/long simple moving
// averages for direction, a least-squares slope for the next-close estimate
// and the relative SMA spread as a confidence proxy. It is a heuristic, not
// financial advice, and is labeled as such in the API.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Trend direction constants.
const (
	TrendUp   = "up"
	TrendDown = "down"
	TrendFlat = "flat"
)

// Default SMA window sizes used by the prediction service.
const (
	DefaultShortWindow = 5
	DefaultLongWindow  = 20
)

// Prediction is the output of the trend heuristic for one symbol.
type Prediction struct {
	Symbol        string    `json:"symbol"`
	Direction     string    `json:"direction"`       // up, down or flat
	NextClose     float64   `json:"next_close"`      // Least-squares estimate for the next close
	Confidence    float64   `json:"confidence"`      // 0..1, relative SMA spread, capped
	ShortSMA      float64   `json:"short_sma"`
	LongSMA       float64   `json:"long_sma"`
	SampleSize    int       `json:"sample_size"`     // Number of closes the estimate saw
	BasedOnRange  string    `json:"based_on_range"`  // History range that fed the heuristic
	GeneratedAt   time.Time `json:"generated_at"`
	Disclaimer    string    `json:"disclaimer"`
}

// PredictionDisclaimer is attached to every prediction response.
const PredictionDisclaimer = "statistical trend estimate, not investment advice"

func (p *Prediction) Validate() error {
	if err := ValidateSymbol(p.Symbol); err != nil {
		return err
	}

	switch p.Direction {
	case TrendUp, TrendDown, TrendFlat:
	default:
		return fmt.Errorf("invalid trend direction: %s", p.Direction)
	}

	if p.Confidence < 0 || p.Confidence > 1 {
		return errors.New("confidence must be within [0, 1]")
	}

	if p.SampleSize < 0 {
		return errors.New("sample size cannot be negative")
	}

	return nil
}

// SMA computes the simple moving average of the trailing window of closes.
// It returns an error when fewer closes than the window are available.
func SMA(closes []float64, window int) (float64, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	if len(closes) < window {
		return 0, fmt.Errorf("need at least %d closes, have %d", window, len(closes))
	}

	var sum float64
	for _, c := range closes[len(closes)-window:] {
		sum += c
	}
	return sum / float64(window), nil
}

// LeastSquaresNext fits a line over the closes (x = 0..n-1) and evaluates it
// at x = n, giving a naive next-value estimate.
func LeastSquaresNext(closes []float64) (float64, error) {
	n := len(closes)
	if n < 2 {
		return 0, errors.New("need at least two closes for a trend line")
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range closes {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return closes[n-1], nil
	}

	slope := (fn*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / fn
	return intercept + slope*fn, nil
}
