// Package quotes implements the stock data business logic: cache-first
// quote and history lookups with upstream fetches on miss, stale fallback
// when the provider is unavailable, and a naive trend prediction built on
// top of daily history.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"stockd/internal/models"
	"stockd/internal/ratelimit"
	"stockd/internal/storage"
	"stockd/internal/upstream"
)

// Trend classification thresholds. A relative SMA spread below
// flatSpreadThreshold reads as sideways movement; confidence saturates
// once the spread reaches 1/confidenceScale (5%).
const (
	flatSpreadThreshold = 0.001
	confidenceScale     = 20.0
)

// Provider fetches market data from the upstream source.
// *upstream.Client implements it.
type Provider interface {
	FetchQuote(ctx context.Context, symbol string) (*models.Quote, error)
	FetchHistory(ctx context.Context, symbol, timeRange, interval string) (*models.History, error)
}

// Service handles quote, history and prediction business logic
type Service struct {
	storage  storage.Storage
	provider Provider

	mu    sync.RWMutex
	cache models.CacheConfig

	now func() time.Time
}

// NewService creates a new quote service over the given storage backend
// and upstream provider.
func NewService(storage storage.Storage, provider Provider, cache models.CacheConfig) *Service {
	return &Service{
		storage:  storage,
		provider: provider,
		cache:    cache,
		now:      time.Now,
	}
}

// SetCacheConfig swaps the cache settings. Used for config hot reload;
// requests already in flight finish under the old settings.
func (s *Service) SetCacheConfig(cfg models.CacheConfig) {
	s.mu.Lock()
	s.cache = cfg
	s.mu.Unlock()
}

func (s *Service) cacheConfig() models.CacheConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

// GetQuote returns the current market snapshot for a symbol, served from
// cache when fresh. On upstream failure an expired cache entry is served
// stale instead of erroring.
func (s *Service) GetQuote(ctx context.Context, req *models.QuoteRequest) (*models.QuoteResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewInvalidRequestError("invalid quote request", err)
	}

	now := s.now()
	cache := s.cacheConfig()

	// A stale entry is kept around as a fallback for upstream failures.
	var stale *models.CachedQuote
	if cache.Enabled && !req.Refresh {
		entry, err := s.storage.GetQuote(ctx, req.Symbol)
		switch {
		case err == nil:
			if !entry.IsExpired(now) {
				return models.NewQuoteResponse(entry, true, now), nil
			}
			stale = entry
		case !errors.Is(err, storage.ErrNotFound):
			slog.Warn("Quote cache read failed", "symbol", req.Symbol, "error", err)
		}
	}

	quote, err := s.provider.FetchQuote(ctx, req.Symbol)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, upstream.ErrSymbolNotFound) {
			return nil, NewSymbolNotFoundError(req.Symbol)
		}
		if stale != nil {
			slog.Warn("Serving stale quote, provider unavailable",
				"symbol", req.Symbol, "error", err)
			return models.NewQuoteResponse(stale, true, now), nil
		}
		return nil, upstreamError(fmt.Sprintf("quote for %s is temporarily unavailable", req.Symbol), err)
	}

	entry := &models.CachedQuote{
		Quote:     *quote,
		FetchedAt: quote.FetchedAt,
		ExpiresAt: now.Add(cache.QuoteTTL),
	}
	if cache.Enabled {
		// A failed cache write degrades the next request, not this one.
		if err := s.storage.SaveQuote(ctx, entry); err != nil {
			slog.Warn("Failed to cache quote", "symbol", req.Symbol, "error", err)
		}
	}

	return models.NewQuoteResponse(entry, false, now), nil
}

// GetHistory returns the candle series for a symbol over the requested
// range and interval, cache-first with the same stale fallback as GetQuote.
func (s *Service) GetHistory(ctx context.Context, req *models.HistoryRequest) (*models.HistoryResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewInvalidRequestError("invalid history request", err)
	}

	now := s.now()
	cache := s.cacheConfig()

	var stale *models.CachedHistory
	if cache.Enabled {
		entry, err := s.storage.GetHistory(ctx, req.Symbol, req.Range, req.Interval)
		switch {
		case err == nil:
			if !entry.IsExpired(now) {
				return models.NewHistoryResponse(entry, true, now), nil
			}
			stale = entry
		case !errors.Is(err, storage.ErrNotFound):
			slog.Warn("History cache read failed", "symbol", req.Symbol, "error", err)
		}
	}

	history, err := s.provider.FetchHistory(ctx, req.Symbol, req.Range, req.Interval)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, upstream.ErrSymbolNotFound) {
			return nil, NewSymbolNotFoundError(req.Symbol)
		}
		if stale != nil {
			slog.Warn("Serving stale history, provider unavailable",
				"symbol", req.Symbol, "range", req.Range, "interval", req.Interval, "error", err)
			return models.NewHistoryResponse(stale, true, now), nil
		}
		return nil, upstreamError(fmt.Sprintf("history for %s is temporarily unavailable", req.Symbol), err)
	}

	entry := &models.CachedHistory{
		History:   *history,
		FetchedAt: now,
		ExpiresAt: now.Add(cache.HistoryTTL),
	}
	if cache.Enabled {
		if err := s.storage.SaveHistory(ctx, entry); err != nil {
			slog.Warn("Failed to cache history", "symbol", req.Symbol, "error", err)
		}
	}

	return models.NewHistoryResponse(entry, false, now), nil
}

// GetPrediction derives a trend estimate from the trailing quarter of
// daily closes: crossing SMAs give the direction, a least-squares fit
// gives the next-close estimate.
func (s *Service) GetPrediction(ctx context.Context, req *models.PredictionRequest) (*models.PredictionResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewInvalidRequestError("invalid prediction request", err)
	}

	histResp, err := s.GetHistory(ctx, &models.HistoryRequest{
		Symbol:   req.Symbol,
		Range:    models.RangeThreeMonth,
		Interval: models.IntervalOneDay,
	})
	if err != nil {
		return nil, err
	}

	prediction, err := buildPrediction(req, &histResp.History, s.now().UTC())
	if err != nil {
		return nil, NewValidationError(
			fmt.Sprintf("not enough history for a %s prediction", req.Symbol), err)
	}

	return &models.PredictionResponse{
		Prediction: *prediction,
		Cached:     histResp.Cached,
	}, nil
}

// buildPrediction runs the SMA crossover heuristic over the close column.
func buildPrediction(req *models.PredictionRequest, history *models.History, generatedAt time.Time) (*models.Prediction, error) {
	closes := history.Closes()

	shortSMA, err := models.SMA(closes, req.ShortWindow)
	if err != nil {
		return nil, err
	}
	longSMA, err := models.SMA(closes, req.LongWindow)
	if err != nil {
		return nil, err
	}
	nextClose, err := models.LeastSquaresNext(closes)
	if err != nil {
		return nil, err
	}

	var spread float64
	if longSMA != 0 {
		spread = (shortSMA - longSMA) / longSMA
	}

	direction := models.TrendFlat
	switch {
	case spread > flatSpreadThreshold:
		direction = models.TrendUp
	case spread < -flatSpreadThreshold:
		direction = models.TrendDown
	}

	confidence := math.Abs(spread) * confidenceScale
	if confidence > 1 {
		confidence = 1
	}

	return &models.Prediction{
		Symbol:       history.Symbol,
		Direction:    direction,
		NextClose:    nextClose,
		Confidence:   confidence,
		ShortSMA:     shortSMA,
		LongSMA:      longSMA,
		SampleSize:   len(closes),
		BasedOnRange: history.Range,
		GeneratedAt:  generatedAt,
		Disclaimer:   models.PredictionDisclaimer,
	}, nil
}

// upstreamError maps a provider failure onto the HTTP error taxonomy.
// Exhausted rate limits surface as 502 so clients can distinguish "we are
// throttled" from "the provider is down".
func upstreamError(message string, err error) *ServiceError {
	if ratelimit.KindOf(err) == ratelimit.FailureRateLimited {
		return NewUpstreamRateLimitError(err)
	}
	return NewUpstreamUnavailableError(message, err)
}
