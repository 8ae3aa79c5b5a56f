// Package upstream fetches market data from the provider's chart API.
// Every request goes through the adaptive limiter: admission is acquired
// before the call, the response status is reported back afterwards, and
// transient failures are retried with the limiter's backoff schedule.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stockd/internal/models"
	"stockd/internal/ratelimit"
)

// endpointChart identifies the chart API to the limiter. All chart
// requests share one pacing lane regardless of symbol.
const endpointChart = "chart"

// ErrSymbolNotFound reports that the provider has no data for a symbol.
var ErrSymbolNotFound = errors.New("symbol not found")

// Limiter paces outbound requests, tracks upstream verdicts and runs
// operations under the retry schedule. *ratelimit.AdaptiveLimiter
// implements it.
type Limiter interface {
	Acquire(ctx context.Context, endpoint string) error
	RecordOutcome(endpoint string, statusCode int)
	RetryWithBackoff(ctx context.Context, maxAttempts int, op func(context.Context) error) error
}

// Client talks to the market-data provider.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    Limiter

	now func() time.Time
}

// NewClient builds a provider client from the upstream config.
func NewClient(cfg models.UpstreamConfig, limiter Limiter) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "stockd"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    baseURL,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		now:        time.Now,
	}
}

// FetchQuote retrieves the current market snapshot for a symbol.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	var quote *models.Quote
	err := c.limiter.RetryWithBackoff(ctx, 0, func(ctx context.Context) error {
		result, err := c.fetchChart(ctx, symbol, "1d", "1d")
		if err != nil {
			return err
		}
		quote = c.quoteFromMeta(result.Meta, symbol)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return quote, nil
}

// FetchHistory retrieves a candle series for a symbol over the given
// range and interval.
func (c *Client) FetchHistory(ctx context.Context, symbol, timeRange, interval string) (*models.History, error) {
	var history *models.History
	err := c.limiter.RetryWithBackoff(ctx, 0, func(ctx context.Context) error {
		result, err := c.fetchChart(ctx, symbol, timeRange, interval)
		if err != nil {
			return err
		}
		history, err = c.historyFromResult(result, symbol, timeRange, interval)
		return err
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

// fetchChart performs one paced request against the chart API and maps
// the HTTP outcome onto the failure taxonomy.
func (c *Client) fetchChart(ctx context.Context, symbol, timeRange, interval string) (*chartResult, error) {
	if err := c.limiter.Acquire(ctx, endpointChart); err != nil {
		return nil, err
	}

	reqURL := c.chartURL(symbol, timeRange, interval)
	slog.Debug("Fetching chart data", "symbol", symbol, "range", timeRange, "interval", interval)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build chart request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// No status reached the wire, so nothing to report.
		return nil, ratelimit.Classify(ratelimit.FailureTransient,
			fmt.Errorf("chart request failed: %w", err))
	}
	defer resp.Body.Close()

	c.limiter.RecordOutcome(endpointChart, resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, models.NormalizeSymbol(symbol))
	case resp.StatusCode == http.StatusTooManyRequests:
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			slog.Warn("Provider sent Retry-After hint", "endpoint", endpointChart, "retry_after", retryAfter)
		}
		return nil, ratelimit.Classify(ratelimit.FailureRateLimited,
			fmt.Errorf("provider rejected request for %s with status 429", symbol))
	case resp.StatusCode >= 500:
		return nil, ratelimit.Classify(ratelimit.FailureTransient,
			fmt.Errorf("provider returned status %d", resp.StatusCode))
	default:
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var decoded chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, ratelimit.Classify(ratelimit.FailureTransient,
			fmt.Errorf("failed to decode chart response: %w", err))
	}

	if decoded.Chart.Error != nil {
		if strings.EqualFold(decoded.Chart.Error.Code, "Not Found") {
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, models.NormalizeSymbol(symbol))
		}
		return nil, fmt.Errorf("provider error %s: %s",
			decoded.Chart.Error.Code, decoded.Chart.Error.Description)
	}
	if len(decoded.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, models.NormalizeSymbol(symbol))
	}

	return &decoded.Chart.Result[0], nil
}

func (c *Client) chartURL(symbol, timeRange, interval string) string {
	q := url.Values{}
	q.Set("range", timeRange)
	q.Set("interval", interval)
	return fmt.Sprintf("%s/v8/finance/chart/%s?%s",
		c.baseURL, url.PathEscape(models.NormalizeSymbol(symbol)), q.Encode())
}

func (c *Client) quoteFromMeta(meta chartMeta, requested string) *models.Quote {
	symbol := meta.Symbol
	if symbol == "" {
		symbol = models.NormalizeSymbol(requested)
	}
	previousClose := meta.ChartPreviousClose
	if meta.PreviousClose != 0 {
		previousClose = meta.PreviousClose
	}
	exchange := meta.FullExchangeName
	if exchange == "" {
		exchange = meta.ExchangeName
	}

	quote := &models.Quote{
		Symbol:        symbol,
		Currency:      meta.Currency,
		Exchange:      exchange,
		Price:         meta.RegularMarketPrice,
		PreviousClose: previousClose,
		DayHigh:       meta.RegularMarketHigh,
		DayLow:        meta.RegularMarketLow,
		Volume:        meta.RegularMarketVol,
		MarketTime:    time.Unix(meta.RegularMarketTime, 0).UTC(),
		FetchedAt:     c.now().UTC(),
	}
	quote.DeriveChange()
	return quote
}

func (c *Client) historyFromResult(result *chartResult, requested, timeRange, interval string) (*models.History, error) {
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("chart response has no quote indicators")
	}
	series := result.Indicators.Quote[0]

	symbol := result.Meta.Symbol
	if symbol == "" {
		symbol = models.NormalizeSymbol(requested)
	}

	points := make([]models.PricePoint, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		// The provider pads series gaps with nulls; a candle without a
		// close is unusable.
		if i >= len(series.Close) || series.Close[i] == nil {
			continue
		}
		point := models.PricePoint{
			Time:  time.Unix(ts, 0).UTC(),
			Close: *series.Close[i],
		}
		if i < len(series.Open) && series.Open[i] != nil {
			point.Open = *series.Open[i]
		}
		if i < len(series.High) && series.High[i] != nil {
			point.High = *series.High[i]
		}
		if i < len(series.Low) && series.Low[i] != nil {
			point.Low = *series.Low[i]
		}
		if i < len(series.Volume) && series.Volume[i] != nil {
			point.Volume = *series.Volume[i]
		}
		points = append(points, point)
	}

	return &models.History{
		Symbol:   symbol,
		Currency: result.Meta.Currency,
		Range:    timeRange,
		Interval: interval,
		Points:   points,
	}, nil
}
