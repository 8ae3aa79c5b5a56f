package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockd/internal/api"
	"stockd/internal/models"
	"stockd/internal/quotes"
	"stockd/internal/ratelimit"
	"stockd/internal/storage"
	"stockd/internal/upstream"
)

// Integration tests wiring the real stack end-to-end: router, handlers,
// quote service, storage and the upstream client, against a fake
// provider. Only time is faked - the limiter runs on an injected clock
// so cooldowns and pacing resolve instantly.

// fakeClock advances instead of blocking when the limiter sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

// chartPayload builds a provider chart response with n daily candles
// ending at price endPrice, drifting up from below.
func chartPayload(symbol string, n int, endPrice float64) string {
	timestamps := make([]string, 0, n)
	closes := make([]string, 0, n)
	base := time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		ts := base.AddDate(0, 0, i).Unix()
		price := endPrice - float64(n-1-i)*0.25
		timestamps = append(timestamps, fmt.Sprintf("%d", ts))
		closes = append(closes, fmt.Sprintf("%.2f", price))
	}
	return fmt.Sprintf(`{
		"chart": {
			"result": [{
				"meta": {
					"currency": "USD",
					"symbol": %q,
					"exchangeName": "NMS",
					"regularMarketPrice": %.2f,
					"chartPreviousClose": %.2f,
					"regularMarketDayHigh": %.2f,
					"regularMarketDayLow": %.2f,
					"regularMarketVolume": 1000000,
					"regularMarketTime": %d
				},
				"timestamp": [%s],
				"indicators": {"quote": [{"close": [%s]}]}
			}],
			"error": null
		}
	}`, symbol, endPrice, endPrice-0.25, endPrice+1, endPrice-1,
		base.AddDate(0, 0, n-1).Unix(),
		joinCSV(timestamps), joinCSV(closes))
}

func joinCSV(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ","
		}
		out += p
	}
	return out
}

// testStack is the assembled service under test.
type testStack struct {
	server   *httptest.Server
	provider *httptest.Server
	store    storage.Storage
	limiter  *ratelimit.AdaptiveLimiter
	hits     *atomic.Int64
}

func (s *testStack) Close() {
	s.server.Close()
	s.provider.Close()
	s.store.Close()
}

// newTestStack wires storage, limiter, upstream client, quote service,
// handlers and router the way cmd/stockd does. providerFn handles fake
// provider requests; mutate cfg before routes are built via configure.
func newTestStack(t *testing.T, providerFn http.HandlerFunc, configure func(*models.Config)) *testStack {
	t.Helper()

	hits := &atomic.Int64{}
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		providerFn(w, r)
	}))

	store, err := storage.NewJSONStorage(filepath.Join(t.TempDir(), "cache.json"))
	require.NoError(t, err)

	clock := newFakeClock()
	limiter := ratelimit.NewAdaptiveLimiter(ratelimit.Config{
		Strategy:      ratelimit.StrategyNormal,
		BackoffFactor: 0.01, // keep real retry waits in the millisecond range
		MaxAttempts:   3,
		Cooldown:      time.Hour,
	}, ratelimit.WithClock(clock.Now), ratelimit.WithSleep(clock.Sleep))

	cfg := models.NewDefaultConfig()
	cfg.Upstream.BaseURL = provider.URL
	cfg.Upstream.Timeout = 5 * time.Second
	if configure != nil {
		configure(cfg)
	}

	client := upstream.NewClient(cfg.Upstream, limiter)
	quoteService := quotes.NewService(store, client, cfg.Cache)

	handlers := api.NewHandlers(quoteService,
		api.WithStorage(store),
		api.WithLimiter(limiter),
	)
	router := api.SetupRoutes(handlers, cfg)

	stack := &testStack{
		server:   httptest.NewServer(router),
		provider: provider,
		store:    store,
		limiter:  limiter,
		hits:     hits,
	}
	t.Cleanup(stack.Close)
	return stack
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestIntegration_FullQuoteFlow(t *testing.T) {
	stack := newTestStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chartPayload("AAPL", 60, 190.50))
	}, nil)

	// Health first - nothing should have touched the provider yet
	var health models.HealthCheckResponse
	status := getJSON(t, stack.server.URL+"/health", &health)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.StatusHealthy, health.Status)
	assert.Zero(t, stack.hits.Load())

	// First quote fetches from the provider
	var quote models.QuoteResponse
	status = getJSON(t, stack.server.URL+"/api/v1/quotes/aapl", &quote)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "AAPL", quote.Quote.Symbol)
	assert.Equal(t, 190.50, quote.Quote.Price)
	assert.False(t, quote.Cached)
	assert.Equal(t, int64(1), stack.hits.Load())

	// Second quote is served from cache
	status = getJSON(t, stack.server.URL+"/api/v1/quotes/AAPL", &quote)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, quote.Cached)
	assert.Equal(t, int64(1), stack.hits.Load())

	// History over the prediction's range primes the cache for it
	var history models.HistoryResponse
	status = getJSON(t, stack.server.URL+"/api/v1/quotes/AAPL/history?range=3mo&interval=1d", &history)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, history.History.Points, 60)
	assert.False(t, history.Cached)
	assert.Equal(t, int64(2), stack.hits.Load())

	// Prediction reuses the cached 3mo/1d series
	var prediction models.PredictionResponse
	status = getJSON(t, stack.server.URL+"/api/v1/quotes/AAPL/prediction", &prediction)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "AAPL", prediction.Prediction.Symbol)
	assert.Equal(t, models.TrendUp, prediction.Prediction.Direction)
	assert.True(t, prediction.Cached)
	assert.Equal(t, int64(2), stack.hits.Load())

	// Limiter stats reflect the two provider admissions
	var stats models.LimiterStatsResponse
	status = getJSON(t, stack.server.URL+"/api/v1/limiter/stats", &stats)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "normal", stats.Strategy)
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(2), stats.RequestCounts["chart"])
	assert.Zero(t, stats.ActiveCooldowns)
}

func TestIntegration_UpstreamRateLimitRecovery(t *testing.T) {
	var rejected atomic.Bool
	stack := newTestStack(t, func(w http.ResponseWriter, r *http.Request) {
		if rejected.CompareAndSwap(false, true) {
			w.Header().Set("Retry-After", "3600")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chartPayload("MSFT", 60, 410.00))
	}, nil)

	// The first attempt hits a 429; the retry waits out the cooldown on
	// the fake clock and succeeds.
	var quote models.QuoteResponse
	status := getJSON(t, stack.server.URL+"/api/v1/quotes/MSFT", &quote)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "MSFT", quote.Quote.Symbol)
	assert.Equal(t, int64(2), stack.hits.Load())

	// The 429 downgraded the shared strategy one step
	var stats models.LimiterStatsResponse
	status = getJSON(t, stack.server.URL+"/api/v1/limiter/stats", &stats)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "conservative", stats.Strategy)
	assert.Equal(t, 6, stats.RequestsPerMinute)

	// Admin override restores the configured strategy
	body, err := json.Marshal(models.SetStrategyRequest{Strategy: "normal"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, stack.server.URL+"/api/v1/limiter/strategy", bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// And the cooldown can be cleared explicitly
	req, err = http.NewRequest(http.MethodDelete, stack.server.URL+"/api/v1/limiter/cooldowns/chart", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status = getJSON(t, stack.server.URL+"/api/v1/limiter/stats", &stats)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "normal", stats.Strategy)
	assert.Zero(t, stats.ActiveCooldowns)
}

func TestIntegration_AuthAndKeyLifecycle(t *testing.T) {
	stack := newTestStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, chartPayload("GOOG", 60, 175.25))
	}, func(cfg *models.Config) {
		cfg.Security.EnableAuth = true
	})

	// Seed an admin key the way cmd/stockd seeds the bootstrap key
	adminRaw, err := models.GenerateAPIKey()
	require.NoError(t, err)
	adminKey := models.NewAPIKey(models.NewKeyID(), "bootstrap", adminRaw, []string{"admin"})
	require.NoError(t, stack.store.CreateAPIKey(context.Background(), adminKey))

	do := func(method, path, token string, body interface{}) (*http.Response, error) {
		var reader *bytes.Reader
		if body != nil {
			data, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequest(method, stack.server.URL+path, reader)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return http.DefaultClient.Do(req)
	}

	// No credentials: rejected
	resp, err := do(http.MethodGet, "/api/v1/quotes/GOOG", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, stack.hits.Load())

	// Health stays open without credentials
	var health models.HealthCheckResponse
	status := getJSON(t, stack.server.URL+"/health", &health)
	assert.Equal(t, http.StatusOK, status)

	// Admin creates a read-only key
	resp, err = do(http.MethodPost, "/api/v1/keys", adminRaw, models.CreateKeyRequest{
		Name:        "dashboard",
		Permissions: []string{"read"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.CreateKeyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.NotEmpty(t, created.Key)
	assert.NotEmpty(t, created.ID)

	// The read key fetches quotes
	resp, err = do(http.MethodGet, "/api/v1/quotes/GOOG", created.Key, nil)
	require.NoError(t, err)
	var quote models.QuoteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&quote))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "GOOG", quote.Quote.Symbol)

	// But cannot perform admin operations
	resp, err = do(http.MethodPut, "/api/v1/limiter/strategy", created.Key,
		models.SetStrategyRequest{Strategy: "aggressive"})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Admin revokes the key; it stops working immediately
	resp, err = do(http.MethodDelete, "/api/v1/keys/"+created.ID, adminRaw, nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = do(http.MethodGet, "/api/v1/quotes/GOOG", created.Key, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
