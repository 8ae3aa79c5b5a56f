package observability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"stockd/internal/ratelimit"
	"stockd/internal/upstream"
)

// Ensure the wrapper can stand in for the limiter everywhere the upstream
// client needs one.
var _ upstream.Limiter = (*InstrumentedLimiter)(nil)

// setupLimiterRegistry points the global meter provider at an isolated
// Prometheus registry so metric values can be asserted through Gather
// without colliding with the default registry.
func setupLimiterRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	require.NoError(t, err)

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(previous)
		_ = provider.Shutdown(context.Background())
	})

	return registry
}

func newInstrumentedLimiter(t *testing.T, cfg ratelimit.Config) *InstrumentedLimiter {
	t.Helper()
	limiter, err := NewInstrumentedLimiter(ratelimit.NewAdaptiveLimiter(cfg))
	require.NoError(t, err)
	return limiter
}

// gatherFamily returns the first metric family whose name starts with
// prefix. The exporter appends unit and counter suffixes to instrument
// names, so matching on the prefix keeps the tests independent of the
// exact translation.
func gatherFamily(t *testing.T, registry *prometheus.Registry, prefix string) *dto.MetricFamily {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if strings.HasPrefix(family.GetName(), prefix) {
			return family
		}
	}
	return nil
}

func counterSum(family *dto.MetricFamily) float64 {
	if family == nil {
		return 0
	}
	var total float64
	for _, m := range family.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	return total
}

func TestNewInstrumentedLimiter(t *testing.T) {
	setupLimiterRegistry(t)

	limiter := newInstrumentedLimiter(t, ratelimit.DefaultConfig())
	assert.NotNil(t, limiter)
}

func TestInstrumentedLimiter_AcquireRecordsWait(t *testing.T) {
	registry := setupLimiterRegistry(t)
	limiter := newInstrumentedLimiter(t, ratelimit.DefaultConfig())

	// Fresh endpoints are admitted immediately, so neither call sleeps.
	require.NoError(t, limiter.Acquire(context.Background(), "chart"))
	require.NoError(t, limiter.Acquire(context.Background(), "search"))

	family := gatherFamily(t, registry, "limiter_acquire_wait")
	require.NotNil(t, family)

	var samples uint64
	for _, m := range family.GetMetric() {
		samples += m.GetHistogram().GetSampleCount()
	}
	assert.Equal(t, uint64(2), samples)
}

func TestInstrumentedLimiter_RecordOutcomeCountsByClass(t *testing.T) {
	registry := setupLimiterRegistry(t)
	limiter := newInstrumentedLimiter(t, ratelimit.Config{Strategy: ratelimit.StrategyAggressive})

	limiter.RecordOutcome("chart", 200)
	limiter.RecordOutcome("chart", 200)
	limiter.RecordOutcome("chart", 404)
	limiter.RecordOutcome("search", 502)

	family := gatherFamily(t, registry, "limiter_outcomes")
	require.NotNil(t, family)
	assert.Equal(t, 4.0, counterSum(family))

	classes := make(map[string]bool)
	for _, m := range family.GetMetric() {
		for _, label := range m.GetLabel() {
			if label.GetName() == "status_class" {
				classes[label.GetValue()] = true
			}
		}
	}
	assert.True(t, classes["2xx"])
	assert.True(t, classes["4xx"])
	assert.True(t, classes["5xx"])
}

func TestInstrumentedLimiter_DowngradeCounted(t *testing.T) {
	registry := setupLimiterRegistry(t)
	limiter := newInstrumentedLimiter(t, ratelimit.Config{Strategy: ratelimit.StrategyNormal})

	limiter.RecordOutcome("chart", 429)
	assert.Equal(t, ratelimit.StrategyConservative, limiter.Stats().Strategy)

	family := gatherFamily(t, registry, "limiter_strategy_downgrades")
	require.NotNil(t, family)
	assert.Equal(t, 1.0, counterSum(family))

	// Already at the floor: another rejection cools down but does not
	// count as a downgrade.
	limiter.RecordOutcome("chart", 429)
	family = gatherFamily(t, registry, "limiter_strategy_downgrades")
	assert.Equal(t, 1.0, counterSum(family))
}

func TestInstrumentedLimiter_RetriesExhaustedCounted(t *testing.T) {
	registry := setupLimiterRegistry(t)
	limiter := newInstrumentedLimiter(t, ratelimit.DefaultConfig())

	boom := ratelimit.Classify(ratelimit.FailureTransient, errors.New("boom"))
	err := limiter.RetryWithBackoff(context.Background(), 1, func(ctx context.Context) error {
		return boom
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ratelimit.ErrRetriesExhausted)

	family := gatherFamily(t, registry, "limiter_retries_exhausted")
	require.NotNil(t, family)
	assert.Equal(t, 1.0, counterSum(family))

	// Non-retryable failures fail without spending the budget and are
	// not exhaustion.
	err = limiter.RetryWithBackoff(context.Background(), 1, func(ctx context.Context) error {
		return errors.New("fatal")
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ratelimit.ErrRetriesExhausted))

	family = gatherFamily(t, registry, "limiter_retries_exhausted")
	assert.Equal(t, 1.0, counterSum(family))
}

func TestInstrumentedLimiter_PassThrough(t *testing.T) {
	setupLimiterRegistry(t)
	limiter := newInstrumentedLimiter(t, ratelimit.Config{Strategy: ratelimit.StrategyNormal})

	require.NoError(t, limiter.SetStrategy(ratelimit.StrategyAggressive))
	assert.Equal(t, ratelimit.StrategyAggressive, limiter.Stats().Strategy)

	limiter.RecordOutcome("chart", 429)
	assert.Contains(t, limiter.Stats().CooldownUntil, "chart")

	limiter.ResetCooldown("chart")
	assert.NotContains(t, limiter.Stats().CooldownUntil, "chart")

	limiter.RecordOutcome("chart", 429)
	limiter.RecordOutcome("search", 429)
	limiter.ResetCooldowns()
	assert.Equal(t, 0, limiter.Stats().ActiveCooldowns())
}
