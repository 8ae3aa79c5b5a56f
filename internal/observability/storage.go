package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"stockd/internal/models"
	"stockd/internal/storage"
)

// InstrumentedStorage wraps a storage.Storage implementation with
// OpenTelemetry tracing and metrics instrumentation.
type InstrumentedStorage struct {
	inner    storage.Storage
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
	pruned   metric.Int64Counter
}

// NewInstrumentedStorage creates a storage wrapper that records trace
// spans, operation latency histograms and error counters for every
// storage method call, plus a counter of pruned cache entries.
func NewInstrumentedStorage(inner storage.Storage) (*InstrumentedStorage, error) {
	tracer := otel.Tracer("stockd/storage")
	meter := otel.Meter("stockd/storage")

	duration, err := meter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Duration of storage operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"storage.operation.errors",
		metric.WithDescription("Number of storage operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	pruned, err := meter.Int64Counter(
		"cache.pruned.entries",
		metric.WithDescription("Number of expired cache entries removed by retention pruning"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, err
	}

	return &InstrumentedStorage{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
		pruned:   pruned,
	}, nil
}

func (s *InstrumentedStorage) startSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "storage."+operation,
		trace.WithAttributes(append([]attribute.KeyValue{
			attribute.String("storage.operation", operation),
		}, attrs...)...),
	)
	return ctx, span
}

func (s *InstrumentedStorage) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	elapsed := time.Since(start).Seconds()
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	s.duration.Record(ctx, elapsed, attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End()
}

func (s *InstrumentedStorage) GetQuote(ctx context.Context, symbol string) (*models.CachedQuote, error) {
	ctx, span := s.startSpan(ctx, "GetQuote", attribute.String("symbol", symbol))
	start := time.Now()
	result, err := s.inner.GetQuote(ctx, symbol)
	s.record(ctx, span, "GetQuote", start, err)
	return result, err
}

func (s *InstrumentedStorage) SaveQuote(ctx context.Context, entry *models.CachedQuote) error {
	ctx, span := s.startSpan(ctx, "SaveQuote", attribute.String("symbol", entry.Quote.Symbol))
	start := time.Now()
	err := s.inner.SaveQuote(ctx, entry)
	s.record(ctx, span, "SaveQuote", start, err)
	return err
}

func (s *InstrumentedStorage) GetHistory(ctx context.Context, symbol, timeRange, interval string) (*models.CachedHistory, error) {
	ctx, span := s.startSpan(ctx, "GetHistory",
		attribute.String("symbol", symbol),
		attribute.String("range", timeRange),
		attribute.String("interval", interval),
	)
	start := time.Now()
	result, err := s.inner.GetHistory(ctx, symbol, timeRange, interval)
	s.record(ctx, span, "GetHistory", start, err)
	return result, err
}

func (s *InstrumentedStorage) SaveHistory(ctx context.Context, entry *models.CachedHistory) error {
	ctx, span := s.startSpan(ctx, "SaveHistory",
		attribute.String("symbol", entry.History.Symbol),
		attribute.String("range", entry.History.Range),
		attribute.String("interval", entry.History.Interval),
	)
	start := time.Now()
	err := s.inner.SaveHistory(ctx, entry)
	s.record(ctx, span, "SaveHistory", start, err)
	return err
}

func (s *InstrumentedStorage) PruneExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, span := s.startSpan(ctx, "PruneExpired",
		attribute.String("cutoff", cutoff.Format(time.RFC3339)),
	)
	start := time.Now()
	removed, err := s.inner.PruneExpired(ctx, cutoff)
	if err == nil && removed > 0 {
		s.pruned.Add(ctx, removed)
	}
	s.record(ctx, span, "PruneExpired", start, err)
	return removed, err
}

func (s *InstrumentedStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	ctx, span := s.startSpan(ctx, "CreateAPIKey", attribute.String("key_id", key.ID))
	start := time.Now()
	err := s.inner.CreateAPIKey(ctx, key)
	s.record(ctx, span, "CreateAPIKey", start, err)
	return err
}

// GetAPIKeyByHash deliberately records no identifying attributes; the
// hash stands in for the secret itself.
func (s *InstrumentedStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	ctx, span := s.startSpan(ctx, "GetAPIKeyByHash")
	start := time.Now()
	result, err := s.inner.GetAPIKeyByHash(ctx, hash)
	s.record(ctx, span, "GetAPIKeyByHash", start, err)
	return result, err
}

func (s *InstrumentedStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	ctx, span := s.startSpan(ctx, "ListAPIKeys")
	start := time.Now()
	result, err := s.inner.ListAPIKeys(ctx)
	s.record(ctx, span, "ListAPIKeys", start, err)
	return result, err
}

func (s *InstrumentedStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	ctx, span := s.startSpan(ctx, "UpdateAPIKey", attribute.String("key_id", key.ID))
	start := time.Now()
	err := s.inner.UpdateAPIKey(ctx, key)
	s.record(ctx, span, "UpdateAPIKey", start, err)
	return err
}

func (s *InstrumentedStorage) DeleteAPIKey(ctx context.Context, id string) error {
	ctx, span := s.startSpan(ctx, "DeleteAPIKey", attribute.String("key_id", id))
	start := time.Now()
	err := s.inner.DeleteAPIKey(ctx, id)
	s.record(ctx, span, "DeleteAPIKey", start, err)
	return err
}

func (s *InstrumentedStorage) Ping(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "Ping")
	start := time.Now()
	err := s.inner.Ping(ctx)
	s.record(ctx, span, "Ping", start, err)
	return err
}

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
