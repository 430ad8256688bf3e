package handlecache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Eviction reasons recorded on slide.cache.evictions.
const (
	reasonCapacity = "capacity"
	reasonIdle     = "idle"
	reasonShutdown = "shutdown"
)

// metrics holds the cache instruments.
type metrics struct {
	hits         metric.Int64Counter
	misses       metric.Int64Counter
	opens        metric.Int64Counter
	openFailures metric.Int64Counter
	evictions    metric.Int64Counter
	openHandles  metric.Int64UpDownCounter
}

// newMetrics creates the cache instruments on meter.
func newMetrics(meter metric.Meter) (*metrics, error) {
	hits, err := meter.Int64Counter(
		"slide.cache.hits",
		metric.WithDescription("Handle lookups served by an open decoder"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"slide.cache.misses",
		metric.WithDescription("Handle lookups that had to wait for an open"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	opens, err := meter.Int64Counter(
		"slide.cache.opens",
		metric.WithDescription("Decoder opens performed"),
		metric.WithUnit("{open}"),
	)
	if err != nil {
		return nil, err
	}

	openFailures, err := meter.Int64Counter(
		"slide.cache.open_failures",
		metric.WithDescription("Decoder opens that failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"slide.cache.evictions",
		metric.WithDescription("Decoders closed by the cache"),
		metric.WithUnit("{handle}"),
	)
	if err != nil {
		return nil, err
	}

	openHandles, err := meter.Int64UpDownCounter(
		"slide.cache.open_handles",
		metric.WithDescription("Decoders currently open"),
		metric.WithUnit("{handle}"),
	)
	if err != nil {
		return nil, err
	}

	return &metrics{
		hits:         hits,
		misses:       misses,
		opens:        opens,
		openFailures: openFailures,
		evictions:    evictions,
		openHandles:  openHandles,
	}, nil
}

// noopMetrics returns instruments that record nothing.
func noopMetrics() *metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

func (m *metrics) evicted(ctx context.Context, reason string, n int) {
	if n == 0 {
		return
	}
	m.evictions.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
	m.openHandles.Add(ctx, -int64(n))
}
