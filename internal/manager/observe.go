package manager

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/ironsheep/slide-tiles-mcp/internal/slide"
)

// instrumentationName names the tracer and meter of this package.
const instrumentationName = "github.com/ironsheep/slide-tiles-mcp/internal/manager"

type metrics struct {
	requests metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	requests, err := meter.Int64Counter(
		"slide.requests",
		metric.WithDescription("Slide manager operations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	errs, err := meter.Int64Counter(
		"slide.request.errors",
		metric.WithDescription("Slide manager operations that failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"slide.request.duration_ms",
		metric.WithDescription("Slide manager operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metrics{requests: requests, errors: errs, duration: duration}, nil
}

func noopMetrics() *metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

// op tracks one manager operation.
type op struct {
	name  string
	start time.Time
	span  trace.Span
	m     *Manager
}

func (m *Manager) begin(ctx context.Context, name, slideID string) (context.Context, *op) {
	ctx, span := m.tracer.Start(ctx, "slide."+name,
		trace.WithAttributes(attribute.String("slide.id", slideID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, &op{name: name, start: time.Now(), span: span, m: m}
}

func (o *op) end(ctx context.Context, err error) {
	attrs := []attribute.KeyValue{attribute.String("op", o.name)}
	if err != nil {
		kind := slide.Kind(err)
		attrs = append(attrs, attribute.String("error.kind", kind))
		o.span.SetStatus(codes.Error, err.Error())
		o.span.SetAttributes(attribute.String("error.kind", kind))
		o.span.RecordError(err)
		o.m.metrics.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
	} else {
		o.span.SetStatus(codes.Ok, "")
	}
	o.span.End()

	opt := metric.WithAttributes(attrs...)
	o.m.metrics.requests.Add(ctx, 1, opt)
	o.m.metrics.duration.Record(ctx, float64(time.Since(o.start).Milliseconds()), opt)
}

func noopTracer() trace.Tracer {
	return tracenoop.NewTracerProvider().Tracer("noop")
}
