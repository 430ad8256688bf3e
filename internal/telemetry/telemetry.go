// Package telemetry sets up OpenTelemetry tracing and metrics.
//
// The exporter is one of none, stdout or otlp. stdout records are written to
// the configured writer, normally stderr, since stdout carries the MCP
// protocol. With none, the tracer and meter are no-ops and nothing is
// exported.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config selects the exporter.
type Config struct {
	ServiceName string
	Version     string

	// Exporter is none, stdout or otlp. Empty means none.
	Exporter string

	// Endpoint is the OTLP gRPC endpoint. Empty falls back to the standard
	// OTEL_EXPORTER_OTLP_ENDPOINT variable.
	Endpoint string

	// Writer receives stdout exporter output. Nil means os.Stderr.
	Writer io.Writer
}

// Telemetry owns the tracer and meter providers.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Shutdown flushes pending data and is safe to call more than once.
type Telemetry struct {
	tracer trace.Tracer
	meter  metric.Meter
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider

	once sync.Once
	err  error
}

// Setup creates the providers for cfg and installs them globally.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		return nil, errors.New("service name is required")
	}
	if cfg.Exporter == "" || cfg.Exporter == "none" {
		return Noop(), nil
	}
	if cfg.Writer == nil {
		cfg.Writer = os.Stderr
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	spans, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	reader, err := newMetricReader(ctx, cfg)
	if err != nil {
		_ = spans.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metrics reader: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &Telemetry{
		tracer: tp.Tracer(cfg.ServiceName),
		meter:  mp.Meter(cfg.ServiceName),
		tp:     tp,
		mp:     mp,
	}, nil
}

// Noop returns telemetry that records nothing.
func Noop() *Telemetry {
	return &Telemetry{
		tracer: tracenoop.NewTracerProvider().Tracer("noop"),
		meter:  noop.NewMeterProvider().Meter("noop"),
	}
}

func (t *Telemetry) Tracer() trace.Tracer { return t.tracer }

func (t *Telemetry) Meter() metric.Meter { return t.meter }

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	t.once.Do(func() {
		var errs []error
		if t.tp != nil {
			if err := t.tp.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
			}
		}
		if t.mp != nil {
			if err := t.mp.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("meter shutdown: %w", err))
			}
		}
		t.err = errors.Join(errs...)
	})
	return t.err
}

func otlpEndpoint(cfg Config) (string, error) {
	if cfg.Endpoint != "" {
		return cfg.Endpoint, nil
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		return "", nil
	}
	return "", errors.New("OTLP endpoint not configured: set otlp_endpoint or OTEL_EXPORTER_OTLP_ENDPOINT")
}

func newSpanExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(cfg.Writer))
	case "otlp":
		endpoint, err := otlpEndpoint(cfg)
		if err != nil {
			return nil, err
		}
		var opts []otlptracegrpc.Option
		if endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown exporter: %q", cfg.Exporter)
	}
}

func newMetricReader(ctx context.Context, cfg Config) (sdkmetric.Reader, error) {
	switch cfg.Exporter {
	case "stdout":
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.Writer))
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	case "otlp":
		endpoint, err := otlpEndpoint(cfg)
		if err != nil {
			return nil, err
		}
		var opts []otlpmetricgrpc.Option
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint), otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewPeriodicReader(exp), nil
	default:
		return nil, fmt.Errorf("unknown metrics exporter: %q", cfg.Exporter)
	}
}
