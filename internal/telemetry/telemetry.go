// Package telemetry installs the global OpenTelemetry tracer and meter
// providers. Spans and metrics are exported as JSON to a writer, normally
// stderr, so stdout stays free for the stdio transport.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultMetricInterval is used when Config.MetricInterval is zero.
const DefaultMetricInterval = 30 * time.Second

// Config configures Setup.
type Config struct {
	// ServiceName is reported as the service.name resource attribute.
	ServiceName string

	// Version is reported as service.version when set.
	Version string

	// MetricInterval is the periodic export interval.
	MetricInterval time.Duration

	// Writer receives exported spans and metrics. Defaults to os.Stderr.
	Writer io.Writer
}

// ShutdownFunc flushes and stops the providers.
type ShutdownFunc func(context.Context) error

// Setup configures global tracing and metrics and returns a function that
// flushes pending data and shuts both providers down.
func Setup(ctx context.Context, cfg Config) (ShutdownFunc, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "evaguard"
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	interval := cfg.MetricInterval
	if interval <= 0 {
		interval = DefaultMetricInterval
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", name)}
	if cfg.Version != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.Version))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(interval))),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
