// Package telemetry configures OpenTelemetry tracing for the monitor. Spans are
// exported to Google Cloud Trace when enabled; trace context is always
// propagated so published notifications carry it.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/storewatch/internal/config"
	"github.com/JakeFAU/storewatch/internal/logging"
)

const instrumentationPrefix = "github.com/JakeFAU/storewatch/"

// Tracer returns the named tracer from the global provider.
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentationPrefix + component)
}

// Setup installs the W3C propagator and, when tracing is enabled, a tracer
// provider exporting to Cloud Trace. The returned shutdown flushes spans.
func Setup(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}
	if cfg.ProjectID == "" {
		return noop, errors.New("telemetry.project_id is required when tracing is enabled")
	}

	exporter, err := texporter.New(texporter.WithProjectID(cfg.ProjectID))
	if err != nil {
		return noop, fmt.Errorf("create cloud trace exporter: %w", err)
	}
	tp, err := NewProvider(ctx, cfg, exporter)
	if err != nil {
		return noop, err
	}
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// NewProvider builds a tracer provider that batches spans to exporter.
func NewProvider(ctx context.Context, cfg config.TelemetryConfig, exporter sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(logging.Service),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.CloudProviderGCP,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithBatcher(exporter),
	), nil
}
