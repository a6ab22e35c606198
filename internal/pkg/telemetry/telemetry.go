// Package telemetry initializes OpenTelemetry logging, metrics and tracing with
// OTLP exporters over gRPC. It creates a unified Resource for the service,
// registers global providers and exposes a ShutdownFunc to flush and stop all
// pipelines.
package telemetry

import (
	"context"
	"errors"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

// loggerProvider holds the LoggerProvider registered by Init, if any.
var loggerProvider atomic.Pointer[sdklog.LoggerProvider]

// LoggerProvider returns the OTEL LoggerProvider created by Init, or nil when
// telemetry was not initialized. The logger package uses it to bridge zap.
func LoggerProvider() otellog.LoggerProvider {
	lp := loggerProvider.Load()
	if lp == nil {
		return nil
	}
	return lp
}

// initMeterProvider sets up an OTLP gRPC MeterProvider using a periodic reader
// and registers it as the global MeterProvider.
func initMeterProvider(ctx context.Context, res *sdkresource.Resource) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)
	return mp, nil
}

// initTracerProvider sets up an OTLP gRPC TracerProvider using a batched
// exporter and registers it as the global TracerProvider.
func initTracerProvider(ctx context.Context, res *sdkresource.Resource) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// initLoggerProvider sets up an OTLP gRPC LoggerProvider using a batch
// processor. It is exposed through LoggerProvider.
func initLoggerProvider(ctx context.Context, res *sdkresource.Resource) (*sdklog.LoggerProvider, error) {
	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, err
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	)

	loggerProvider.Store(lp)
	return lp, nil
}

// newResource merges the default system resource with a ServiceName attribute.
func newResource(serviceName string) (*sdkresource.Resource, error) {
	return sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

// ShutdownFunc flushes and stops all telemetry providers.
type ShutdownFunc func(ctx context.Context) error

// Init configures OpenTelemetry logs, metrics and traces using OTLP over gRPC.
// Exporter endpoints follow the standard OTEL_EXPORTER_OTLP_* environment
// variables.
//
// Init must run before logger.Init for the zap bridge to pick up the
// LoggerProvider. The returned ShutdownFunc flushes every provider.
func Init(ctx context.Context, serviceName string) (ShutdownFunc, error) {
	res, err := newResource(serviceName)
	if err != nil {
		return nil, err
	}

	mp, err := initMeterProvider(ctx, res)
	if err != nil {
		return nil, err
	}

	tp, err := initTracerProvider(ctx, res)
	if err != nil {
		return nil, errors.Join(err, mp.Shutdown(ctx))
	}

	lp, err := initLoggerProvider(ctx, res)
	if err != nil {
		return nil, errors.Join(err, mp.Shutdown(ctx), tp.Shutdown(ctx))
	}

	return func(ctx context.Context) error {
		return errors.Join(
			mp.Shutdown(ctx),
			tp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}, nil
}
