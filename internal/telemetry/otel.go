package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultEndpoint = "localhost:4317"

// ShutdownFunc flushes and stops an exporter pipeline
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Endpoint returns the OTLP gRPC endpoint from the environment
func Endpoint() string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	return defaultEndpoint
}

func newResource(service string) *resource.Resource {
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	if err != nil {
		return resource.Default()
	}
	return res
}

func dialOptions() []grpc.DialOption {
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
}

// InitTracer configures a global tracer provider with an OTLP gRPC exporter.
// Failures are logged and leave the no-op provider in place.
func InitTracer(ctx context.Context, service string) ShutdownFunc {
	var endpoint = Endpoint()
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(dialOptions()...))
	if err != nil {
		slog.Warn("otel trace exporter init failed", "error", err)
		return noopShutdown
	}
	var tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(newResource(service)),
	)
	otel.SetTracerProvider(tp)
	slog.Debug("otel tracer initialized", "endpoint", endpoint)

	return tp.Shutdown
}

// InitMetrics configures a global meter provider pushing to an OTLP gRPC
// endpoint every interval. Failures are logged and leave the no-op provider
// in place.
func InitMetrics(ctx context.Context, service string, interval time.Duration) ShutdownFunc {
	var endpoint = os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = Endpoint()
	}
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(dialOptions()...))
	if err != nil {
		slog.Warn("otel metrics exporter init failed", "error", err)
		return noopShutdown
	}
	var reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))
	var mp = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(newResource(service)))
	otel.SetMeterProvider(mp)
	slog.Debug("otel metrics initialized", "endpoint", endpoint, "interval", interval)

	return mp.Shutdown
}

// Flush runs every shutdown function with a bounded timeout
func Flush(ctx context.Context, shutdowns ...ShutdownFunc) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var errs []error
	for _, shutdown := range shutdowns {
		if shutdown != nil {
			errs = append(errs, shutdown(ctx))
		}
	}
	return errors.Join(errs...)
}
