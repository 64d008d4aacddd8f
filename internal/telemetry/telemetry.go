// Package telemetry provides OpenTelemetry metrics for tether.
//
// Telemetry is disabled by default (zero runtime overhead when off).
//
//	TETHER_OTEL_ENABLED=true   enable metrics (default: off)
//	TETHER_OTEL_STDOUT=true    pretty-print metrics to stderr on shutdown
package telemetry

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "github.com/tetherhq/tether"

var (
	shutdownFns []func(context.Context) error

	storeRequests metric.Int64Counter
	dispatches    metric.Int64Counter
	chunksEmitted metric.Int64Counter
)

// Enabled reports whether telemetry is active (TETHER_OTEL_ENABLED=true).
func Enabled() bool {
	return os.Getenv("TETHER_OTEL_ENABLED") == "true"
}

// Init configures the meter provider. When telemetry is disabled this
// installs a no-op provider and returns immediately.
func Init(ctx context.Context, serviceName, version string) error {
	if !Enabled() {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		initInstruments()
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if os.Getenv("TETHER_OTEL_STDOUT") == "true" {
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			return fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)
	initInstruments()
	return nil
}

func initInstruments() {
	meter := otel.Meter(instrumentationScope)
	storeRequests, _ = meter.Int64Counter("tether.store.requests",
		metric.WithDescription("Issue Store API requests by method"))
	dispatches, _ = meter.Int64Counter("tether.dispatch.total",
		metric.WithDescription("Plan dispatch submissions"))
	chunksEmitted, _ = meter.Int64Counter("tether.metablock.chunks",
		metric.WithDescription("Chunked comment bodies emitted"))
}

// Shutdown flushes and stops all providers.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}

// CountStoreRequest records one Issue Store API call.
func CountStoreRequest(ctx context.Context, method string) {
	if storeRequests != nil {
		storeRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
	}
}

// CountDispatch records one dispatch submission.
func CountDispatch(ctx context.Context) {
	if dispatches != nil {
		dispatches.Add(ctx, 1)
	}
}

// CountChunks records chunked comment bodies produced by the codec.
func CountChunks(ctx context.Context, n int) {
	if chunksEmitted != nil && n > 0 {
		chunksEmitted.Add(ctx, int64(n))
	}
}
