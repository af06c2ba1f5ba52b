// Package telemetry wires OpenTelemetry metrics and traces for katra's
// maintenance loop and summarizer calls. Grounded on the
// `aiMetricsOnce.Do(initAIMetrics)` / `attribute`/`codes`/`metric` usage
// in teacher internal/compact/haiku.go, which calls into a
// `telemetry.Meter`/`telemetry.Tracer` package that the retrieval pack
// never actually includes (no implementation file under
// internal/telemetry anywhere in the pack, same gap as internal/audit
// and internal/toon). Built fresh as a small global-provider wrapper
// instead of the teacher's file-local sync.Once, since katra's
// maintenance loop needs the same named meter/tracer on every tick, not
// only during LLM calls.
package telemetry

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Meter returns a named OTel meter from the process-global
// MeterProvider, configured by Init or the otel no-op default if Init
// was never called.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// Tracer returns a named OTel tracer from the process-global
// TracerProvider.
func Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}

// Shutdown tears down the process-global telemetry providers that Init
// installed. Safe to call even if Init was never called.
type Shutdown func(ctx context.Context) error

// Init installs a stdout-exporting MeterProvider as the process-global
// provider, writing periodic metric snapshots to w. Engines that don't
// want metrics emitted anywhere (tests, `katractl` one-shot commands)
// can simply never call Init and Meter/Tracer fall back to otel's
// no-op implementations.
func Init(w io.Writer) (Shutdown, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w), stdoutmetric.WithoutTimestamps())
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
