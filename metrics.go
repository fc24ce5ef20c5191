package hypergrep

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/brknstrngz/hypergrep"

type instruments struct {
	compiles       metric.Int64Counter
	compileSeconds metric.Float64Histogram
	scannedBytes   metric.Int64Counter
	hits           metric.Int64Counter
	skippedBuffers metric.Int64Counter
	activeContexts metric.Int64UpDownCounter
}

var (
	instrumentsOnce sync.Once
	pkgInstruments  instruments
)

// instrumentation returns the package instruments, registered on the global
// meter provider the first time it is called. An instrument that fails to
// register is replaced by a no-op one.
func instrumentation() *instruments {
	instrumentsOnce.Do(func() {
		var (
			meter = otel.Meter(instrumentationName)
			inst  = &pkgInstruments
			err   error
		)
		if inst.compiles, err = meter.Int64Counter("hypergrep_programs_compiled_total",
			metric.WithDescription("Programs compiled")); err != nil {
			otel.Handle(err)
			inst.compiles = noop.Int64Counter{}
		}
		if inst.compileSeconds, err = meter.Float64Histogram("hypergrep_compile_duration_seconds",
			metric.WithDescription("Program compile latency"), metric.WithUnit("s")); err != nil {
			otel.Handle(err)
			inst.compileSeconds = noop.Float64Histogram{}
		}
		if inst.scannedBytes, err = meter.Int64Counter("hypergrep_scanned_bytes_total",
			metric.WithDescription("Bytes searched"), metric.WithUnit("By")); err != nil {
			otel.Handle(err)
			inst.scannedBytes = noop.Int64Counter{}
		}
		if inst.hits, err = meter.Int64Counter("hypergrep_hits_total",
			metric.WithDescription("Hits reported")); err != nil {
			otel.Handle(err)
			inst.hits = noop.Int64Counter{}
		}
		if inst.skippedBuffers, err = meter.Int64Counter("hypergrep_prefilter_skipped_total",
			metric.WithDescription("Buffers skipped by the prefilter")); err != nil {
			otel.Handle(err)
			inst.skippedBuffers = noop.Int64Counter{}
		}
		if inst.activeContexts, err = meter.Int64UpDownCounter("hypergrep_active_contexts",
			metric.WithDescription("Open search contexts")); err != nil {
			otel.Handle(err)
			inst.activeContexts = noop.Int64UpDownCounter{}
		}
	})
	return &pkgInstruments
}

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
