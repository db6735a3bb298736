package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const engineScope = "caseflow/engine"

// Instruments records one span, one counter increment and one duration sample per engine operation.
type Instruments struct {
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
}

// NewInstruments builds instruments from the current global providers.
func NewInstruments() *Instruments {
	m := Meter(engineScope)
	ops, _ := m.Int64Counter("caseflow.operations",
		metric.WithDescription("Engine operations by name and outcome"),
	)
	dur, _ := m.Float64Histogram("caseflow.operation.duration",
		metric.WithDescription("Engine operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return &Instruments{tracer: Tracer(engineScope), ops: ops, dur: dur}
}

// Start opens a span for op. The returned func ends it, tagging the outcome.
func (in *Instruments) Start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(outcome string, err error)) {
	if in == nil {
		return ctx, func(string, error) {}
	}
	all := append([]attribute.KeyValue{attribute.String("caseflow.op", op)}, attrs...)
	ctx, span := in.tracer.Start(ctx, "engine."+op, trace.WithAttributes(all...))
	start := time.Now()
	return ctx, func(outcome string, err error) {
		tagged := append(all[:len(all):len(all)], attribute.String("caseflow.outcome", outcome))
		if in.ops != nil {
			in.ops.Add(ctx, 1, metric.WithAttributes(tagged...))
		}
		if in.dur != nil {
			in.dur.Record(ctx, float64(time.Since(start).Microseconds())/1000, metric.WithAttributes(tagged...))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}
}
