package statestore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrumented wraps a Store with OpenTelemetry tracing and metrics: a span
// per operation, a latency histogram, and an error counter.
type Instrumented struct {
	inner    Store
	tracer   trace.Tracer
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewInstrumented creates the instrumentation wrapper around inner.
func NewInstrumented(inner Store) (*Instrumented, error) {
	tracer := otel.Tracer("fourlimit/statestore")
	meter := otel.Meter("fourlimit/statestore")

	duration, err := meter.Float64Histogram(
		"statestore.operation.duration",
		metric.WithDescription("Duration of state store operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"statestore.operation.errors",
		metric.WithDescription("Number of state store operation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &Instrumented{
		inner:    inner,
		tracer:   tracer,
		duration: duration,
		errors:   errCounter,
	}, nil
}

func (s *Instrumented) record(ctx context.Context, span trace.Span, operation string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("operation", operation))
	s.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		s.errors.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (s *Instrumented) Load(ctx context.Context) (*Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "statestore.Load")
	start := time.Now()
	snap, err := s.inner.Load(ctx)
	s.record(ctx, span, "Load", start, err)
	return snap, err
}

func (s *Instrumented) Save(ctx context.Context, snap *Snapshot) error {
	ctx, span := s.tracer.Start(ctx, "statestore.Save")
	start := time.Now()
	err := s.inner.Save(ctx, snap)
	s.record(ctx, span, "Save", start, err)
	return err
}

func (s *Instrumented) Close() error { return s.inner.Close() }
