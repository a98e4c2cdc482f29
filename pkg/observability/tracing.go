// Package observability provides OpenTelemetry tracing around the stages of
// a mirror run
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ajitpratap0/geomirror"

// Span wraps a trace span and batches attributes until End
type Span struct {
	span       trace.Span
	startTime  time.Time
	attributes []attribute.KeyValue
}

// SetAttribute adds an attribute to the span
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	case time.Duration:
		attr = attribute.String(key, v.String())
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// AddEvent adds an event to the span
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Fail records err on the span
func (s *Span) Fail(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End flushes the batched attributes and ends the span. It returns the
// time elapsed since the span started.
func (s *Span) End() time.Duration {
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}
	s.span.End()
	return time.Since(s.startTime)
}

// StageTracer starts one span per pipeline stage
type StageTracer struct {
	dataset string
	tracer  trace.Tracer
}

// NewStageTracer creates a tracer for the given dataset. A nil provider
// means the global one.
func NewStageTracer(dataset string, tp trace.TracerProvider) *StageTracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &StageTracer{
		dataset: dataset,
		tracer:  tp.Tracer(instrumentationName),
	}
}

// StartSpan starts a span named after the stage
func (st *StageTracer) StartSpan(ctx context.Context, stage string) (context.Context, *Span) {
	ctx, span := st.tracer.Start(ctx, "geomirror."+stage)

	s := &Span{span: span, startTime: time.Now()}
	s.SetAttribute("dataset", st.dataset)
	s.SetAttribute("stage", stage)
	return ctx, s
}

// TraceStage runs fn inside a stage span and reports its outcome
func (st *StageTracer) TraceStage(ctx context.Context, stage string, fn func(ctx context.Context, span *Span) error) (time.Duration, error) {
	ctx, span := st.StartSpan(ctx, stage)

	err := fn(ctx, span)
	if err != nil {
		span.Fail(err)
	} else {
		span.span.SetStatus(codes.Ok, "")
	}

	return span.End(), err
}
