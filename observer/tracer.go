package observer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/evrane/drover"
)

// NewTracer returns a drover.Tracer backed by the global OTEL tracer provider.
// Call Init first so runtime spans export alongside LLM and tool spans.
func NewTracer() drover.Tracer {
	return &otelTracer{tracer: otel.Tracer(scopeName)}
}

type otelTracer struct {
	tracer trace.Tracer
}

var _ drover.Tracer = (*otelTracer)(nil)

func (t *otelTracer) Start(ctx context.Context, name string, attrs ...drover.SpanAttr) (context.Context, drover.Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(toOTELAttrs(attrs)...))
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

var _ drover.Span = (*otelSpan)(nil)

func (s *otelSpan) SetAttr(attrs ...drover.SpanAttr) {
	s.span.SetAttributes(toOTELAttrs(attrs)...)
}

func (s *otelSpan) Event(name string, attrs ...drover.SpanAttr) {
	s.span.AddEvent(name, trace.WithAttributes(toOTELAttrs(attrs)...))
}

func (s *otelSpan) Error(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() {
	s.span.End()
}

func toOTELAttrs(attrs []drover.SpanAttr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, toOTELAttr(a))
	}
	return out
}

func toOTELAttr(a drover.SpanAttr) attribute.KeyValue {
	switch v := a.Value.(type) {
	case string:
		return attribute.String(a.Key, v)
	case int:
		return attribute.Int(a.Key, v)
	case int64:
		return attribute.Int64(a.Key, v)
	case float64:
		return attribute.Float64(a.Key, v)
	case bool:
		return attribute.Bool(a.Key, v)
	default:
		return attribute.String(a.Key, fmt.Sprintf("%v", v))
	}
}
