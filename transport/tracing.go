package transport

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// TraceAttribute is a backend-neutral key/value span attribute.
type TraceAttribute struct {
	Key   string
	Value any
}

// Tracer starts spans around the acceptor's negotiation and around each
// request's backend execution, from the Execute call until its
// completion SEND.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs ...TraceAttribute) (context.Context, Span)
}

// Span records lifecycle, events, and errors for tracing systems.
type Span interface {
	End(err error)
	AddEvent(name string, attrs ...TraceAttribute)
	RecordError(err error)
}

// OTelTracer adapts an OpenTelemetry Tracer to the transport's Tracer
// interface.
type OTelTracer struct {
	Tracer oteltrace.Tracer
}

var _ Tracer = OTelTracer{}

func (t OTelTracer) StartSpan(ctx context.Context, name string, attrs ...TraceAttribute) (context.Context, Span) {
	if t.Tracer == nil {
		return ctx, nil
	}
	ctx, span := t.Tracer.Start(ctx, name, oteltrace.WithAttributes(toOTelAttrs(attrs)...))
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span oteltrace.Span
}

func (s otelSpan) End(err error) {
	if s.span == nil {
		return
	}
	if err != nil {
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

func (s otelSpan) AddEvent(name string, attrs ...TraceAttribute) {
	if s.span == nil {
		return
	}
	s.span.AddEvent(name, oteltrace.WithAttributes(toOTelAttrs(attrs)...))
}

func (s otelSpan) RecordError(err error) {
	if s.span == nil || err == nil {
		return
	}
	s.span.RecordError(err)
}

func (t *Transport) startSpan(ctx context.Context, name string, attrs ...TraceAttribute) (context.Context, Span) {
	if t == nil || t.tracer == nil {
		return ctx, nil
	}
	return t.tracer.StartSpan(ctx, name, attrs...)
}

func toOTelAttrs(attrs []TraceAttribute) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		switch v := a.Value.(type) {
		case string:
			out = append(out, attribute.String(a.Key, v))
		case int:
			out = append(out, attribute.Int(a.Key, v))
		case int64:
			out = append(out, attribute.Int64(a.Key, v))
		case uint32:
			out = append(out, attribute.Int64(a.Key, int64(v)))
		case uint16:
			out = append(out, attribute.Int64(a.Key, int64(v)))
		case bool:
			out = append(out, attribute.Bool(a.Key, v))
		default:
			out = append(out, attribute.String(a.Key, toString(v)))
		}
	}
	return out
}

func toString(v any) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	if e, ok := v.(error); ok {
		return e.Error()
	}
	return fmt.Sprint(v)
}
