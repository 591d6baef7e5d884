// Package tracing wraps the otel tracer used for spans across clover.
package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	clovercontext "github.com/Ramsey-B/clover/pkg/context"
)

// Span attributes naming the linkage scope of a request.
const (
	ProjectIDAttribute = attribute.Key("clover.project_id")
	DatasetIDAttribute = attribute.Key("clover.dataset_id")
)

var tracer trace.Tracer

// SetTracer installs the tracer used by StartSpan. Without one, StartSpan
// returns the span already in the context.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan starts a span named "pkg.Type.Method" carrying the project and
// dataset of the request, if known.
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName, trace.WithAttributes(scopeAttributes(ctx)...))
}

// TagScope sets the project and dataset attributes on the active span.
func TagScope(ctx context.Context) {
	span := activeSpan(ctx)
	if span == nil {
		return
	}
	if attrs := scopeAttributes(ctx); len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}

func scopeAttributes(ctx context.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if id := clovercontext.GetProjectID(ctx); id != "" {
		attrs = append(attrs, ProjectIDAttribute.String(id))
	}
	if id := clovercontext.GetDatasetID(ctx); id != "" {
		attrs = append(attrs, DatasetIDAttribute.String(id))
	}
	return attrs
}

func activeSpan(ctx context.Context) trace.Span {
	if tracer == nil {
		return nil
	}
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	return span
}

// GetTraceID returns the trace id of the active span, or "".
func GetTraceID(ctx context.Context) string {
	span := activeSpan(ctx)
	if span == nil {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetTraceParent returns the W3C traceparent of the active span, or "".
func GetTraceParent(ctx context.Context) string {
	if activeSpan(ctx) == nil {
		return ""
	}
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier.Get("traceparent")
}

// InjectHeaders propagates the active span onto outgoing request headers.
func InjectHeaders(ctx context.Context, header http.Header) {
	if activeSpan(ctx) == nil {
		return
	}
	propagation.TraceContext{}.Inject(ctx, propagation.HeaderCarrier(header))
}
