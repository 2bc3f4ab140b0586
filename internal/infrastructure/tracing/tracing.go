// Package tracing wraps the global OpenTelemetry TracerProvider with the
// convenience helpers used across request handling: a provider is never
// required to be wired up (the global default is a no-op), so these calls
// are safe to make unconditionally and become real spans the moment an
// embedder installs an SDK provider.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mbflow-labs/storygraph"

// StartSpan starts a new span named name under the running trace, if any.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// RecordError marks span as failed and attaches err, if non-nil.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
