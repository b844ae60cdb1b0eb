package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartDispatchSpan creates a child span covering one full dispatch,
// including every fallback attempt.
func StartDispatchSpan(ctx context.Context, category string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "dispatch.execute",
		trace.WithAttributes(attribute.String("dispatch.category", category)),
	)
}

// StartUpstreamSpan creates a child span for one HTTP call to a provider
// backend.
func StartUpstreamSpan(ctx context.Context, url, host string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "upstream.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.url", url),
			attribute.String("upstream.host", host),
		),
	)
}

// InjectHeaders injects the current trace context (traceparent, tracestate)
// into the given HTTP request headers so the upstream service can continue
// the trace.
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetTaskAttributes adds task-level attributes to the current span.
func SetTaskAttributes(ctx context.Context, dispatchID, category string) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("dispatch.id", dispatchID),
		attribute.String("dispatch.category", category),
	)
}

// SetResultAttributes adds result-level attributes to the current span.
func SetResultAttributes(ctx context.Context, provider string, degraded, cancelled, cached bool, attempts int) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("result.provider", provider),
		attribute.Bool("result.degraded", degraded),
		attribute.Bool("result.cancelled", cancelled),
		attribute.Bool("result.cached", cached),
		attribute.Int("result.attempts", attempts),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
