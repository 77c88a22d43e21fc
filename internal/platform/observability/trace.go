package observability

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/posterparlor/storefront/internal/platform/requestctx"
)

const (
	instrumentationName = "github.com/posterparlor/storefront"
	cloudTraceHeader    = "X-Cloud-Trace-Context"
)

// Tracer returns the tracer shared by storefront packages.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Meter returns the meter shared by storefront packages.
func Meter() metric.Meter {
	return otel.GetMeterProvider().Meter(instrumentationName)
}

// StartClientSpan starts a client span for an outbound request and records trace
// metadata on the returned context.
func StartClientSpan(ctx context.Context, req *http.Request) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, spanNameFromRequest(req), trace.WithSpanKind(trace.SpanKindClient))
	if req != nil {
		span.SetAttributes(clientSpanAttributes(req)...)
	}
	spanCtx := span.SpanContext()
	ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{
		TraceID: spanCtx.TraceID().String(),
		SpanID:  spanCtx.SpanID().String(),
		Sampled: spanCtx.IsSampled(),
	})
	return ctx, span
}

// InjectTraceHeader propagates the span on ctx to the backend using the Cloud Trace header.
func InjectTraceHeader(ctx context.Context, req *http.Request) {
	if req == nil {
		return
	}
	info, ok := requestctx.Trace(ctx)
	if !ok {
		return
	}
	if formatted := formatCloudTraceHeader(info); formatted != "" {
		req.Header.Set(cloudTraceHeader, formatted)
	}
}

func formatCloudTraceHeader(info requestctx.TraceInfo) string {
	if !mustTraceID(info.TraceID).IsValid() || info.SpanID == "" {
		return ""
	}
	option := "0"
	if info.Sampled {
		option = "1"
	}
	return fmt.Sprintf("%s/%s;o=%s", info.TraceID, info.SpanID, option)
}

func mustTraceID(hex string) trace.TraceID {
	id, err := trace.TraceIDFromHex(hex)
	if err != nil {
		return trace.TraceID{}
	}
	return id
}

func spanNameFromRequest(r *http.Request) string {
	if r == nil || r.URL == nil {
		return "HTTP"
	}
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("%s %s", SanitizeMethod(r.Method), SanitizeRoute(path))
}

func clientSpanAttributes(r *http.Request) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.request.method", r.Method),
	}
	if r.URL != nil {
		attrs = append(attrs,
			attribute.String("url.scheme", r.URL.Scheme),
			attribute.String("url.path", r.URL.Path),
		)
		if host := r.URL.Hostname(); host != "" {
			attrs = append(attrs, attribute.String("server.address", host))
		}
	}
	return attrs
}
