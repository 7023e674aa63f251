// Package telemetry wires OpenTelemetry tracing for the orchestrators.
// When tracing is disabled the global no-op provider stays in place and
// spans cost nothing.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/entrhq/pageproof"

// Options configures the tracer provider
type Options struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// Writer receives exported spans (default os.Stdout)
	Writer io.Writer
}

// Provider holds the OpenTelemetry tracer provider
type Provider struct {
	provider *sdktrace.TracerProvider
}

// Setup installs a global tracer provider exporting to opts.Writer.
// It returns an inert Provider when tracing is disabled.
func Setup(opts Options) (*Provider, error) {
	if !opts.Enabled {
		return &Provider{}, nil
	}

	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", opts.ServiceName),
		attribute.String("service.version", opts.ServiceVersion),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)

	return &Provider{provider: provider}, nil
}

// Enabled reports whether spans are being exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.provider != nil
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	return p.provider.Shutdown(ctx)
}

// Tracer returns the service tracer
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span with the given name
func StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records err on the current span and marks it failed
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// Common attribute keys
var (
	AttrURL        = attribute.Key("pageproof.url")
	AttrStatus     = attribute.Key("pageproof.status")
	AttrHTTPStatus = attribute.Key("pageproof.http_status")
	AttrCheckType  = attribute.Key("pageproof.check.type")
	AttrCheckCount = attribute.Key("pageproof.check.count")
	AttrBatchSize  = attribute.Key("pageproof.batch.size")
	AttrFolder     = attribute.Key("pageproof.evidence.folder")
)
