package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultServiceName is reported when TracingOptions.ServiceName is empty.
const DefaultServiceName = "depot"

// Resource attribute keys describing the cache deployment.
const (
	AttrCachePolicy = attribute.Key("depot.cache.policy")
	AttrSources     = attribute.Key("depot.sources")
)

// TracingOptions configure the OTLP trace pipeline.
type TracingOptions struct {
	Endpoint       string  // OTLP gRPC endpoint
	SampleRate     float64 // 0.0 to 1.0
	ServiceName    string
	ServiceVersion string
	CachePolicy    string
	Sources        int // configured upstream sources
}

// SetupTracing installs a global tracer provider exporting over OTLP gRPC.
// The returned function flushes and stops it.
func SetupTracing(ctx context.Context, opts TracingOptions) (func(context.Context) error, error) {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(opts.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := newResource(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(opts.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newResource(ctx context.Context, opts TracingOptions) (*resource.Resource, error) {
	name := opts.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(name),
		AttrSources.Int(opts.Sources),
	}
	if opts.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(opts.ServiceVersion))
	}
	if opts.CachePolicy != "" {
		attrs = append(attrs, AttrCachePolicy.String(opts.CachePolicy))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

// newSampler samples everything at rate >= 1 and nothing at rate <= 0.
// In between, root spans are sampled by trace ID and children follow
// their parent.
func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
