package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys
var (
	AttrRepositoryName = attribute.Key("repository.name")
	AttrRegistryType   = attribute.Key("registry.type")
	AttrRegistryRegion = attribute.Key("registry.region")
	AttrOperation      = attribute.Key("registry.operation")
	AttrOutcome        = attribute.Key("reconcile.outcome")
	AttrRunID          = attribute.Key("reconcile.run_id")
)

// Target is the repository a process reconciles
type Target struct {
	Repository   string
	RegistryType string
	Region       string
}

// Attributes returns the coordinates that are set
func (t Target) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if t.Repository != "" {
		attrs = append(attrs, AttrRepositoryName.String(t.Repository))
	}
	if t.RegistryType != "" {
		attrs = append(attrs, AttrRegistryType.String(t.RegistryType))
	}
	if t.Region != "" {
		attrs = append(attrs, AttrRegistryRegion.String(t.Region))
	}
	return attrs
}

// TracingConfig configures span export. SampleRate is a fraction of root
// spans, clamped to [0, 1].
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
	Insecure       bool
	Target         Target
}

// Tracer starts reconcile and registry spans. A disabled tracer uses the
// global provider, which is a no-op unless something installed one.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	target   Target
}

// NewTracer exports spans over OTLP/HTTP when enabled
func NewTracer(ctx context.Context, config TracingConfig) (*Tracer, error) {
	if !config.Enabled {
		return &Tracer{tracer: otel.Tracer(config.ServiceName), target: config.Target}, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	// resource.New rather than Merge avoids schema URL conflicts with the default resource
	res, err := resource.New(ctx,
		resource.WithAttributes(resourceAttributes(config)...),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(config.SampleRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
		target:   config.Target,
	}, nil
}

// resourceAttributes describes the process: the service plus the registry
// and repository it works on
func resourceAttributes(config TracingConfig) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
		semconv.DeploymentEnvironment(config.Environment),
	}
	if config.Target.RegistryType == "ecr" {
		attrs = append(attrs, semconv.CloudProviderAWS)
	}
	if config.Target.Region != "" {
		attrs = append(attrs, semconv.CloudRegion(config.Target.Region))
	}
	return append(attrs, config.Target.Attributes()...)
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// NoopTracer returns a tracer with no target
func NoopTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer("repo-provisioner")}
}

// Shutdown flushes pending spans
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// StartRun starts the root span of a reconciliation run, carrying the
// target coordinates and the run ID
func (t *Tracer) StartRun(ctx context.Context, runID string) (context.Context, trace.Span) {
	attrs := append(t.target.Attributes(), AttrRunID.String(runID))
	return t.tracer.Start(ctx, "reconcile", trace.WithAttributes(attrs...))
}

// StartSpan starts a child span
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// SetAttributes sets attributes on the current span
func (t *Tracer) SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// RecordError records err on the current span and marks it failed
func (t *Tracer) RecordError(ctx context.Context, err error, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}
