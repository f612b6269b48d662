package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig configures request/stage tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// TracerProvider wraps the OpenTelemetry tracer used for pipeline spans.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerProvider creates a tracer provider. When tracing is disabled a
// noop tracer is returned so call sites never need nil checks. Exporters are
// injected by the caller; tests use an in-memory exporter.
func NewTracerProvider(config TracingConfig, exporters ...sdktrace.SpanExporter) *TracerProvider {
	if !config.Enabled {
		return &TracerProvider{tracer: noop.NewTracerProvider().Tracer("quill")}
	}

	opts := make([]sdktrace.TracerProviderOption, 0, len(exporters))
	for _, exp := range exporters {
		if exp != nil {
			opts = append(opts, sdktrace.WithSyncer(exp))
		}
	}
	provider := sdktrace.NewTracerProvider(opts...)
	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer("quill"),
	}
}

// StartRequestSpan opens a span covering the full pipeline run for a request.
func (tp *TracerProvider) StartRequestSpan(ctx context.Context, requestID, class string) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, "pipeline.request",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("request.class", class),
		),
	)
}

// StartGroupSpan opens a span covering one stage group.
func (tp *TracerProvider) StartGroupSpan(ctx context.Context, groupIndex int, stages []string) (context.Context, trace.Span) {
	return tp.tracer.Start(ctx, "pipeline.stage_group",
		trace.WithAttributes(
			attribute.Int("group.index", groupIndex),
			attribute.StringSlice("group.stages", stages),
		),
	)
}

// Shutdown flushes and stops the underlying provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}
