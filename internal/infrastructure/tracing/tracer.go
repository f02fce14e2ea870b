// Package tracing records OpenTelemetry spans for queue drains, individual
// replays and cache-backed reads. Spans go to stdout or an OTLP collector;
// with tracing disabled every helper is a no-op.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// TracerName is the instrumentation scope of every schoolsync span.
	TracerName = "github.com/jbctechsolutions/schoolsync"

	// Version is the instrumentation version.
	Version = "1.0.0"
)

// ExporterType selects where spans are sent.
type ExporterType string

const (
	ExporterNone   ExporterType = "none"
	ExporterStdout ExporterType = "stdout"
	ExporterOTLP   ExporterType = "otlp"
)

// Config holds tracing configuration.
type Config struct {
	Enabled      bool
	ExporterType ExporterType
	OTLPEndpoint string    // host:port of an OTLP/HTTP collector
	ServiceName  string
	SampleRate   float64   // 0.0 to 1.0
	Output       io.Writer // stdout exporter destination, os.Stdout when nil
}

// Tracer creates the sync and cache spans.
type Tracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// Default returns a tracer backed by the global OpenTelemetry provider,
// which is a no-op until New installs a real one.
func Default() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// New builds a tracer for cfg and installs it as the global provider.
// A disabled config yields a no-op tracer.
func New(ctx context.Context, cfg Config) (*Tracer, error) {
	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(TracerName)}, nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}
	return newWithProcessor(ctx, cfg, sdktrace.NewBatchSpanProcessor(exporter))
}

func newWithProcessor(ctx context.Context, cfg Config, processor sdktrace.SpanProcessor) (*Tracer, error) {
	// Not merged with resource.Default(): its schema URL can conflict with
	// the semconv version used here.
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(Version),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetTracerProvider(provider)

	return &Tracer{
		tracer:   provider.Tracer(TracerName, trace.WithInstrumentationVersion(Version)),
		provider: provider,
	}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if cfg.Output != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Output))
		}
		return stdouttrace.New(opts...)

	case ExporterOTLP:
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		return otlptracehttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}
}

// Shutdown flushes pending spans and stops the provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// DrainSpan covers one run of the sync engine.
type DrainSpan struct {
	span trace.Span
}

// StartDrainSpan starts a span for a queue drain.
func (t *Tracer) StartDrainSpan(ctx context.Context, drainID string, pending int) (context.Context, *DrainSpan) {
	ctx, span := t.tracer.Start(ctx, "sync.drain",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("sync.drain_id", drainID),
			attribute.Int("sync.pending", pending),
		),
	)
	return ctx, &DrainSpan{span: span}
}

// SetResult records the drain counters.
func (ds *DrainSpan) SetResult(synced, failed, remaining int) {
	ds.span.SetAttributes(
		attribute.Int("sync.synced", synced),
		attribute.Int("sync.failed", failed),
		attribute.Int("sync.remaining", remaining),
	)
}

// End ends the drain span. Dropped items are recorded on their replay spans,
// so the drain itself is always Ok.
func (ds *DrainSpan) End() {
	ds.span.SetStatus(codes.Ok, "")
	ds.span.End()
}

// ReplaySpan covers the replay of one queued mutation.
type ReplaySpan struct {
	span trace.Span
}

// StartReplaySpan starts a client span for replaying a mutation.
func (t *Tracer) StartReplaySpan(ctx context.Context, mutationID int64, method, url string, retries int) (context.Context, *ReplaySpan) {
	ctx, span := t.tracer.Start(ctx, "sync.replay",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64("mutation.id", mutationID),
			attribute.String("http.request.method", method),
			attribute.String("url.full", url),
			attribute.Int("mutation.retries", retries),
		),
	)
	return ctx, &ReplaySpan{span: span}
}

// End ends a successful replay.
func (rs *ReplaySpan) End(status int) {
	rs.span.SetAttributes(
		attribute.Int("http.response.status_code", status),
		attribute.String("mutation.outcome", "synced"),
	)
	rs.span.SetStatus(codes.Ok, "")
	rs.span.End()
}

// EndWithError ends a failed replay. outcome is "dropped" or "retained".
func (rs *ReplaySpan) EndWithError(err error, status int, outcome string) {
	if status != 0 {
		rs.span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	rs.span.SetAttributes(attribute.String("mutation.outcome", outcome))
	rs.span.RecordError(err)
	rs.span.SetStatus(codes.Error, err.Error())
	rs.span.End()
}

// ReadSpan covers a read-through call.
type ReadSpan struct {
	span trace.Span
}

// StartReadSpan starts a span for a cache-backed read.
func (t *Tracer) StartReadSpan(ctx context.Context, cacheKey string) (context.Context, *ReadSpan) {
	ctx, span := t.tracer.Start(ctx, "cache.read",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.key", cacheKey),
			attribute.Bool("cache.hit", false),
		),
	)
	return ctx, &ReadSpan{span: span}
}

// SetFromCache marks the read as served from the durable cache.
func (rs *ReadSpan) SetFromCache(stale bool) {
	rs.span.SetAttributes(
		attribute.Bool("cache.hit", true),
		attribute.Bool("cache.stale", stale),
	)
}

// End ends a read that produced data.
func (rs *ReadSpan) End() {
	rs.span.SetStatus(codes.Ok, "")
	rs.span.End()
}

// EndWithError ends a read that produced neither a response nor cached data.
func (rs *ReadSpan) EndWithError(err error) {
	rs.span.RecordError(err)
	rs.span.SetStatus(codes.Error, err.Error())
	rs.span.End()
}
