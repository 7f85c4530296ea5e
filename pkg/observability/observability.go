// Package observability wires OpenTelemetry tracing and RED metrics for
// contract operations.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/archivekeep/funcadmin"

// Config configures the OTLP exporters.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string  // OTLP gRPC, e.g. "localhost:4317"
	SampleRatio    float64 // 0.0 to 1.0
	ExportInterval time.Duration
	Enabled        bool
	Insecure       bool
}

func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "funcadmin",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		SampleRatio:    1.0,
		ExportInterval: 15 * time.Second,
		Insecure:       true,
	}
}

// Provider owns the SDK providers of the process. A disabled provider uses
// the global (no-op unless installed elsewhere) tracer and meter.
type Provider struct {
	tracer    trace.Tracer
	meter     metric.Meter
	inst      instruments
	shutdowns []func(context.Context) error
	logger    *slog.Logger
}

// instruments are the RED metrics recorded by TrackOperation.
type instruments struct {
	calls    metric.Int64Counter
	latency  metric.Float64Histogram
	inflight metric.Int64UpDownCounter
}

func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := slog.Default().With("component", "observability")
	if !cfg.Enabled {
		logger.DebugContext(ctx, "observability disabled")
		return newProvider(otel.GetTracerProvider(), otel.GetMeterProvider(), logger)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}
	spans, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: trace exporter: %w", err)
	}
	points, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spans),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(points, sdkmetric.WithInterval(cfg.ExportInterval))),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	p, err := newProvider(tp, mp, logger)
	if err != nil {
		return nil, err
	}
	p.shutdowns = []func(context.Context) error{tp.Shutdown, mp.Shutdown}
	logger.InfoContext(ctx, "observability enabled", "endpoint", cfg.Endpoint, "sample_ratio", cfg.SampleRatio)
	return p, nil
}

func newProvider(tp trace.TracerProvider, mp metric.MeterProvider, logger *slog.Logger) (*Provider, error) {
	p := &Provider{
		tracer: tp.Tracer(scope),
		meter:  mp.Meter(scope),
		logger: logger,
	}
	var err error
	if p.inst.calls, err = p.meter.Int64Counter("funcadmin.contract.operations",
		metric.WithDescription("Contract operations by name and outcome"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, fmt.Errorf("observability: counter: %w", err)
	}
	if p.inst.latency, err = p.meter.Float64Histogram("funcadmin.contract.duration",
		metric.WithDescription("Contract operation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)); err != nil {
		return nil, fmt.Errorf("observability: histogram: %w", err)
	}
	if p.inst.inflight, err = p.meter.Int64UpDownCounter("funcadmin.contract.inflight",
		metric.WithDescription("Contract operations in progress"),
		metric.WithUnit("{operation}")); err != nil {
		return nil, fmt.Errorf("observability: gauge: %w", err)
	}
	return p, nil
}

// Shutdown flushes pending spans and metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, shutdown := range p.shutdowns {
		errs = append(errs, shutdown(ctx))
	}
	return errors.Join(errs...)
}

func (p *Provider) Tracer() trace.Tracer { return p.tracer }

func (p *Provider) Meter() metric.Meter { return p.meter }

// TrackOperation opens a span named name and counts the call. The returned
// function records the outcome and must be called exactly once.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	base := metricAttrs(name, attrs)
	p.inst.inflight.Add(ctx, 1, metric.WithAttributes(base...))

	return ctx, func(err error) {
		p.inst.inflight.Add(ctx, -1, metric.WithAttributes(base...))

		outcome := base
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			outcome = append(outcome, AttrOutcome.String("error"), AttrErrorType.String(fmt.Sprintf("%T", err)))
		} else {
			outcome = append(outcome, AttrOutcome.String("ok"))
		}
		p.inst.calls.Add(ctx, 1, metric.WithAttributes(outcome...))
		p.inst.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(base...))
		span.End()
	}
}

// metricAttrs drops per-operation identifiers, which would explode metric
// cardinality.
func metricAttrs(name string, attrs []attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs)+3)
	out = append(out, AttrOperation.String(name))
	for _, a := range attrs {
		if a.Key != AttrOperationID {
			out = append(out, a)
		}
	}
	return out
}
