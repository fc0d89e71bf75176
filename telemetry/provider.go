package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures OTLP trace export.
type ProviderConfig struct {
	// ServiceName tags exported spans. Falls back to OTEL_SERVICE_NAME,
	// then "aiekit".
	ServiceName string

	// ServiceVersion tags exported spans.
	ServiceVersion string

	// Endpoint is the OTLP collector, host:port. Falls back to
	// OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string

	// Protocol is "grpc" or "http". Default: "grpc".
	Protocol string

	// Insecure disables TLS toward the collector.
	Insecure bool

	// Debug includes envelope payloads in span attributes.
	Debug bool

	// Headers are added to every export request.
	Headers map[string]string

	// BatchTimeout bounds how long spans wait before export.
	BatchTimeout time.Duration

	// ExportTimeout bounds each export call.
	ExportTimeout time.Duration
}

// resolve fills environment fallbacks and defaults.
func (c *ProviderConfig) resolve() error {
	if c.Endpoint == "" {
		c.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint not configured (set endpoint or OTEL_EXPORTER_OTLP_ENDPOINT)")
	}
	c.Endpoint = strings.TrimPrefix(c.Endpoint, "http://")
	c.Endpoint = strings.TrimPrefix(c.Endpoint, "https://")

	if c.ServiceName == "" {
		c.ServiceName = os.Getenv("OTEL_SERVICE_NAME")
	}
	if c.ServiceName == "" {
		c.ServiceName = "aiekit"
	}
	if c.Protocol == "" {
		c.Protocol = "grpc"
	}
	return nil
}

// spanExporter builds the OTLP exporter for the configured protocol.
func (c *ProviderConfig) spanExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	switch c.Protocol {
	case "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(c.Endpoint)}
		if c.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(c.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(c.Headers))
		}
		if c.ExportTimeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(c.ExportTimeout))
		}
		return otlptracegrpc.New(ctx, opts...)

	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(c.Endpoint)}
		if c.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(c.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(c.Headers))
		}
		if c.ExportTimeout > 0 {
			opts = append(opts, otlptracehttp.WithTimeout(c.ExportTimeout))
		}
		return otlptracehttp.New(ctx, opts...)
	}
	return nil, fmt.Errorf("unknown protocol: %s (use 'grpc' or 'http')", c.Protocol)
}

// Provider owns the installed TracerProvider and its cleanup.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer *Tracer
}

// InitProvider installs OTLP tracing globally. The returned Provider must be
// shut down to flush remaining spans.
func InitProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	if err := cfg.resolve(); err != nil {
		return nil, err
	}

	exporter, err := cfg.spanExporter(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var batchOpts []sdktrace.BatchSpanProcessorOption
	if cfg.BatchTimeout > 0 {
		batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(cfg.BatchTimeout))
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, batchOpts...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := NewTracer(cfg.ServiceName, cfg.Debug)
	SetGlobalTracer(tracer)

	return &Provider{tp: tp, tracer: tracer}, nil
}

// Tracer returns the provider's tracer.
func (p *Provider) Tracer() *Tracer {
	return p.tracer
}

// SetDebug toggles payload capture in spans.
func (p *Provider) SetDebug(debug bool) {
	p.tracer.SetDebug(debug)
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.tp.Shutdown(ctx)
}

// ForceFlush pushes pending spans out immediately.
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.tp.ForceFlush(ctx)
}
