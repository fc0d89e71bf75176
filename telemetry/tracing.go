// OpenTelemetry spans for envelope deliveries, request exchanges, and
// learning passes.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps OpenTelemetry tracing with coordination-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include payloads in span attributes
}

var tracerMu sync.RWMutex
var globalTracer *Tracer

// SetGlobalTracer installs the process-wide tracer.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	globalTracer = t
	tracerMu.Unlock()
}

// GetTracer returns the global tracer, or a no-op one if none is installed.
func GetTracer() *Tracer {
	tracerMu.RLock()
	t := globalTracer
	tracerMu.RUnlock()
	if t == nil {
		return &Tracer{tracer: trace.NewNoopTracerProvider().Tracer("")}
	}
	return t
}

// NewTracer creates a tracer under the given instrumentation name.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{tracer: otel.Tracer(name), debug: debug}
}

// SetDebug toggles payload capture in spans.
func (t *Tracer) SetDebug(debug bool) { t.debug = debug }

// Debug reports whether payload capture is on.
func (t *Tracer) Debug() bool { return t.debug }

// StartSpan starts a span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// finishSpan records the error status and ends the span.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Delivery Spans ---

// DeliverySpanOptions contains options for envelope delivery spans.
type DeliverySpanOptions struct {
	EnvelopeID string
	SenderID   string
	ReceiverID string
	Kind       string
	Capability string
	Priority   int
	Outcome    string
	Payload    string // Only included if debug=true
}

// StartDeliverySpan starts a span for one envelope delivery.
func (t *Tracer) StartDeliverySpan(ctx context.Context, kind string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "deliver."+kind, trace.WithSpanKind(trace.SpanKindProducer))
}

// EndDeliverySpan ends a delivery span with attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, opts DeliverySpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("envelope.id", opts.EnvelopeID),
		attribute.String("envelope.sender", opts.SenderID),
		attribute.String("envelope.kind", opts.Kind),
		attribute.Int("envelope.priority", opts.Priority),
	}
	if opts.ReceiverID != "" {
		attrs = append(attrs, attribute.String("envelope.receiver", opts.ReceiverID))
	}
	if opts.Capability != "" {
		attrs = append(attrs, attribute.String("envelope.capability", opts.Capability))
	}
	if opts.Outcome != "" {
		attrs = append(attrs, attribute.String("envelope.outcome", opts.Outcome))
	}

	if t.debug && opts.Payload != "" {
		attrs = append(attrs, attribute.String("envelope.payload", truncate(opts.Payload, 4000)))
	}

	span.SetAttributes(attrs...)
	finishSpan(span, err)
}

// --- Request Spans ---

// RequestSpanOptions contains options for request/response exchange spans.
type RequestSpanOptions struct {
	EnvelopeID string
	ReceiverID string
	Capability string
	Latency    time.Duration
	TimedOut   bool
}

// StartRequestSpan starts a span covering a full request/response exchange.
func (t *Tracer) StartRequestSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "request", trace.WithSpanKind(trace.SpanKindClient))
}

// EndRequestSpan ends a request span with attributes.
func (t *Tracer) EndRequestSpan(span trace.Span, opts RequestSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("envelope.id", opts.EnvelopeID),
		attribute.Bool("request.timed_out", opts.TimedOut),
	}
	if opts.ReceiverID != "" {
		attrs = append(attrs, attribute.String("envelope.receiver", opts.ReceiverID))
	}
	if opts.Capability != "" {
		attrs = append(attrs, attribute.String("envelope.capability", opts.Capability))
	}
	if opts.Latency > 0 {
		attrs = append(attrs, attribute.Int64("request.latency_ms", opts.Latency.Milliseconds()))
	}

	span.SetAttributes(attrs...)
	finishSpan(span, err)
}

// --- Learning Spans ---

// LearningSpanOptions contains options for learning pass spans.
type LearningSpanOptions struct {
	Modules     int
	Adjusted    int
	Recommended int
}

// StartLearningSpan starts a span for one learning pass.
func (t *Tracer) StartLearningSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "learning.pass", trace.WithSpanKind(trace.SpanKindInternal))
}

// EndLearningSpan ends a learning span with attributes.
func (t *Tracer) EndLearningSpan(span trace.Span, opts LearningSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int("learning.modules", opts.Modules),
		attribute.Int("learning.adjusted", opts.Adjusted),
		attribute.Int("learning.recommended", opts.Recommended),
	)
	finishSpan(span, err)
}

// --- Context Propagation ---

// InjectContext writes the active trace context into a carrier, typically an
// envelope's metadata, so remote peers can continue the trace.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext reads trace context out of a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// MapCarrier adapts a plain string map to the TextMapCarrier interface.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string { return c[key] }
func (c MapCarrier) Set(key, value string) { c[key] = value }

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
