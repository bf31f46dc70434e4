// Package tracing emits OpenTelemetry spans for agent turns, LLM calls, and
// tool executions. Unlike the donor's Postgres-backed trace collector, spans
// here are the trace store: there is no separate trace/span table to query,
// since standalone mode carries no database. A trace ID and parent-span ID
// are still threaded through context as plain UUIDs so async work (subagent
// announces, delegated runs) can correlate back to the run that spawned them
// without needing the OTel SDK's own span context to survive a goroutine
// boundary or a process restart.
package tracing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/skyefall/nanobot/internal/tracing"

// Collector wraps the OTel tracer used to emit turn/LLM/tool spans.
type Collector struct {
	tracer trace.Tracer
}

// NewCollector wraps an existing tracer, or the global tracer if nil.
func NewCollector(tracer trace.Tracer) *Collector {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return &Collector{tracer: tracer}
}

// StartSpan starts a span named per the given component ("turn", "llm_call",
// "tool_call", "subagent") and returns the derived context plus the span so
// the caller can End() it and attach a result/error.
func (c *Collector) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if c == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan finishes a span, recording callErr as the span status if non-nil.
func EndSpan(span trace.Span, callErr error, attrs ...attribute.KeyValue) {
	if span == nil {
		return
	}
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if callErr != nil {
		span.RecordError(callErr)
	}
	span.End()
}

// InitProvider sets up the global TracerProvider and returns a Collector
// backed by it, plus a shutdown func to flush on exit. When otlpEndpoint is
// empty, spans are exported via a slog-based exporter so turn/tool activity
// is still observable without any collector running — OTLP export only
// activates when otlpEndpoint is non-empty (gRPC when otlpInsecure is set,
// HTTP otherwise).
func InitProvider(ctx context.Context, serviceName, otlpEndpoint string, otlpInsecure bool) (*Collector, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		res = resource.Default()
	}

	var exporter sdktrace.SpanExporter
	if otlpEndpoint != "" {
		exporter, err = newOTLPExporter(ctx, otlpEndpoint, otlpInsecure)
		if err != nil {
			slog.Warn("tracing: OTLP exporter init failed, falling back to log exporter", "error", err)
			exporter = newLogExporter()
		} else {
			slog.Info("tracing: exporting spans via OTLP", "endpoint", otlpEndpoint)
		}
	} else {
		exporter = newLogExporter()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return NewCollector(tp.Tracer(instrumentationName)), tp.Shutdown, nil
}

func newOTLPExporter(ctx context.Context, endpoint string, insecure bool) (sdktrace.SpanExporter, error) {
	if insecure {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure()}
		return otlptracegrpc.New(ctx, opts...)
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	return otlptracehttp.New(ctx, opts...)
}

// logExporter writes finished spans as structured slog records. It is the
// zero-configuration default so turn/tool/llm spans are always visible in
// the service's own logs even when no OTLP collector is deployed.
type logExporter struct{}

func newLogExporter() sdktrace.SpanExporter { return logExporter{} }

func (logExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := make(map[string]string, len(s.Attributes()))
		for _, a := range s.Attributes() {
			attrs[string(a.Key)] = a.Value.Emit()
		}
		slog.Debug("span",
			"name", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"span_id", s.SpanContext().SpanID().String(),
			"duration_ms", s.EndTime().Sub(s.StartTime()).Milliseconds(),
			"status", s.Status().Code.String(),
			"attrs", attrs,
		)
	}
	return nil
}

func (logExporter) Shutdown(context.Context) error { return nil }

// --- Context-carried correlation IDs ---
//
// These are independent of the OTel span context: they exist so subagent
// and delegate results, which complete in a detached goroutine well after
// the parent turn's context may be cancelled, can still be announced back
// and (when tracing is active) nested visually under the run that spawned
// them.

type tracingContextKey string

const (
	ctxTraceID              tracingContextKey = "trace_id"
	ctxParentSpanID         tracingContextKey = "parent_span_id"
	ctxAnnounceParentSpanID tracingContextKey = "announce_parent_span_id"
	ctxDelegateParentTrace  tracingContextKey = "delegate_parent_trace_id"
	ctxCollector            tracingContextKey = "collector"
)

func WithTraceID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxTraceID, id)
}

func TraceIDFromContext(ctx context.Context) uuid.UUID {
	v, _ := ctx.Value(ctxTraceID).(uuid.UUID)
	return v
}

func WithParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxParentSpanID, id)
}

func ParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	v, _ := ctx.Value(ctxParentSpanID).(uuid.UUID)
	return v
}

// WithAnnounceParentSpanID marks the span a subagent's announce message
// should visually nest under once delivered back into the parent's session.
func WithAnnounceParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxAnnounceParentSpanID, id)
}

func AnnounceParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	v, _ := ctx.Value(ctxAnnounceParentSpanID).(uuid.UUID)
	return v
}

// WithDelegateParentTraceID marks a delegated (cross-session) run as a
// child of the trace that issued the delegation.
func WithDelegateParentTraceID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxDelegateParentTrace, id)
}

func DelegateParentTraceIDFromContext(ctx context.Context) uuid.UUID {
	v, _ := ctx.Value(ctxDelegateParentTrace).(uuid.UUID)
	return v
}

func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, ctxCollector, c)
}

func CollectorFromContext(ctx context.Context) *Collector {
	v, _ := ctx.Value(ctxCollector).(*Collector)
	return v
}

// GenNewID produces a fresh correlation/span ID. Kept here (rather than in
// store, which no longer exists as a DB layer) since tracing is the only
// remaining consumer of ad hoc UUIDs for span identity.
func GenNewID() uuid.UUID { return uuid.New() }

// Now is a small seam so span timestamps can be stamped consistently.
func Now() time.Time { return time.Now().UTC() }
