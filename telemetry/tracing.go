// Package telemetry provides OpenTelemetry tracing for bridge traffic.
//
// Without InitProvider the global provider is a no-op and spans cost nothing.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName names the tracer used by the bridge.
const InstrumentationName = "github.com/vinayprograms/mcpbridge"

// Tracer wraps OpenTelemetry tracing with bridge-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include payloads in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, debug bool) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(InstrumentationName),
		debug:  debug,
	}
}

// SetDebug enables or disables debug mode (payloads in spans).
func (t *Tracer) SetDebug(debug bool) {
	t.debug = debug
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Send Spans ---

// SendSpanOptions contains options for outbound envelope spans.
type SendSpanOptions struct {
	Kind    string
	Channel string
	Params  string // Only included if debug=true
}

// StartSendSpan starts a span for one outbound protocol message.
// An empty method marks a response.
func (t *Tracer) StartSendSpan(ctx context.Context, method, session string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "bridge.send", trace.WithSpanKind(trace.SpanKindProducer))
	if method == "" {
		method = "(response)"
	}
	span.SetAttributes(
		attribute.String("mcp.method", method),
		attribute.String("mcp.session", session),
	)
	return ctx, span
}

// EndSendSpan ends a send span. err covers local failures only: delivery
// is confirmed later, if at all.
func (t *Tracer) EndSendSpan(span trace.Span, opts SendSpanOptions, err error) {
	attrs := []attribute.KeyValue{}
	if opts.Kind != "" {
		attrs = append(attrs, attribute.String("bridge.kind", opts.Kind))
	}
	if opts.Channel != "" {
		attrs = append(attrs, attribute.String("bridge.channel", opts.Channel))
	}
	if t.debug && opts.Params != "" {
		attrs = append(attrs, attribute.String("mcp.params", truncate(opts.Params, 4000)))
	}
	span.SetAttributes(attrs...)

	endSpan(span, err)
}

// --- Tool Spans ---

// ToolSpanOptions contains options for tool execution spans.
type ToolSpanOptions struct {
	Args   map[string]interface{} // Only included if debug=true
	Result string                 // Only included if debug=true
}

// StartToolSpan starts a span for a tool call served over the bridge.
func (t *Tracer) StartToolSpan(ctx context.Context, server, tool string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "mcp.tool."+tool, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("mcp.server", server),
		attribute.String("mcp.tool", tool),
	)
	return ctx, span
}

// EndToolSpan ends a tool span with attributes.
func (t *Tracer) EndToolSpan(span trace.Span, opts ToolSpanOptions, err error) {
	if t.debug {
		for k, v := range opts.Args {
			span.SetAttributes(attribute.String("mcp.arg."+k, truncateAny(v, 500)))
		}
		if opts.Result != "" {
			span.SetAttributes(attribute.String("mcp.result", truncate(opts.Result, 4000)))
		}
	}

	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Helpers ---

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func truncateAny(v interface{}, maxLen int) string {
	switch val := v.(type) {
	case string:
		return truncate(val, maxLen)
	case []byte:
		return truncate(string(val), maxLen)
	default:
		return truncate(fmt.Sprint(val), maxLen)
	}
}
