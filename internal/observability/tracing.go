package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type TraceManager struct {
	tracer trace.Tracer
}

func NewTraceManager(serviceName string) *TraceManager {
	return &TraceManager{
		tracer: otel.Tracer(serviceName),
	}
}

func (tm *TraceManager) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// InjectTraceContext writes the active trace context into a metadata map,
// e.g. a plugin Envelope's string metadata, so a span survives the hop into
// an out-of-process adapter.
func (tm *TraceManager) InjectTraceContext(ctx context.Context, headers map[string]string) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
}

// ExtractTraceContext is the receiving half of InjectTraceContext.
func (tm *TraceManager) ExtractTraceContext(ctx context.Context, headers map[string]string) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
}

// StartRoutingSpan covers one full RouteMessage call: cache probe, strategy
// selection, and the attempt loop.
func (tm *TraceManager) StartRoutingSpan(ctx context.Context, messageID, targetAgentID string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "route_message", trace.WithAttributes(
		attribute.String("message.id", messageID),
		attribute.String("routing.target_agent", targetAgentID),
	))
}

// StartPluginCallSpan covers one unary or streaming call through the plugin
// host to an adapter process.
func (tm *TraceManager) StartPluginCallSpan(ctx context.Context, pluginID, method string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "plugin_call", trace.WithAttributes(
		attribute.String("plugin.id", pluginID),
		attribute.String("plugin.method", method),
	))
}

// StartTaskSpan covers one task lifecycle operation (submit, transition,
// cancel).
func (tm *TraceManager) StartTaskSpan(ctx context.Context, taskID, operation string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, "task_"+operation, trace.WithAttributes(
		attribute.String("task.id", taskID),
	))
}

func (tm *TraceManager) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (tm *TraceManager) SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddRoutingResult records the outcome of a routed message on its span.
func (tm *TraceManager) AddRoutingResult(span trace.Span, selectedAgentID, selectedEndpoint string, attempts int, cacheHit bool) {
	span.SetAttributes(
		attribute.String("routing.selected_agent", selectedAgentID),
		attribute.String("routing.selected_endpoint", selectedEndpoint),
		attribute.Int("routing.attempts", attempts),
		attribute.Bool("routing.cache_hit", cacheHit),
	)
}

// AddTaskAttributes records a task's identity and kind plus its free-form
// metadata as span attributes.
func (tm *TraceManager) AddTaskAttributes(span trace.Span, taskID, kind string, metadata map[string]interface{}) {
	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.String("task.kind", kind),
	)
	for key, value := range metadata {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String("task.meta."+key, v))
		case float64:
			span.SetAttributes(attribute.Float64("task.meta."+key, v))
		case int:
			span.SetAttributes(attribute.Int("task.meta."+key, v))
		case bool:
			span.SetAttributes(attribute.Bool("task.meta."+key, v))
		default:
			span.SetAttributes(attribute.String("task.meta."+key, fmt.Sprintf("%v", v)))
		}
	}
}

// AddSpanEvent adds a timestamped event to a span for tracking processing steps.
func (tm *TraceManager) AddSpanEvent(span trace.Span, eventName string, attributes ...attribute.KeyValue) {
	span.AddEvent(eventName, trace.WithAttributes(attributes...))
}

// AddComponentAttribute tags a span with the AgentX subsystem that owns it
// (protocol, router, pluginhost, registry).
func (tm *TraceManager) AddComponentAttribute(span trace.Span, component string) {
	span.SetAttributes(attribute.String("agentx.component", component))
}
