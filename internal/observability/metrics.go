package observability

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type MetricsManager struct {
	meter metric.Meter

	// Message metrics, fed by the protocol engine
	messagesProcessedTotal    metric.Int64Counter
	messageProcessingDuration metric.Float64Histogram
	messageErrorsTotal        metric.Int64Counter
	messagesRoutedTotal       metric.Int64Counter

	// System metrics
	processCPUSecondsTotal     metric.Float64Counter
	processResidentMemoryBytes metric.Int64UpDownCounter
	goGoroutines               metric.Int64UpDownCounter
	goMemstatsAllocBytes       metric.Int64UpDownCounter

	// Routing metrics
	routeDispatchDuration metric.Float64Histogram
	routeDeliveryDuration metric.Float64Histogram
	routeConnectionErrors metric.Int64Counter
}

func NewMetricsManager(meter metric.Meter) (*MetricsManager, error) {
	mm := &MetricsManager{meter: meter}

	var err error

	// Message metrics
	mm.messagesProcessedTotal, err = meter.Int64Counter(
		"messages_processed_total",
		metric.WithDescription("Total number of messages accepted by the protocol engine"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.messageProcessingDuration, err = meter.Float64Histogram(
		"message_processing_duration_seconds",
		metric.WithDescription("Validation plus handler dispatch duration per message"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.messageErrorsTotal, err = meter.Int64Counter(
		"message_errors_total",
		metric.WithDescription("Total number of messages rejected or failed in dispatch"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.messagesRoutedTotal, err = meter.Int64Counter(
		"messages_routed_total",
		metric.WithDescription("Total number of messages delivered to a selected agent"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	// System metrics
	mm.processCPUSecondsTotal, err = meter.Float64Counter(
		"process_cpu_seconds_total",
		metric.WithDescription("Total user and system CPU time spent in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.processResidentMemoryBytes, err = meter.Int64UpDownCounter(
		"process_resident_memory_bytes",
		metric.WithDescription("Resident memory size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	mm.goGoroutines, err = meter.Int64UpDownCounter(
		"go_goroutines",
		metric.WithDescription("Number of goroutines that currently exist"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	mm.goMemstatsAllocBytes, err = meter.Int64UpDownCounter(
		"go_memstats_alloc_bytes",
		metric.WithDescription("Number of bytes allocated and still in use"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	// Routing metrics
	mm.routeDispatchDuration, err = meter.Float64Histogram(
		"route_dispatch_duration_seconds",
		metric.WithDescription("Time spent selecting a target endpoint for a route"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.routeDeliveryDuration, err = meter.Float64Histogram(
		"route_delivery_duration_seconds",
		metric.WithDescription("End-to-end delivery duration for a routed message"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	mm.routeConnectionErrors, err = meter.Int64Counter(
		"route_connection_errors_total",
		metric.WithDescription("Total number of transport-level errors delivering to an endpoint"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return mm, nil
}

// Message metrics methods
func (mm *MetricsManager) IncrementMessagesProcessed(ctx context.Context, role, targetAgentID string, success bool) {
	mm.messagesProcessedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("target_agent_id", targetAgentID),
		attribute.Bool("success", success),
	))
}

func (mm *MetricsManager) RecordMessageProcessingDuration(ctx context.Context, role, targetAgentID string, duration time.Duration) {
	mm.messageProcessingDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("target_agent_id", targetAgentID),
	))
}

func (mm *MetricsManager) IncrementMessageErrors(ctx context.Context, role, errorType string) {
	mm.messageErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("role", role),
		attribute.String("error", errorType),
	))
}

func (mm *MetricsManager) IncrementMessagesRouted(ctx context.Context, targetAgentID string) {
	mm.messagesRoutedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target_agent_id", targetAgentID),
	))
}

// System metrics methods
func (mm *MetricsManager) UpdateSystemMetrics(ctx context.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.goGoroutines.Add(ctx, int64(runtime.NumGoroutine()))
	mm.goMemstatsAllocBytes.Add(ctx, int64(m.Alloc))
	mm.processResidentMemoryBytes.Add(ctx, int64(m.Sys))
}

// Routing metrics methods
func (mm *MetricsManager) RecordRouteDispatchDuration(ctx context.Context, targetAgentID string, duration time.Duration) {
	mm.routeDispatchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("target_agent_id", targetAgentID),
	))
}

func (mm *MetricsManager) RecordRouteDeliveryDuration(ctx context.Context, targetAgentID string, duration time.Duration) {
	mm.routeDeliveryDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("target_agent_id", targetAgentID),
	))
}

func (mm *MetricsManager) IncrementRouteConnectionErrors(ctx context.Context) {
	mm.routeConnectionErrors.Add(ctx, 1)
}

// Helper method to start timing a message-processing operation
func (mm *MetricsManager) StartTimer() func(ctx context.Context, role, targetAgentID string) {
	start := time.Now()
	return func(ctx context.Context, role, targetAgentID string) {
		duration := time.Since(start)
		mm.RecordMessageProcessingDuration(ctx, role, targetAgentID, duration)
	}
}
