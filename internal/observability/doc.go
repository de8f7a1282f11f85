// Package observability provides the distributed tracing, metrics collection,
// structured logging, and health check infrastructure shared by every AgentX
// subsystem.
//
// # Overview
//
// The observability package implements OpenTelemetry-based observability with:
//   - Distributed tracing (OpenTelemetry/Jaeger)
//   - Metrics collection (Prometheus)
//   - Structured logging (log/slog)
//   - Health check endpoints
//   - Graceful shutdown with trace flushing
//
// This package is the foundation for observability across the protocol
// engine, message router, plugin host, and registry processes.
//
// # Quick Start
//
//	config := observability.DefaultConfig("agentx-router")
//	obs, err := observability.NewObservability(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer obs.Shutdown(context.Background())
//
//	logger := obs.Logger
//	tracer := obs.Tracer
//	meter := obs.Meter
//
// This automatically sets up:
//   - OTLP trace exporter to the configured collector
//   - Prometheus metrics exporter
//   - Structured logger with trace context
//   - Resource attributes (service name, version, environment)
//
// # Configuration
//
//	cfg := observability.Config{
//	    ServiceName:    "agentx-router",
//	    ServiceVersion: "1.0.0",
//	    JaegerEndpoint: "localhost:4317",
//	    PrometheusPort: "9090",
//	    Environment:    "production",
//	    LogLevel:       "INFO",
//	}
//
// DefaultConfig reads the same values from internal/config.Load(), so every
// subsystem process agrees on collector endpoints without repeating the
// environment-variable plumbing.
//
// # Distributed Tracing
//
//	traceManager := observability.NewTraceManager("agentx-router")
//	ctx, span := traceManager.StartSpan(ctx, "route_message")
//	defer span.End()
//
//	if err != nil {
//	    traceManager.RecordError(span, err)
//	} else {
//	    traceManager.SetSpanSuccess(span)
//	}
//
// TraceManager also exposes span helpers for the messaging path
// (StartRoutingSpan, StartPluginCallSpan, StartTaskSpan) and for annotating
// spans with routing outcomes and task metadata (AddRoutingResult,
// AddTaskAttributes).
//
// # Metrics Collection
//
//	metricsManager, err := observability.NewMetricsManager(meter)
//	metricsManager.IncrementMessagesProcessed(ctx, "user", targetAgentID, true)
//	metricsManager.RecordRouteDispatchDuration(ctx, targetAgentID, duration)
//
// All metrics are exposed at /metrics on the health server's port (see
// Health Checks below).
//
// # Structured Logging
//
//	logger := obs.Logger
//	logger.InfoContext(ctx, "routed message",
//	    "target_agent_id", targetAgentID,
//	    "attempt", attempt,
//	)
//
// DEBUG level enables dual output: the observability handler plus a plain
// stdout text handler, via CombinedHandler.
//
// # Health Checks
//
//	healthServer := observability.NewHealthServer(port, serviceName, version)
//	healthServer.AddChecker("self", observability.NewBasicHealthChecker("self", func(ctx context.Context) error {
//	    return nil
//	}))
//	go healthServer.Start(ctx)
//
// Health endpoints:
//   - GET /health: overall health status
//   - GET /metrics: Prometheus metrics
//
// # Graceful Shutdown
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	if err := obs.Shutdown(ctx); err != nil {
//	    log.Printf("observability shutdown error: %v", err)
//	}
//
// Shutdown flushes pending traces, exports final metrics, and releases
// exporter resources. Skipping it can drop recent traces.
//
// # Thread Safety
//
// TraceManager, MetricsManager, and Logger are all safe for concurrent use.
// Shutdown may be called once per Observability instance.
package observability
