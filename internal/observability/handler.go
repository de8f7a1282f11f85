package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservabilityHandler is a slog.Handler that tags every log record with the
// active OpenTelemetry span's trace and span IDs (if any) and the component
// name it was built with, and counts records/drops as OTel metrics. It writes
// records as text only when HandlerOptions.Writer is set.
type ObservabilityHandler struct {
	opts          HandlerOptions
	tracer        trace.Tracer
	meter         metric.Meter
	componentName string

	recordsTotal metric.Int64Counter
	dropsTotal   metric.Int64Counter

	buffer   chan logEntry
	mu       sync.RWMutex
	shutdown chan struct{}
	wg       sync.WaitGroup
}

type HandlerOptions struct {
	Level       slog.Level
	Writer      io.Writer
	ReplaceAttr func(groups []string, a slog.Attr) slog.Attr
	BufferSize  int
}

type logEntry struct {
	time  time.Time
	level slog.Level
	msg   string
	attrs []slog.Attr
	ctx   context.Context
}

func NewObservabilityHandler(tracer trace.Tracer, meter metric.Meter, componentName string) (*ObservabilityHandler, error) {
	return NewObservabilityHandlerWithOptions(tracer, meter, componentName, HandlerOptions{
		Level:      slog.LevelInfo,
		BufferSize: 1000,
	})
}

func NewObservabilityHandlerWithOptions(tracer trace.Tracer, meter metric.Meter, componentName string, opts HandlerOptions) (*ObservabilityHandler, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}

	recordsTotal, err := meter.Int64Counter(
		"agentx_log_records_total",
		metric.WithDescription("Total number of log records processed by an AgentX component"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	dropsTotal, err := meter.Int64Counter(
		"agentx_log_records_dropped_total",
		metric.WithDescription("Total number of log records dropped because the handler's buffer was full"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	h := &ObservabilityHandler{
		opts:          opts,
		tracer:        tracer,
		meter:         meter,
		componentName: componentName,
		recordsTotal:  recordsTotal,
		dropsTotal:    dropsTotal,
		buffer:        make(chan logEntry, opts.BufferSize),
		shutdown:      make(chan struct{}),
	}

	h.wg.Add(1)
	go h.processLogs()

	return h, nil
}

func (h *ObservabilityHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.opts.Level
}

func (h *ObservabilityHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}

	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)
		return true
	})

	// Correlate with the routing/dispatch span active on ctx, if any, so a
	// log line can be traced back to the router.route_message or
	// protocol.send_message span that produced it.
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		spanCtx := span.SpanContext()
		attrs = append(attrs,
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}

	attrs = append(attrs,
		slog.String("component", h.componentName),
		slog.String("source", getSource()),
	)

	entry := logEntry{
		time:  r.Time,
		level: r.Level,
		msg:   r.Message,
		attrs: attrs,
		ctx:   ctx,
	}

	select {
	case h.buffer <- entry:
	default:
		// Buffer full: drop rather than block the caller. A hot path
		// never stalls on logging.
		h.dropsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("component", h.componentName),
		))
	}

	return nil
}

func (h *ObservabilityHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandler, _ := NewObservabilityHandlerWithOptions(h.tracer, h.meter, h.componentName, h.opts)
	return newHandler
}

func (h *ObservabilityHandler) WithGroup(name string) slog.Handler {
	return h
}

func (h *ObservabilityHandler) processLogs() {
	defer h.wg.Done()

	for {
		select {
		case entry := <-h.buffer:
			h.processLogEntry(entry)
		case <-h.shutdown:
			for {
				select {
				case entry := <-h.buffer:
					h.processLogEntry(entry)
				default:
					return
				}
			}
		}
	}
}

func (h *ObservabilityHandler) processLogEntry(entry logEntry) {
	h.recordsTotal.Add(entry.ctx, 1, metric.WithAttributes(
		attribute.String("level", entry.level.String()),
		attribute.String("component", h.componentName),
	))

	if h.opts.Writer == nil {
		return
	}

	logData := map[string]interface{}{
		"time":      entry.time.Format(time.RFC3339),
		"level":     entry.level.String(),
		"msg":       entry.msg,
		"component": h.componentName,
	}
	for _, attr := range entry.attrs {
		logData[attr.Key] = attr.Value.Any()
	}
	fmt.Fprintf(h.opts.Writer, "%v\n", logData)
}

func (h *ObservabilityHandler) Shutdown(ctx context.Context) error {
	close(h.shutdown)

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func getSource() string {
	_, file, line, ok := runtime.Caller(4)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", file, line)
}
