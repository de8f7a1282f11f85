package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config tunes the protocol engine. agentxsrv.FromAppConfig wires these from
// internal/config.AppConfig.
type Config struct {
	HandlerPoolSize   int
	MaxMessageSize    int
	ValidateMessages  bool
	StatsIntervalSecs int
	OverflowQueueSize int
}

// DefaultConfig returns the protocol engine defaults.
func DefaultConfig() Config {
	return Config{
		HandlerPoolSize:   10,
		MaxMessageSize:    1 << 20,
		ValidateMessages:  true,
		StatsIntervalSecs: 30,
		OverflowQueueSize: 1024,
	}
}

// MessageHandler is invoked by a worker for each accepted message. It is the
// seam the router (or any other downstream consumer) plugs into; the engine
// itself only validates, frames, and dispatches.
type MessageHandler func(ctx context.Context, msg *Message) (*Message, error)

// Metrics is the optional seam for per-message instruments. A nil Metrics
// (the default) is a valid no-op configuration; the composition root wires
// the real observability.MetricsManager in via SetMetrics.
type Metrics interface {
	IncrementMessagesProcessed(ctx context.Context, role, targetAgentID string, success bool)
	RecordMessageProcessingDuration(ctx context.Context, role, targetAgentID string, duration time.Duration)
	IncrementMessageErrors(ctx context.Context, role, errorType string)
}

type job struct {
	ctx   context.Context
	msg   *Message
	reply chan jobResult
}

type jobResult struct {
	msg *Message
	err error
}

// worker is one fixed, owned mailbox. Workers are pure with respect to
// engine-level state: they validate nothing and hold no shared map.
type worker struct {
	id    int
	inbox chan job
}

func (w *worker) run(handler MessageHandler) {
	for j := range w.inbox {
		msg, err := safeHandle(handler, j.ctx, j.msg)
		j.reply <- jobResult{msg: msg, err: err}
	}
}

// safeHandle isolates a handler panic to the call that triggered it: the
// pool size is never reduced by a crashing handler.
func safeHandle(handler MessageHandler, ctx context.Context, msg *Message) (reply *Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ValidationError{Entity: msg.MessageID, Reason: "handler panic"}
		}
	}()
	return handler(ctx, msg)
}

// Engine is the protocol engine: canonical message/task model, validation,
// handler dispatch, and statistics.
type Engine struct {
	cfg       Config
	validator *Validator
	handler   MessageHandler
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   Metrics

	workers []*worker
	stats   Stats

	tasksMu sync.RWMutex
	tasks   map[string]*Task

	capabilityLookup func(agentID string) []Capability

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewEngine constructs an Engine with a fixed-size worker pool. handler may
// be nil during tests that only exercise task bookkeeping.
func NewEngine(cfg Config, handler MessageHandler, logger *slog.Logger, tracer trace.Tracer) *Engine {
	if cfg.HandlerPoolSize <= 0 {
		cfg.HandlerPoolSize = 10
	}
	if cfg.OverflowQueueSize <= 0 {
		cfg.OverflowQueueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:       cfg,
		validator: NewValidator(cfg.MaxMessageSize),
		handler:   handler,
		logger:    logger,
		tracer:    tracer,
		tasks:     make(map[string]*Task),
		stopped:   make(chan struct{}),
	}
	e.workers = make([]*worker, cfg.HandlerPoolSize)
	for i := range e.workers {
		w := &worker{id: i, inbox: make(chan job, cfg.OverflowQueueSize)}
		e.workers[i] = w
		go w.run(e.dispatchToHandler)
	}
	return e
}

func (e *Engine) dispatchToHandler(ctx context.Context, msg *Message) (*Message, error) {
	if e.handler == nil {
		return nil, nil
	}
	return e.handler(ctx, msg)
}

// Done returns a channel closed once Shutdown has been called.
func (e *Engine) Done() <-chan struct{} { return e.stopped }

// Shutdown stops accepting new work and closes every worker mailbox.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		close(e.stopped)
		for _, w := range e.workers {
			close(w.inbox)
		}
	})
}

// selectWorker round-robins over processed+failed: the index is computed
// from the call-count that existed before this call, so selection is
// uniform regardless of timing.
func (e *Engine) selectWorker() *worker {
	idx := int(e.stats.total() % uint64(len(e.workers)))
	return e.workers[idx]
}

// SendMessage validates and dispatches msg to a worker, returning an
// optional reply. It backs the sendMessage wire method and the
// ProcessMessage Go entry point.
func (e *Engine) SendMessage(ctx context.Context, msg *Message) (*Message, error) {
	start := time.Now()

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.Start(ctx, "protocol.send_message", trace.WithAttributes(traceAttrs(msg)...))
		defer span.End()
	}

	if e.cfg.ValidateMessages {
		if err := e.validator.ValidateMessage(msg); err != nil {
			e.stats.record(false, 0)
			e.observeMessage(ctx, msg, 0, err)
			return nil, err
		}
		if err := e.validateCapabilitySchema(msg); err != nil {
			e.stats.record(false, 0)
			e.observeMessage(ctx, msg, 0, err)
			return nil, err
		}
	}

	w := e.selectWorker()
	reply := make(chan jobResult, 1)

	select {
	case w.inbox <- job{ctx: ctx, msg: msg, reply: reply}:
	default:
		e.stats.record(false, 0)
		e.observeMessage(ctx, msg, 0, ErrOverloaded)
		e.logger.WarnContext(ctx, "handler pool overloaded, rejecting message", "messageId", msg.MessageID)
		return nil, ErrOverloaded
	}

	select {
	case result := <-reply:
		latency := time.Since(start)
		e.stats.record(result.err == nil, float64(latency.Microseconds())/1000.0)
		e.observeMessage(ctx, msg, latency, result.err)
		return result.msg, result.err
	case <-ctx.Done():
		latency := time.Since(start)
		e.stats.record(false, float64(latency.Microseconds())/1000.0)
		e.observeMessage(ctx, msg, latency, ctx.Err())
		return nil, ctx.Err()
	}
}

// validateCapabilitySchema enforces the input schema of the capability the
// message declares it needs: when the target agent advertises that
// capability with an InputSchema, every data part must match it. Messages
// that declare no capability need, or target an agent whose matching
// capability carries no schema, pass through unchanged.
func (e *Engine) validateCapabilitySchema(msg *Message) error {
	if e.capabilityLookup == nil {
		return nil
	}
	needed := msg.RequiredCapability()
	target := msg.TargetAgent()
	if needed == "" || target == "" {
		return nil
	}
	for _, capability := range e.capabilityLookup(target) {
		if capability.Name != needed || len(capability.InputSchema) == 0 {
			continue
		}
		for i, p := range msg.Parts {
			if p.Kind != PartKindData {
				continue
			}
			if err := matchSchema(capability.InputSchema, p.Data); err != nil {
				return &ValidationError{
					Entity: msg.MessageID,
					Reason: fmt.Sprintf("part %d does not match the %q input schema: %v", i, needed, err),
				}
			}
		}
	}
	return nil
}

// observeMessage feeds the per-message instruments; a nil metrics seam makes
// it a no-op.
func (e *Engine) observeMessage(ctx context.Context, msg *Message, latency time.Duration, err error) {
	if e.metrics == nil {
		return
	}
	role := string(msg.Role)
	target := msg.TargetAgent()
	e.metrics.IncrementMessagesProcessed(ctx, role, target, err == nil)
	if latency > 0 {
		e.metrics.RecordMessageProcessingDuration(ctx, role, target, latency)
	}
	if err != nil {
		e.metrics.IncrementMessageErrors(ctx, role, errorType(err))
	}
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrOverloaded):
		return "overloaded"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "handler"
	}
}

// ProcessMessage is the direct, non-wire entry point with the same
// semantics as SendMessage.
func (e *Engine) ProcessMessage(ctx context.Context, msg *Message) (*Message, error) {
	return e.SendMessage(ctx, msg)
}

// SubmitTask inserts a task in state Submitted, rejecting id collisions.
func (e *Engine) SubmitTask(task *Task) (string, error) {
	if err := e.validator.ValidateTask(task); err != nil {
		return "", err
	}

	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()

	if _, exists := e.tasks[task.ID]; exists {
		return "", &ValidationError{Entity: task.ID, Reason: "task id already exists"}
	}

	task.Status = TaskStatus{State: TaskSubmitted, Timestamp: time.Now()}
	e.tasks[task.ID] = task
	return task.ID, nil
}

// GetTask returns a snapshot copy of the task so callers cannot mutate
// engine-owned state through the returned pointer's slices.
func (e *Engine) GetTask(taskID string) (*Task, error) {
	e.tasksMu.RLock()
	defer e.tasksMu.RUnlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return nil, &NotFoundError{TaskID: taskID}
	}
	snapshot := *task
	return &snapshot, nil
}

// CancelTask transitions a task to Cancelled from any non-terminal state.
// Calling it again on an already-cancelled task is a no-op.
func (e *Engine) CancelTask(taskID string) error {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return &NotFoundError{TaskID: taskID}
	}
	if task.Status.State == TaskCancelled {
		return nil
	}
	if task.Status.State.IsTerminal() {
		return &ValidationError{Entity: taskID, Reason: "cannot cancel a task in terminal state " + string(task.Status.State)}
	}

	task.Status = TaskStatus{State: TaskCancelled, Timestamp: monotonicAfter(task.Status.Timestamp)}
	return nil
}

// TransitionTask applies a new status, enforcing monotonically
// non-decreasing timestamps and rejecting transitions out of a terminal
// state.
func (e *Engine) TransitionTask(taskID string, newState TaskState, message *Message) error {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return &NotFoundError{TaskID: taskID}
	}
	if task.Status.State.IsTerminal() {
		return &ValidationError{Entity: taskID, Reason: "task already in terminal state " + string(task.Status.State)}
	}

	task.Status = TaskStatus{State: newState, Timestamp: monotonicAfter(task.Status.Timestamp), Message: message}
	return nil
}

// AppendHistory appends a message to a task's history in submission order.
func (e *Engine) AppendHistory(taskID string, msg Message) error {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return &NotFoundError{TaskID: taskID}
	}
	task.History = append(task.History, msg)
	return nil
}

// AppendArtifact appends an artifact to a task in production order.
func (e *Engine) AppendArtifact(taskID string, artifact Artifact) error {
	e.tasksMu.Lock()
	defer e.tasksMu.Unlock()

	task, ok := e.tasks[taskID]
	if !ok {
		return &NotFoundError{TaskID: taskID}
	}
	task.Artifacts = append(task.Artifacts, artifact)
	return nil
}

// GetCapabilities looks up capabilities for an agent. The protocol engine
// does not own the registry; callers wire a lookup function in so this
// stays a pure projection rather than a cross-package dependency.
func (e *Engine) GetCapabilities(agentID string) []Capability {
	if e.capabilityLookup == nil {
		return nil
	}
	return e.capabilityLookup(agentID)
}

// SetMetrics wires the per-message instrument recorder. Called once at
// construction time by the composition root; nil is a safe default.
func (e *Engine) SetMetrics(m Metrics) { e.metrics = m }

// SetCapabilityLookup wires the function GetCapabilities delegates to; it is
// normally set once at startup by whatever owns the registry. The same
// lookup drives capability input-schema validation.
func (e *Engine) SetCapabilityLookup(fn func(agentID string) []Capability) {
	e.capabilityLookup = fn
}

// GetStats returns a point-in-time snapshot of processing statistics.
func (e *Engine) GetStats() StatsSnapshot {
	return e.stats.snapshot()
}

func monotonicAfter(prev time.Time) time.Time {
	now := time.Now()
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}

func traceAttrs(msg *Message) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("message.id", msg.MessageID),
		attribute.String("message.role", string(msg.Role)),
	}
}
