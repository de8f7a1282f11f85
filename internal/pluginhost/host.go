package pluginhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// unaryResult is what the demux loop delivers to a callUnary waiter.
type unaryResult struct {
	env Envelope
	err error
}

// pluginProc is the host's owned record for one spawned adapter process:
// its transport, lifecycle state, and the in-flight call/stream waiters
// correlated by Envelope.MessageID.
type pluginProc struct {
	host *Host
	cfg  PluginConfig

	mu             sync.Mutex
	state          State
	version        string
	caps           []string
	stopping       bool
	healthFailures int

	transport Transport
	writeMu   sync.Mutex

	pending sync.Map // messageId -> chan unaryResult
	streams sync.Map // messageId -> chan StreamChunk

	restarts *restartTracker
}

func (p *pluginProc) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *pluginProc) currentState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Host manages every spawned plugin process and presents them to the
// router as uniform, process-isolated capability providers.
type Host struct {
	cfg     Config
	logger  *slog.Logger
	tracer  trace.Tracer
	spawner Spawner
	codecs  *CodecRegistry

	sem     chan struct{}
	plugins sync.Map // pluginId -> *pluginProc
}

// New constructs a Host. spawner may be nil to use the production
// exec-based spawner; tests inject a fake Spawner instead.
func New(cfg Config, spawner Spawner, logger *slog.Logger, tracer trace.Tracer) *Host {
	if spawner == nil {
		spawner = NewExecSpawner()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrentPlugins <= 0 {
		cfg.MaxConcurrentPlugins = 10
	}
	return &Host{
		cfg:     cfg,
		logger:  logger,
		tracer:  tracer,
		spawner: spawner,
		codecs:  NewCodecRegistry(),
		sem:     make(chan struct{}, cfg.MaxConcurrentPlugins),
	}
}

// Codecs returns the registry used by Forward; callers register per-
// framework conversion codecs against it at start-up.
func (h *Host) Codecs() *CodecRegistry { return h.codecs }

// SpawnPlugin launches the child process and performs the initialize
// handshake, bounded by the configured handshake deadline.
func (h *Host) SpawnPlugin(ctx context.Context, cfg PluginConfig) (*PluginHandle, error) {
	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	proc := &pluginProc{host: h, cfg: cfg, state: StateSpawned, restarts: newRestartTracker(h.cfg.RestartPolicy)}
	if err := proc.start(ctx); err != nil {
		<-h.sem
		return nil, err
	}
	h.plugins.Store(cfg.PluginID, proc)
	return &PluginHandle{PluginID: cfg.PluginID, proc: proc}, nil
}

// start spawns (or respawns) the adapter process and performs the
// handshake. It is called both from SpawnPlugin and from the restart
// policy's retry loop.
func (p *pluginProc) start(ctx context.Context) error {
	transport, err := p.host.spawner.Spawn(ctx, p.cfg)
	if err != nil {
		p.setState(StateError)
		return &SpawnError{PluginID: p.cfg.PluginID, Cause: err}
	}

	p.mu.Lock()
	p.transport = transport
	p.state = StateInitializing
	p.mu.Unlock()

	hsCtx, cancel := context.WithTimeout(ctx, p.host.cfg.HandshakeTimeout)
	defer cancel()

	hsErr := make(chan error, 1)
	var hs handshakeRequest
	go func() { hsErr <- readFrame(transport, &hs) }()

	select {
	case err := <-hsErr:
		if err != nil {
			p.setState(StateError)
			_ = transport.Close()
			return &SpawnError{PluginID: p.cfg.PluginID, Cause: err}
		}
	case <-hsCtx.Done():
		p.setState(StateError)
		_ = transport.Close()
		return &SpawnError{PluginID: p.cfg.PluginID, Cause: ErrHandshakeTimeout}
	}

	if hs.Role != "plugin" {
		p.setState(StateError)
		_ = transport.Close()
		return &SpawnError{PluginID: p.cfg.PluginID, Cause: fmt.Errorf("unexpected handshake role %q", hs.Role)}
	}

	if err := writeFrame(transport, handshakeResponse{Role: "host", Accepted: true}); err != nil {
		p.setState(StateError)
		_ = transport.Close()
		return &SpawnError{PluginID: p.cfg.PluginID, Cause: err}
	}

	p.mu.Lock()
	p.version = hs.Version
	p.caps = hs.Capabilities
	p.state = StateReady
	p.healthFailures = 0
	p.mu.Unlock()

	// Running must be set before the read loop starts: a plugin that dies
	// instantly would otherwise have its Error state overwritten here.
	p.setState(StateRunning)
	safeGo(p.host.logger, "pluginhost.read_loop", func() { p.readLoop(transport) }, func(r any) {
		p.crash(fmt.Errorf("read loop panic: %v", r))
	})
	return nil
}

// readLoop demultiplexes frames from the adapter to whichever CallUnary or
// CallStreaming waiter registered the matching MessageID. Within a single
// stream, adapter-produced order is preserved end-to-end.
func (p *pluginProc) readLoop(transport Transport) {
	for {
		var env Envelope
		if err := readFrame(transport, &env); err != nil {
			p.crash(err)
			return
		}
		p.dispatch(env)
	}
}

func (p *pluginProc) dispatch(env Envelope) {
	if chAny, ok := p.pending.LoadAndDelete(env.MessageID); ok {
		chAny.(chan unaryResult) <- unaryResult{env: env}
		return
	}
	if chAny, ok := p.streams.Load(env.MessageID); ok {
		ch := chAny.(chan StreamChunk)
		// Blocking send is the backpressure mechanism: once the buffer
		// (streamBufferChunks) fills, this stops reading further frames
		// from the adapter until the consumer drains.
		ch <- StreamChunk{Envelope: env}
		if env.Metadata["final"] == "true" || env.MessageType == MessageTypeResponse {
			p.streams.Delete(env.MessageID)
			close(ch)
		}
		return
	}
	p.host.logger.Debug("pluginhost: unmatched envelope", "plugin_id", p.cfg.PluginID, "message_id", env.MessageID, "type", env.MessageType)
}

// crash tears down every in-flight waiter with PluginCrashed and, unless
// the process exited as part of a graceful ShutdownPlugin, schedules a
// restart per the configured RestartPolicy.
func (p *pluginProc) crash(cause error) {
	p.mu.Lock()
	stopping := p.stopping
	p.state = StateError
	p.mu.Unlock()

	p.pending.Range(func(key, value any) bool {
		value.(chan unaryResult) <- unaryResult{err: &PluginCrashedError{PluginID: p.cfg.PluginID, Cause: cause}}
		p.pending.Delete(key)
		return true
	})
	p.streams.Range(func(key, value any) bool {
		ch := value.(chan StreamChunk)
		ch <- StreamChunk{Err: &PluginCrashedError{PluginID: p.cfg.PluginID, Cause: cause}}
		close(ch)
		p.streams.Delete(key)
		return true
	})

	p.host.logger.Warn("plugin crashed", "plugin_id", p.cfg.PluginID, "cause", cause)

	if stopping {
		return
	}

	delay, ok := p.restarts.next(time.Now())
	if !ok {
		p.host.logger.Error("plugin restart policy exhausted", "plugin_id", p.cfg.PluginID)
		return
	}

	safeGo(p.host.logger, "pluginhost.restart", func() {
		time.Sleep(delay)
		if err := p.start(context.Background()); err != nil {
			p.host.logger.Error("plugin restart failed", "plugin_id", p.cfg.PluginID, "error", err)
		}
	}, nil)
}

// callDeadline bounds an outbound call to at most messageTimeoutSecs, even
// if the caller's context has a longer (or no) deadline. A non-positive
// MessageTimeoutSecs leaves the caller's own context deadline as the only
// bound.
func (h *Host) callDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.cfg.MessageTimeoutSecs <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(h.cfg.MessageTimeoutSecs)*time.Second)
}

// CallUnary sends req and waits for the correlated reply.
func (h *Host) CallUnary(ctx context.Context, handle *PluginHandle, req Envelope) (Envelope, error) {
	proc := handle.proc
	switch proc.currentState() {
	case StateError:
		if proc.restarts.exhausted(time.Now()) {
			return Envelope{}, &PluginUnavailableError{PluginID: proc.cfg.PluginID}
		}
		return Envelope{}, &PluginCrashedError{PluginID: proc.cfg.PluginID}
	case StateStopped, StateStopping:
		return Envelope{}, &PluginUnavailableError{PluginID: proc.cfg.PluginID}
	}

	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}
	if req.MessageType == "" {
		req.MessageType = MessageTypeRequest
	}
	req.TimestampNs = uint64(time.Now().UnixNano())

	waiter := make(chan unaryResult, 1)
	proc.pending.Store(req.MessageID, waiter)
	defer proc.pending.Delete(req.MessageID)

	callCtx, cancel := h.callDeadline(ctx)
	defer cancel()

	proc.writeMu.Lock()
	err := writeFrame(proc.transport, req)
	proc.writeMu.Unlock()
	if err != nil {
		return Envelope{}, &PluginCrashedError{PluginID: proc.cfg.PluginID, Cause: err}
	}

	select {
	case res := <-waiter:
		return res.env, res.err
	case <-callCtx.Done():
		return Envelope{}, callCtx.Err()
	}
}

// CallStreaming sends req and returns a channel of correlated reply chunks,
// bounded to streamBufferChunks with backpressure.
func (h *Host) CallStreaming(ctx context.Context, handle *PluginHandle, req Envelope) (<-chan StreamChunk, error) {
	proc := handle.proc
	if state := proc.currentState(); state == StateError || state == StateStopped || state == StateStopping {
		return nil, &PluginUnavailableError{PluginID: proc.cfg.PluginID}
	}

	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}
	req.MessageType = MessageTypeStream
	req.TimestampNs = uint64(time.Now().UnixNano())

	bufSize := h.cfg.StreamBufferChunks
	if bufSize <= 0 {
		bufSize = 128
	}
	ch := make(chan StreamChunk, bufSize)
	proc.streams.Store(req.MessageID, ch)

	proc.writeMu.Lock()
	err := writeFrame(proc.transport, req)
	proc.writeMu.Unlock()
	if err != nil {
		proc.streams.Delete(req.MessageID)
		close(ch)
		return nil, &PluginCrashedError{PluginID: proc.cfg.PluginID, Cause: err}
	}
	return ch, nil
}

// HealthProbe issues a lightweight healthCheck call. Three consecutive
// failures transition Running -> Error.
func (h *Host) HealthProbe(ctx context.Context, handle *PluginHandle) (HealthStatus, string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	payload, _ := json.Marshal(map[string]string{"method": "healthCheck"})
	_, err := h.CallUnary(probeCtx, handle, Envelope{Payload: payload})

	proc := handle.proc
	proc.mu.Lock()
	defer proc.mu.Unlock()

	if err != nil {
		proc.healthFailures++
		if proc.healthFailures >= 3 && proc.state == StateRunning {
			proc.state = StateError
			proc.mu.Unlock()
			proc.crash(fmt.Errorf("health probe failed 3 times: %w", err))
			proc.mu.Lock()
		}
		return HealthNotServing, err.Error(), nil
	}
	proc.healthFailures = 0
	// A passing probe is the evidence of a sustained run; only here does the
	// restart budget refill, so a crash-looping adapter that briefly reaches
	// Running still exhausts its policy.
	proc.restarts.reset()
	return HealthServing, "", nil
}

// ShutdownPlugin sends a shutdown request and waits up to graceMs for the
// process to exit cleanly, force-terminating it otherwise.
func (h *Host) ShutdownPlugin(ctx context.Context, handle *PluginHandle, graceMs int) error {
	proc := handle.proc
	proc.mu.Lock()
	proc.stopping = true
	transport := proc.transport
	proc.mu.Unlock()

	graceCtx, cancel := context.WithTimeout(ctx, time.Duration(graceMs)*time.Millisecond)
	defer cancel()

	payload, _ := json.Marshal(map[string]string{"method": "shutdown"})
	_, _ = h.CallUnary(graceCtx, handle, Envelope{Payload: payload, MessageType: MessageTypeEvent})
	// The shutdown request goes out before the state leaves Running, since
	// CallUnary refuses plugins that are Stopping.
	proc.setState(StateStopping)

	exited := make(chan error, 1)
	go func() { exited <- transport.Wait() }()

	select {
	case <-exited:
	case <-graceCtx.Done():
		_ = transport.Close()
	}

	proc.setState(StateStopped)
	h.plugins.Delete(proc.cfg.PluginID)
	select {
	case <-h.sem:
	default:
	}
	return nil
}

// Forward converts an envelope via the codec registered for the target's
// framework and submits it to the target plugin, returning the target's
// reply.
func (h *Host) Forward(ctx context.Context, targetFramework string, target *PluginHandle, message Envelope) (Envelope, error) {
	codec, ok := h.codecs.lookup(targetFramework)
	if !ok {
		codec = IdentityCodec
	}
	converted, err := codec.Convert(message)
	if err != nil {
		return Envelope{}, fmt.Errorf("forward: codec conversion for %s: %w", targetFramework, err)
	}
	return h.CallUnary(ctx, target, converted)
}

// rpcMethod builds an Envelope payload of {"method": method, "params":
// params} and calls it unary, unmarshalling the reply payload into out.
// The adapter-facing methods below (ProcessMessage, RegisterAgent,
// UnregisterAgent, ListAgents, GetAgentCapabilities, GetPluginInfo,
// GetMetrics) are thin wrappers over it.
func (h *Host) rpcMethod(ctx context.Context, handle *PluginHandle, method string, params any, out any) error {
	body := struct {
		Method string `json:"method"`
		Params any    `json:"params,omitempty"`
	}{Method: method, Params: params}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := h.CallUnary(ctx, handle, Envelope{Payload: payload})
	if err != nil {
		return err
	}
	if out == nil || len(resp.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Payload, out)
}

// ProcessMessage forwards a protocol-level message envelope to the adapter.
func (h *Host) ProcessMessage(ctx context.Context, handle *PluginHandle, msgJSON json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	if err := h.rpcMethod(ctx, handle, "processMessage", msgJSON, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterAgent asks the adapter to register an agent card on its behalf,
// returning the assigned agent id.
func (h *Host) RegisterAgent(ctx context.Context, handle *PluginHandle, card json.RawMessage, caps json.RawMessage) (string, error) {
	var out struct {
		AgentID string `json:"agentId"`
	}
	params := struct {
		Card         json.RawMessage `json:"card"`
		Capabilities json.RawMessage `json:"capabilities"`
	}{Card: card, Capabilities: caps}
	if err := h.rpcMethod(ctx, handle, "registerAgent", params, &out); err != nil {
		return "", err
	}
	return out.AgentID, nil
}

// UnregisterAgent asks the adapter to drop an agent it previously registered.
func (h *Host) UnregisterAgent(ctx context.Context, handle *PluginHandle, agentID string) error {
	return h.rpcMethod(ctx, handle, "unregisterAgent", map[string]string{"agentId": agentID}, nil)
}

// ListAgents lists the agents the adapter currently fronts.
func (h *Host) ListAgents(ctx context.Context, handle *PluginHandle, pageToken string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := h.rpcMethod(ctx, handle, "listAgents", map[string]string{"pageToken": pageToken}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAgentCapabilities fetches the capability list the adapter advertises
// for one agent.
func (h *Host) GetAgentCapabilities(ctx context.Context, handle *PluginHandle, agentID string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := h.rpcMethod(ctx, handle, "getAgentCapabilities", map[string]string{"agentId": agentID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPluginInfo fetches adapter-reported metadata (name, version, etc).
func (h *Host) GetPluginInfo(ctx context.Context, handle *PluginHandle) (json.RawMessage, error) {
	var out json.RawMessage
	if err := h.rpcMethod(ctx, handle, "getPluginInfo", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMetrics fetches adapter-reported metrics for aggregation.
func (h *Host) GetMetrics(ctx context.Context, handle *PluginHandle) (json.RawMessage, error) {
	var out json.RawMessage
	if err := h.rpcMethod(ctx, handle, "getMetrics", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Handle returns the handle for an already-spawned plugin, if any.
func (h *Host) Handle(pluginID string) (*PluginHandle, bool) {
	v, ok := h.plugins.Load(pluginID)
	if !ok {
		return nil, false
	}
	return &PluginHandle{PluginID: pluginID, proc: v.(*pluginProc)}, true
}

// State reports the current lifecycle state of a plugin.
func (h *Host) State(handle *PluginHandle) State {
	return handle.proc.currentState()
}

// Capabilities returns the capability list the adapter advertised in its
// initialize handshake.
func (h *Host) Capabilities(handle *PluginHandle) []string {
	handle.proc.mu.Lock()
	defer handle.proc.mu.Unlock()
	return append([]string(nil), handle.proc.caps...)
}
