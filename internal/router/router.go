// Package router implements the AgentX message router: fingerprint-keyed
// route cache, pluggable selection strategy, retry with failover, circuit
// breaking, per-endpoint health tracking, and latency statistics.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/agentxhub/agentx/internal/observability"
	"github.com/agentxhub/agentx/internal/protocol"
)

// Config tunes the router.
type Config struct {
	MaxAttempts           int
	TimeoutMs             int
	HealthCheckIntervalMs int
	CacheTTLMs            int
	EnableLoadBalancing   bool
	EnableFailover        bool
	Strategy              string

	FailureThreshold  int
	TimeWindowMs      int
	RecoveryTimeoutMs int
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:           3,
		TimeoutMs:             30000,
		HealthCheckIntervalMs: 30000,
		CacheTTLMs:            300000,
		EnableLoadBalancing:   true,
		EnableFailover:        true,
		Strategy:              "round_robin",
		FailureThreshold:      5,
		TimeWindowMs:          60000,
		RecoveryTimeoutMs:     30000,
	}
}

// Sender is the transport seam the router calls through to actually deliver
// a message to a selected endpoint. The plugin host satisfies this for
// plugin-backed agents; other transports can implement it directly.
type Sender interface {
	Send(ctx context.Context, endpoint protocol.Endpoint, msg *protocol.Message) (*protocol.Message, error)
}

// Metrics is the optional seam for recording per-route durations. A nil
// Metrics (the default) is a valid no-op configuration; Server wires the
// real observability.MetricsManager in via SetMetrics.
type Metrics interface {
	RecordRouteDispatchDuration(ctx context.Context, targetAgentID string, duration time.Duration)
	RecordRouteDeliveryDuration(ctx context.Context, targetAgentID string, duration time.Duration)
}

// RoutingResult carries everything observed while routing one message.
type RoutingResult struct {
	Reply            *protocol.Message
	SelectedAgentID  string
	SelectedEndpoint string
	Attempts         int
	TotalDuration    time.Duration
	ResponseTime     time.Duration
	CacheHit         bool
}

var (
	ErrInvalidTarget     = errors.New("message has no target_agent metadata")
	ErrNoAvailableAgents = errors.New("no available agents for target")
)

// RoutingFailedError is returned once the attempt loop exhausts maxAttempts.
type RoutingFailedError struct {
	AgentID   string
	Attempts  int
	LastError error
}

func (e *RoutingFailedError) Error() string {
	return fmt.Sprintf("routing to %s failed after %d attempts: %v", e.AgentID, e.Attempts, e.LastError)
}

func (e *RoutingFailedError) Unwrap() error { return e.LastError }

type cacheEntry struct {
	endpoint  protocol.Endpoint
	expiresAt time.Time
}

// AgentLookup is how the router reads and updates the registry's view of
// live agents without taking a hard dependency on the registry package:
// the registry owns AgentRuntime storage, the router owns health and
// response-time mutation through this narrow seam, and no ownership cycle
// forms between the two.
type AgentLookup interface {
	AgentsByID(agentID string) []*AgentRuntimeView
	UpsertAgent(card protocol.AgentCard, endpoints []protocol.Endpoint)
	RemoveAgent(agentID string)
	MarkHealthy(agentID string)
	MarkDegraded(agentID string)
	MarkUnhealthy(agentID string)
	RecordResponseTime(agentID string, d time.Duration)
}

// AgentRuntimeView is the read-only snapshot the router consumes; it never
// mutates the registry's own AgentRuntime directly.
type AgentRuntimeView struct {
	Card         protocol.AgentCard
	Endpoints    []protocol.Endpoint
	Load         float64
	ResponseMean time.Duration
	Health       string // Healthy | Degraded | Unhealthy | Unknown
}

// Router is the sole mutator of per-agent health (via AgentLookup) and the
// sole consumer of the route cache.
type Router struct {
	cfg     Config
	lookup  AgentLookup
	sender  Sender
	logger  *slog.Logger
	tracer  trace.Tracer
	stats   *Stats
	metrics Metrics

	healthServer *observability.HealthServer

	cache    *lru.Cache[string, cacheEntry]
	breakers sync.Map // endpoint URL -> *gobreaker.CircuitBreaker[any]
	flight   singleflight.Group
	strategy Strategy

	probes   sync.Map // agentId -> context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

func New(cfg Config, lookup AgentLookup, sender Sender, logger *slog.Logger, tracer trace.Tracer) (*Router, error) {
	cache, err := lru.New[string, cacheEntry](4096)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		cfg:    cfg,
		lookup: lookup,
		sender: sender,
		logger: logger,
		tracer: tracer,
		stats:  newStats(),
		cache:  cache,
		done:   make(chan struct{}),
	}
	r.strategy = strategyFor(cfg.Strategy)
	return r, nil
}

// SetMetrics wires the dispatch/delivery duration recorder. Called once at
// construction time by the composition root; nil is a safe default.
func (r *Router) SetMetrics(m Metrics) { r.metrics = m }

// SetHealthServer wires the health server that RegisterAgent/UnregisterAgent
// add and remove per-endpoint EndpointHealthCheckers against, so an
// endpoint's reachability shows up in the process's /health response instead
// of only in the router's internal health/circuit-breaker state.
func (r *Router) SetHealthServer(hs *observability.HealthServer) { r.healthServer = hs }

func checkerName(agentID, endpointURL string) string {
	return "endpoint:" + agentID + ":" + endpointURL
}

func (r *Router) breakerFor(endpoint string) *gobreaker.CircuitBreaker[any] {
	if cb, ok := r.breakers.Load(endpoint); ok {
		return cb.(*gobreaker.CircuitBreaker[any])
	}
	settings := gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1,
		Interval:    time.Duration(r.cfg.TimeWindowMs) * time.Millisecond,
		Timeout:     time.Duration(r.cfg.RecoveryTimeoutMs) * time.Millisecond,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(r.cfg.FailureThreshold)
		},
	}
	cb := gobreaker.NewCircuitBreaker[any](settings)
	actual, _ := r.breakers.LoadOrStore(endpoint, cb)
	return actual.(*gobreaker.CircuitBreaker[any])
}

// RouteMessage runs the full cache-probe, selection, attempt, and failover
// sequence for one message.
func (r *Router) RouteMessage(ctx context.Context, msg *protocol.Message) (*RoutingResult, error) {
	start := time.Now()

	targetAgentID := msg.TargetAgent()
	if targetAgentID == "" {
		return nil, ErrInvalidTarget
	}

	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "router.route_message")
		defer span.End()
	}

	// Cache probe.
	if entry, ok := r.cache.Get(targetAgentID); ok && time.Now().Before(entry.expiresAt) {
		if !r.isOpen(entry.endpoint.URL) {
			reply, respTime, err := r.attemptOnce(ctx, msg, entry.endpoint)
			if err == nil {
				r.stats.recordCacheHit()
				r.stats.recordSuccess(targetAgentID, respTime)
				r.lookup.RecordResponseTime(targetAgentID, respTime)
				r.recordDurations(ctx, targetAgentID, time.Since(start), respTime)
				return &RoutingResult{
					Reply: reply, SelectedAgentID: targetAgentID, SelectedEndpoint: entry.endpoint.URL,
					Attempts: 1, TotalDuration: time.Since(start), ResponseTime: respTime, CacheHit: true,
				}, nil
			}
			r.stats.recordCacheMiss()
			r.cache.Remove(targetAgentID)
			r.handleConnectivityFailure(targetAgentID, entry.endpoint.URL)
		}
	}

	// Candidate set, deduplicated per concurrent cache miss via singleflight.
	candidatesAny, err, _ := r.flight.Do(targetAgentID, func() (interface{}, error) {
		return r.candidates(targetAgentID), nil
	})
	if err != nil {
		return nil, err
	}
	candidates := candidatesAny.([]*AgentRuntimeView)
	if len(candidates) == 0 {
		r.stats.recordFailedRoute()
		return nil, ErrNoAvailableAgents
	}

	var lastErr error
	attempts := 0
	for attempts < r.cfg.MaxAttempts {
		agent, endpoint, ok := r.strategy.Select(targetAgentID, candidates, r, msg)
		if !ok {
			break
		}
		attempts++

		reply, respTime, err := r.attemptOnce(ctx, msg, endpoint)
		if err == nil {
			r.cache.Add(targetAgentID, cacheEntry{endpoint: endpoint, expiresAt: time.Now().Add(time.Duration(r.cfg.CacheTTLMs) * time.Millisecond)})
			r.stats.recordSuccess(agent.Card.ID, respTime)
			r.lookup.RecordResponseTime(agent.Card.ID, respTime)
			r.recordDurations(ctx, agent.Card.ID, time.Since(start), respTime)
			return &RoutingResult{
				Reply: reply, SelectedAgentID: agent.Card.ID, SelectedEndpoint: endpoint.URL,
				Attempts: attempts, TotalDuration: time.Since(start), ResponseTime: respTime,
			}, nil
		}

		lastErr = err
		r.handleConnectivityFailure(agent.Card.ID, endpoint.URL)

		if !r.cfg.EnableFailover {
			break
		}
		candidates = removeEndpoint(candidates, endpoint.URL)
	}

	r.stats.recordFailedRoute()
	return nil, &RoutingFailedError{AgentID: targetAgentID, Attempts: attempts, LastError: lastErr}
}

func (r *Router) attemptOnce(ctx context.Context, msg *protocol.Message, endpoint protocol.Endpoint) (*protocol.Message, time.Duration, error) {
	cb := r.breakerFor(endpoint.URL)
	timeout := time.Duration(r.cfg.TimeoutMs) * time.Millisecond
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resultAny, err := cb.Execute(func() (interface{}, error) {
		return r.sender.Send(attemptCtx, endpoint, msg)
	})
	respTime := time.Since(start)
	if err != nil {
		return nil, respTime, err
	}
	reply, _ := resultAny.(*protocol.Message)
	return reply, respTime, nil
}

// recordDurations splits one routed call into the time spent deciding
// (total minus the delivery round trip) and the delivery itself.
func (r *Router) recordDurations(ctx context.Context, agentID string, total, delivery time.Duration) {
	if r.metrics == nil {
		return
	}
	dispatch := total - delivery
	if dispatch < 0 {
		dispatch = 0
	}
	r.metrics.RecordRouteDispatchDuration(ctx, agentID, dispatch)
	r.metrics.RecordRouteDeliveryDuration(ctx, agentID, delivery)
}

func (r *Router) isOpen(endpoint string) bool {
	cb, ok := r.breakers.Load(endpoint)
	if !ok {
		return false
	}
	return cb.(*gobreaker.CircuitBreaker[any]).State() == gobreaker.StateOpen
}

func (r *Router) handleConnectivityFailure(agentID, endpoint string) {
	r.stats.recordFailure(agentID)
	r.lookup.MarkDegraded(agentID)
	r.logger.Warn("connectivity failure routing message", "agent_id", agentID, "endpoint", endpoint)
}

func (r *Router) candidates(targetAgentID string) []*AgentRuntimeView {
	all := r.lookup.AgentsByID(targetAgentID)
	out := make([]*AgentRuntimeView, 0, len(all))
	for _, a := range all {
		if a.Health != "Unhealthy" {
			out = append(out, a)
		}
	}
	return out
}

func removeEndpoint(candidates []*AgentRuntimeView, url string) []*AgentRuntimeView {
	out := make([]*AgentRuntimeView, 0, len(candidates))
	for _, c := range candidates {
		filtered := make([]protocol.Endpoint, 0, len(c.Endpoints))
		for _, ep := range c.Endpoints {
			if ep.URL != url {
				filtered = append(filtered, ep)
			}
		}
		if len(filtered) > 0 {
			clone := *c
			clone.Endpoints = filtered
			out = append(out, &clone)
		}
	}
	return out
}

// RegisterAgent inserts an AgentRuntime via the registry seam and launches a
// background health probe tied to its lifetime.
func (r *Router) RegisterAgent(card protocol.AgentCard, endpoints []protocol.Endpoint) error {
	if card.ID == "" {
		return fmt.Errorf("agent card must have a non-empty id")
	}
	r.lookup.UpsertAgent(card, endpoints)
	r.startProbe(card.ID, endpoints)

	if r.healthServer != nil {
		for _, ep := range endpoints {
			ep := ep
			r.healthServer.AddChecker(checkerName(card.ID, ep.URL), observability.NewEndpointHealthChecker(
				checkerName(card.ID, ep.URL), ep.URL,
				func(ctx context.Context, _ string) error {
					_, err := r.sender.Send(ctx, ep, &protocol.Message{MessageID: "healthcheck", Role: protocol.RoleAgent, Parts: []protocol.Part{{Kind: protocol.PartKindData}}})
					return err
				},
			))
		}
	}
	return nil
}

// UnregisterAgent terminates the agent's health probe and invalidates all
// route cache entries for it.
func (r *Router) UnregisterAgent(agentID string) {
	if cancelAny, ok := r.probes.LoadAndDelete(agentID); ok {
		cancelAny.(context.CancelFunc)()
	}
	if r.healthServer != nil {
		for _, a := range r.lookup.AgentsByID(agentID) {
			for _, ep := range a.Endpoints {
				r.healthServer.RemoveChecker(checkerName(agentID, ep.URL))
			}
		}
	}
	r.lookup.RemoveAgent(agentID)
	r.cache.Remove(agentID)
}

// GetStats returns a snapshot of routing statistics.
func (r *Router) GetStats() StatsSnapshot {
	return r.stats.snapshot()
}

// Shutdown stops background probes.
func (r *Router) Shutdown() {
	r.stopOnce.Do(func() { close(r.done) })
}
