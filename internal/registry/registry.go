package registry

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentxhub/agentx/internal/protocol"
	"github.com/agentxhub/agentx/internal/router"
)

const stripes = 256

// Config tunes sweeper timing.
type Config struct {
	StatsIntervalSecs int
	AgentStaleSecs    int
}

func DefaultConfig() Config {
	return Config{StatsIntervalSecs: 60, AgentStaleSecs: 300}
}

// Registry is the concurrent `agentId -> AgentRuntime` map plus a single
// ClusterState. Writes take a per-stripe lock keyed by a hash of the agent
// id. Updates to an existing agent hold only a read lock on the map; adding
// or removing an agent also takes the map-wide write lock for the change.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	locks   [stripes]sync.RWMutex
	mu      sync.RWMutex // guards the agents map's keyset (add/delete), not entry contents
	agents  map[string]*AgentRuntime
	cluster ClusterState

	sync     StateSync
	onEvict  func(agentID string)
	stopOnce sync.Once
	done     chan struct{}
}

func New(cfg Config, clusterID string, sync StateSync, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:    cfg,
		logger: logger,
		agents: make(map[string]*AgentRuntime),
		cluster: ClusterState{
			ClusterID: clusterID,
			Status:    "Active",
			UpdatedAt: time.Now(),
			NodeCount: 1,
		},
		sync: sync,
		done: make(chan struct{}),
	}
}

// OnEvict registers the callback invoked when the heartbeat sweeper removes
// a stale agent, so the router can invalidate its cache entries in step.
func (r *Registry) OnEvict(fn func(agentID string)) {
	r.onEvict = fn
}

func stripeFor(agentID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(agentID))
	return int(h.Sum32()) % stripes
}

// UpsertAgent registers or replaces an AgentRuntime. Calling it twice with
// the same card.ID (e.g. register/unregister/register) yields a runtime
// indistinguishable from a single registration.
func (r *Registry) UpsertAgent(card protocol.AgentCard, endpoints []protocol.Endpoint) {
	stripe := &r.locks[stripeFor(card.ID)]
	stripe.Lock()
	defer stripe.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.agents[card.ID] = &AgentRuntime{
		Card:          card,
		Endpoints:     endpoints,
		Health:        "Unknown",
		LastHeartbeat: now,
		LastUpdated:   now,
	}
	r.cluster.AgentCount = len(r.agents)
}

// RemoveAgent deletes an agent's runtime record.
func (r *Registry) RemoveAgent(agentID string) {
	stripe := &r.locks[stripeFor(agentID)]
	stripe.Lock()
	defer stripe.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
	r.cluster.AgentCount = len(r.agents)
}

// Heartbeat marks an agent as having produced a successful inbound event;
// any such event resets the staleness clock the sweeper evicts on.
func (r *Registry) Heartbeat(agentID string) {
	stripe := &r.locks[stripeFor(agentID)]
	stripe.Lock()
	defer stripe.Unlock()

	r.mu.RLock()
	a, ok := r.agents[agentID]
	r.mu.RUnlock()
	if ok {
		a.LastHeartbeat = time.Now()
	}
}

// AgentsByID satisfies router.AgentLookup: returns a read-only snapshot, not
// a pointer into registry-owned state, so the router can never mutate an
// AgentRuntime directly.
func (r *Registry) AgentsByID(agentID string) []*router.AgentRuntimeView {
	r.mu.RLock()
	a, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	stripe := &r.locks[stripeFor(agentID)]
	stripe.RLock()
	defer stripe.RUnlock()

	return []*router.AgentRuntimeView{{
		Card:         a.Card,
		Endpoints:    append([]protocol.Endpoint(nil), a.Endpoints...),
		Load:         a.Load,
		ResponseMean: a.ResponseTime.Mean,
		Health:       a.Health,
	}}
}

// Capabilities returns the capability list advertised by an agent's card,
// wiring the protocol engine's getCapabilities operation to the registry
// without giving the engine a hard dependency on it.
func (r *Registry) Capabilities(agentID string) []protocol.Capability {
	r.mu.RLock()
	a, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	stripe := &r.locks[stripeFor(agentID)]
	stripe.RLock()
	defer stripe.RUnlock()
	return append([]protocol.Capability(nil), a.Card.Capabilities...)
}

func (r *Registry) MarkHealthy(agentID string)   { r.setHealth(agentID, "Healthy") }
func (r *Registry) MarkDegraded(agentID string)  { r.setHealth(agentID, "Degraded") }
func (r *Registry) MarkUnhealthy(agentID string) { r.setHealth(agentID, "Unhealthy") }

func (r *Registry) setHealth(agentID, health string) {
	stripe := &r.locks[stripeFor(agentID)]
	stripe.Lock()
	defer stripe.Unlock()

	r.mu.RLock()
	a, ok := r.agents[agentID]
	r.mu.RUnlock()
	if ok {
		a.Health = health
		a.LastUpdated = time.Now()
	}
}

// RecordResponseTime folds a fresh sample into an agent's rolling mean
// (router calls this through a thin adapter; kept here so the registry
// remains the sole owner of AgentRuntime mutation).
func (r *Registry) RecordResponseTime(agentID string, d time.Duration) {
	stripe := &r.locks[stripeFor(agentID)]
	stripe.Lock()
	defer stripe.Unlock()

	r.mu.RLock()
	a, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	n := a.ResponseTime.N
	x := float64(d)
	a.ResponseTime.Mean = time.Duration((float64(a.ResponseTime.Mean)*float64(n) + x) / float64(n+1))
	a.ResponseTime.N = n + 1
}

// ClusterStatus returns a defensive copy of the single per-process cluster
// record.
func (r *Registry) ClusterStatus() ClusterState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cluster.Snapshot()
}

// StartSweeper launches the heartbeat eviction goroutine. Any agent with
// now-lastHeartbeat > agentStaleSecs is removed on each tick and onEvict (if
// set) is invoked so the router can drop its cache entries for that agent.
func (r *Registry) StartSweeper() {
	interval := time.Duration(r.cfg.StatsIntervalSecs) * time.Second
	staleAfter := time.Duration(r.cfg.AgentStaleSecs) * time.Second
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.sweepOnce(staleAfter)
			}
		}
	}()
}

func (r *Registry) sweepOnce(staleAfter time.Duration) {
	now := time.Now()
	r.mu.RLock()
	stale := make([]string, 0)
	for id, a := range r.agents {
		if now.Sub(a.LastHeartbeat) > staleAfter {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.RemoveAgent(id)
		r.logger.Warn("evicting stale agent", "agent_id", id)
		if r.onEvict != nil {
			r.onEvict(id)
		}
	}
}

// ProbeAllOnce fans a probe function out over every registered agent
// concurrently. Within this module only the registry's tests call it.
func (r *Registry) ProbeAllOnce(ctx context.Context, probe func(ctx context.Context, agentID string, a *AgentRuntime) error) error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.agents))
	snapshot := make(map[string]*AgentRuntime, len(r.agents))
	for id, a := range r.agents {
		ids = append(ids, id)
		snapshot[id] = a
	}
	r.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return probe(gctx, id, snapshot[id])
		})
	}
	return g.Wait()
}

// Shutdown stops the heartbeat sweeper.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.done) })
}
