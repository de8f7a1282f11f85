package router

import (
	"context"
	"time"

	"github.com/agentxhub/agentx/internal/protocol"
)

// startProbe runs a background task, tied to the agent's lifetime, that
// issues a lightweight health call against every endpoint on an interval of
// healthCheckIntervalMs. All endpoints healthy means Healthy, some healthy
// means Degraded, none healthy means Unhealthy. A single healthy endpoint
// among many still counts as Degraded, not Healthy; only a unanimous probe
// set is Healthy.
func (r *Router) startProbe(agentID string, endpoints []protocol.Endpoint) {
	ctx, cancel := context.WithCancel(context.Background())
	r.probes.Store(agentID, cancel)

	interval := time.Duration(r.cfg.HealthCheckIntervalMs) * time.Millisecond
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case <-ticker.C:
				r.probeOnce(ctx, agentID, endpoints)
			}
		}
	}()
}

func (r *Router) probeOnce(ctx context.Context, agentID string, endpoints []protocol.Endpoint) {
	if len(endpoints) == 0 {
		return
	}
	healthy := 0
	for _, ep := range endpoints {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		_, err := r.sender.Send(probeCtx, ep, &protocol.Message{MessageID: "healthcheck", Role: protocol.RoleAgent, Parts: []protocol.Part{{Kind: protocol.PartKindData}}})
		cancel()
		if err == nil {
			healthy++
		}
	}

	switch {
	case healthy == len(endpoints):
		r.lookup.MarkHealthy(agentID)
	case healthy == 0:
		r.lookup.MarkUnhealthy(agentID)
	default:
		r.lookup.MarkDegraded(agentID)
	}
}
