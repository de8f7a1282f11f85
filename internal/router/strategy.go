package router

import (
	"sync"

	"github.com/agentxhub/agentx/internal/protocol"
)

// Strategy selects exactly one agent from a candidate set and one endpoint
// from that agent's endpoints.
type Strategy interface {
	Select(targetAgentID string, candidates []*AgentRuntimeView, r *Router, msg *protocol.Message) (*AgentRuntimeView, protocol.Endpoint, bool)
}

func strategyFor(name string) Strategy {
	switch name {
	case "least_load":
		return &LeastLoadStrategy{}
	case "lowest_latency":
		return &LowestLatencyStrategy{}
	case "capability_aware":
		return &CapabilityAwareStrategy{fallback: &LeastLoadStrategy{}}
	default:
		return &RoundRobinStrategy{}
	}
}

func firstEndpoint(a *AgentRuntimeView) (protocol.Endpoint, bool) {
	if len(a.Endpoints) == 0 {
		return protocol.Endpoint{}, false
	}
	return a.Endpoints[0], true
}

// RoundRobinStrategy deterministically rotates through candidates per call,
// keyed by target agent id so unrelated targets don't share a cursor.
type RoundRobinStrategy struct {
	mu    sync.Mutex
	index map[string]int
}

func (s *RoundRobinStrategy) Select(targetAgentID string, candidates []*AgentRuntimeView, r *Router, msg *protocol.Message) (*AgentRuntimeView, protocol.Endpoint, bool) {
	if len(candidates) == 0 {
		return nil, protocol.Endpoint{}, false
	}
	s.mu.Lock()
	if s.index == nil {
		s.index = make(map[string]int)
	}
	i := s.index[targetAgentID] % len(candidates)
	s.index[targetAgentID] = i + 1
	s.mu.Unlock()

	agent := candidates[i]
	ep, ok := firstEndpoint(agent)
	return agent, ep, ok
}

// LeastLoadStrategy picks the candidate with the lowest Load, breaking ties
// by lowest mean response time.
type LeastLoadStrategy struct{}

func (s *LeastLoadStrategy) Select(targetAgentID string, candidates []*AgentRuntimeView, r *Router, msg *protocol.Message) (*AgentRuntimeView, protocol.Endpoint, bool) {
	if len(candidates) == 0 {
		return nil, protocol.Endpoint{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Load < best.Load || (c.Load == best.Load && c.ResponseMean < best.ResponseMean) {
			best = c
		}
	}
	ep, ok := firstEndpoint(best)
	return best, ep, ok
}

// LowestLatencyStrategy picks the candidate with the lowest mean response
// time; an agent with no samples yet (zero ResponseMean) is treated as
// median rather than artificially fastest.
type LowestLatencyStrategy struct{}

func (s *LowestLatencyStrategy) Select(targetAgentID string, candidates []*AgentRuntimeView, r *Router, msg *protocol.Message) (*AgentRuntimeView, protocol.Endpoint, bool) {
	if len(candidates) == 0 {
		return nil, protocol.Endpoint{}, false
	}
	median := medianResponseTime(candidates)
	best := candidates[0]
	bestLatency := effectiveLatency(best, median)
	for _, c := range candidates[1:] {
		lat := effectiveLatency(c, median)
		if lat < bestLatency {
			best, bestLatency = c, lat
		}
	}
	ep, ok := firstEndpoint(best)
	return best, ep, ok
}

func effectiveLatency(a *AgentRuntimeView, median int64) int64 {
	if a.ResponseMean == 0 {
		return median
	}
	return a.ResponseMean.Nanoseconds()
}

func medianResponseTime(candidates []*AgentRuntimeView) int64 {
	vals := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		if c.ResponseMean > 0 {
			vals = append(vals, c.ResponseMean.Nanoseconds())
		}
	}
	if len(vals) == 0 {
		return 0
	}
	// Simple insertion sort: candidate sets are small (one agent per id in
	// the common case, rarely more than a handful of replicas).
	for i := 1; i < len(vals); i++ {
		v := vals[i]
		j := i - 1
		for j >= 0 && vals[j] > v {
			vals[j+1] = vals[j]
			j--
		}
		vals[j+1] = v
	}
	return vals[len(vals)/2]
}

// CapabilityAwareStrategy filters to agents advertising the message's
// declared capability need, then defers to a fallback strategy (LeastLoad
// by default).
type CapabilityAwareStrategy struct {
	fallback Strategy
}

func (s *CapabilityAwareStrategy) Select(targetAgentID string, candidates []*AgentRuntimeView, r *Router, msg *protocol.Message) (*AgentRuntimeView, protocol.Endpoint, bool) {
	needed := msg.RequiredCapability()
	if needed == "" {
		return s.fallback.Select(targetAgentID, candidates, r, msg)
	}

	filtered := make([]*AgentRuntimeView, 0, len(candidates))
	for _, c := range candidates {
		for _, cap := range c.Card.Capabilities {
			if cap.Name == needed && cap.Available {
				filtered = append(filtered, c)
				break
			}
		}
	}
	if len(filtered) == 0 {
		return nil, protocol.Endpoint{}, false
	}
	return s.fallback.Select(targetAgentID, filtered, r, msg)
}
