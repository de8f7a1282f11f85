package router

import (
	"sync"
	"time"
)

// agentStats holds the rolling response-time estimators for one agent: a
// running mean plus cheap high-water marks for p95/p99 that decay toward
// the mean to prevent drift.
type agentStats struct {
	n      uint64
	mean   float64 // nanoseconds
	p95    float64
	p99    float64
	failed uint64
}

func (a *agentStats) record(d time.Duration) {
	x := float64(d.Nanoseconds())
	a.mean = (a.mean*float64(a.n) + x) / float64(a.n+1)
	a.n++

	if x > a.p95 {
		a.p95 = x
	} else {
		a.p95 = a.p95*0.99 + a.mean*0.01
	}
	if x > a.p99 {
		a.p99 = x
	} else {
		a.p99 = a.p99*0.995 + a.mean*0.005
	}
}

// Stats aggregates router-wide counters plus per-agent response time.
type Stats struct {
	mu           sync.Mutex
	perAgent     map[string]*agentStats
	cacheHits    uint64
	cacheMisses  uint64
	failedRoutes uint64
}

func newStats() *Stats {
	return &Stats{perAgent: make(map[string]*agentStats)}
}

func (s *Stats) agent(agentID string) *agentStats {
	a, ok := s.perAgent[agentID]
	if !ok {
		a = &agentStats{}
		s.perAgent[agentID] = a
	}
	return a
}

func (s *Stats) recordSuccess(agentID string, responseTime time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent(agentID).record(responseTime)
}

func (s *Stats) recordFailure(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent(agentID).failed++
}

func (s *Stats) recordFailedRoute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedRoutes++
}

func (s *Stats) recordCacheHit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheHits++
}

func (s *Stats) recordCacheMiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheMisses++
}

// AgentStatsSnapshot is the per-agent portion of a StatsSnapshot.
type AgentStatsSnapshot struct {
	Samples      uint64
	MeanLatency  time.Duration
	P95Latency   time.Duration
	P99Latency   time.Duration
	FailedRoutes uint64
}

// StatsSnapshot is the value returned by Router.GetStats.
type StatsSnapshot struct {
	PerAgent     map[string]AgentStatsSnapshot
	CacheHitRate float64
	FailedRoutes uint64
}

func (s *Stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := StatsSnapshot{PerAgent: make(map[string]AgentStatsSnapshot, len(s.perAgent)), FailedRoutes: s.failedRoutes}
	for id, a := range s.perAgent {
		out.PerAgent[id] = AgentStatsSnapshot{
			Samples:      a.n,
			MeanLatency:  time.Duration(a.mean),
			P95Latency:   time.Duration(a.p95),
			P99Latency:   time.Duration(a.p99),
			FailedRoutes: a.failed,
		}
	}
	total := s.cacheHits + s.cacheMisses
	if total > 0 {
		out.CacheHitRate = float64(s.cacheHits) / float64(total)
	}
	return out
}
