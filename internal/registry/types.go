// Package registry holds the concurrent map of live agents and the cluster
// status record, plus the StateSync seam used to gossip that view across
// processes.
package registry

import (
	"time"

	"github.com/agentxhub/agentx/internal/protocol"
)

// ResponseTimeStats mirrors the router's own rolling estimators so a
// snapshot of an agent's timing survives a round trip through the registry.
type ResponseTimeStats struct {
	Mean time.Duration
	P95  time.Duration
	P99  time.Duration
	N    uint64
}

// AgentRuntime is the registry's owned record for one live agent. Only the
// registry ever mutates it directly; the router and protocol engine see
// read-only AgentRuntimeView snapshots instead.
type AgentRuntime struct {
	Card          protocol.AgentCard
	Endpoints     []protocol.Endpoint
	Load          float64
	ResponseTime  ResponseTimeStats
	Health        string // Healthy | Degraded | Unhealthy | Unknown
	LastHeartbeat time.Time
	LastUpdated   time.Time
}

// ClusterState is the single per-process cluster status record.
type ClusterState struct {
	ClusterID  string
	Status     string
	UpdatedAt  time.Time
	NodeCount  int
	AgentCount int
}

// Snapshot returns a defensive copy safe to publish through a StateSync
// backend without aliasing registry-owned memory.
func (c ClusterState) Snapshot() ClusterState {
	return c
}
