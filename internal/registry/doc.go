// Package registry owns the cluster's live agent map and the single
// per-process ClusterState record.
//
// Registry is the only subsystem permitted to mutate an AgentRuntime
// directly; the router and protocol engine see read-only snapshots through
// router.AgentLookup. Writes take a per-agent stripe lock out of a fixed
// [256]sync.RWMutex array. Updates to an existing agent hold only a read
// lock on the map, while registering or removing an agent also takes the
// map-wide write lock, which briefly blocks reads of every agent.
//
// A background sweeper evicts agents that stop heartbeating
// (AgentStaleSecs, default 300s) and notifies a registered OnEvict callback
// so the router can drop cached routes for the evicted agent.
//
// StateSync gossips ClusterState across processes. MemoryStateSync is the
// single-process default; RedisStateSync is a best-effort cache backed by
// github.com/redis/go-redis/v9, not a source of durable truth.
package registry
