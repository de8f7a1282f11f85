package registry

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/agentxhub/agentx/internal/protocol"
)

func TestRegisterUnregisterRegisterIsIdempotent(t *testing.T) {
	reg := New(DefaultConfig(), "test-cluster", NewMemoryStateSync(), nil)
	card := protocol.AgentCard{ID: "agent-1", Name: "one"}
	endpoints := []protocol.Endpoint{{Type: "http", URL: "http://a/"}}

	reg.UpsertAgent(card, endpoints)
	reg.RemoveAgent(card.ID)
	reg.UpsertAgent(card, endpoints)

	views := reg.AgentsByID(card.ID)
	if len(views) != 1 {
		t.Fatalf("expected exactly one agent runtime, got %d", len(views))
	}
	if views[0].Health != "Unknown" {
		t.Fatalf("expected fresh Unknown health after re-registration, got %s", views[0].Health)
	}
}

func TestHeartbeatSweepEvictsStaleAgents(t *testing.T) {
	var evicted []string
	cfg := Config{StatsIntervalSecs: 60, AgentStaleSecs: 0}
	reg := New(cfg, "test-cluster", NewMemoryStateSync(), nil)
	reg.OnEvict(func(agentID string) { evicted = append(evicted, agentID) })

	reg.UpsertAgent(protocol.AgentCard{ID: "stale-agent"}, nil)
	time.Sleep(2 * time.Millisecond)

	reg.sweepOnce(0)

	if len(reg.AgentsByID("stale-agent")) != 0 {
		t.Fatal("expected stale agent to be evicted")
	}
	if len(evicted) != 1 || evicted[0] != "stale-agent" {
		t.Fatalf("expected onEvict callback for stale-agent, got %v", evicted)
	}
}

func TestHeartbeatKeepsAgentAlive(t *testing.T) {
	cfg := Config{StatsIntervalSecs: 60, AgentStaleSecs: 3600}
	reg := New(cfg, "test-cluster", NewMemoryStateSync(), nil)
	reg.UpsertAgent(protocol.AgentCard{ID: "fresh-agent"}, nil)
	reg.Heartbeat("fresh-agent")

	reg.sweepOnce(3600 * time.Second)
	if len(reg.AgentsByID("fresh-agent")) != 1 {
		t.Fatal("expected fresh-agent to survive the sweep")
	}
}

func TestHealthTransitions(t *testing.T) {
	reg := New(DefaultConfig(), "test-cluster", NewMemoryStateSync(), nil)
	reg.UpsertAgent(protocol.AgentCard{ID: "agent-2"}, nil)

	reg.MarkHealthy("agent-2")
	if reg.AgentsByID("agent-2")[0].Health != "Healthy" {
		t.Fatal("expected Healthy")
	}
	reg.MarkDegraded("agent-2")
	if reg.AgentsByID("agent-2")[0].Health != "Degraded" {
		t.Fatal("expected Degraded")
	}
	reg.MarkUnhealthy("agent-2")
	if reg.AgentsByID("agent-2")[0].Health != "Unhealthy" {
		t.Fatal("expected Unhealthy")
	}
}

func TestProbeAllOnceFansOutConcurrently(t *testing.T) {
	reg := New(DefaultConfig(), "test-cluster", NewMemoryStateSync(), nil)
	reg.UpsertAgent(protocol.AgentCard{ID: "a"}, nil)
	reg.UpsertAgent(protocol.AgentCard{ID: "b"}, nil)
	reg.UpsertAgent(protocol.AgentCard{ID: "c"}, nil)

	seen := make(chan string, 3)
	err := reg.ProbeAllOnce(context.Background(), func(ctx context.Context, agentID string, a *AgentRuntime) error {
		seen <- agentID
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(seen)
	count := 0
	for range seen {
		count++
	}
	if count != 3 {
		t.Fatalf("expected 3 probes, got %d", count)
	}
}

func TestMemoryStateSyncRoundTrip(t *testing.T) {
	sync := NewMemoryStateSync()
	ctx := context.Background()

	if _, ok, err := sync.PullState(ctx); err != nil || ok {
		t.Fatalf("expected no state before first push, got ok=%v err=%v", ok, err)
	}

	state := ClusterState{ClusterID: "c1", Status: "Active", UpdatedAt: time.Now(), NodeCount: 1, AgentCount: 2}
	if err := sync.PushState(ctx, state); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	got, ok, err := sync.PullState(ctx)
	if err != nil || !ok {
		t.Fatalf("expected state after push, got ok=%v err=%v", ok, err)
	}
	if got.ClusterID != "c1" || got.AgentCount != 2 {
		t.Fatalf("unexpected state: %+v", got)
	}
}

func TestRedisStateSyncRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sync := NewRedisStateSync(client, "cluster-x")
	ctx := context.Background()

	state := ClusterState{ClusterID: "cluster-x", Status: "Active", UpdatedAt: time.Now(), NodeCount: 2, AgentCount: 5}
	if err := sync.PushState(ctx, state); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	got, ok, err := sync.PullState(ctx)
	if err != nil || !ok {
		t.Fatalf("expected state after push, got ok=%v err=%v", ok, err)
	}
	if got.AgentCount != 5 {
		t.Fatalf("expected AgentCount 5, got %d", got.AgentCount)
	}

	// An older write must lose to the one already stored (last-writer-wins).
	older := state
	older.UpdatedAt = state.UpdatedAt.Add(-time.Hour)
	older.AgentCount = 999
	if err := sync.PushState(ctx, older); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	got, _, _ = sync.PullState(ctx)
	if got.AgentCount == 999 {
		t.Fatal("expected older write to be rejected by last-writer-wins")
	}
}

func TestMemoryStateSyncWatchReceivesPushes(t *testing.T) {
	sync := NewMemoryStateSync()
	ctx := context.Background()

	ch, err := sync.WatchChanges(ctx)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	state := ClusterState{ClusterID: "c1", Status: "Active", UpdatedAt: time.Now(), AgentCount: 3}
	if err := sync.PushState(ctx, state); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	select {
	case got := <-ch:
		if got.AgentCount != 3 {
			t.Fatalf("unexpected watched state: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("watcher never received the pushed state")
	}
}

func TestRedisStateSyncWatchReceivesPushes(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sync := NewRedisStateSync(client, "cluster-w")
	ch, err := sync.WatchChanges(ctx)
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	// Give the subscriber a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	state := ClusterState{ClusterID: "cluster-w", Status: "Active", UpdatedAt: time.Now(), NodeCount: 4}
	if err := sync.PushState(ctx, state); err != nil {
		t.Fatalf("push failed: %v", err)
	}

	select {
	case got := <-ch:
		if got.NodeCount != 4 {
			t.Fatalf("unexpected watched state: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never received the published state")
	}
}

func TestClusterStatusTracksAgentCount(t *testing.T) {
	reg := New(DefaultConfig(), "counted", NewMemoryStateSync(), nil)
	reg.UpsertAgent(protocol.AgentCard{ID: "a"}, nil)
	reg.UpsertAgent(protocol.AgentCard{ID: "b"}, nil)

	if got := reg.ClusterStatus(); got.AgentCount != 2 || got.ClusterID != "counted" {
		t.Fatalf("unexpected cluster state: %+v", got)
	}

	reg.RemoveAgent("a")
	if got := reg.ClusterStatus(); got.AgentCount != 1 {
		t.Fatalf("expected AgentCount 1 after removal, got %d", got.AgentCount)
	}
}

func TestRecordResponseTimeRunningMean(t *testing.T) {
	reg := New(DefaultConfig(), "timed", NewMemoryStateSync(), nil)
	reg.UpsertAgent(protocol.AgentCard{ID: "a"}, nil)

	reg.RecordResponseTime("a", 100*time.Millisecond)
	reg.RecordResponseTime("a", 300*time.Millisecond)

	mean := reg.AgentsByID("a")[0].ResponseMean
	if mean != 200*time.Millisecond {
		t.Fatalf("running mean = %v, want 200ms", mean)
	}
}
