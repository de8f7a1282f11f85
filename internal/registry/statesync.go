package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// StateSync is the cluster gossip seam: push the local ClusterState,
// pull the last-known remote view, or subscribe to a stream of updates.
type StateSync interface {
	PushState(ctx context.Context, state ClusterState) error
	PullState(ctx context.Context) (*ClusterState, bool, error)
	WatchChanges(ctx context.Context) (<-chan ClusterState, error)
}

// MemoryStateSync is the default single-process backend: it just remembers
// the last pushed state and fans it out to local watchers. Used by default
// and by the registry tests.
type MemoryStateSync struct {
	mu       sync.Mutex
	last     *ClusterState
	watchers []chan ClusterState
}

func NewMemoryStateSync() *MemoryStateSync {
	return &MemoryStateSync{}
}

func (m *MemoryStateSync) PushState(ctx context.Context, state ClusterState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := state.Snapshot()
	m.last = &snap
	for _, w := range m.watchers {
		select {
		case w <- snap:
		default:
		}
	}
	return nil
}

func (m *MemoryStateSync) PullState(ctx context.Context) (*ClusterState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil, false, nil
	}
	snap := m.last.Snapshot()
	return &snap, true, nil
}

func (m *MemoryStateSync) WatchChanges(ctx context.Context) (<-chan ClusterState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan ClusterState, 8)
	m.watchers = append(m.watchers, ch)
	return ch, nil
}

// RedisStateSync is a best-effort gossip-style cache, not durable storage:
// it publishes ClusterState as a JSON value under a Redis key and over a
// pub/sub channel, resolving concurrent writers last-writer-wins by
// UpdatedAt.
type RedisStateSync struct {
	client  *redis.Client
	key     string
	channel string
}

func NewRedisStateSync(client *redis.Client, clusterID string) *RedisStateSync {
	return &RedisStateSync{
		client:  client,
		key:     fmt.Sprintf("agentx:cluster:%s", clusterID),
		channel: fmt.Sprintf("agentx:cluster:%s:changes", clusterID),
	}
}

func (s *RedisStateSync) PushState(ctx context.Context, state ClusterState) error {
	existing, ok, err := s.PullState(ctx)
	if err == nil && ok && existing.UpdatedAt.After(state.UpdatedAt) {
		return nil // a newer write already landed; last-writer-wins by UpdatedAt
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("redis state push: %w", err)
	}
	return s.client.Publish(ctx, s.channel, payload).Err()
}

func (s *RedisStateSync) PullState(ctx context.Context) (*ClusterState, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis state pull: %w", err)
	}
	var state ClusterState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, err
	}
	return &state, true, nil
}

func (s *RedisStateSync) WatchChanges(ctx context.Context) (<-chan ClusterState, error) {
	sub := s.client.Subscribe(ctx, s.channel)
	out := make(chan ClusterState, 8)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var state ClusterState
				if err := json.Unmarshal([]byte(msg.Payload), &state); err == nil {
					select {
					case out <- state:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}
