package agentxsrv

import (
	"testing"

	"github.com/agentxhub/agentx/internal/config"
)

// TestFromAppConfigMapsEveryKey pins the mapping from the process-wide env
// config to each subsystem's config so a renamed or dropped key is caught
// here rather than at runtime.
func TestFromAppConfigMapsEveryKey(t *testing.T) {
	app := config.Load()
	app.HandlerPoolSize = 7
	app.MaxMessageSize = 2048
	app.ValidateMessages = false
	app.StatsIntervalSecs = 45
	app.RouterMaxAttempts = 9
	app.RouterTimeoutMs = 1234
	app.HealthCheckIntervalMs = 2500
	app.CacheTTLMs = 4321
	app.EnableLoadBalancing = false
	app.EnableFailover = false
	app.RouterStrategy = "lowest_latency"
	app.FailureThreshold = 2
	app.TimeWindowMs = 888
	app.RecoveryTimeoutMs = 777
	app.PluginMessageTimeoutSecs = 11
	app.MaxConcurrentPlugins = 3
	app.StreamBufferChunks = 64
	app.RestartMaxAttempts = 4
	app.RestartWindowSecs = 120
	app.RegistryStatsSecs = 15
	app.AgentStaleSecs = 90
	app.StateSyncBackend = "redis"
	app.RedisAddr = "redis.test:6390"
	app.ClusterID = "cluster-7"
	app.RPCAddr = ":9999"

	cfg := FromAppConfig(app, "router")

	if cfg.Protocol.HandlerPoolSize != 7 || cfg.Protocol.MaxMessageSize != 2048 || cfg.Protocol.ValidateMessages || cfg.Protocol.StatsIntervalSecs != 45 {
		t.Fatalf("protocol config mismapped: %+v", cfg.Protocol)
	}
	if cfg.Router.MaxAttempts != 9 || cfg.Router.TimeoutMs != 1234 || cfg.Router.CacheTTLMs != 4321 || cfg.Router.Strategy != "lowest_latency" {
		t.Fatalf("router config mismapped: %+v", cfg.Router)
	}
	if cfg.Router.HealthCheckIntervalMs != 2500 || cfg.Router.EnableLoadBalancing || cfg.Router.EnableFailover {
		t.Fatalf("router toggles mismapped: %+v", cfg.Router)
	}
	if cfg.Router.FailureThreshold != 2 || cfg.Router.TimeWindowMs != 888 || cfg.Router.RecoveryTimeoutMs != 777 {
		t.Fatalf("circuit breaker config mismapped: %+v", cfg.Router)
	}
	if cfg.PluginHost.MessageTimeoutSecs != 11 || cfg.PluginHost.MaxConcurrentPlugins != 3 || cfg.PluginHost.StreamBufferChunks != 64 {
		t.Fatalf("plugin host config mismapped: %+v", cfg.PluginHost)
	}
	if cfg.PluginHost.RestartPolicy.MaxRestarts != 4 || cfg.PluginHost.RestartPolicy.WindowSecs != 120 {
		t.Fatalf("restart policy mismapped: %+v", cfg.PluginHost.RestartPolicy)
	}
	if cfg.Registry.StatsIntervalSecs != 15 || cfg.Registry.AgentStaleSecs != 90 {
		t.Fatalf("registry config mismapped: %+v", cfg.Registry)
	}
	if cfg.StateSyncBackend != "redis" || cfg.ClusterID != "cluster-7" || cfg.RedisAddr != "redis.test:6390" {
		t.Fatalf("state sync config mismapped: backend=%s cluster=%s redis=%s", cfg.StateSyncBackend, cfg.ClusterID, cfg.RedisAddr)
	}
	if cfg.ComponentName != "router" || cfg.HealthPort != app.RouterHealthPort || cfg.RPCAddr != ":9999" {
		t.Fatalf("component wiring mismapped: %+v", cfg)
	}
}
