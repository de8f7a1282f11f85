package agentxsrv

import (
	"github.com/agentxhub/agentx/internal/config"
	"github.com/agentxhub/agentx/internal/pluginhost"
	"github.com/agentxhub/agentx/internal/protocol"
	"github.com/agentxhub/agentx/internal/registry"
	"github.com/agentxhub/agentx/internal/router"
)

// Config collects the per-subsystem configs into the one value NewServer
// needs. FromAppConfig builds it from internal/config.Load() so every
// config key has a single source of truth.
type Config struct {
	ComponentName string
	ClusterID     string
	RPCAddr       string
	HealthPort    string

	Protocol   protocol.Config
	Router     router.Config
	PluginHost pluginhost.Config
	Registry   registry.Config

	StateSyncBackend string // "memory" | "redis"
	RedisAddr        string
}

// FromAppConfig maps the process-wide AppConfig into the subsystem configs
// NewServer wires together.
func FromAppConfig(app *config.AppConfig, componentName string) Config {
	return Config{
		ComponentName: componentName,
		ClusterID:     app.ClusterID,
		RPCAddr:       app.RPCAddr,
		HealthPort:    app.GetHealthPort(componentName),

		Protocol: protocol.Config{
			HandlerPoolSize:   app.HandlerPoolSize,
			MaxMessageSize:    app.MaxMessageSize,
			ValidateMessages:  app.ValidateMessages,
			StatsIntervalSecs: app.StatsIntervalSecs,
			OverflowQueueSize: 1024,
		},
		Router: router.Config{
			MaxAttempts:           app.RouterMaxAttempts,
			TimeoutMs:             app.RouterTimeoutMs,
			HealthCheckIntervalMs: app.HealthCheckIntervalMs,
			CacheTTLMs:            app.CacheTTLMs,
			EnableLoadBalancing:   app.EnableLoadBalancing,
			EnableFailover:        app.EnableFailover,
			Strategy:              app.RouterStrategy,
			FailureThreshold:      app.FailureThreshold,
			TimeWindowMs:          app.TimeWindowMs,
			RecoveryTimeoutMs:     app.RecoveryTimeoutMs,
		},
		PluginHost: pluginhost.Config{
			MessageTimeoutSecs:   app.PluginMessageTimeoutSecs,
			MaxConcurrentPlugins: app.MaxConcurrentPlugins,
			StreamBufferChunks:   app.StreamBufferChunks,
			HandshakeTimeout:     pluginhost.DefaultConfig().HandshakeTimeout,
			RestartPolicy: pluginhost.RestartPolicy{
				MaxRestarts:       app.RestartMaxAttempts,
				WindowSecs:        app.RestartWindowSecs,
				InitialBackoff:    pluginhost.DefaultRestartPolicy().InitialBackoff,
				MaxBackoff:        pluginhost.DefaultRestartPolicy().MaxBackoff,
				BackoffMultiplier: pluginhost.DefaultRestartPolicy().BackoffMultiplier,
			},
		},
		Registry: registry.Config{
			StatsIntervalSecs: app.RegistryStatsSecs,
			AgentStaleSecs:    app.AgentStaleSecs,
		},

		StateSyncBackend: app.StateSyncBackend,
		RedisAddr:        app.RedisAddr,
	}
}
