// Package config provides centralized configuration management for AgentX
// services through environment variables with sensible defaults.
//
// # Overview
//
// The config package loads application configuration from environment
// variables, providing a single source of truth for every AgentX subsystem:
//   - Protocol engine tuning (worker pool size, message size ceiling, validation)
//   - Message router tuning (strategy, route cache TTL, failover, circuit breaker)
//   - Plugin host tuning (restart policy, stream backpressure, concurrency cap)
//   - Cluster & registry state tuning (sync interval, staleness, Redis address)
//   - Observability stack endpoints (Jaeger, Prometheus, Grafana)
//   - Health check ports for each subsystem process
//   - Service metadata (name, version, environment)
//
// All configuration values have sensible defaults, so services can run
// without any environment variable configuration.
//
// # Quick Start
//
//	cfg := config.Load()
//	fmt.Printf("Router strategy: %s\n", cfg.RouterStrategy)
//	fmt.Printf("Environment: %s\n", cfg.Environment)
//
// # Configuration Fields
//
// **Protocol Engine**:
//   - AGENTX_HANDLER_POOL_SIZE: worker pool size (default: 10)
//   - AGENTX_MAX_MESSAGE_SIZE: serialized message ceiling in bytes (default: 1048576)
//   - AGENTX_VALIDATE_MESSAGES: enable schema validation (default: true)
//   - AGENTX_PROTOCOL_STATS_INTERVAL_SECS: stats snapshot interval (default: 30)
//
// **Message Router**:
//   - AGENTX_ROUTER_MAX_ATTEMPTS: delivery attempts before failure (default: 3)
//   - AGENTX_ROUTER_TIMEOUT_MS: per-attempt timeout (default: 30000)
//   - AGENTX_HEALTH_CHECK_INTERVAL_MS: agent probe interval (default: 30000)
//   - AGENTX_ROUTE_CACHE_TTL_MS: route cache entry lifetime (default: 300000)
//   - AGENTX_ENABLE_LOAD_BALANCING / AGENTX_ENABLE_FAILOVER: feature toggles
//   - AGENTX_ROUTER_STRATEGY: round_robin | least_load | lowest_latency | capability_aware
//
// **Circuit Breaker**:
//   - AGENTX_CB_FAILURE_THRESHOLD, AGENTX_CB_TIME_WINDOW_MS, AGENTX_CB_RECOVERY_TIMEOUT_MS
//
// **Plugin Host**:
//   - AGENTX_PLUGIN_MESSAGE_TIMEOUT_SECS, AGENTX_MAX_CONCURRENT_PLUGINS,
//     AGENTX_STREAM_BUFFER_CHUNKS, AGENTX_RESTART_MAX_ATTEMPTS, AGENTX_RESTART_WINDOW_SECS
//
// **Cluster & Registry State**:
//   - AGENTX_SYNC_INTERVAL_SECS, AGENTX_REGISTRY_STATS_INTERVAL_SECS,
//     AGENTX_AGENT_STALE_SECS, AGENTX_REDIS_ADDR
//   - AGENTX_STATE_SYNC_BACKEND: memory | redis (default: "memory")
//   - AGENTX_CLUSTER_ID: identity this process advertises to peers in its
//     StateSync writes (default: "default")
//
// **JSON-RPC Listener**:
//   - AGENTX_RPC_ADDR: address the JSON-RPC endpoint binds to
//     (default: ":7650")
//
// **Observability Stack**:
//   - JAEGER_ENDPOINT: Jaeger OTLP endpoint (default: "127.0.0.1:4317")
//   - PROMETHEUS_PORT: Prometheus port (default: "9090")
//   - GRAFANA_PORT: Grafana port (default: "3333")
//   - ALERTMANAGER_PORT: AlertManager port (default: "9093")
//
// **Health Check Ports**:
//   - PROTOCOL_HEALTH_PORT (default: "8080")
//   - ROUTER_HEALTH_PORT (default: "8081")
//   - PLUGINHOST_HEALTH_PORT (default: "8082")
//   - REGISTRY_HEALTH_PORT (default: "8083")
//
// **OpenTelemetry Collector**:
//   - OTLP_GRPC_PORT: OTLP gRPC receiver port (default: "4320")
//   - OTLP_HTTP_PORT: OTLP HTTP receiver port (default: "4321")
//
// **Service Metadata**:
//   - SERVICE_NAME (default: "agentx")
//   - SERVICE_VERSION (default: "1.0.0")
//   - ENVIRONMENT (default: "development")
//   - LOG_LEVEL: DEBUG, INFO, WARN, ERROR (default: "INFO")
//
// # Usage Examples
//
//	cfg := config.Load()
//	port := cfg.GetHealthPort("router") // "8081"
//
//	jaegerUI := cfg.GetJaegerWebURL()
//	grafana := cfg.GetGrafanaURL()
//
// # Configuration Precedence
//
//  1. Environment variables (if set)
//  2. Default values (if not set)
//
// # Integration with Other Packages
//
// observability.DefaultConfig(serviceName) reads the same AppConfig to build
// its own Config, so the OTel/Prometheus endpoints stay consistent across
// every subsystem process:
//
//	func DefaultConfig(serviceName string) observability.Config {
//	    appConfig := config.Load()
//	    return observability.Config{
//	        ServiceName:    serviceName,
//	        ServiceVersion: appConfig.ServiceVersion,
//	        JaegerEndpoint: appConfig.JaegerEndpoint,
//	        // ...
//	    }
//	}
//
// # Thread Safety
//
// AppConfig is safe to read from multiple goroutines once loaded.
// Do not modify AppConfig fields after calling Load().
package config
