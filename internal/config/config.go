package config

import (
	"os"
	"strconv"
)

// AppConfig holds configuration for every AgentX subsystem, loaded once at
// process startup from environment variables.
type AppConfig struct {
	// Protocol Engine
	HandlerPoolSize   int
	MaxMessageSize    int
	ValidateMessages  bool
	StatsIntervalSecs int

	// Message Router
	RouterMaxAttempts     int
	RouterTimeoutMs       int
	HealthCheckIntervalMs int
	CacheTTLMs            int
	EnableLoadBalancing   bool
	EnableFailover        bool
	RouterStrategy        string

	// Circuit breaker (per routed endpoint)
	FailureThreshold  int
	TimeWindowMs      int
	RecoveryTimeoutMs int

	// Plugin Host
	PluginMessageTimeoutSecs int
	MaxConcurrentPlugins     int
	StreamBufferChunks       int
	RestartMaxAttempts       int
	RestartWindowSecs        int

	// Cluster & Registry State
	SyncIntervalSecs  int
	RegistryStatsSecs int
	AgentStaleSecs    int
	RedisAddr         string
	StateSyncBackend  string
	ClusterID         string

	// JSON-RPC listener (transport only, no REST gateway)
	RPCAddr string

	// Observability stack
	JaegerEndpoint   string
	PrometheusPort   string
	GrafanaPort      string
	AlertManagerPort string

	// Health check ports, one per subsystem process
	ProtocolHealthPort   string
	RouterHealthPort     string
	PluginHostHealthPort string
	RegistryHealthPort   string

	// OpenTelemetry Collector Ports
	OTLPGRPCPort string
	OTLPHTTPPort string

	// Service Configuration
	ServiceName    string
	ServiceVersion string
	Environment    string
	LogLevel       string
}

// Load loads configuration from environment variables with defaults.
func Load() *AppConfig {
	return &AppConfig{
		// Protocol Engine
		HandlerPoolSize:   getEnvAsInt("AGENTX_HANDLER_POOL_SIZE", 10),
		MaxMessageSize:    getEnvAsInt("AGENTX_MAX_MESSAGE_SIZE", 1<<20),
		ValidateMessages:  getEnvAsBool("AGENTX_VALIDATE_MESSAGES", true),
		StatsIntervalSecs: getEnvAsInt("AGENTX_PROTOCOL_STATS_INTERVAL_SECS", 30),

		// Message Router
		RouterMaxAttempts:     getEnvAsInt("AGENTX_ROUTER_MAX_ATTEMPTS", 3),
		RouterTimeoutMs:       getEnvAsInt("AGENTX_ROUTER_TIMEOUT_MS", 30000),
		HealthCheckIntervalMs: getEnvAsInt("AGENTX_HEALTH_CHECK_INTERVAL_MS", 30000),
		CacheTTLMs:            getEnvAsInt("AGENTX_ROUTE_CACHE_TTL_MS", 300000),
		EnableLoadBalancing:   getEnvAsBool("AGENTX_ENABLE_LOAD_BALANCING", true),
		EnableFailover:        getEnvAsBool("AGENTX_ENABLE_FAILOVER", true),
		RouterStrategy:        getEnv("AGENTX_ROUTER_STRATEGY", "round_robin"),

		// Circuit breaker
		FailureThreshold:  getEnvAsInt("AGENTX_CB_FAILURE_THRESHOLD", 5),
		TimeWindowMs:      getEnvAsInt("AGENTX_CB_TIME_WINDOW_MS", 60000),
		RecoveryTimeoutMs: getEnvAsInt("AGENTX_CB_RECOVERY_TIMEOUT_MS", 30000),

		// Plugin Host
		PluginMessageTimeoutSecs: getEnvAsInt("AGENTX_PLUGIN_MESSAGE_TIMEOUT_SECS", 30),
		MaxConcurrentPlugins:     getEnvAsInt("AGENTX_MAX_CONCURRENT_PLUGINS", 10),
		StreamBufferChunks:       getEnvAsInt("AGENTX_STREAM_BUFFER_CHUNKS", 128),
		RestartMaxAttempts:       getEnvAsInt("AGENTX_RESTART_MAX_ATTEMPTS", 5),
		RestartWindowSecs:        getEnvAsInt("AGENTX_RESTART_WINDOW_SECS", 60),

		// Cluster & Registry State
		SyncIntervalSecs:  getEnvAsInt("AGENTX_SYNC_INTERVAL_SECS", 5),
		RegistryStatsSecs: getEnvAsInt("AGENTX_REGISTRY_STATS_INTERVAL_SECS", 60),
		AgentStaleSecs:    getEnvAsInt("AGENTX_AGENT_STALE_SECS", 300),
		RedisAddr:         getEnv("AGENTX_REDIS_ADDR", "localhost:6379"),
		StateSyncBackend:  getEnv("AGENTX_STATE_SYNC_BACKEND", "memory"),
		ClusterID:         getEnv("AGENTX_CLUSTER_ID", "default"),

		RPCAddr: getEnv("AGENTX_RPC_ADDR", ":7650"),

		// Observability Stack
		JaegerEndpoint:   getEnv("JAEGER_ENDPOINT", "127.0.0.1:4317"),
		PrometheusPort:   getEnv("PROMETHEUS_PORT", "9090"),
		GrafanaPort:      getEnv("GRAFANA_PORT", "3333"),
		AlertManagerPort: getEnv("ALERTMANAGER_PORT", "9093"),

		// Health Check Ports
		ProtocolHealthPort:   getEnv("PROTOCOL_HEALTH_PORT", "8080"),
		RouterHealthPort:     getEnv("ROUTER_HEALTH_PORT", "8081"),
		PluginHostHealthPort: getEnv("PLUGINHOST_HEALTH_PORT", "8082"),
		RegistryHealthPort:   getEnv("REGISTRY_HEALTH_PORT", "8083"),

		// OpenTelemetry Collector Ports
		OTLPGRPCPort: getEnv("OTLP_GRPC_PORT", "4320"),
		OTLPHTTPPort: getEnv("OTLP_HTTP_PORT", "4321"),

		// Service Configuration
		ServiceName:    getEnv("SERVICE_NAME", "agentx"),
		ServiceVersion: getEnv("SERVICE_VERSION", "1.0.0"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "INFO"),
	}
}

// GetHealthPort returns the health port for a given subsystem name.
func (c *AppConfig) GetHealthPort(subsystem string) string {
	switch subsystem {
	case "protocol":
		return c.ProtocolHealthPort
	case "router":
		return c.RouterHealthPort
	case "pluginhost":
		return c.PluginHostHealthPort
	case "registry":
		return c.RegistryHealthPort
	default:
		return "8080"
	}
}

// GetJaegerWebURL returns the Jaeger web interface URL.
func (c *AppConfig) GetJaegerWebURL() string {
	return "http://localhost:16686"
}

// GetGrafanaURL returns the Grafana web interface URL.
func (c *AppConfig) GetGrafanaURL() string {
	return "http://localhost:" + c.GrafanaPort
}

// GetPrometheusURL returns the Prometheus web interface URL.
func (c *AppConfig) GetPrometheusURL() string {
	return "http://localhost:" + c.PrometheusPort
}

// GetAlertManagerURL returns the AlertManager web interface URL.
func (c *AppConfig) GetAlertManagerURL() string {
	return "http://localhost:" + c.AlertManagerPort
}

// getEnv gets an environment variable with a default fallback.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer with a default fallback.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as boolean with a default fallback.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
