package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.HandlerPoolSize <= 0 {
		t.Fatalf("HandlerPoolSize default must be positive, got %d", cfg.HandlerPoolSize)
	}
	if cfg.MaxMessageSize != 1<<20 {
		t.Fatalf("MaxMessageSize default = %d, want %d", cfg.MaxMessageSize, 1<<20)
	}
	if !cfg.ValidateMessages {
		t.Fatal("ValidateMessages must default to true")
	}
	if cfg.RouterMaxAttempts != 3 {
		t.Fatalf("RouterMaxAttempts default = %d, want 3", cfg.RouterMaxAttempts)
	}
	if cfg.FailureThreshold != 5 {
		t.Fatalf("FailureThreshold default = %d, want 5", cfg.FailureThreshold)
	}
	if cfg.AgentStaleSecs != 300 {
		t.Fatalf("AgentStaleSecs default = %d, want 300", cfg.AgentStaleSecs)
	}
	if cfg.StreamBufferChunks != 128 {
		t.Fatalf("StreamBufferChunks default = %d, want 128", cfg.StreamBufferChunks)
	}
	if cfg.StateSyncBackend != "memory" {
		t.Fatalf("StateSyncBackend default = %q, want memory", cfg.StateSyncBackend)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("AGENTX_HANDLER_POOL_SIZE", "4")
	t.Setenv("AGENTX_VALIDATE_MESSAGES", "false")
	t.Setenv("AGENTX_ROUTER_STRATEGY", "least_load")
	t.Setenv("AGENTX_REDIS_ADDR", "redis.internal:6380")

	cfg := Load()
	if cfg.HandlerPoolSize != 4 {
		t.Fatalf("HandlerPoolSize = %d, want 4", cfg.HandlerPoolSize)
	}
	if cfg.ValidateMessages {
		t.Fatal("ValidateMessages should be false")
	}
	if cfg.RouterStrategy != "least_load" {
		t.Fatalf("RouterStrategy = %q", cfg.RouterStrategy)
	}
	if cfg.RedisAddr != "redis.internal:6380" {
		t.Fatalf("RedisAddr = %q", cfg.RedisAddr)
	}
}

func TestLoadFallsBackOnUnparsableValues(t *testing.T) {
	t.Setenv("AGENTX_HANDLER_POOL_SIZE", "not-a-number")
	t.Setenv("AGENTX_ENABLE_FAILOVER", "not-a-bool")

	cfg := Load()
	if cfg.HandlerPoolSize != 10 {
		t.Fatalf("HandlerPoolSize should fall back to default 10, got %d", cfg.HandlerPoolSize)
	}
	if !cfg.EnableFailover {
		t.Fatal("EnableFailover should fall back to default true")
	}
}

func TestGetHealthPortPerSubsystem(t *testing.T) {
	cfg := Load()
	ports := map[string]string{
		"protocol":   cfg.ProtocolHealthPort,
		"router":     cfg.RouterHealthPort,
		"pluginhost": cfg.PluginHostHealthPort,
		"registry":   cfg.RegistryHealthPort,
	}
	for name, want := range ports {
		if got := cfg.GetHealthPort(name); got != want {
			t.Fatalf("GetHealthPort(%q) = %q, want %q", name, got, want)
		}
	}
	if got := cfg.GetHealthPort("unknown"); got != "8080" {
		t.Fatalf("GetHealthPort(unknown) = %q, want 8080", got)
	}
}
