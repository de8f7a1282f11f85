package pluginhost

import (
	"encoding/json"
	"time"
)

// MessageType discriminates the role an Envelope plays on the wire.
type MessageType string

const (
	MessageTypeRequest  MessageType = "Request"
	MessageTypeResponse MessageType = "Response"
	MessageTypeEvent    MessageType = "Event"
	MessageTypeStream   MessageType = "Stream"
)

// Envelope is the plugin RPC frame body. Payload is opaque bytes; its
// content type is carried alongside by convention of the adapter and never
// interpreted by the host itself. Only a registered Codec ever converts a
// payload.
type Envelope struct {
	MessageID   string            `json:"messageId"`
	FromAgent   string            `json:"fromAgent,omitempty"`
	ToAgent     string            `json:"toAgent,omitempty"`
	MessageType MessageType       `json:"messageType"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	TimestampNs uint64            `json:"timestampNs"`
	TTLSeconds  uint32            `json:"ttlSeconds"`
}

// handshakeRequest/handshakeResponse are the first frames exchanged in
// each direction.
type handshakeRequest struct {
	Role         string   `json:"role"`
	PluginID     string   `json:"pluginId"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

type handshakeResponse struct {
	Role     string `json:"role"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// State is a node in the per-plugin lifecycle machine:
//
//	Spawned -> Initializing -> Ready -> Running -> Stopping -> Stopped
//	                  |            |                  ^
//	                  +---> Error -+------------------+  (restart policy)
type State string

const (
	StateSpawned      State = "Spawned"
	StateInitializing State = "Initializing"
	StateReady        State = "Ready"
	StateRunning      State = "Running"
	StateStopping     State = "Stopping"
	StateStopped      State = "Stopped"
	StateError        State = "Error"
)

// RestartPolicy bounds automatic restarts after an adapter enters Error.
// The defaults (5 restarts per 60s window, 1-2-4-8-16s backoff) are
// defaults, not a declared SLA; every field is configurable.
type RestartPolicy struct {
	MaxRestarts       int
	WindowSecs        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		MaxRestarts:       5,
		WindowSecs:        60,
		InitialBackoff:    time.Second,
		MaxBackoff:        16 * time.Second,
		BackoffMultiplier: 2,
	}
}

// Config tunes the plugin host.
type Config struct {
	MessageTimeoutSecs   int
	MaxConcurrentPlugins int
	StreamBufferChunks   int
	HandshakeTimeout     time.Duration
	RestartPolicy        RestartPolicy
}

func DefaultConfig() Config {
	return Config{
		MessageTimeoutSecs:   30,
		MaxConcurrentPlugins: 10,
		StreamBufferChunks:   128,
		HandshakeTimeout:     3 * time.Second,
		RestartPolicy:        DefaultRestartPolicy(),
	}
}

// PluginConfig describes one adapter process to spawn.
type PluginConfig struct {
	PluginID string
	Command  string
	Args     []string
	Env      []string
}

// PluginHandle is the opaque reference callers hold to a spawned plugin.
type PluginHandle struct {
	PluginID string
	proc     *pluginProc
}

// HealthStatus is the result of a healthProbe call.
type HealthStatus string

const (
	HealthServing    HealthStatus = "Serving"
	HealthNotServing HealthStatus = "NotServing"
)

// StreamChunk is one element of a callStreaming response stream.
type StreamChunk struct {
	Envelope Envelope
	Err      error
}
