// Package protocol implements the AgentX canonical message and task model:
// validation, JSON-RPC 2.0 framing, and handler dispatch for the
// agent-to-agent protocol (v0.2.5).
package protocol

import (
	"encoding/json"
	"time"
)

// ProtocolVersion is carried in capability discovery, not per message.
const ProtocolVersion = "0.2.5"

// Role identifies who authored a Message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// PartKind discriminates the tagged union stored in Part.
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindFile PartKind = "file"
	PartKindData PartKind = "data"
)

// FilePart carries either inline bytes or a URI reference, never both.
type FilePart struct {
	MimeType string `json:"mimeType" validate:"required"`
	Bytes    string `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// Part is the smallest unit of content inside a Message. Exactly one of
// Text, File, Data is populated, selected by Kind.
type Part struct {
	Kind     PartKind               `json:"kind" validate:"required,oneof=text file data"`
	Text     string                 `json:"text,omitempty"`
	File     *FilePart              `json:"file,omitempty"`
	Data     json.RawMessage        `json:"data,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// IsEmpty reports whether the part carries no content for its declared kind.
func (p Part) IsEmpty() bool {
	switch p.Kind {
	case PartKindText:
		return p.Text == ""
	case PartKindFile:
		return p.File == nil || (p.File.Bytes == "" && p.File.URI == "")
	case PartKindData:
		return len(p.Data) == 0
	default:
		return true
	}
}

// Message is the unit of exchange between agents. It is immutable once
// accepted by the engine and is discarded after dispatch unless it is
// appended to a Task's history.
type Message struct {
	MessageID string                 `json:"messageId" validate:"required"`
	Role      Role                   `json:"role" validate:"required,oneof=user agent"`
	Parts     []Part                 `json:"parts" validate:"required,min=1,dive"`
	TaskID    string                 `json:"taskId,omitempty"`
	ContextID string                 `json:"contextId,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// TargetAgent returns the agentId the router should dispatch this message
// to, read from the one metadata key the core always interprets.
func (m *Message) TargetAgent() string {
	return m.metadataString("target_agent")
}

// RequiredCapability returns the capability this message declares it needs,
// if any. The capability-aware routing strategy filters candidates on it
// and the engine validates data parts against the matching capability's
// input schema.
func (m *Message) RequiredCapability() string {
	return m.metadataString("required_capability")
}

func (m *Message) metadataString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	if v, ok := m.Metadata[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// TaskState is a node in the task lifecycle state machine.
type TaskState string

const (
	TaskSubmitted     TaskState = "submitted"
	TaskWorking       TaskState = "working"
	TaskInputRequired TaskState = "input_required"
	TaskCompleted     TaskState = "completed"
	TaskFailed        TaskState = "failed"
	TaskCancelled     TaskState = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s TaskState) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskStatus records the current lifecycle state and when it was entered.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Message   *Message  `json:"message,omitempty"`
}

// Artifact is an immutable output appended to a Task once produced.
type Artifact struct {
	ArtifactID string                 `json:"artifactId" validate:"required"`
	Name       string                 `json:"name,omitempty"`
	Parts      []Part                 `json:"parts"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Task is a coordinated unit of work with status, history, and artifacts.
type Task struct {
	ID        string                 `json:"id" validate:"required"`
	Kind      string                 `json:"kind"`
	Status    TaskStatus             `json:"status"`
	History   []Message              `json:"history,omitempty"`
	Artifacts []Artifact             `json:"artifacts,omitempty"`
	ContextID string                 `json:"contextId,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// AuthConfig is an opaque, endpoint-specific authentication descriptor.
// The protocol engine and router never interpret its contents.
type AuthConfig struct {
	Scheme string                 `json:"scheme,omitempty"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Endpoint is a concrete address an agent can be reached at.
type Endpoint struct {
	Type      string      `json:"type" validate:"required"`
	URL       string      `json:"url" validate:"required"`
	Protocols []string    `json:"protocols,omitempty"`
	Auth      *AuthConfig `json:"auth,omitempty"`
}

// Capability is a named, typed ability advertised on an AgentCard.
type Capability struct {
	Name         string          `json:"name" validate:"required"`
	Category     string          `json:"category,omitempty"`
	InputSchema  json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema json.RawMessage `json:"outputSchema,omitempty"`
	Available    bool            `json:"available"`
	Cost         *float64        `json:"cost,omitempty"`
}

// AgentCard is the self-description an agent publishes to the registry.
type AgentCard struct {
	ID                     string       `json:"id" validate:"required"`
	Name                   string       `json:"name"`
	Description            string       `json:"description,omitempty"`
	Version                string       `json:"version,omitempty"`
	Capabilities           []Capability `json:"capabilities,omitempty"`
	Endpoints              []Endpoint   `json:"endpoints,omitempty"`
	Status                 string       `json:"status,omitempty"`
	TrustLevel             string       `json:"trustLevel,omitempty"`
	InteractionModalities  []string     `json:"interactionModalities,omitempty"`
	SupportedTaskTypes     []string     `json:"supportedTaskTypes,omitempty"`
	CreatedAt              time.Time    `json:"createdAt"`
	UpdatedAt              time.Time    `json:"updatedAt"`
	ExpiresAt              *time.Time   `json:"expiresAt,omitempty"`
}

// Expired reports whether the card has passed its ExpiresAt, if any.
func (c *AgentCard) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}
