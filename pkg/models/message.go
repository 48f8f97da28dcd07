package models

import "time"

// MessageRole identifies who produced a message.
type MessageRole string

const (
	RoleUserMsg   MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleTool      MessageRole = "tool"
)

// Message is one turn in a session. The ID is a database sequence and is the
// ordering key: reading a session's messages ordered by ID always yields the
// order they were committed in.
type Message struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	TenantID  string         `json:"tenant_id"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// CreateMessageRequest contains fields for appending a message to a session
type CreateMessageRequest struct {
	SessionID string         `json:"session_id"`
	TenantID  string         `json:"tenant_id"`
	Role      MessageRole    `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
