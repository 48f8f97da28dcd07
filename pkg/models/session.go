package models

import "time"

// SessionStatus is the lifecycle state of a conversation session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionArchived SessionStatus = "archived"
)

// MetadataPendingPlan is the session metadata key holding a plan that is
// waiting for user input.
const MetadataPendingPlan = "pending_plan"

// Session is one conversation thread between a user and the assistant.
// Archival is a soft delete: messages are kept, the status flips.
type Session struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	UserID       string         `json:"user_id"`
	Channel      string         `json:"channel"`
	Status       SessionStatus  `json:"status"`
	Title        string         `json:"title,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActiveAt time.Time      `json:"last_active_at"`
}

// SessionFilters contains filtering options for listing sessions
type SessionFilters struct {
	Status          SessionStatus `json:"status,omitempty"`
	Channel         string        `json:"channel,omitempty"`
	Limit           int           `json:"limit,omitempty"`
	Offset          int           `json:"offset,omitempty"`
	IncludeArchived bool          `json:"include_archived,omitempty"`
}

// SessionListResponse contains a paginated session list
type SessionListResponse struct {
	Sessions   []*Session `json:"sessions"`
	TotalCount int        `json:"total_count"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}
