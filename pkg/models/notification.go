package models

import (
	"fmt"
	"time"
)

// NotificationChannel is how a notification reaches the user. The channel is
// derived from priority at publish time, never chosen by the producer.
type NotificationChannel string

const (
	ChannelBlocking  NotificationChannel = "blocking"
	ChannelImmediate NotificationChannel = "immediate"
	ChannelAsync     NotificationChannel = "async"
	ChannelDigest    NotificationChannel = "digest"
	ChannelLog       NotificationChannel = "log"
)

// ChannelFor maps a priority class to its delivery channel.
func ChannelFor(p TaskPriority) NotificationChannel {
	switch p {
	case PriorityCritical:
		return ChannelBlocking
	case PriorityHigh:
		return ChannelImmediate
	case PriorityMedium:
		return ChannelAsync
	case PriorityLow:
		return ChannelDigest
	default:
		return ChannelLog
	}
}

// Notification types produced by the runtime.
const (
	NotifyNewEmail         = "new_email"
	NotifyCalendarReminder = "calendar_reminder"
	NotifyServiceHealth    = "service_health"
	NotifyContradiction    = "contradiction"
	NotifyReauthRequired   = "reauth_required"
	NotifyTaskUpdate       = "task_update"
)

// Notification is a unit of user-facing attention. Duplicate publishes
// within the dedupe window coalesce into one row with a bumped count.
type Notification struct {
	ID          string              `json:"id"`
	TenantID    string              `json:"tenant_id"`
	UserID      string              `json:"user_id"`
	SessionID   string              `json:"session_id,omitempty"`
	Type        string              `json:"type"`
	Priority    TaskPriority        `json:"priority"`
	Channel     NotificationChannel `json:"channel"`
	Title       string              `json:"title"`
	Body        string              `json:"body,omitempty"`
	ReferenceID string              `json:"reference_id,omitempty"`
	// Count is how many publishes coalesced into this row.
	Count      int            `json:"count"`
	Read       bool           `json:"read"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	Resolution string         `json:"resolution,omitempty"`
}

// DedupeKey identifies notifications that coalesce within the dedupe window.
func (n *Notification) DedupeKey() string {
	return fmt.Sprintf("%s/%s/%s", n.Type, n.UserID, n.ReferenceID)
}

// NotificationFilters contains filtering options for listing notifications
type NotificationFilters struct {
	SessionID string       `json:"session_id,omitempty"`
	Priority  TaskPriority `json:"priority,omitempty"`
	Unread    bool         `json:"unread,omitempty"`
	Limit     int          `json:"limit,omitempty"`
	Offset    int          `json:"offset,omitempty"`
}
