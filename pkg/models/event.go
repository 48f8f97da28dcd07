package models

// Stream event types pushed to notification subscribers.
const (
	// StreamSnapshot is sent once on attach: unread count plus recent items.
	StreamSnapshot = "notifications_snapshot"
	// StreamNotification is sent for each notification published while the
	// subscriber is attached.
	StreamNotification = "notification"
)

// StreamEvent is the envelope pushed over a notification stream. Exactly one
// of Events or Event is set, matching Type.
type StreamEvent struct {
	Type string `json:"type"`
	// Events carries the attach snapshot, newest first.
	Events []*Notification `json:"events,omitempty"`
	// Event carries one incremental notification.
	Event *Notification `json:"event,omitempty"`
	// Unread rides the snapshot so clients can badge without counting.
	Unread int `json:"unread,omitempty"`
}

// SnapshotEvent builds the attach snapshot envelope.
func SnapshotEvent(unread int, items []*Notification) *StreamEvent {
	return &StreamEvent{Type: StreamSnapshot, Events: items, Unread: unread}
}

// NotificationEvent builds the incremental envelope.
func NotificationEvent(n *Notification) *StreamEvent {
	return &StreamEvent{Type: StreamNotification, Event: n}
}
