package models

// Reply is the assembled response to one user message: the assistant text
// plus the attention summary collected while handling it.
type Reply struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	// Plan echoes the executed plan when the message produced or resumed one.
	Plan *Plan `json:"plan,omitempty"`
	// HighPriority lists buffered notifications at high priority or above.
	HighPriority []*Notification `json:"high_priority_notifications,omitempty"`
	// NotificationCount counts every notification buffered during the request,
	// HighPriority included.
	NotificationCount int `json:"notification_count,omitempty"`
	// Degraded marks a response produced under reduced capability (memory
	// fallback, failed plan steps).
	Degraded bool `json:"degraded,omitempty"`
}
