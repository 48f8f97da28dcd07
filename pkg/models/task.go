package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskPriority orders queue delivery. Within a priority class delivery is
// FIFO by enqueue time.
type TaskPriority string

const (
	PriorityCritical TaskPriority = "critical"
	PriorityHigh     TaskPriority = "high"
	PriorityMedium   TaskPriority = "medium"
	PriorityLow      TaskPriority = "low"
	PriorityInfo     TaskPriority = "info"
)

// Priorities lists all priority classes from most to least urgent.
var Priorities = []TaskPriority{
	PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityInfo,
}

// Rank returns the priority's position, 0 = most urgent. Unknown priorities
// rank below info.
func (p TaskPriority) Rank() int {
	for i, q := range Priorities {
		if p == q {
			return i
		}
	}
	return len(Priorities)
}

// Valid reports whether p is one of the known priority classes.
func (p TaskPriority) Valid() bool {
	return p.Rank() < len(Priorities)
}

// TaskStatus is the queue lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskInFlight  TaskStatus = "in_flight"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status ends a task's lifecycle.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task types handled by the background dispatcher.
const (
	TaskKnowledgeExtraction     = "knowledge_extraction"
	TaskIntegrityCheck          = "integrity_check"
	TaskResolveContradiction    = "resolve_contradiction"
	TaskEmailNotification       = "email_notification"
	TaskCalendarReminder        = "calendar_reminder"
	TaskServiceHealthTransition = "service_health_transition"
	TaskMemoryMaintenance       = "memory_maintenance"
)

// Task is an in-memory unit of background work. Tasks are never persisted;
// restart loses the queue by design.
type Task struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Priority  TaskPriority   `json:"priority"`
	TenantID  string         `json:"tenant_id"`
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	// VisibleAfter hides scheduled tasks from Dequeue until the time passes.
	VisibleAfter time.Time  `json:"visible_after"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	Status       TaskStatus `json:"status"`
}

// NewTask builds a pending task with a fresh ID and immediate visibility.
func NewTask(taskType string, priority TaskPriority, tenantID string) *Task {
	now := time.Now()
	return &Task{
		ID:           uuid.New().String(),
		Type:         taskType,
		Priority:     priority,
		TenantID:     tenantID,
		CreatedAt:    now,
		VisibleAfter: now,
		MaxAttempts:  3,
		Status:       TaskPending,
	}
}
