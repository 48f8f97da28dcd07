package graph

import (
	"github.com/famulus-ai/famulus/pkg/models"
)

// State is the record nodes transform during one run: a user message on the
// request path, or a synthetic event on the background path.
//
// Nodes treat their input as immutable: mutate a Clone, never the argument.
// Pointer fields (Session, Memories, message and notification elements) are
// shared across clones and are read-only by the same convention; Clone copies
// the slices and the plan so appends and step results never alias.
type State struct {
	TenantID  string
	UserID    string
	SessionID string

	// Message is the user turn driving this run. MessageID is its persisted
	// row, zero for blank or synthetic turns.
	Message        string
	MessageID      int64
	ForceWebSearch bool

	// Event is the background task driving a synthetic run; nil on the
	// user-message path. Read-only, shared across clones.
	Event *models.Task

	// Session is the conversation snapshot loaded at entry.
	Session *models.Session
	// History is the short-term window, oldest first.
	History []*models.Message
	// Memories is the hybrid retrieval result for Message.
	Memories *models.MemoryQueryResult

	// Plan is the planner's decision; nil means the main agent answers from
	// context. PlanResumed marks the session's pending plan rather than a
	// fresh one.
	Plan        *models.Plan
	PlanResumed bool

	// ToolResults accumulates executed plan steps in order.
	ToolResults []*models.ToolResult

	// Notifications buffers attention items raised during this request; the
	// collector drains it into the reply.
	Notifications []*models.Notification

	// HighPriority and NotificationCount are the collector's partition of the
	// buffer: items at high urgency or above, and the total raised.
	HighPriority      []*models.Notification
	NotificationCount int

	// AssistantDraft is the main agent's text. Only the main agent writes it.
	AssistantDraft string

	// Reply is the formatter's final assembly.
	Reply *models.Reply
}

// Clone returns a copy safe to mutate: slices and the plan are duplicated,
// shared pointer fields are carried over.
func (s *State) Clone() *State {
	next := *s

	if s.History != nil {
		next.History = make([]*models.Message, len(s.History))
		copy(next.History, s.History)
	}
	if s.ToolResults != nil {
		next.ToolResults = make([]*models.ToolResult, len(s.ToolResults))
		copy(next.ToolResults, s.ToolResults)
	}
	if s.Notifications != nil {
		next.Notifications = make([]*models.Notification, len(s.Notifications))
		copy(next.Notifications, s.Notifications)
	}
	if s.HighPriority != nil {
		next.HighPriority = make([]*models.Notification, len(s.HighPriority))
		copy(next.HighPriority, s.HighPriority)
	}
	if s.Plan != nil {
		plan := *s.Plan
		plan.Steps = make([]models.Step, len(s.Plan.Steps))
		copy(plan.Steps, s.Plan.Steps)
		next.Plan = &plan
	}

	return &next
}

// Snapshot is the state handed to detached background work: a Clone taken at
// spawn time, isolated from every later node transition.
func (s *State) Snapshot() *State {
	return s.Clone()
}
