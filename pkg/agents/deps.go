// Package agents implements the node functions the request graph runs: load
// context, plan, execute tool steps, compose the reply, and the detached
// knowledge and integrity work spawned off the critical path. Nodes clone
// the state they receive and never mutate their argument.
package agents

import (
	"context"

	"github.com/famulus-ai/famulus/pkg/integrity"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/planner"
	"github.com/famulus-ai/famulus/pkg/tools"
)

// Classifier decides whether a message needs a plan. Satisfied by
// planner.Planner.
type Classifier interface {
	Classify(ctx context.Context, in planner.Input) planner.Decision
}

// ToolInvoker executes one tool call. Satisfied by tools.Invoker.
type ToolInvoker interface {
	Invoke(ctx context.Context, call tools.Call) *models.ToolResult
}

// MemoryReader is the retrieval side of the memory manager.
type MemoryReader interface {
	Window(sessionID string) []*models.Message
	Prime(sessionID string, msgs []*models.Message)
	Query(ctx context.Context, q *models.MemoryQuery) (*models.MemoryQueryResult, error)
}

// MemoryWriter is the long-term write side of the memory manager.
type MemoryWriter interface {
	AddLong(ctx context.Context, tenantID, userID, content string, kind models.MemoryKind, importance float64, sourceSessions []string) (*models.MemoryEntry, error)
}

// MessageTailer loads the newest persisted messages of a session, oldest
// first. Used to rebuild the short-term window after a restart. Satisfied by
// store.MessageStore.
type MessageTailer interface {
	Tail(ctx context.Context, tenantID, sessionID string, n int) ([]*models.Message, error)
}

// PlanStore persists and clears the session's pending plan. Satisfied by
// session.Manager.
type PlanStore interface {
	SavePendingPlan(ctx context.Context, tenantID, sessionID string, plan *models.Plan) error
	ClearPendingPlan(ctx context.Context, tenantID, sessionID string) error
}

// TaskSink admits background tasks. Satisfied by taskqueue.Queue.
type TaskSink interface {
	Enqueue(task *models.Task) error
}

// Notifier publishes notifications. Satisfied by notify.Center.
type Notifier interface {
	Publish(ctx context.Context, n *models.Notification) (*models.Notification, error)
}

// ContradictionChecker compares a candidate statement against remembered
// knowledge. Satisfied by integrity.Checker.
type ContradictionChecker interface {
	Check(ctx context.Context, cand integrity.Candidate) ([]integrity.Finding, error)
}
