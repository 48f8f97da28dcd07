package agents

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/famulus-ai/famulus/pkg/graph"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/tools"
)

// ToolLoop executes the plan's steps in order from the current cursor. Tool
// steps run through the invoker, a wait_user step parks the plan in session
// metadata, a respond step completes it. A failed step marks the plan failed
// and stops the loop; the main agent still answers, summarising what ran.
type ToolLoop struct {
	invoker ToolInvoker
	plans   PlanStore
	logger  *slog.Logger
}

// NewToolLoop creates the tool-loop node.
func NewToolLoop(invoker ToolInvoker, plans PlanStore) *ToolLoop {
	return &ToolLoop{
		invoker: invoker,
		plans:   plans,
		logger:  slog.Default().With("component", "agents.toolloop"),
	}
}

// Execute implements graph.NodeFunc.
func (t *ToolLoop) Execute(ctx context.Context, st *graph.State) (*graph.State, error) {
	if st.Plan == nil {
		return st, nil
	}

	next := st.Clone()
	plan := next.Plan

	// A fresh plan supersedes whatever plan was parked waiting for input:
	// the conversation has moved past the question.
	if !next.PlanResumed && next.Session != nil {
		if _, ok := models.DecodePendingPlan(next.Session.Metadata); ok {
			t.clearPending(ctx, next)
		}
	}

loop:
	for idx := plan.CurrentStep; idx < len(plan.Steps); idx++ {
		if err := ctx.Err(); err != nil {
			return next, err
		}

		step := &plan.Steps[idx]
		switch step.Type {
		case models.StepTool:
			result := t.invoker.Invoke(ctx, tools.Call{
				TenantID:  st.TenantID,
				UserID:    st.UserID,
				SessionID: st.SessionID,
				Tool:      step.ToolName,
				Args:      step.Args,
			})
			step.Result = result
			step.Done = true
			plan.CurrentStep = idx + 1
			next.ToolResults = append(next.ToolResults, result)

			if !result.OK() {
				plan.Status = models.PlanFailed
				if result.ErrorKind == models.ErrKindAuthRequired {
					// Mirror of the re-auth notification the invoker
					// published, so the reply carries it too.
					next.Notifications = append(next.Notifications, reauthNotification(st, result))
				}
				t.logger.Warn("plan step failed",
					"plan_id", plan.ID, "step", idx, "tool", step.ToolName,
					"kind", result.ErrorKind)
				break loop
			}

		case models.StepWaitUser:
			// Cursor stays on the wait step; the resume path advances it.
			plan.Status = models.PlanWaitingUser
			plan.CurrentStep = idx
			if err := t.plans.SavePendingPlan(ctx, st.TenantID, st.SessionID, plan); err != nil {
				t.logger.Error("failed to park waiting plan",
					"plan_id", plan.ID, "session_id", st.SessionID, "error", err)
			}
			break loop

		case models.StepRespond:
			step.Done = true
			plan.CurrentStep = idx + 1
			plan.Status = models.PlanCompleted
			break loop

		default:
			plan.Status = models.PlanFailed
			t.logger.Error("plan carries unknown step type",
				"plan_id", plan.ID, "step", idx, "type", string(step.Type))
			break loop
		}
	}

	// A truncated plan can run out of steps without an explicit respond.
	if plan.Status == models.PlanRunning && plan.CurrentStep >= len(plan.Steps) {
		plan.Status = models.PlanCompleted
	}

	if next.PlanResumed && (plan.Status == models.PlanCompleted || plan.Status == models.PlanFailed) {
		t.clearPending(ctx, next)
	}

	t.logger.Info("plan executed",
		"plan_id", plan.ID, "status", string(plan.Status),
		"steps_done", plan.CurrentStep, "steps_total", len(plan.Steps))
	return next, nil
}

func (t *ToolLoop) clearPending(ctx context.Context, st *graph.State) {
	if err := t.plans.ClearPendingPlan(ctx, st.TenantID, st.SessionID); err != nil {
		t.logger.Warn("failed to clear pending plan",
			"session_id", st.SessionID, "error", err)
	}
}

func reauthNotification(st *graph.State, result *models.ToolResult) *models.Notification {
	return &models.Notification{
		TenantID:    st.TenantID,
		UserID:      st.UserID,
		SessionID:   st.SessionID,
		Type:        models.NotifyReauthRequired,
		Priority:    models.PriorityHigh,
		Channel:     models.ChannelFor(models.PriorityHigh),
		Title:       fmt.Sprintf("Re-authentication required for %s", result.Tool),
		Body:        result.Error,
		ReferenceID: result.Tool,
		Count:       1,
		CreatedAt:   time.Now().UTC(),
	}
}
