package agents

import (
	"context"
	"log/slog"

	"github.com/famulus-ai/famulus/pkg/graph"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/planner"
)

// PlanDecider is the planner node: it classifies the current message and
// writes the resulting plan, if any, into the state. Classification never
// fails the request; the planner falls back to needs_plan=false internally.
type PlanDecider struct {
	classifier Classifier
	logger     *slog.Logger
}

// NewPlanDecider creates the planner node.
func NewPlanDecider(classifier Classifier) *PlanDecider {
	return &PlanDecider{
		classifier: classifier,
		logger:     slog.Default().With("component", "agents.planner"),
	}
}

// Decide implements graph.NodeFunc.
func (d *PlanDecider) Decide(ctx context.Context, st *graph.State) (*graph.State, error) {
	var pending *models.Plan
	if st.Session != nil {
		pending, _ = models.DecodePendingPlan(st.Session.Metadata)
	}

	dec := d.classifier.Classify(ctx, planner.Input{
		TenantID:       st.TenantID,
		UserID:         st.UserID,
		SessionID:      st.SessionID,
		Message:        st.Message,
		MessageID:      st.MessageID,
		PendingPlan:    pending,
		ForceWebSearch: st.ForceWebSearch,
		History:        flattenHistory(st.History),
	})

	next := st.Clone()
	if dec.NeedsPlan {
		next.Plan = dec.Plan
		next.PlanResumed = dec.Resumed
		d.logger.Info("plan decided",
			"session_id", st.SessionID, "plan_id", dec.Plan.ID,
			"steps", len(dec.Plan.Steps), "resumed", dec.Resumed)
	}
	return next, nil
}

// flattenHistory converts the state's window into the value slice the
// planner input carries.
func flattenHistory(history []*models.Message) []models.Message {
	if len(history) == 0 {
		return nil
	}
	out := make([]models.Message, 0, len(history))
	for _, m := range history {
		if m == nil {
			continue
		}
		out = append(out, *m)
	}
	return out
}
