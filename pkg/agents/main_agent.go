package agents

import (
	"context"
	"log/slog"
	"strings"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/graph"
	"github.com/famulus-ai/famulus/pkg/llm"
	"github.com/famulus-ai/famulus/pkg/models"
)

// Fixed responses for the failure modes the user is allowed to see.
const (
	// apologyText is the reply when generation itself failed.
	apologyText = "Sorry, something went wrong while I was preparing your reply. Please try again."
	// declinedText is the neutral reply for a safety-blocked generation.
	declinedText = "I can't help with that request. Is there something else I can do for you?"
	// emptyMessageText answers a blank message without a model call.
	emptyMessageText = "I didn't receive any message. What can I help you with?"
)

// MainAgent is the only node that produces user-visible text. It answers
// from the conversation window, retrieved memories, and the executed plan.
// A plan parked on a wait_user step short-circuits: the question goes out
// verbatim, no model call.
type MainAgent struct {
	llm    llm.Client
	cfg    *config.Config
	logger *slog.Logger
}

// NewMainAgent creates the main-agent node.
func NewMainAgent(client llm.Client, cfg *config.Config) *MainAgent {
	return &MainAgent{
		llm:    client,
		cfg:    cfg,
		logger: slog.Default().With("component", "agents.main"),
	}
}

// Respond implements graph.NodeFunc. Generation failures never propagate:
// the user gets the fixed apology and the error goes to the log.
func (a *MainAgent) Respond(ctx context.Context, st *graph.State) (*graph.State, error) {
	next := st.Clone()

	if question := waitingQuestion(next.Plan); question != "" {
		next.AssistantDraft = question
		return next, nil
	}

	if strings.TrimSpace(st.Message) == "" {
		next.AssistantDraft = emptyMessageText
		return next, nil
	}

	providerCfg, err := a.cfg.GetLLMProvider(a.cfg.Defaults.LLMProvider)
	if err != nil {
		a.logger.Error("main agent provider unavailable", "error", err)
		next.AssistantDraft = apologyText
		return next, nil
	}

	resp, err := a.llm.Generate(ctx, &llm.Request{
		SessionID: st.SessionID,
		Purpose:   llm.PurposeMainAgent,
		Messages: []llm.Message{
			{Role: models.RoleSystem, Content: mainSystemPrompt},
			{Role: models.RoleUserMsg, Content: buildMainUserMessage(st)},
		},
		Config: providerCfg,
	})
	if err != nil {
		if ctx.Err() != nil {
			return next, ctx.Err()
		}
		a.logger.Error("main agent generation failed",
			"session_id", st.SessionID, "error", err)
		next.AssistantDraft = apologyText
		return next, nil
	}
	if resp.SafetyBlocked() {
		a.logger.Info("main agent generation safety-blocked", "session_id", st.SessionID)
		next.AssistantDraft = declinedText
		return next, nil
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		a.logger.Warn("main agent returned empty text", "session_id", st.SessionID)
		text = apologyText
	}
	next.AssistantDraft = text
	return next, nil
}

// waitingQuestion returns the question of a plan parked on its wait step,
// empty otherwise.
func waitingQuestion(plan *models.Plan) string {
	if plan == nil || plan.Status != models.PlanWaitingUser {
		return ""
	}
	if plan.CurrentStep < 0 || plan.CurrentStep >= len(plan.Steps) {
		return ""
	}
	step := plan.Steps[plan.CurrentStep]
	if step.Type != models.StepWaitUser {
		return ""
	}
	return step.Question
}
