// Package planner classifies incoming user messages and produces or resumes
// execution plans. It is the only component that decides whether a message
// needs tools; downstream nodes execute whatever plan it emits.
//
// The planner never fails a request: provider errors, safety blocks, and
// unparseable model output all degrade to a NeedsPlan=false decision so the
// main agent can still answer from context.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/llm"
	"github.com/famulus-ai/famulus/pkg/models"
	"github.com/famulus-ai/famulus/pkg/tools"
)

// Input carries one user message plus the session context classification
// needs.
type Input struct {
	TenantID  string
	UserID    string
	SessionID string
	Message   string

	// MessageID is the persisted row of Message; a plan built from this
	// turn records it as its origin. Zero when the turn was not stored.
	MessageID int64

	// PendingPlan is the session's persisted plan awaiting user input, nil
	// when there is none. Only a plan in waiting_user can be resumed.
	PendingPlan *models.Plan

	// ForceWebSearch demands a web_search step regardless of the model's
	// judgement. Overridden to false for acknowledgements and for short
	// messages without web-intent keywords.
	ForceWebSearch bool

	// History is the recent conversation window included in the
	// classification prompt. Optional.
	History []models.Message
}

// Decision is the outcome of classifying one message.
type Decision struct {
	// NeedsPlan is false for plain chat the main agent answers directly.
	NeedsPlan bool

	// Plan is set when NeedsPlan is true: a fresh plan, or the pending plan
	// advanced past its wait step when Resumed is set.
	Plan *models.Plan

	// Resumed marks Plan as the session's pending plan rather than a new one.
	Resumed bool
}

// Planner turns user messages into plans via a dedicated LLM purpose.
// Stateless and safe for concurrent use.
type Planner struct {
	llm      llm.Client
	cfg      *config.Config
	registry *tools.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Planner. The registry supplies the tool listing injected
// into the classification prompt.
func New(client llm.Client, cfg *config.Config, registry *tools.Registry) *Planner {
	return &Planner{
		llm:      client,
		cfg:      cfg,
		registry: registry,
		logger:   slog.Default().With("component", "planner"),
		now:      time.Now,
	}
}

// Classify applies the classification rules in order: a blank message never
// needs a plan; an acknowledgement with a resumable pending plan resumes it;
// everything else goes to the planner model, whose JSON is repaired and
// validated before a plan is built.
func (p *Planner) Classify(ctx context.Context, in Input) Decision {
	trimmed := strings.TrimSpace(in.Message)
	if trimmed == "" {
		return Decision{}
	}

	if IsAcknowledgement(trimmed) {
		if plan, ok := resumePending(in.PendingPlan); ok {
			p.logger.Info("acknowledgement resumes pending plan",
				"session_id", in.SessionID,
				"plan_id", plan.ID,
				"current_step", plan.CurrentStep)
			return Decision{NeedsPlan: true, Plan: plan, Resumed: true}
		}
	}

	force := effectiveForce(trimmed, in.ForceWebSearch)
	if in.ForceWebSearch && !force {
		p.logger.Debug("force_web_search overridden to false",
			"session_id", in.SessionID, "message_len", utf8.RuneCountInString(trimmed))
	}

	decision, err := p.plan(ctx, in, trimmed, force)
	if err != nil {
		p.logger.Warn("planning failed, answering without a plan",
			"session_id", in.SessionID, "error", err)
		return Decision{}
	}
	return decision
}

// effectiveForce applies the force_web_search override rules.
func effectiveForce(trimmed string, requested bool) bool {
	if !requested {
		return false
	}
	if IsAcknowledgement(trimmed) {
		return false
	}
	if utf8.RuneCountInString(trimmed) < ackMaxRunes && !hasWebIntent(trimmed) {
		return false
	}
	return true
}

// resumePending advances a waiting_user plan past its wait step. Returns
// false when the pending plan is missing, not waiting, or its cursor does not
// sit on a wait_user step (stale metadata).
func resumePending(pending *models.Plan) (*models.Plan, bool) {
	if pending == nil || pending.Status != models.PlanWaitingUser {
		return nil, false
	}
	idx := pending.CurrentStep
	if idx < 0 || idx >= len(pending.Steps) || pending.Steps[idx].Type != models.StepWaitUser {
		return nil, false
	}

	plan := *pending
	plan.Steps = make([]models.Step, len(pending.Steps))
	copy(plan.Steps, pending.Steps)

	plan.Steps[idx].Done = true
	plan.CurrentStep = idx + 1
	plan.Status = models.PlanRunning
	return &plan, true
}

// plan asks the model for a plan envelope and builds a validated Plan from
// it. Any provider or parse failure is returned for the caller to degrade.
func (p *Planner) plan(ctx context.Context, in Input, trimmed string, force bool) (Decision, error) {
	providerCfg, err := p.cfg.GetLLMProvider(p.cfg.PlannerProvider())
	if err != nil {
		return Decision{}, fmt.Errorf("resolving planner provider: %w", err)
	}

	system := plannerSystemPrompt
	if force {
		system += "\n\n" + plannerForcedSearchNote
	}

	req := &llm.Request{
		SessionID: in.SessionID,
		Purpose:   llm.PurposePlanner,
		Messages: []llm.Message{
			{Role: models.RoleSystem, Content: system},
			{Role: models.RoleUserMsg, Content: buildUserMessage(p.registry.Descriptors(), in.History, trimmed)},
		},
		Config:  providerCfg,
		Options: llm.Options{JSONOnly: true},
	}

	resp, err := p.llm.Generate(ctx, req)
	if err != nil {
		return Decision{}, fmt.Errorf("planner generation: %w", err)
	}
	if resp.SafetyBlocked() {
		return Decision{}, fmt.Errorf("planner generation safety-blocked")
	}

	env, err := parseEnvelope(resp.Text)
	if err != nil {
		return Decision{}, fmt.Errorf("parsing planner output: %w", err)
	}

	if !env.NeedsPlan && !force {
		return Decision{}, nil
	}

	plan, err := p.buildPlan(env, trimmed, force)
	if err != nil {
		return Decision{}, err
	}
	plan.OriginMessageID = in.MessageID

	p.logger.Info("plan created",
		"session_id", in.SessionID,
		"plan_id", plan.ID,
		"steps", len(plan.Steps),
		"partial", plan.Partial,
		"forced_web_search", force)
	return Decision{NeedsPlan: true, Plan: plan}, nil
}

// planEnvelope is the JSON shape the planner model emits.
type planEnvelope struct {
	NeedsPlan bool           `json:"needs_plan"`
	Goal      string         `json:"goal"`
	Steps     []stepEnvelope `json:"steps"`
}

// stepEnvelope accepts both "tool" and "tool_name" keys for the tool name;
// models are not consistent about which they produce.
type stepEnvelope struct {
	Type         string         `json:"type"`
	Tool         string         `json:"tool"`
	ToolName     string         `json:"tool_name"`
	Args         map[string]any `json:"args"`
	Instructions string         `json:"instructions"`
	Question     string         `json:"question"`
}

func (s *stepEnvelope) toStep() models.Step {
	name := s.Tool
	if name == "" {
		name = s.ToolName
	}
	return models.Step{
		Type:         models.StepType(strings.ToLower(strings.TrimSpace(s.Type))),
		ToolName:     name,
		Args:         s.Args,
		Instructions: s.Instructions,
		Question:     s.Question,
	}
}

// parseEnvelope extracts the plan envelope from model output.
func parseEnvelope(text string) (*planEnvelope, error) {
	var env planEnvelope
	if err := llm.DecodeJSON(text, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// buildPlan turns an envelope into a validated Plan, enforcing the step cap
// and the forced web_search requirement.
func (p *Planner) buildPlan(env *planEnvelope, trimmed string, force bool) (*models.Plan, error) {
	steps := make([]models.Step, 0, len(env.Steps))
	for i := range env.Steps {
		steps = append(steps, env.Steps[i].toStep())
	}

	if force && !hasWebSearchStep(steps) {
		forced := []models.Step{{
			Type:     models.StepTool,
			ToolName: "web_search",
			Args:     map[string]any{"query": searchQuery(env.Goal, trimmed)},
		}}
		if len(steps) == 0 {
			forced = append(forced, models.Step{
				Type:         models.StepRespond,
				Instructions: "Answer the user using the search results.",
			})
		}
		steps = append(forced, steps...)
	}

	partial := false
	if len(steps) > models.MaxPlanSteps {
		steps = steps[:models.MaxPlanSteps]
		partial = true
	}

	goal := env.Goal
	if goal == "" {
		goal = trimmed
	}

	plan := &models.Plan{
		ID:        uuid.NewString(),
		Goal:      goal,
		Steps:     steps,
		Status:    models.PlanRunning,
		Partial:   partial,
		CreatedAt: p.now().UTC(),
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("model produced invalid plan: %w", err)
	}
	return plan, nil
}

func hasWebSearchStep(steps []models.Step) bool {
	for i := range steps {
		if steps[i].Type == models.StepTool && steps[i].ToolName == "web_search" {
			return true
		}
	}
	return false
}

// searchQuery picks the forced web_search query: the model's goal when it
// produced one, otherwise the raw message.
func searchQuery(goal, trimmed string) string {
	if goal != "" {
		return goal
	}
	return trimmed
}
