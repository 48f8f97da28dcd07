package models

import (
	"fmt"
	"time"
)

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

const (
	PlanRunning     PlanStatus = "running"
	PlanWaitingUser PlanStatus = "waiting_user"
	PlanCompleted   PlanStatus = "completed"
	PlanFailed      PlanStatus = "failed"
)

// StepType is the tagged variant of a plan step.
type StepType string

const (
	StepTool     StepType = "tool"
	StepRespond  StepType = "respond"
	StepWaitUser StepType = "wait_user"
)

// MaxPlanSteps caps how many steps a plan may carry. Longer plans produced
// by the model are truncated and marked partial.
const MaxPlanSteps = 5

// Step is one unit of a plan. Exactly the fields of its variant are set:
// Tool steps carry ToolName/Args, Respond steps carry Instructions, WaitUser
// steps carry Question.
type Step struct {
	Type         StepType       `json:"type"`
	ToolName     string         `json:"tool_name,omitempty"`
	Args         map[string]any `json:"args,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
	Question     string         `json:"question,omitempty"`
	// Result holds the tool invocation outcome once the step has executed.
	Result *ToolResult `json:"result,omitempty"`
	Done   bool        `json:"done,omitempty"`
}

// Validate checks the variant shape of a single step.
func (s *Step) Validate() error {
	switch s.Type {
	case StepTool:
		if s.ToolName == "" {
			return fmt.Errorf("tool step missing tool_name")
		}
	case StepRespond:
		// instructions may be empty: "answer from context"
	case StepWaitUser:
		if s.Question == "" {
			return fmt.Errorf("wait_user step missing question")
		}
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}
	return nil
}

// Plan is an ordered sequence of at most MaxPlanSteps steps toward a goal.
// A plan waiting on the user serializes into session metadata and resumes
// when an acknowledgement arrives.
type Plan struct {
	ID   string `json:"id"`
	Goal string `json:"goal"`
	// OriginMessageID is the persisted user message that produced the plan;
	// zero when the triggering turn was never stored.
	OriginMessageID int64      `json:"origin_message_id,omitempty"`
	Steps           []Step     `json:"steps"`
	Status          PlanStatus `json:"status"`
	CurrentStep     int        `json:"current_step"`
	// Partial marks a plan whose model output exceeded MaxPlanSteps and was
	// truncated.
	Partial   bool      `json:"partial,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks plan shape: step count bounds and per-step variants.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	if len(p.Steps) > MaxPlanSteps {
		return fmt.Errorf("plan has %d steps, max %d", len(p.Steps), MaxPlanSteps)
	}
	for i := range p.Steps {
		if err := p.Steps[i].Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}

// RemainingSteps returns the steps at and after the current position.
func (p *Plan) RemainingSteps() []Step {
	if p.CurrentStep >= len(p.Steps) {
		return nil
	}
	return p.Steps[p.CurrentStep:]
}
