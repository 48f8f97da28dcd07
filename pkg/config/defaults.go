package config

import "time"

// Defaults holds system-wide default selections applied when a request or
// component does not specify its own.
type Defaults struct {
	// LLMProvider is the provider name used by the main agent.
	LLMProvider string `yaml:"llm_provider"`

	// PlannerProvider is the provider used for planning and classification.
	// Empty means same as LLMProvider.
	PlannerProvider string `yaml:"planner_provider,omitempty"`

	// UtilityProvider is the provider used for extraction and comparison
	// calls (knowledge agent, integrity checks). Empty means LLMProvider.
	UtilityProvider string `yaml:"utility_provider,omitempty"`

	// ToolTimeout is the per-invocation tool deadline.
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// ToolTimeoutMax clamps per-tool timeout overrides.
	ToolTimeoutMax time.Duration `yaml:"tool_timeout_max"`

	// ToolMaxAttempts is the invocation attempt budget for retriable failures.
	ToolMaxAttempts int `yaml:"tool_max_attempts"`
}

// DefaultToolTimeout is the built-in per-invocation tool deadline.
const DefaultToolTimeout = 60 * time.Second

// DefaultToolTimeoutMax clamps configured tool timeouts.
const DefaultToolTimeoutMax = 10 * time.Minute

// applyDefaultValues fills unset Defaults fields from built-ins.
func applyDefaultValues(d *Defaults, builtin *BuiltinConfig) {
	if d.LLMProvider == "" {
		d.LLMProvider = builtin.DefaultLLMProvider
	}
	if d.ToolTimeout <= 0 {
		d.ToolTimeout = DefaultToolTimeout
	}
	if d.ToolTimeoutMax <= 0 {
		d.ToolTimeoutMax = DefaultToolTimeoutMax
	}
	if d.ToolTimeout > d.ToolTimeoutMax {
		d.ToolTimeout = d.ToolTimeoutMax
	}
	if d.ToolMaxAttempts <= 0 {
		d.ToolMaxAttempts = 3
	}
}
