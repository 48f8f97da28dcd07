package config

// Shared types used across configuration structs

// TransportConfig defines tool server transport configuration
type TransportConfig struct {
	Type TransportType `yaml:"type"`

	// For stdio transport
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"` // Environment overrides for stdio subprocess

	// For http/sse transport
	URL         string `yaml:"url,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty"` // In seconds
}

// MaskingConfig enables secret masking on tool output before it is indexed
// into long-term memory.
type MaskingConfig struct {
	Enabled       bool     `yaml:"enabled"`
	PatternGroups []string `yaml:"pattern_groups,omitempty"` // References to builtin groups
	Patterns      []string `yaml:"patterns,omitempty"`       // References to individual patterns
}

// MaskingPattern defines a single regex-based masking rule
type MaskingPattern struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
	Description string `yaml:"description,omitempty"`
}
