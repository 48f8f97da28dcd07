package models

import "time"

// SideEffect classifies what a tool touches.
type SideEffect string

const (
	SideEffectPure     SideEffect = "pure"
	SideEffectRead     SideEffect = "read"
	SideEffectWrite    SideEffect = "write"
	SideEffectExternal SideEffect = "external"
)

// ToolDescriptor describes a callable tool to the planner and the invoker.
// Schema is a JSON Schema document for the argument object.
type ToolDescriptor struct {
	Name       string         `json:"name"`
	What       string         `json:"what"`
	WhenToUse  string         `json:"when_to_use"`
	Schema     map[string]any `json:"schema"`
	SideEffect SideEffect     `json:"side_effect"`
	// IndexWorthy marks tools whose successful output is worth indexing
	// into long-term memory.
	IndexWorthy bool `json:"index_worthy,omitempty"`
	// Server is set for tools served by an external tool server.
	Server string `json:"server,omitempty"`
}

// ToolStatus is the outcome class of one tool invocation.
type ToolStatus string

const (
	ToolOK     ToolStatus = "ok"
	ToolError  ToolStatus = "error"
	ToolDenied ToolStatus = "denied"
)

// IndexingStats reports what auto-indexing did with a tool result.
type IndexingStats struct {
	Indexed    bool   `json:"indexed"`
	MemoryID   string `json:"memory_id,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	FailReason string `json:"fail_reason,omitempty"`
}

// ToolResult records one invocation: what ran, how it ended, what it
// produced. Failures are encoded here, not returned as Go errors.
type ToolResult struct {
	Tool       string         `json:"tool"`
	ArgsDigest string         `json:"args_digest,omitempty"`
	Status     ToolStatus     `json:"status"`
	Output     string         `json:"output,omitempty"`
	ErrorKind  ErrorKind      `json:"error_kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attempts   int            `json:"attempts"`
	Duration   time.Duration  `json:"duration"`
	Indexing   *IndexingStats `json:"indexing,omitempty"`
}

// OK reports whether the invocation succeeded.
func (r *ToolResult) OK() bool { return r != nil && r.Status == ToolOK }
