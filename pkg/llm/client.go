// Package llm defines the provider-agnostic LLM client interface the runtime
// consumes. Concrete vendor transports live outside the core; tests use the
// scripted client in this package.
package llm

import (
	"context"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/models"
)

// Purpose labels what a generation call is for. It routes scripted responses
// in tests and shows up in logs; providers may also key model overrides on it.
const (
	PurposePlanner   = "planner"
	PurposeMainAgent = "main_agent"
	PurposeKnowledge = "knowledge"
	PurposeIntegrity = "integrity"
	PurposeFormatter = "formatter"
	PurposeUtility   = "utility"
)

// Client is the interface for calling an LLM provider.
type Client interface {
	// Generate sends a conversation to the LLM and returns the completed
	// response. Provider failures are returned as *Error with a kind the
	// caller can branch on.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Close releases the underlying transport.
	Close() error
}

// Request is a single generation call.
type Request struct {
	SessionID string
	Purpose   string
	Messages  []Message
	Config    *config.LLMProviderConfig
	Tools     []ToolDefinition // nil = no tools
	Options   Options
}

// Message is one turn of the conversation sent to the provider.
type Message struct {
	Role       models.MessageRole
	Content    string
	ToolCalls  []ToolCall // for assistant messages
	ToolCallID string     // for tool result messages
	ToolName   string     // for tool result messages
}

// ToolDefinition describes a tool available to the LLM.
type ToolDefinition struct {
	Name             string
	Description      string
	ParametersSchema string // JSON Schema
}

// ToolCall represents an LLM's request to call a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON
}

// Options tune a single call. Nil pointers mean provider defaults.
type Options struct {
	Temperature *float32
	MaxTokens   *int32
	// JSONOnly asks the provider for a bare JSON object response. The
	// planner sets it; providers that cannot honor it may still return
	// fenced JSON, which the caller repairs.
	JSONOnly bool
}

// FinishReason reports why generation stopped.
type FinishReason string

const (
	FinishStop        FinishReason = "stop"
	FinishToolCalls   FinishReason = "tool_calls"
	FinishLength      FinishReason = "length"
	FinishSafetyBlock FinishReason = "safety_block"
)

// Response is the completed result of a Generate call.
//
// A safety-blocked generation is reported as a Response with
// FinishSafetyBlock, not as an error: the provider answered, the content
// did not. Callers translate it with SafetyBlocked().
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        Usage
}

// SafetyBlocked reports whether the provider refused to produce output.
func (r *Response) SafetyBlocked() bool {
	return r.FinishReason == FinishSafetyBlock
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}
