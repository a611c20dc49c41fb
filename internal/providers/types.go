package providers

import "context"

// Provider is the common interface both chat backends implement.
// The orchestrator speaks to this capability set only; the wire-level
// difference (free-text tool syntax vs native tool_calls) stays inside
// the adapters.
type Provider interface {
	// Chat sends a conversation and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	// DefaultModel returns the model used when the request does not name one.
	DefaultModel() string
	// Name returns the adapter name for logging.
	Name() string
}

// ChatRequest is a provider-agnostic chat request.
type ChatRequest struct {
	System   string
	Messages []Message
	Tools    []ToolDefinition
	Model    string
	Options  map[string]interface{}
}

// Option keys for ChatRequest.Options.
const (
	OptMaxTokens      = "max_tokens"
	OptTemperature    = "temperature"
	OptEnableThinking = "enable_thinking"
)

// ChatResponse is a provider-agnostic chat response.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string // "stop", "tool_calls", "length"
	Usage        *Usage
}

// Message is a single conversation message.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for role="tool"
}

// ToolCall is a parsed tool invocation proposed by a backend.
// ID is empty for the local free-text convention.
type ToolCall struct {
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolDefinition describes a tool in the wire manifest.
type ToolDefinition struct {
	Type     string       `json:"type"` // always "function"
	Function FunctionSpec `json:"function"`
}

// FunctionSpec is the function part of a tool definition.
type FunctionSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage reports token consumption when the backend provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
