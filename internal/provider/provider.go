// Package provider abstracts LLM vendors behind a single capability
// interface. Adapters translate vendor-neutral messages and sampling
// parameters into each vendor's wire format and parse responses back.
package provider

import (
	"context"
)

// Role of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// AiMessage is one vendor-neutral conversation entry.
type AiMessage struct {
	Role       Role
	Content    string
	ToolCallID string     // set on tool result messages
	ToolCalls  []ToolCall // set on assistant messages that requested tools
}

// ToolCall is one tool invocation requested by the model. Arguments is
// the raw JSON argument object.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDefinition describes a tool offered to the model. Parameters is a
// JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// SamplingParams tune generation. Nil pointers mean vendor defaults.
type SamplingParams struct {
	Temperature   *float64
	TopP          *float64
	TopK          *int
	StopSequences []string
	MaxTokens     int
}

// GenerateParams is the full input to one generation call.
type GenerateParams struct {
	Model    string // empty means the provider's default
	System   string
	Messages []AiMessage
	Sampling SamplingParams
	Tools    []ToolDefinition

	// Schema fields apply to GenerateWithSchema only.
	SchemaName string
	Schema     map[string]any
	Strict     bool
}

// Usage is the token accounting reported by the vendor.
type Usage struct {
	InputTokens         int
	OutputTokens        int
	CacheReadTokens     int
	CacheCreationTokens int
}

// AiResponse is the parsed result of one generation call.
type AiResponse struct {
	Content      string
	ToolCalls    []ToolCall
	Usage        Usage
	Model        string
	FinishReason string
}

// Capabilities are the feature flags a provider advertises.
type Capabilities struct {
	JSONMode         bool
	StructuredOutput bool
	Streaming        bool
	Tools            bool
	Sampling         bool
}

// StreamHandler receives text deltas in order. Returning an error stops
// the stream.
type StreamHandler func(delta string) error

// Provider is the vendor-neutral generation surface. Streaming variants
// return the final aggregated response after the stream ends; tool call
// deltas are aggregated internally and recovered post-hoc.
type Provider interface {
	Name() string
	DefaultModel() string
	SupportsModel(model string) bool
	Capabilities() Capabilities
	Pricing(model string) Pricing

	Generate(ctx context.Context, p GenerateParams) (*AiResponse, error)
	GenerateWithTools(ctx context.Context, p GenerateParams) (*AiResponse, error)
	GenerateStructured(ctx context.Context, p GenerateParams) (*AiResponse, error)
	GenerateWithSchema(ctx context.Context, p GenerateParams) (*AiResponse, error)
	GenerateStream(ctx context.Context, p GenerateParams, h StreamHandler) (*AiResponse, error)
	GenerateWithToolsStream(ctx context.Context, p GenerateParams, h StreamHandler) (*AiResponse, error)
}
