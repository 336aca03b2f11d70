// Package llm defines the provider-agnostic interface for LLM completions.
package llm

import "context"

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete sends an assembled prompt and returns the completion.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

// Request is one assembled prompt.
type Request struct {
	SystemPrompt string
	Messages     []Message
	Hyperparams  Hyperparams
}

// Message is a single prompt segment.
type Message struct {
	Role    Role
	Content string
}

// Role identifies the prompt segment origin.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Hyperparams tune one completion call. Zero values mean provider defaults.
type Hyperparams struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Response is what the provider returns.
type Response struct {
	Content    string
	Usage      Usage
	StopReason string // "end_turn", "max_tokens"
}

// Usage tracks token consumption for cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
