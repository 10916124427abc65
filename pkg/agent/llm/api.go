// Package llm defines the interface and message types a production IAgent
// binding uses to talk to a real model provider. The core never imports
// this package; only pkg/agentadapter, which implements agent.IAgent on
// top of a Client, does.
package llm

import (
	"context"
	"fmt"
)

// Role identifies the speaker of one message in a completion request.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

const (
	// TemperatureDefault suits planning and review prompts: some latitude
	// for judgment while staying on task.
	TemperatureDefault = 0.3
	// TemperatureDeterministic suits code generation: low but nonzero, to
	// avoid getting stuck in a degenerate repeated completion.
	TemperatureDeterministic = 0.2
)

// Message is one turn in a completion request.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest is a single-turn or pre-assembled multi-turn prompt.
type CompletionRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// TokenUsage reports the provider's token accounting for one call, fed into
// the tenant's max_tokens_per_month enforcement and the metrics package.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// CompletionResponse is a provider's answer to a CompletionRequest.
type CompletionResponse struct {
	Content      string
	FinishReason string
	Usage        TokenUsage
}

// Client is the interface every provider adapter implements.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)
	GetModelName() string
}

// NewCompletionRequest builds a request with the package's sensible
// defaults (4096 max tokens, TemperatureDefault).
func NewCompletionRequest(messages []Message) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		MaxTokens:   4096,
		Temperature: TemperatureDefault,
	}
}

// SystemMessage and UserMessage are small constructors matching the
// teacher's NewSystemMessage/NewUserMessage idiom.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }
func UserMessage(content string) Message   { return Message{Role: RoleUser, Content: content} }

// Config is the provider-agnostic configuration an adapter is constructed
// from by the bootstrap layer (pkg/config), never by the core.
type Config struct {
	Provider    string
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
}

// Validate checks that Config has enough to construct a provider client.
func (c *Config) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("llm config: provider must be set")
	}
	if c.Provider != "ollama" && c.APIKey == "" {
		return fmt.Errorf("llm config: API key cannot be empty for provider %s", c.Provider)
	}
	if c.ModelName == "" {
		return fmt.Errorf("llm config: model name cannot be empty")
	}
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("llm config: temperature must be between 0.0 and 2.0")
	}
	return nil
}
