// Package openai adapts the OpenAI Chat Completions API to llm.Client.
package openai

import (
	"context"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"codeforge/pkg/agent/llm"
)

// Client wraps the official OpenAI SDK as an llm.Client.
type Client struct {
	sdk   openaisdk.Client
	model string
}

// New builds a Client authenticated with apiKey for the given model
// (e.g. "gpt-4o"). An empty model defaults to "gpt-4o-mini".
func New(apiKey, model string) *Client {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		sdk:   openaisdk.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}
}

// Complete sends req as a chat completion and returns the first choice.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			messages = append(messages, openaisdk.SystemMessage(msg.Content))
		case llm.RoleAssistant:
			messages = append(messages, openaisdk.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openaisdk.UserMessage(msg.Content))
		}
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(req.MaxTokens))
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, fmt.Errorf("openai: complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llm.CompletionResponse{}, fmt.Errorf("openai: empty response")
	}

	choice := resp.Choices[0]
	return llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: llm.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// GetModelName reports the configured model.
func (c *Client) GetModelName() string {
	return c.model
}
