// Package anthropic adapts the Anthropic Claude API to llm.Client, one of
// the swappable production bindings behind pkg/agentadapter.LLMAgent.
package anthropic

import (
	"context"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"codeforge/pkg/agent/llm"
)

// Client wraps the Anthropic SDK's Messages API as an llm.Client.
type Client struct {
	sdk   anthropicsdk.Client
	model anthropicsdk.Model
}

// New builds a Client authenticated with apiKey, defaulting to Claude
// Sonnet; model lets a caller pin a specific Claude model string.
func New(apiKey, model string) *Client {
	if model == "" {
		model = string(anthropicsdk.ModelClaudeSonnet4_5)
	}
	return &Client{
		sdk:   anthropicsdk.NewClient(option.WithAPIKey(apiKey)),
		model: anthropicsdk.Model(model),
	}
}

// Complete sends req as a single-turn (or pre-alternated multi-turn)
// Messages.New call and concatenates the text blocks of the response.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages := make([]anthropicsdk.MessageParam, 0, len(req.Messages))
	var system string
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem {
			system = msg.Content
			continue
		}
		role := anthropicsdk.MessageParamRoleUser
		if msg.Role == llm.RoleAssistant {
			role = anthropicsdk.MessageParamRoleAssistant
		}
		messages = append(messages, anthropicsdk.MessageParam{
			Role:    role,
			Content: []anthropicsdk.ContentBlockParamUnion{anthropicsdk.NewTextBlock(msg.Content)},
		})
	}

	params := anthropicsdk.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(req.MaxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, fmt.Errorf("anthropic: complete: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if tb := block.AsAny(); tb != nil {
			if t, ok := tb.(anthropicsdk.TextBlock); ok {
				text += t.Text
			}
		}
	}

	return llm.CompletionResponse{
		Content:      text,
		FinishReason: string(resp.StopReason),
		Usage: llm.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

// GetModelName reports the configured Claude model.
func (c *Client) GetModelName() string {
	return string(c.model)
}
