// Package google adapts the Gemini API (google.golang.org/genai) to
// llm.Client.
package google

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"codeforge/pkg/agent/llm"
)

// Client wraps the Gemini API as an llm.Client. The underlying genai.Client
// is created lazily on first Complete, since construction needs a context.
type Client struct {
	sdk    *genai.Client
	apiKey string
	model  string
}

// New builds a Client authenticated with apiKey for the given model (e.g.
// "gemini-2.0-flash").
func New(apiKey, model string) *Client {
	return &Client{apiKey: apiKey, model: model}
}

// Complete sends req as a single GenerateContent call.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	if c.sdk == nil {
		sdk, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  c.apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return llm.CompletionResponse{}, fmt.Errorf("google: create client: %w", err)
		}
		c.sdk = sdk
	}

	var contents []*genai.Content
	var system string
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem {
			system = msg.Content
			continue
		}
		role := "user"
		if msg.Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	temperature := req.Temperature
	config := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	result, err := c.sdk.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, fmt.Errorf("google: complete: %w", err)
	}
	if result == nil {
		return llm.CompletionResponse{}, fmt.Errorf("google: empty response")
	}

	var usage llm.TokenUsage
	if result.UsageMetadata != nil {
		usage = llm.TokenUsage{
			PromptTokens:     int(result.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}

	return llm.CompletionResponse{
		Content:      result.Text(),
		FinishReason: "end_turn",
		Usage:        usage,
	}, nil
}

// GetModelName reports the configured model.
func (c *Client) GetModelName() string {
	return c.model
}
