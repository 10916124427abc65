// Package ollama adapts a local Ollama server to llm.Client, for tenants
// that route plan/code/review calls to a self-hosted model.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	ollamaapi "github.com/ollama/ollama/api"

	"codeforge/pkg/agent/llm"
)

// Client wraps the Ollama API client as an llm.Client.
type Client struct {
	sdk   *ollamaapi.Client
	model string
}

// New builds a Client against an Ollama server at hostURL (e.g.
// "http://localhost:11434") for the given model.
func New(hostURL, model string) (*Client, error) {
	parsed, err := url.Parse(hostURL)
	if err != nil {
		return nil, fmt.Errorf("ollama: parse host url: %w", err)
	}
	return &Client{
		sdk:   ollamaapi.NewClient(parsed, http.DefaultClient),
		model: model,
	}, nil
}

// Complete sends req as a non-streaming chat request.
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	messages := make([]ollamaapi.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, ollamaapi.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	stream := false
	chatReq := &ollamaapi.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	var resp ollamaapi.ChatResponse
	err := c.sdk.Chat(ctx, chatReq, func(r ollamaapi.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, fmt.Errorf("ollama: complete: %w", err)
	}

	return llm.CompletionResponse{
		Content:      resp.Message.Content,
		FinishReason: resp.DoneReason,
		Usage: llm.TokenUsage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
		},
	}, nil
}

// GetModelName reports the configured model.
func (c *Client) GetModelName() string {
	return c.model
}
