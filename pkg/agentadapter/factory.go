package agentadapter

import (
	"fmt"

	"codeforge/pkg/agent/llm"
	"codeforge/pkg/agent/llm/anthropic"
	"codeforge/pkg/agent/llm/google"
	"codeforge/pkg/agent/llm/ollama"
	"codeforge/pkg/agent/llm/openai"
	"codeforge/pkg/agent/llm/retry"
	"codeforge/pkg/config"
	"codeforge/pkg/logx"
)

// NewClient builds the llm.Client for the given provider and credential,
// wrapped with the standard retry middleware. baseURL is only consulted
// for providers that need one (ollama); it may be empty otherwise.
func NewClient(provider config.Provider, apiKey, model, baseURL string) (llm.Client, error) {
	var base llm.Client
	switch provider {
	case config.ProviderAnthropic:
		base = anthropic.New(apiKey, model)
	case config.ProviderOpenAI:
		base = openai.New(apiKey, model)
	case config.ProviderGoogle:
		base = google.New(apiKey, model)
	case config.ProviderOllama:
		c, err := ollama.New(baseURL, model)
		if err != nil {
			return nil, fmt.Errorf("agentadapter: build ollama client: %w", err)
		}
		base = c
	default:
		return nil, fmt.Errorf("agentadapter: unknown provider %q", provider)
	}

	log := logx.NewLogger("llm." + string(provider))
	return llm.Chain(base, retry.Middleware(retry.DefaultConfig, log)), nil
}
