// Package config loads the bootstrap configuration the orchestrator needs
// before it can open its own storage: database path, queue broker URL, the
// per-provider LLM defaults, and where the tenant credential vault lives.
// Everything a running tenant can override (its own provider, model,
// spending limits) lives in the credential vault or in storage, not config — config
// is read once at process startup and never mutated afterward.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Provider identifies an LLM backend a tenant's agent can be bound to.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
	ProviderGoogle    Provider = "google"
)

// ProviderDefaults is the fallback model and endpoint for a provider, used
// when a tenant's credential record in the vault doesn't specify a model.
type ProviderDefaults struct {
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// Config is the full bootstrap configuration, loaded once at startup.
type Config struct {
	// DBPath is the sqlite database file the storage package opens.
	DBPath string `yaml:"db_path"`

	// RedisURL is the broker the queue package connects to.
	RedisURL string `yaml:"redis_url"`

	// VaultPath is the encrypted per-tenant LLM credential store.
	VaultPath string `yaml:"vault_path"`

	// MetricsAddr is the listen address for the Prometheus /metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// Providers maps each supported provider to its defaults.
	Providers map[Provider]ProviderDefaults `yaml:"providers"`
}

// Default returns the configuration used when no config file is present:
// a local sqlite file, a local Redis instance, and the stock model name for
// each supported provider.
func Default() Config {
	return Config{
		DBPath:      "codeforge.db",
		RedisURL:    "redis://localhost:6379/0",
		VaultPath:   ".codeforge/vault.bin",
		MetricsAddr: ":9090",
		Providers: map[Provider]ProviderDefaults{
			ProviderAnthropic: {Model: "claude-sonnet-4-5"},
			ProviderOpenAI:    {Model: "gpt-4o-mini"},
			ProviderOllama:    {Model: "llama3.1", BaseURL: "http://localhost:11434"},
			ProviderGoogle:    {Model: "gemini-2.0-flash"},
		},
	}
}

// Load reads path as YAML and overlays it on Default(), so a config file
// only needs to specify what it wants to change. A missing file is not an
// error: Load returns Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports whether cfg has everything a process needs to start.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("config: db_path is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("config: redis_url is required")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider must be configured")
	}
	return nil
}
