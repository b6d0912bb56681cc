// Package llm talks to the generation model services.
package llm

import (
	"context"
	"time"
)

// Service sends one prompt to a generation model and returns its reply
type Service interface {
	Complete(ctx context.Context, prompt string) (*Completion, error)
	// Name identifies the provider and model, e.g. "openai:gpt-4o-mini"
	Name() string
}

// Completion is a raw model reply with its provenance
type Completion struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Config represents LLM service configuration
type Config struct {
	Provider    string        `json:"provider"` // openai, anthropic, ollama
	Model       string        `json:"model"`
	APIKey      string        `json:"-"`
	BaseURL     string        `json:"base_url,omitempty"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Timeout     time.Duration `json:"timeout"`
}

// Provider constants for different LLM providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// Default models and endpoints
const (
	DefaultOpenAIModel      = "gpt-4o-mini"
	DefaultAnthropicModel   = "claude-3-5-haiku-latest"
	DefaultOllamaModel      = "llama3.1"
	DefaultOpenAIBaseURL    = "https://api.openai.com/v1"
	DefaultAnthropicBaseURL = "https://api.anthropic.com/v1"
	DefaultOllamaBaseURL    = "http://localhost:11434"
	DefaultMaxTokens        = 1024
	DefaultTimeout          = 60 * time.Second
	anthropicVersion        = "2023-06-01"
)
