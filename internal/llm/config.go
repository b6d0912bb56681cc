package llm

import (
	"fmt"
	"os"

	"github.com/kyleking/sqlrag/internal/config"
	"github.com/kyleking/sqlrag/internal/errors"
)

// FromAppConfig converts the llm section of the application config
func FromAppConfig(cfg config.LLMConfig) Config {
	return Config{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     config.Duration(cfg.Timeout),
	}
}

// ConfigureFromEnvironment fills credentials and endpoints that were not set
// explicitly from the provider's conventional environment variables.
func ConfigureFromEnvironment(cfg Config) Config {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}

		if cfg.BaseURL == "" {
			cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
		}
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	case ProviderOllama:
		if cfg.BaseURL == "" {
			cfg.BaseURL = os.Getenv("OLLAMA_BASE_URL")
		}

		if cfg.Model == "" {
			cfg.Model = os.Getenv("OLLAMA_MODEL")
		}
	}

	return cfg
}

// withDefaults fills the model, base URL and limits for the chosen provider
func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	switch c.Provider {
	case ProviderOpenAI:
		if c.Model == "" {
			c.Model = DefaultOpenAIModel
		}

		if c.BaseURL == "" {
			c.BaseURL = DefaultOpenAIBaseURL
		}
	case ProviderAnthropic:
		if c.Model == "" {
			c.Model = DefaultAnthropicModel
		}

		if c.BaseURL == "" {
			c.BaseURL = DefaultAnthropicBaseURL
		}
	case ProviderOllama:
		if c.Model == "" {
			c.Model = DefaultOllamaModel
		}

		if c.BaseURL == "" {
			c.BaseURL = DefaultOllamaBaseURL
		}
	}

	return c
}

// Validate checks provider-specific requirements
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOpenAI, ProviderAnthropic:
		if c.APIKey == "" {
			return errors.Newf(errors.ErrTypeConfig, "API key is required for the %s provider", c.Provider).
				WithSuggestion("Set SQLRAG_LLM_API_KEY, OPENAI_API_KEY or ANTHROPIC_API_KEY")
		}
	case ProviderOllama:
	case "":
		return errors.NewConfigError("LLM provider is required", "llm.provider")
	default:
		return errors.NewConfigError(fmt.Sprintf("unsupported LLM provider: %s", c.Provider), "llm.provider")
	}

	return nil
}

// NewService builds the client for cfg after applying environment fallbacks
// and provider defaults.
func NewService(cfg Config) (Service, error) {
	cfg = ConfigureFromEnvironment(cfg).withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return NewClient(cfg), nil
}
