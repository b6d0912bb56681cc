package embedding

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/kyleking/sqlrag/internal/config"
	"github.com/kyleking/sqlrag/internal/errors"
)

// Provider defines the interface for embedding providers
type Provider interface {
	// GenerateEmbedding generates an embedding for the given text
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)

	// GetDimensions returns the dimensionality of embeddings produced by this provider
	GetDimensions() int

	// IsEnabled returns whether the provider is enabled and ready to use
	IsEnabled() bool

	// GetName returns the provider name for identification
	GetName() string
}

// Config represents embedding provider configuration
type Config struct {
	Provider   string        `json:"provider"` // "hash", "openai" or "ollama"
	Model      string        `json:"model"`
	Dimensions int           `json:"dimensions"`
	APIKey     string        `json:"-"`
	BaseURL    string        `json:"base_url"`
	Timeout    time.Duration `json:"timeout"`
}

const (
	ProviderHash   = "hash"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Defaults per provider
const (
	DefaultHashDimensions   = 512
	DefaultOpenAIModel      = "text-embedding-3-small"
	DefaultOpenAIDimensions = 1536
	DefaultOpenAIBaseURL    = "https://api.openai.com/v1"
	DefaultOllamaModel      = "nomic-embed-text"
	DefaultOllamaDimensions = 768
	DefaultOllamaBaseURL    = "http://localhost:11434"
	defaultTimeout          = 30 * time.Second
)

// DefaultConfig returns default embedding configuration
func DefaultConfig() Config {
	return Config{
		Provider:   ProviderHash,
		Model:      "xxhash-features",
		Dimensions: DefaultHashDimensions,
		Timeout:    defaultTimeout,
	}
}

// FromAppConfig converts the embedding section of the application config.
// The openai provider falls back to OPENAI_API_KEY.
func FromAppConfig(cfg config.EmbeddingConfig) Config {
	c := Config{
		Provider:   cfg.Provider,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Timeout:    config.Duration(cfg.Timeout),
	}

	if c.Provider == ProviderOpenAI && c.APIKey == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	return c
}

// withDefaults fills the model, dimensions and base URL for the chosen provider
func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}

	switch c.Provider {
	case ProviderHash, "":
		c.Provider = ProviderHash
		if c.Model == "" {
			c.Model = "xxhash-features"
		}

		if c.Dimensions == 0 {
			c.Dimensions = DefaultHashDimensions
		}
	case ProviderOpenAI:
		if c.Model == "" {
			c.Model = DefaultOpenAIModel
		}

		if c.Dimensions == 0 {
			c.Dimensions = DefaultOpenAIDimensions
		}

		if c.BaseURL == "" {
			c.BaseURL = DefaultOpenAIBaseURL
		}
	case ProviderOllama:
		if c.Model == "" {
			c.Model = DefaultOllamaModel
		}

		if c.Dimensions == 0 {
			c.Dimensions = DefaultOllamaDimensions
		}

		if c.BaseURL == "" {
			c.BaseURL = DefaultOllamaBaseURL
		}
	}

	return c
}

// NewProvider builds the provider named by cfg.Provider
func NewProvider(cfg Config) (Provider, error) {
	cfg = cfg.withDefaults()

	switch cfg.Provider {
	case ProviderHash:
		return NewHashProvider(cfg.Dimensions), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New(errors.ErrTypeConfig, "embedding API key is required for the openai provider").
				WithSuggestion("Set SQLRAG_EMBEDDING_API_KEY or OPENAI_API_KEY")
		}

		return NewOpenAIProvider(cfg, &http.Client{Timeout: cfg.Timeout}), nil
	case ProviderOllama:
		return NewOllamaProvider(cfg, &http.Client{Timeout: cfg.Timeout}), nil
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unsupported embedding provider: %s", cfg.Provider), "embedding.provider")
	}
}

// Identity names a provider and model pair; embeddings from different
// identities are never mixed in one index.
func Identity(p Provider) string {
	return fmt.Sprintf("%s/%d", p.GetName(), p.GetDimensions())
}
