package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kyleking/sqlrag/internal/errors"
)

const maxErrorBody = 512

// OpenAIProvider calls an OpenAI-compatible /embeddings endpoint
type OpenAIProvider struct {
	config     Config
	httpClient *http.Client
}

type openAIEmbeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIProvider creates a provider for OpenAI-compatible APIs
func NewOpenAIProvider(config Config, httpClient *http.Client) *OpenAIProvider {
	return &OpenAIProvider{config: config.withDefaults(), httpClient: httpClient}
}

// GenerateEmbedding requests one embedding
func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	reqBody := openAIEmbeddingRequest{Model: p.config.Model, Input: text}
	// Only the text-embedding-3 family accepts a dimensions override.
	if strings.HasPrefix(p.config.Model, "text-embedding-3") {
		reqBody.Dimensions = p.config.Dimensions
	}

	headers := map[string]string{"Authorization": "Bearer " + p.config.APIKey}

	body, err := postJSON(ctx, p.httpClient, strings.TrimRight(p.config.BaseURL, "/")+"/embeddings", headers, reqBody)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeEmbeddingService, "%s embedding request failed", p.GetName())
	}

	var response openAIEmbeddingResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeEmbeddingService, "failed to parse embedding response")
	}

	if response.Error != nil {
		return nil, errors.Newf(errors.ErrTypeEmbeddingService, "embedding API error: %s", response.Error.Message)
	}

	if len(response.Data) == 0 {
		return nil, errors.New(errors.ErrTypeEmbeddingService, "embedding response contained no vectors")
	}

	return checkDimensions(response.Data[0].Embedding, p.config.Dimensions)
}

// GetDimensions returns the configured vector length
func (p *OpenAIProvider) GetDimensions() int {
	return p.config.Dimensions
}

// IsEnabled reports whether credentials are configured
func (p *OpenAIProvider) IsEnabled() bool {
	return p.config.APIKey != ""
}

// GetName returns the provider name
func (p *OpenAIProvider) GetName() string {
	return "openai:" + p.config.Model
}

// OllamaProvider calls a local Ollama server's /api/embeddings endpoint
type OllamaProvider struct {
	config     Config
	httpClient *http.Client
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// NewOllamaProvider creates a provider for an Ollama server
func NewOllamaProvider(config Config, httpClient *http.Client) *OllamaProvider {
	return &OllamaProvider{config: config.withDefaults(), httpClient: httpClient}
}

// GenerateEmbedding requests one embedding
func (p *OllamaProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	reqBody := ollamaEmbeddingRequest{Model: p.config.Model, Prompt: text}

	body, err := postJSON(ctx, p.httpClient, strings.TrimRight(p.config.BaseURL, "/")+"/api/embeddings", nil, reqBody)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeEmbeddingService, "%s embedding request failed", p.GetName())
	}

	var response ollamaEmbeddingResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeEmbeddingService, "failed to parse embedding response")
	}

	if response.Error != "" {
		return nil, errors.Newf(errors.ErrTypeEmbeddingService, "ollama error: %s", response.Error)
	}

	return checkDimensions(response.Embedding, p.config.Dimensions)
}

// GetDimensions returns the configured vector length
func (p *OllamaProvider) GetDimensions() int {
	return p.config.Dimensions
}

// IsEnabled is true once a base URL is known
func (p *OllamaProvider) IsEnabled() bool {
	return p.config.BaseURL != ""
}

// GetName returns the provider name
func (p *OllamaProvider) GetName() string {
	return "ollama:" + p.config.Model
}

func checkDimensions(vec []float32, expected int) ([]float32, error) {
	if len(vec) == 0 {
		return nil, errors.New(errors.ErrTypeEmbeddingService, "embedding service returned an empty vector")
	}

	if expected > 0 && len(vec) != expected {
		return nil, errors.Newf(errors.ErrTypeEmbeddingService,
			"dimension mismatch: expected %d, got %d", expected, len(vec)).
			WithSuggestion("Set SQLRAG_EMBEDDING_DIMENSIONS to the model's output size")
	}

	return vec, nil
}

// postJSON sends a JSON POST and returns the body of a 2xx response
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}

		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
