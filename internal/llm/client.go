package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kyleking/sqlrag/internal/errors"
	"github.com/kyleking/sqlrag/internal/logging"
)

const maxErrorBody = 512

// Client implements Service for OpenAI, Anthropic and Ollama
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a client. Use NewService to get defaults and validation.
func NewClient(config Config) *Client {
	config = config.withDefaults()

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// WithHTTPClient replaces the transport, mainly for tests
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	c.httpClient = httpClient
	return c
}

// Name identifies the provider and model
func (c *Client) Name() string {
	return c.config.Provider + ":" + c.config.Model
}

// Complete sends the prompt and returns the model's text. Every failure is a
// generation-service error; the caller decides whether to retry.
func (c *Client) Complete(ctx context.Context, prompt string) (*Completion, error) {
	var (
		text string
		err  error
	)

	switch c.config.Provider {
	case ProviderOpenAI:
		text, err = c.completeOpenAI(ctx, prompt)
	case ProviderAnthropic:
		text, err = c.completeAnthropic(ctx, prompt)
	case ProviderOllama:
		text, err = c.completeOllama(ctx, prompt)
	default:
		return nil, errors.Newf(errors.ErrTypeConfig, "unsupported LLM provider: %s", c.config.Provider)
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, errors.Wrapf(err, errors.ErrTypeGenerationService, "%s completion failed", c.Name()).
			WithSuggestion("Check the LLM endpoint, model name and API key")
	}

	logging.WithFields(map[string]any{
		"model":      c.Name(),
		"prompt_len": len(prompt),
		"reply_len":  len(text),
	}).Debug("Received completion")

	return &Completion{Text: text, Provider: c.config.Provider, Model: c.config.Model}, nil
}

// OpenAI API structures
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) completeOpenAI(ctx context.Context, prompt string) (string, error) {
	reqBody := openAIRequest{
		Model:       c.config.Model,
		Messages:    []openAIMessage{{Role: "user", Content: prompt}},
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}

	headers := map[string]string{"Authorization": "Bearer " + c.config.APIKey}

	respBody, err := c.post(ctx, "/chat/completions", headers, reqBody)
	if err != nil {
		return "", err
	}

	var response openAIResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse OpenAI response: %w", err)
	}

	if response.Error != nil {
		return "", fmt.Errorf("OpenAI API error: %s", response.Error.Message)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	return response.Choices[0].Message.Content, nil
}

// Anthropic API structures
type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) completeAnthropic(ctx context.Context, prompt string) (string, error) {
	reqBody := anthropicRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	}

	headers := map[string]string{
		"x-api-key":         c.config.APIKey,
		"anthropic-version": anthropicVersion,
	}

	respBody, err := c.post(ctx, "/messages", headers, reqBody)
	if err != nil {
		return "", err
	}

	var response anthropicResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse Anthropic response: %w", err)
	}

	if response.Error != nil {
		return "", fmt.Errorf("Anthropic API error: %s", response.Error.Message)
	}

	var b strings.Builder

	for _, block := range response.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	if b.Len() == 0 {
		return "", fmt.Errorf("no response from Anthropic")
	}

	return b.String(), nil
}

// Ollama API structures
type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (c *Client) completeOllama(ctx context.Context, prompt string) (string, error) {
	reqBody := ollamaRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": c.config.Temperature,
			"num_predict": c.config.MaxTokens,
		},
	}

	respBody, err := c.post(ctx, "/api/generate", nil, reqBody)
	if err != nil {
		return "", err
	}

	var response ollamaResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse Ollama response: %w", err)
	}

	if response.Error != "" {
		return "", fmt.Errorf("Ollama API error: %s", response.Error)
	}

	return response.Response, nil
}

// post sends a JSON request to the configured base URL
func (c *Client) post(ctx context.Context, endpoint string, headers map[string]string, reqBody any) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}

		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

var _ Service = (*Client)(nil)
