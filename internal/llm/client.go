package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/errors"
)

const systemPrompt = "You translate analytics questions into SQL. Answer with a single read-only query."

// Client talks to one hosted or local model API
type Client struct {
	provider   string
	model      string
	apiKey     string
	baseURL    string
	maxTokens  int
	httpClient *http.Client
}

// NewClient validates cfg and creates a client for its provider
func NewClient(cfg config.LLMConfig) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.NewConfigError("model is required", "llm.model")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.NewConfigError("API key is required for OpenAI provider", "llm.api_key")
		}

		if baseURL == "" {
			baseURL = DefaultOpenAIURL
		}
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, errors.NewConfigError("API key is required for Anthropic provider", "llm.api_key")
		}

		if baseURL == "" {
			baseURL = DefaultAnthropicURL
		}
	case ProviderOllama:
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unsupported provider: %s", cfg.Provider), "llm.provider")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &Client{
		provider:   cfg.Provider,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: config.Duration(cfg.Timeout, 60*time.Second)},
	}, nil
}

func (c *Client) Name() string {
	return c.provider + ":" + c.model
}

// Generate sends prompt to the model. An empty modelID uses the configured model.
func (c *Client) Generate(ctx context.Context, prompt, modelID string) (string, error) {
	if modelID == "" {
		modelID = c.model
	}

	switch c.provider {
	case ProviderOpenAI:
		return c.generateOpenAI(ctx, prompt, modelID)
	case ProviderAnthropic:
		return c.generateAnthropic(ctx, prompt, modelID)
	case ProviderOllama:
		return c.generateOllama(ctx, prompt, modelID)
	default:
		return "", fmt.Errorf("unsupported provider: %s", c.provider)
	}
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

func (c *Client) generateOpenAI(ctx context.Context, prompt, model string) (string, error) {
	reqBody := openAIRequest{
		Model: model,
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens: c.maxTokens,
	}

	var response openAIResponse

	err := c.postJSON(ctx, "/chat/completions",
		map[string]string{"Authorization": "Bearer " + c.apiKey}, reqBody, &response)
	if err != nil {
		return "", err
	}

	if response.Error != nil {
		return "", errors.Newf(errors.ErrTypeGeneration, "OpenAI API error: %s", response.Error.Message)
	}

	if len(response.Choices) == 0 {
		return "", errors.New(errors.ErrTypeGeneration, "no response from OpenAI")
	}

	return response.Choices[0].Message.Content, nil
}

// Anthropic API structures
type anthropicRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
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

func (c *Client) generateAnthropic(ctx context.Context, prompt, model string) (string, error) {
	reqBody := anthropicRequest{
		Model:     model,
		MaxTokens: c.maxTokens,
		System:    systemPrompt,
		Messages:  []openAIMessage{{Role: "user", Content: prompt}},
	}

	var response anthropicResponse

	err := c.postJSON(ctx, "/messages", map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}, reqBody, &response)
	if err != nil {
		return "", err
	}

	if response.Error != nil {
		return "", errors.Newf(errors.ErrTypeGeneration, "Anthropic API error: %s", response.Error.Message)
	}

	var sb strings.Builder

	for _, block := range response.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	if sb.Len() == 0 {
		return "", errors.New(errors.ErrTypeGeneration, "no response from Anthropic")
	}

	return sb.String(), nil
}

// Ollama API structures
type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (c *Client) generateOllama(ctx context.Context, prompt, model string) (string, error) {
	reqBody := ollamaRequest{
		Model:   model,
		Prompt:  prompt,
		System:  systemPrompt,
		Stream:  false,
		Options: map[string]any{"temperature": 0, "num_predict": c.maxTokens},
	}

	var response ollamaResponse
	if err := c.postJSON(ctx, "/api/generate", nil, reqBody, &response); err != nil {
		return "", err
	}

	if response.Error != "" {
		return "", errors.Newf(errors.ErrTypeGeneration, "Ollama API error: %s", response.Error)
	}

	return response.Response, nil
}

// postJSON makes one request to the provider API. Network failures, rate
// limiting and server errors are retryable; other statuses are not.
func (c *Client) postJSON(ctx context.Context, endpoint string, headers map[string]string, reqBody, out any) error {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		netErr := errors.Wrap(err, errors.ErrTypeNetwork, "failed to make request")
		netErr.Retryable = true

		return netErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := errors.Newf(errors.ErrTypeNetwork, "API request failed with status %d: %s",
			resp.StatusCode, truncate(string(body), 300))
		apiErr.Retryable = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			apiErr.WithSuggestion("Check the LLM API key")
		}

		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", c.provider, err)
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
