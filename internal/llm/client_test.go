package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/errors"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LLMConfig
		wantErr bool
	}{
		{"valid OpenAI config", config.LLMConfig{Provider: ProviderOpenAI, Model: ModelGPT4oMini, APIKey: "test-key"}, false},
		{"valid Anthropic config", config.LLMConfig{Provider: ProviderAnthropic, Model: ModelClaudeSonnet, APIKey: "test-key"}, false},
		{"valid Ollama config", config.LLMConfig{Provider: ProviderOllama, Model: ModelQwenCoder}, false},
		{"missing model", config.LLMConfig{Provider: ProviderOpenAI, APIKey: "test-key"}, true},
		{"missing API key for OpenAI", config.LLMConfig{Provider: ProviderOpenAI, Model: ModelGPT4oMini}, true},
		{"missing API key for Anthropic", config.LLMConfig{Provider: ProviderAnthropic, Model: ModelClaudeSonnet}, true},
		{"unsupported provider", config.LLMConfig{Provider: "unsupported", Model: "m", APIKey: "k"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Provider+":"+tt.cfg.Model, client.Name())
		})
	}
}

func TestClient_OpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "override-model", req.Model)
		assert.Len(t, req.Messages, 2)
		assert.Equal(t, "the prompt", req.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "` + "```sql\\nSELECT 1\\n```" + `"}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(config.LLMConfig{Provider: ProviderOpenAI, Model: ModelGPT4oMini, APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	text, err := client.Generate(context.Background(), "the prompt", "override-model")
	require.NoError(t, err)
	assert.Equal(t, "```sql\nSELECT 1\n```", text)
}

func TestClient_Anthropic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req anthropicRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, ModelClaudeSonnet, req.Model, "empty model id uses the configured model")
		assert.NotEmpty(t, req.System)

		_, _ = w.Write([]byte(`{"content": [{"type": "text", "text": "SELECT "}, {"type": "text", "text": "2"}]}`))
	}))
	defer server.Close()

	client, err := NewClient(config.LLMConfig{Provider: ProviderAnthropic, Model: ModelClaudeSonnet, APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)

	text, err := client.Generate(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", text)
}

func TestClient_Ollama(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req ollamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, "q", req.Prompt)

		_, _ = w.Write([]byte(`{"response": "SELECT 3", "done": true}`))
	}))
	defer server.Close()

	client, err := NewClient(config.LLMConfig{Provider: ProviderOllama, Model: ModelQwenCoder, BaseURL: server.URL + "/"})
	require.NoError(t, err)

	text, err := client.Generate(context.Background(), "q", "")
	require.NoError(t, err)
	assert.Equal(t, "SELECT 3", text)
}

func TestClient_HTTPErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		errType   errors.ErrorType
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error": {"message": "slow down"}}`, true, errors.ErrTypeNetwork},
		{"server error", http.StatusBadGateway, "bad gateway", true, errors.ErrTypeNetwork},
		{"unauthorized", http.StatusUnauthorized, "no", false, errors.ErrTypeNetwork},
		{"api error body", http.StatusOK, `{"error": {"message": "model not found"}}`, false, errors.ErrTypeGeneration},
		{"no choices", http.StatusOK, `{"choices": []}`, false, errors.ErrTypeGeneration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := NewClient(config.LLMConfig{Provider: ProviderOpenAI, Model: ModelGPT4oMini, APIKey: "k", BaseURL: server.URL})
			require.NoError(t, err)

			_, err = client.Generate(context.Background(), "q", "")
			require.Error(t, err)
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
			assert.True(t, errors.IsType(err, tt.errType))
		})
	}
}

func TestClient_NetworkErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewClient(config.LLMConfig{Provider: ProviderOllama, Model: ModelQwenCoder, BaseURL: url})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "q", "")
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
}
