// Package llm asks a language model to write SQL for an assembled prompt.
package llm

import (
	"context"
)

// Provider generates text for a prompt. Implementations only move bytes; SQL
// extraction happens downstream.
type Provider interface {
	Generate(ctx context.Context, prompt, modelID string) (string, error)
	Name() string
}

// Provider names accepted in configuration
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderOffline   = "offline"
)

// Default endpoints
const (
	DefaultOpenAIURL    = "https://api.openai.com/v1"
	DefaultAnthropicURL = "https://api.anthropic.com/v1"
	DefaultOllamaURL    = "http://localhost:11434"
)

// Common models
const (
	ModelGPT4oMini    = "gpt-4o-mini"
	ModelClaudeSonnet = "claude-3-5-sonnet-latest"
	ModelQwenCoder    = "qwen2.5-coder"
)
