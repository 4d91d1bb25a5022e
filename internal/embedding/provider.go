// Package embedding turns text into dense vectors for example retrieval.
package embedding

import (
	"context"
	"fmt"
	"math"

	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/errors"
)

// Provider defines the interface for embedding providers
type Provider interface {
	// Embed returns the embedding of a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per text, in order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings produced by this provider
	Dimensions() int

	// Name returns the provider name for identification
	Name() string
}

// Provider names accepted in configuration
const (
	ProviderLocal  = "local"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// NewProvider builds the provider selected by cfg, rate limited when cfg asks for it
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	if cfg.Dimensions <= 0 {
		return nil, errors.NewConfigError("embedding dimensions must be positive", "embedding.dimensions")
	}

	var (
		provider Provider
		err      error
	)

	switch cfg.Provider {
	case ProviderLocal, "":
		provider = NewHashProvider(cfg.Dimensions)
	case ProviderOpenAI:
		provider, err = NewOpenAIProvider(cfg)
	case ProviderOllama:
		provider, err = NewOllamaProvider(cfg)
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unsupported embedding provider: %s", cfg.Provider), "embedding.provider")
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}

	if cfg.RateLimit > 0 {
		provider = NewRateLimited(provider, cfg.RateLimit, 1)
	}

	return provider, nil
}

// checkDimensions rejects vectors whose size differs from want
func checkDimensions(vectors [][]float32, want int) error {
	for i, v := range vectors {
		if len(v) != want {
			return errors.Newf(errors.ErrTypeValidation,
				"dimension mismatch in embedding %d: expected %d, got %d", i, want, len(v))
		}
	}

	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}

	return out
}

// Normalize scales v to unit length in place. A zero vector is left unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}

	return v
}
