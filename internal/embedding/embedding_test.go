package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/errors"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}

	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashProvider(t *testing.T) {
	ctx := context.Background()
	p := NewHashProvider(128)

	a, err := p.Embed(ctx, "total revenue by customer region")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "total revenue by customer region")
	require.NoError(t, err)
	c, err := p.Embed(ctx, "revenue per region for each customer")
	require.NoError(t, err)
	d, err := p.Embed(ctx, "list pending shipments from warehouse")
	require.NoError(t, err)

	assert.Len(t, a, 128)
	assert.Equal(t, a, b, "same text embeds identically")
	assert.InDelta(t, 1.0, cosine(a, a), 1e-5, "vectors are unit length")
	assert.Greater(t, cosine(a, c), cosine(a, d))
	assert.Equal(t, "local:hash-128", p.Name())

	empty, err := p.Embed(ctx, "")
	require.NoError(t, err)
	assert.Len(t, empty, 128)
}

func TestHashProviderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHashProvider(8).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(config.EmbeddingConfig{Provider: "local", Dimensions: 64})
	require.NoError(t, err)
	assert.Equal(t, 64, p.Dimensions())

	limited, err := NewProvider(config.EmbeddingConfig{Provider: "local", Dimensions: 64, RateLimit: 5})
	require.NoError(t, err)
	assert.IsType(t, &RateLimited{}, limited)

	_, err = NewProvider(config.EmbeddingConfig{Provider: "openai", Dimensions: 64})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = NewProvider(config.EmbeddingConfig{Provider: "word2vec", Dimensions: 64})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = NewProvider(config.EmbeddingConfig{Provider: "local"})
	assert.Error(t, err)
}

func TestOpenAIProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIEmbeddingRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, 2, req.Dimensions)

		// answer out of order to exercise index sorting
		fmt.Fprint(w, `{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`)
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(config.EmbeddingConfig{
		BaseURL: server.URL, APIKey: "sk-test", Model: "text-embedding-3-small", Dimensions: 2,
	})
	require.NoError(t, err)

	vectors, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestOpenAIProviderDimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1,0,0]}]}`)
	}))
	defer server.Close()

	p, err := NewOpenAIProvider(config.EmbeddingConfig{BaseURL: server.URL, APIKey: "k", Dimensions: 2})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "a")
	assert.ErrorContains(t, err, "dimension mismatch")
}

func TestHTTPErrorsAreClassified(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusServiceUnavailable, true},
		{http.StatusTooManyRequests, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			p, err := NewOllamaProvider(config.EmbeddingConfig{BaseURL: server.URL, Model: "nomic-embed-text", Dimensions: 2})
			require.NoError(t, err)

			_, err = p.Embed(context.Background(), "a")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeNetwork))
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}
}

func TestOllamaProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)

		var req ollamaEmbedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"hello"}, req.Input)

		fmt.Fprint(w, `{"embeddings":[[0.5,0.5]]}`)
	}))
	defer server.Close()

	p, err := NewOllamaProvider(config.EmbeddingConfig{BaseURL: server.URL, Model: "nomic-embed-text", Dimensions: 2})
	require.NoError(t, err)

	v, err := p.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, v)
	assert.Equal(t, "ollama:nomic-embed-text", p.Name())
}

type slowProvider struct {
	*HashProvider
	delay time.Duration
}

func (s slowProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-time.After(s.delay):
		return s.HashProvider.Embed(ctx, text)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestManagerEmbedTimeout(t *testing.T) {
	m := NewManager(slowProvider{HashProvider: NewHashProvider(4), delay: time.Second}, 20*time.Millisecond, 0, 0)

	_, err := m.Embed(context.Background(), "q")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type countingProvider struct {
	*HashProvider
	calls atomic.Int32
	fail  string
}

func (c *countingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)

	for _, text := range texts {
		if text == c.fail {
			return nil, fmt.Errorf("cannot embed %q", text)
		}
	}

	return c.HashProvider.EmbedBatch(ctx, texts)
}

func TestManagerEmbedAll(t *testing.T) {
	provider := &countingProvider{HashProvider: NewHashProvider(16)}
	m := NewManager(provider, 0, 3, 4)

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("question number %d", i)
	}

	vectors, err := m.EmbedAll(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, 10)
	assert.Equal(t, int32(4), provider.calls.Load())

	for i, text := range texts {
		want, err := provider.HashProvider.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, want, vectors[i], "result %d is in input order", i)
	}
}

func TestManagerEmbedAllFailure(t *testing.T) {
	provider := &countingProvider{HashProvider: NewHashProvider(16), fail: "bad"}
	m := NewManager(provider, 0, 2, 2)

	_, err := m.EmbedAll(context.Background(), []string{"a", "b", "bad", "c"})
	assert.ErrorContains(t, err, "batch 2-4")
}

func TestRateLimited(t *testing.T) {
	p := NewRateLimited(NewHashProvider(4), 1000, 1)

	_, err := p.Embed(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.EmbedBatch(ctx, []string{"a"})
	assert.Error(t, err)
}
