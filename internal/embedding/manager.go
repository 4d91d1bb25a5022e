package embedding

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kyleking/ragsql/internal/logging"
)

// RateLimited wraps a Provider so calls wait on a token bucket
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond calls per second with the given burst
func NewRateLimited(p Provider, perSecond float64, burst int) *RateLimited {
	return &RateLimited{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *RateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	return r.Provider.Embed(ctx, text)
}

func (r *RateLimited) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	return r.Provider.EmbedBatch(ctx, texts)
}

// Manager embeds single questions under a timeout and whole corpora in parallel batches
type Manager struct {
	provider   Provider
	timeout    time.Duration
	batchSize  int
	maxWorkers int
}

// NewManager creates a manager around provider
func NewManager(provider Provider, timeout time.Duration, batchSize, maxWorkers int) *Manager {
	if batchSize <= 0 {
		batchSize = 32
	}

	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	return &Manager{
		provider:   provider,
		timeout:    timeout,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
	}
}

// Provider returns the wrapped provider
func (m *Manager) Provider() Provider {
	return m.provider
}

// Dimensions returns the embedding dimensions
func (m *Manager) Dimensions() int {
	return m.provider.Dimensions()
}

// Embed embeds text, giving up after the manager's timeout
func (m *Manager) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	v, err := m.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if len(v) != m.provider.Dimensions() {
		return nil, fmt.Errorf("provider %s returned %d dimensions, expected %d",
			m.provider.Name(), len(v), m.provider.Dimensions())
	}

	return v, nil
}

// EmbedAll embeds texts in batches across up to maxWorkers goroutines. The
// result is in input order; the first failing batch cancels the rest.
func (m *Manager) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxWorkers)

	for start := 0; start < len(texts); start += m.batchSize {
		end := min(start+m.batchSize, len(texts))

		g.Go(func() error {
			vectors, err := m.provider.EmbedBatch(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("failed to embed batch %d-%d: %w", start, end, err)
			}

			if err := checkDimensions(vectors, m.provider.Dimensions()); err != nil {
				return err
			}

			copy(out[start:end], vectors)
			logging.Debugf("embedded batch %d-%d of %d", start, end, len(texts))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}
