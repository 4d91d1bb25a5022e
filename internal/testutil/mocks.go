package testutil

import (
	"context"
	"fmt"
	"sync"
)

// FakeEmbedder returns fixed vectors for known texts and a default vector for
// everything else
type FakeEmbedder struct {
	mu sync.Mutex

	dims     int
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    int
}

// EmbedderOption is a functional option for configuring FakeEmbedder
type EmbedderOption func(*FakeEmbedder)

// WithVector maps text to v
func WithVector(text string, v []float32) EmbedderOption {
	return func(f *FakeEmbedder) {
		f.vectors[text] = v
	}
}

// WithFallback sets the vector returned for unknown texts
func WithFallback(v []float32) EmbedderOption {
	return func(f *FakeEmbedder) {
		f.fallback = v
	}
}

// WithEmbedError makes every call fail with err
func WithEmbedError(err error) EmbedderOption {
	return func(f *FakeEmbedder) {
		f.err = err
	}
}

// NewFakeEmbedder creates a fake embedder producing dims-wide vectors
func NewFakeEmbedder(dims int, opts ...EmbedderOption) *FakeEmbedder {
	f := &FakeEmbedder{
		dims:     dims,
		vectors:  make(map[string][]float32),
		fallback: UnitVector(dims, 0),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

func (f *FakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f.err != nil {
		return nil, f.err
	}

	if v, ok := f.vectors[text]; ok {
		return append([]float32(nil), v...), nil
	}

	return append([]float32(nil), f.fallback...), nil
}

func (f *FakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	for i, text := range texts {
		v, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}

		out[i] = v
	}

	return out, nil
}

func (f *FakeEmbedder) Dimensions() int {
	return f.dims
}

func (f *FakeEmbedder) Name() string {
	return fmt.Sprintf("fake:%d", f.dims)
}

// Calls returns the number of Embed calls made so far
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

// FakeGenerator replays scripted model responses in order. Once the script is
// exhausted the last response repeats.
type FakeGenerator struct {
	mu sync.Mutex

	responses []string
	errs      []error
	prompts   []string
}

// NewFakeGenerator creates a generator returning responses in order
func NewFakeGenerator(responses ...string) *FakeGenerator {
	return &FakeGenerator{responses: responses}
}

// FailFirst makes the first len(errs) calls fail with errs in order
func (g *FakeGenerator) FailFirst(errs ...error) *FakeGenerator {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.errs = errs

	return g
}

func (g *FakeGenerator) Generate(ctx context.Context, prompt, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	call := len(g.prompts)
	g.prompts = append(g.prompts, prompt)

	if call < len(g.errs) && g.errs[call] != nil {
		return "", g.errs[call]
	}

	if len(g.responses) == 0 {
		return "", nil
	}

	return g.responses[min(call, len(g.responses)-1)], nil
}

func (g *FakeGenerator) Name() string { return "fake" }

// Prompts returns every prompt received so far
func (g *FakeGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]string(nil), g.prompts...)
}
