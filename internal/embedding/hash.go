package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashProvider embeds text locally by feature hashing word and character
// trigram features into a fixed number of buckets. It needs no network or model
// files and always returns the same vector for the same text.
type HashProvider struct {
	dimensions int
}

// NewHashProvider creates a hashing provider producing vectors of size dimensions
func NewHashProvider(dimensions int) *HashProvider {
	return &HashProvider{dimensions: dimensions}
}

func (p *HashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := make([]float32, p.dimensions)

	for _, word := range words(text) {
		p.add(v, "w:"+word, 1.0)

		padded := "^" + word + "$"
		runes := []rune(padded)

		for i := 0; i+3 <= len(runes); i++ {
			p.add(v, "c:"+string(runes[i:i+3]), 0.5)
		}
	}

	return Normalize(v), nil
}

func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	for i, text := range texts {
		v, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}

		out[i] = v
	}

	return out, nil
}

func (p *HashProvider) Dimensions() int {
	return p.dimensions
}

func (p *HashProvider) Name() string {
	return fmt.Sprintf("local:hash-%d", p.dimensions)
}

func (p *HashProvider) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := int(sum % uint64(p.dimensions))
	if sum>>63 == 1 {
		weight = -weight
	}

	v[bucket] += weight
}

// words splits text into lowercase identifier-like words
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}
