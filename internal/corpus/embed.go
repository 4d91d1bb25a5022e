package corpus

import (
	"context"

	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/types"
)

// BatchEmbedder embeds many texts, returning vectors in input order
type BatchEmbedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Embed fills in embeddings for records that lack one or whose width does not
// match the embedder. With force every record is re-embedded. The input slice
// is not modified. It returns the number of records embedded.
func Embed(ctx context.Context, embedder BatchEmbedder, records []types.ExampleRecord, force bool) ([]types.ExampleRecord, int, error) {
	out := make([]types.ExampleRecord, len(records))
	dims := embedder.Dimensions()

	var (
		pending []int
		texts   []string
	)

	for i, rec := range records {
		out[i] = rec.Clone()

		if force || len(rec.Embedding) != dims {
			pending = append(pending, i)
			texts = append(texts, rec.EmbeddingText())
		}
	}

	if len(pending) == 0 {
		return out, 0, nil
	}

	vectors, err := embedder.EmbedAll(ctx, texts)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrTypeIndex, "failed to embed corpus examples")
	}

	for j, i := range pending {
		out[i].Embedding = vectors[j]
	}

	return out, len(pending), nil
}
