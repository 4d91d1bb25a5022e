package storage

import (
	"context"
	"errors"
	"time"

	"github.com/kyleking/ragsql/internal/types"
)

var (
	// ErrNoIndex is returned when the store holds no built index
	ErrNoIndex = errors.New("no example index has been built")
	// ErrExampleNotFound is returned when an example id is unknown
	ErrExampleNotFound = errors.New("example not found")
)

// ExampleStore persists the example index: the records with their embeddings
// plus the metadata of the build that produced them.
type ExampleStore interface {
	Initialize(ctx context.Context) error
	ReplaceExamples(ctx context.Context, records []types.ExampleRecord, meta IndexMeta) error
	LoadExamples(ctx context.Context) ([]types.ExampleRecord, *IndexMeta, error)
	GetExample(ctx context.Context, id string) (*types.ExampleRecord, error)
	ListExamples(ctx context.Context, limit, offset int) ([]types.ExampleRecord, error)
	GetStats(ctx context.Context) (*Stats, error)
	Clear(ctx context.Context) error
	Close() error
}

// IndexMeta describes one index build
type IndexMeta struct {
	Version        int64     `json:"version"`
	RecordCount    int       `json:"record_count"`
	Dimensions     int       `json:"dimensions"`
	Distance       string    `json:"distance"`
	EmbeddingModel string    `json:"embedding_model"`
	BuiltAt        time.Time `json:"built_at"`
}

// Stats represents database statistics
type Stats struct {
	TotalExamples  int            `json:"total_examples"`
	IndexVersion   int64          `json:"index_version"`
	Dimensions     int            `json:"dimensions"`
	LastBuiltAt    time.Time      `json:"last_built_at"`
	DatabaseSizeMB float64        `json:"database_size_mb"`
	TableBreakdown map[string]int `json:"table_breakdown"`
}
