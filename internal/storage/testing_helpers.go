package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kyleking/ragsql/internal/types"
)

// NewTestDB creates an initialized store in a temporary directory that is
// closed when the test ends.
func NewTestDB(t *testing.T) *DuckDBStore {
	t.Helper()

	store, err := NewDuckDBStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}

	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close test store: %v", err)
		}
	})

	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("failed to initialize test store: %v", err)
	}

	return store
}

// NewTestDBWithData creates a test store holding records as a built index
func NewTestDBWithData(t *testing.T, records []types.ExampleRecord) *DuckDBStore {
	t.Helper()

	store := NewTestDB(t)

	dims := 0
	if len(records) > 0 {
		dims = len(records[0].Embedding)
	}

	meta := IndexMeta{
		Version:    1,
		Dimensions: dims,
		Distance:   "cosine",
		BuiltAt:    time.Now().UTC().Truncate(time.Second),
	}

	if err := store.ReplaceExamples(context.Background(), records, meta); err != nil {
		t.Fatalf("failed to store test examples: %v", err)
	}

	return store
}
