package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/types"
)

func testExamples() []types.ExampleRecord {
	return []types.ExampleRecord{
		{
			ID:               "ex-1",
			SQLText:          "SELECT region, SUM(total) FROM shop.orders o JOIN shop.customers c ON c.id = o.customer_id GROUP BY region",
			Description:      "Revenue by region",
			ReferencedTables: []string{"shop.customers", "shop.orders"},
			Joins: []types.JoinSpec{
				{LeftTable: "shop.orders", LeftColumn: "customer_id", RightTable: "shop.customers", RightColumn: "id", Kind: "inner"},
			},
			Embedding: []float32{0.1, 0.2, 0.3},
		},
		{
			ID:               "ex-2",
			SQLText:          "SELECT COUNT(*) FROM shop.orders",
			Description:      "Order count",
			ReferencedTables: []string{"shop.orders"},
			Embedding:        []float32{0.3, 0.2, 0.1},
		},
	}
}

func TestDuckDBStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewTestDB(t)

	builtAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	meta := IndexMeta{Version: 7, Dimensions: 3, Distance: "cosine", EmbeddingModel: "hash-384", BuiltAt: builtAt}

	require.NoError(t, store.ReplaceExamples(ctx, testExamples(), meta))

	records, loaded, err := store.LoadExamples(ctx)
	require.NoError(t, err)

	assert.Equal(t, testExamples(), records)
	assert.Equal(t, int64(7), loaded.Version)
	assert.Equal(t, 2, loaded.RecordCount)
	assert.Equal(t, 3, loaded.Dimensions)
	assert.Equal(t, "hash-384", loaded.EmbeddingModel)
	assert.WithinDuration(t, builtAt, loaded.BuiltAt, time.Second)
}

func TestDuckDBStoreReplaceIsComplete(t *testing.T) {
	ctx := context.Background()
	store := NewTestDBWithData(t, testExamples())

	replacement := []types.ExampleRecord{{
		ID: "ex-9", SQLText: "SELECT 1", ReferencedTables: []string{"shop.orders"}, Embedding: []float32{1, 0, 0},
	}}
	require.NoError(t, store.ReplaceExamples(ctx, replacement, IndexMeta{Version: 2, Dimensions: 3, Distance: "l2", BuiltAt: time.Now()}))

	records, meta, err := store.LoadExamples(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ex-9", records[0].ID)
	assert.Equal(t, "l2", meta.Distance)

	_, err = store.GetExample(ctx, "ex-1")
	assert.ErrorIs(t, err, ErrExampleNotFound)
}

func TestDuckDBStoreEmpty(t *testing.T) {
	store := NewTestDB(t)

	_, _, err := store.LoadExamples(context.Background())
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestDuckDBStoreCorruption(t *testing.T) {
	tests := []struct {
		name   string
		tamper string
	}{
		{"record count mismatch", "UPDATE index_meta SET record_count = 99"},
		{"dimension mismatch", "UPDATE index_meta SET dimensions = 4"},
		{"unreadable embedding", "UPDATE examples SET embedding = 'not json' WHERE id = 'ex-2'"},
		{"unreadable tables", "UPDATE examples SET referenced_tables = '{' WHERE id = 'ex-1'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewTestDBWithData(t, testExamples())

			_, err := store.DB().Exec(tt.tamper)
			require.NoError(t, err)

			_, _, err = store.LoadExamples(context.Background())
			assert.ErrorIs(t, err, ErrCorruptIndex)
		})
	}
}

func TestOpenExistingDuckDBStoreMissing(t *testing.T) {
	_, err := OpenExistingDuckDBStore(filepath.Join(t.TempDir(), "absent.db"))
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestDuckDBStoreGetAndList(t *testing.T) {
	ctx := context.Background()
	store := NewTestDBWithData(t, testExamples())

	rec, err := store.GetExample(ctx, "ex-2")
	require.NoError(t, err)
	assert.Equal(t, "Order count", rec.Description)
	assert.Nil(t, rec.Joins)

	page, err := store.ListExamples(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "ex-2", page[0].ID)
}

func TestDuckDBStoreStatsAndClear(t *testing.T) {
	ctx := context.Background()
	store := NewTestDBWithData(t, testExamples())

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalExamples)
	assert.Equal(t, int64(1), stats.IndexVersion)
	assert.Equal(t, 3, stats.Dimensions)
	assert.Equal(t, map[string]int{"shop.orders": 2, "shop.customers": 1}, stats.TableBreakdown)

	require.NoError(t, store.Clear(ctx))

	stats, err = store.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalExamples)
	assert.Zero(t, stats.IndexVersion)

	_, _, err = store.LoadExamples(ctx)
	assert.ErrorIs(t, err, ErrNoIndex)
}

func TestNewDuckDBStoreFromConfig(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Path:           filepath.Join(t.TempDir(), "nested", "index.db"),
		MaxConnections: 4,
		QueryTimeout:   "5s",
	}

	_, err := NewDuckDBStoreFromConfig(cfg, true)
	assert.ErrorIs(t, err, ErrNoIndex)

	store, err := NewDuckDBStoreFromConfig(cfg, false)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, 5*time.Second, store.queryTimeout)
	assert.Equal(t, cfg.Path, store.Path())
}
