package cmd

import (
	"context"
	"time"

	"github.com/kyleking/ragsql/internal/executor"
	"github.com/kyleking/ragsql/internal/storage"
	"github.com/kyleking/ragsql/internal/types"
)

// MockExampleStore implements storage.ExampleStore for testing
type MockExampleStore struct {
	examples []types.ExampleRecord
	stats    *storage.Stats
	err      error
	cleared  bool
	closed   bool
}

func (m *MockExampleStore) Initialize(_ context.Context) error {
	return m.err
}

func (m *MockExampleStore) ReplaceExamples(_ context.Context, records []types.ExampleRecord, _ storage.IndexMeta) error {
	if m.err != nil {
		return m.err
	}

	m.examples = records

	return nil
}

func (m *MockExampleStore) LoadExamples(_ context.Context) ([]types.ExampleRecord, *storage.IndexMeta, error) {
	if m.err != nil {
		return nil, nil, m.err
	}

	return m.examples, &storage.IndexMeta{Version: 1, RecordCount: len(m.examples)}, nil
}

func (m *MockExampleStore) GetExample(_ context.Context, id string) (*types.ExampleRecord, error) {
	if m.err != nil {
		return nil, m.err
	}

	for _, rec := range m.examples {
		if rec.ID == id {
			return &rec, nil
		}
	}

	return nil, storage.ErrExampleNotFound
}

func (m *MockExampleStore) ListExamples(_ context.Context, limit, offset int) ([]types.ExampleRecord, error) {
	if m.err != nil {
		return nil, m.err
	}

	start := offset
	if start >= len(m.examples) {
		return []types.ExampleRecord{}, nil
	}

	end := min(start+limit, len(m.examples))

	return m.examples[start:end], nil
}

func (m *MockExampleStore) GetStats(_ context.Context) (*storage.Stats, error) {
	if m.err != nil {
		return nil, m.err
	}

	if m.stats != nil {
		return m.stats, nil
	}

	return &storage.Stats{
		TotalExamples:  len(m.examples),
		IndexVersion:   1,
		Dimensions:     8,
		LastBuiltAt:    time.Now().Add(-2 * time.Hour),
		DatabaseSizeMB: 1.5,
		TableBreakdown: map[string]int{},
	}, nil
}

func (m *MockExampleStore) Clear(_ context.Context) error {
	if m.err != nil {
		return m.err
	}

	m.examples = nil
	m.cleared = true

	return nil
}

func (m *MockExampleStore) Close() error {
	m.closed = true
	return nil
}

var _ storage.ExampleStore = (*MockExampleStore)(nil)

// mockExecutor records calls and answers with a fixed result
type mockExecutor struct {
	result *executor.Result
	err    error
	calls  []mockExecCall
}

type mockExecCall struct {
	sql            string
	dryRun         bool
	maxBytesBilled int64
}

func (m *mockExecutor) Execute(_ context.Context, sqlText string, dryRun bool, maxBytesBilled int64) (*executor.Result, error) {
	m.calls = append(m.calls, mockExecCall{sql: sqlText, dryRun: dryRun, maxBytesBilled: maxBytesBilled})
	return m.result, m.err
}

func sampleExamples() []types.ExampleRecord {
	return []types.ExampleRecord{
		{
			ID:               "ex-revenue",
			Description:      "Total revenue per region",
			SQLText:          "SELECT c.region, SUM(o.total) FROM shop.orders o JOIN shop.customers c ON o.customer_id = c.id GROUP BY c.region",
			ReferencedTables: []string{"shop.orders", "shop.customers"},
			Joins: []types.JoinSpec{
				{LeftTable: "shop.orders", LeftColumn: "customer_id", RightTable: "shop.customers", RightColumn: "id"},
			},
			Embedding: []float32{0.1, 0.2},
		},
		{
			ID:               "ex-skus",
			Description:      "Best selling SKUs",
			SQLText:          "SELECT sku, SUM(qty) FROM shop.order_items GROUP BY sku ORDER BY 2 DESC",
			ReferencedTables: []string{"shop.order_items"},
		},
		{
			ID:               "ex-orders",
			Description:      "Orders placed today",
			SQLText:          "SELECT id FROM shop.orders WHERE created_at >= CURRENT_DATE",
			ReferencedTables: []string{"shop.orders"},
		},
	}
}
