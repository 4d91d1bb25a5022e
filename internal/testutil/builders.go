package testutil

import (
	"fmt"

	"github.com/kyleking/ragsql/internal/types"
)

// ExampleOption is a functional option for building test examples
type ExampleOption func(*types.ExampleRecord)

// WithSQL sets the example query text
func WithSQL(sql string) ExampleOption {
	return func(r *types.ExampleRecord) {
		r.SQLText = sql
	}
}

// WithDescription sets the example description
func WithDescription(desc string) ExampleOption {
	return func(r *types.ExampleRecord) {
		r.Description = desc
	}
}

// WithTables sets the referenced tables
func WithTables(tables ...string) ExampleOption {
	return func(r *types.ExampleRecord) {
		r.ReferencedTables = tables
	}
}

// WithJoin appends a join hint
func WithJoin(left, leftCol, right, rightCol string) ExampleOption {
	return func(r *types.ExampleRecord) {
		r.Joins = append(r.Joins, types.JoinSpec{
			LeftTable: left, LeftColumn: leftCol, RightTable: right, RightColumn: rightCol, Kind: "inner",
		})
	}
}

// WithEmbedding sets the embedding vector
func WithEmbedding(v ...float32) ExampleOption {
	return func(r *types.ExampleRecord) {
		r.Embedding = v
	}
}

// NewTestExample creates an example with sensible defaults and a unit embedding
// along the first axis
func NewTestExample(id string, opts ...ExampleOption) types.ExampleRecord {
	rec := types.ExampleRecord{
		ID:               id,
		SQLText:          TestSQL,
		Description:      TestDescription,
		ReferencedTables: []string{"shop.customers", "shop.orders"},
		Embedding:        UnitVector(TestDimensions, 0),
	}

	for _, opt := range opts {
		opt(&rec)
	}

	return rec
}

// NewTestExamples creates n examples whose embeddings rotate through the axes
func NewTestExamples(n int) []types.ExampleRecord {
	records := make([]types.ExampleRecord, n)
	for i := range records {
		records[i] = NewTestExample(fmt.Sprintf("ex-%03d", i),
			WithSQL(fmt.Sprintf("SELECT id, total FROM shop.orders WHERE id = %d", i)),
			WithDescription(fmt.Sprintf("Order number %d", i)),
			WithTables("shop.orders"),
			WithEmbedding(UnitVector(TestDimensions, i%TestDimensions)...),
		)
	}

	return records
}

// UnitVector returns a dims-wide vector with 1 at axis
func UnitVector(dims, axis int) []float32 {
	v := make([]float32, dims)
	v[axis%dims] = 1

	return v
}
