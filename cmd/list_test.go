package cmd

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/formatter"
	"github.com/kyleking/ragsql/internal/types"
)

func TestRunList(t *testing.T) {
	tests := []struct {
		name        string
		examples    []types.ExampleRecord
		limit       int
		offset      int
		format      formatter.OutputFormat
		contains    []string
		notContains []string
	}{
		{
			name:     "empty index",
			examples: []types.ExampleRecord{},
			limit:    50,
			format:   formatter.FormatShort,
			contains: []string{"No examples found"},
		},
		{
			name:     "short format",
			examples: sampleExamples(),
			limit:    50,
			format:   formatter.FormatShort,
			contains: []string{"ex-revenue", "ex-skus", "ex-orders", "shop.order_items"},
		},
		{
			name:     "long format",
			examples: sampleExamples(),
			limit:    50,
			format:   formatter.FormatLong,
			contains: []string{"Example: ex-revenue", "Join: INNER shop.orders.customer_id = shop.customers.id", "Embedding: 2 dimensions", "Embedding: no"},
		},
		{
			name:     "json format",
			examples: sampleExamples()[:1],
			limit:    50,
			format:   formatter.FormatJSON,
			contains: []string{`"id": "ex-revenue"`, `"tables": [`},
		},
		{
			name:        "pagination",
			examples:    sampleExamples(),
			limit:       1,
			offset:      1,
			format:      formatter.FormatShort,
			contains:    []string{"ex-skus"},
			notContains: []string{"ex-revenue", "ex-orders"},
		},
		{
			name:     "offset past the end",
			examples: sampleExamples(),
			limit:    10,
			offset:   10,
			format:   formatter.FormatShort,
			contains: []string{"No examples found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &MockExampleStore{examples: tt.examples}

			var buf bytes.Buffer
			err := runListWithStorage(context.Background(), store, tt.limit, tt.offset, tt.format, &buf)
			require.NoError(t, err)

			for _, want := range tt.contains {
				assert.Contains(t, buf.String(), want)
			}

			for _, unwanted := range tt.notContains {
				assert.NotContains(t, buf.String(), unwanted)
			}
		})
	}
}

func TestRunListRejectsBadPagination(t *testing.T) {
	store := &MockExampleStore{examples: sampleExamples()}

	err := runListWithStorage(context.Background(), store, 0, 0, formatter.FormatShort, &bytes.Buffer{})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	err = runListWithStorage(context.Background(), store, 10, -1, formatter.FormatShort, &bytes.Buffer{})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestRunListStorageError(t *testing.T) {
	store := &MockExampleStore{err: fmt.Errorf("disk on fire")}

	err := runListWithStorage(context.Background(), store, 10, 0, formatter.FormatShort, &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeDatabase))
	assert.Contains(t, err.Error(), "disk on fire")
}
