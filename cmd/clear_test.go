package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/ragsql/internal/cache"
)

func TestRunClear(t *testing.T) {
	tests := []struct {
		name        string
		examples    int
		force       bool
		input       string
		wantCleared bool
		contains    string
	}{
		{name: "already empty", examples: 0, force: true, contains: "Index is already empty"},
		{name: "force skips the prompt", examples: 3, force: true, wantCleared: true, contains: "Index cleared successfully"},
		{name: "confirmed", examples: 3, input: "yes\n", wantCleared: true, contains: "Index cleared successfully"},
		{name: "confirmed without newline", examples: 3, input: "YES", wantCleared: true, contains: "Index cleared successfully"},
		{name: "declined", examples: 3, input: "no\n", contains: "Operation cancelled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &MockExampleStore{examples: sampleExamples()[:tt.examples]}

			var buf bytes.Buffer
			err := runClearWithStorage(context.Background(), tt.force, store, nil, strings.NewReader(tt.input), &buf)
			require.NoError(t, err)

			assert.Equal(t, tt.wantCleared, store.cleared)
			assert.Contains(t, buf.String(), tt.contains)

			if tt.examples > 0 {
				assert.Contains(t, buf.String(), "3 examples (index version 1)")
			}
		})
	}
}

func TestRunClearWithResultCache(t *testing.T) {
	ctx := context.Background()

	results, err := cache.NewFileCache(t.TempDir(), 10, time.Hour, 0)
	require.NoError(t, err)
	defer results.Close()

	require.NoError(t, results.Set(ctx, "sig-1", []byte("cached"), time.Hour))

	store := &MockExampleStore{}

	var buf bytes.Buffer
	require.NoError(t, runClearWithStorage(ctx, true, store, results, strings.NewReader(""), &buf))

	assert.True(t, store.cleared)
	assert.Contains(t, buf.String(), "every cached query result")

	stats, err := results.GetStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalEntries)
}
