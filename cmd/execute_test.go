package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/executor"
	"github.com/kyleking/ragsql/internal/formatter"
)

func TestRunExecute(t *testing.T) {
	t.Run("rows", func(t *testing.T) {
		exec := &mockExecutor{result: &executor.Result{
			Success:        true,
			Columns:        []string{"region", "revenue"},
			Rows:           [][]any{{"emea", 120.5}, {nil, 3}},
			RowCount:       2,
			BytesProcessed: 2048,
			BytesBilled:    10 << 20,
			ExecutionTime:  42 * time.Millisecond,
			JobID:          "job-1",
		}}

		var buf bytes.Buffer
		require.NoError(t, runExecute(context.Background(), exec, "SELECT 1", false, 1<<30, formatter.FormatLong, &buf))

		require.Len(t, exec.calls, 1)
		assert.Equal(t, mockExecCall{sql: "SELECT 1", dryRun: false, maxBytesBilled: 1 << 30}, exec.calls[0])

		out := buf.String()
		assert.Contains(t, out, "2 rows from warehouse")
		assert.Contains(t, out, "(job job-1)")
		assert.Contains(t, out, "emea")
		assert.Contains(t, out, "NULL")
	})

	t.Run("dry run", func(t *testing.T) {
		exec := &mockExecutor{result: &executor.Result{Success: true, DryRun: true, BytesProcessed: 4096}}

		var buf bytes.Buffer
		require.NoError(t, runExecute(context.Background(), exec, "SELECT 1", true, 100, formatter.FormatLong, &buf))

		assert.True(t, exec.calls[0].dryRun)
		assert.Contains(t, buf.String(), "Dry run:")
		assert.Contains(t, buf.String(), "would be processed")
	})

	t.Run("failure keeps the result", func(t *testing.T) {
		exec := &mockExecutor{
			result: &executor.Result{Success: false, ErrorMessage: "estimate exceeds the cost ceiling"},
			err:    errors.NewExecutionError(errors.ReasonCostCeiling, nil, "estimate exceeds the cost ceiling"),
		}

		var buf bytes.Buffer
		err := runExecute(context.Background(), exec, "SELECT * FROM shop.orders", false, 1, formatter.FormatLong, &buf)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeExecution))
		assert.Contains(t, buf.String(), "Execution failed: estimate exceeds the cost ceiling")
	})

	t.Run("json", func(t *testing.T) {
		exec := &mockExecutor{result: &executor.Result{Success: true, CacheHit: true, Signature: "abc"}}

		var buf bytes.Buffer
		require.NoError(t, runExecute(context.Background(), exec, "SELECT 1", false, 1, formatter.FormatJSON, &buf))

		assert.Contains(t, buf.String(), `"cache_hit": true`)
		assert.Contains(t, buf.String(), `"signature": "abc"`)
	})

	t.Run("no result", func(t *testing.T) {
		exec := &mockExecutor{err: errors.New(errors.ErrTypeExecution, "refused")}

		var buf bytes.Buffer
		err := runExecute(context.Background(), exec, "SELECT 1", false, 1, formatter.FormatLong, &buf)
		require.Error(t, err)
		assert.Empty(t, buf.String())
	})
}
