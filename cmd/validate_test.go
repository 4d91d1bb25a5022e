package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/formatter"
	"github.com/kyleking/ragsql/internal/sqlcheck"
	"github.com/kyleking/ragsql/internal/testutil"
)

func TestRunValidate(t *testing.T) {
	cat := testutil.TestCatalog()

	tests := []struct {
		name     string
		sql      string
		level    sqlcheck.Level
		format   formatter.OutputFormat
		wantErr  bool
		contains []string
	}{
		{
			name:     "valid join",
			sql:      "SELECT c.region, SUM(o.total) FROM shop.orders o JOIN shop.customers c ON o.customer_id = c.id GROUP BY c.region",
			level:    sqlcheck.SchemaStrict,
			format:   formatter.FormatLong,
			contains: []string{"Validation (schema_strict): valid", "tables: shop.orders, shop.customers"},
		},
		{
			name:     "unknown column",
			sql:      "SELECT refund_total FROM shop.orders",
			level:    sqlcheck.SchemaStrict,
			format:   formatter.FormatLong,
			wantErr:  true,
			contains: []string{"invalid", "unknown_column"},
		},
		{
			name:     "unknown column passes table level",
			sql:      "SELECT refund_total FROM shop.orders",
			level:    sqlcheck.TableExists,
			format:   formatter.FormatLong,
			contains: []string{"Validation (table_exists): valid"},
		},
		{
			name:     "blocked statement",
			sql:      "DELETE FROM shop.orders",
			level:    sqlcheck.SyntaxOnly,
			format:   formatter.FormatLong,
			wantErr:  true,
			contains: []string{"blocked_statement"},
		},
		{
			name:     "json report",
			sql:      "SELECT id FROM shop.refunds",
			level:    sqlcheck.TableExists,
			format:   formatter.FormatJSON,
			wantErr:  true,
			contains: []string{`"is_valid": false`, `"unknown_table"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := runValidate(tt.sql, cat, tt.level, tt.format, &buf)

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
			} else {
				require.NoError(t, err)
			}

			for _, want := range tt.contains {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

// runReadSQL parses args with the validate flags and returns what readSQL read
func runReadSQL(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var (
		got    string
		gotErr error
	)

	cmd := &cli.Command{
		Name:  "validate",
		Flags: []cli.Flag{&cli.StringFlag{Name: "file"}},
		Action: func(_ context.Context, cmd *cli.Command) error {
			got, gotErr = readSQL(cmd, strings.NewReader(stdin))
			return nil
		},
	}

	require.NoError(t, cmd.Run(context.Background(), append([]string{"validate"}, args...)))

	return got, gotErr
}

func TestReadSQL(t *testing.T) {
	t.Run("arguments are joined", func(t *testing.T) {
		got, err := runReadSQL(t, "", "SELECT", "id", "FROM", "shop.orders")
		require.NoError(t, err)
		assert.Equal(t, "SELECT id FROM shop.orders", got)
	})

	t.Run("stdin", func(t *testing.T) {
		got, err := runReadSQL(t, "SELECT 1\n", "--file", "-")
		require.NoError(t, err)
		assert.Equal(t, "SELECT 1\n", got)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "query.sql")
		require.NoError(t, os.WriteFile(path, []byte("SELECT sku FROM shop.order_items"), 0o644))

		got, err := runReadSQL(t, "", "--file", path)
		require.NoError(t, err)
		assert.Equal(t, "SELECT sku FROM shop.order_items", got)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := runReadSQL(t, "", "--file", filepath.Join(t.TempDir(), "nope.sql"))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeFileSystem))
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := runReadSQL(t, "   \n")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})
}
