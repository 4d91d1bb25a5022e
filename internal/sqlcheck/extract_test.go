package sqlcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/ragsql/internal/errors"
)

func TestExtractSQL(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{
			name:     "sql fence",
			response: "Here you go:\n```sql\nSELECT 1\n```\nLet me know!",
			want:     "SELECT 1",
		},
		{
			name:     "sql fence preferred over earlier fences",
			response: "```text\nnot this\n```\n```sql\nSELECT 2\n```",
			want:     "SELECT 2",
		},
		{
			name:     "language tag is case-insensitive",
			response: "```SQL\nSELECT 3\n```",
			want:     "SELECT 3",
		},
		{
			name:     "untagged fence",
			response: "```\nSELECT 4\n```",
			want:     "SELECT 4",
		},
		{
			name:     "unclosed fence",
			response: "```sql\nSELECT 5\nFROM t",
			want:     "SELECT 5\nFROM t",
		},
		{
			name:     "extraction does not judge the statement",
			response: "```sql\nDROP TABLE t\n```",
			want:     "DROP TABLE t",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractSQL(tt.response)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractSQLErrors(t *testing.T) {
	for _, response := range []string{
		"SELECT 1",
		"",
		"```sql\n   \n```",
	} {
		_, err := ExtractSQL(response)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeGeneration))
		assert.True(t, errors.IsRetryable(err))
	}
}
