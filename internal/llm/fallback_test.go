package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/ragsql/internal/errors"
)

const promptWithExamples = `You are an expert SQL analyst.

### Schema
TABLE shop.orders (
  id INTEGER NOT NULL,
)

### Examples
-- Example 1: Revenue per region
-- INNER JOIN shop.orders.customer_id = shop.customers.id
SELECT c.region, SUM(o.total)
FROM shop.orders o JOIN shop.customers c ON o.customer_id = c.id
GROUP BY c.region
-- Example 2: Order count
SELECT COUNT(*) FROM shop.orders

### Question
revenue by region?
`

func TestFallbackProvider(t *testing.T) {
	f := NewFallbackProvider()
	assert.Equal(t, ProviderOffline, f.Name())

	text, err := f.Generate(context.Background(), promptWithExamples, "")
	require.NoError(t, err)
	assert.Equal(t, "```sql\nSELECT c.region, SUM(o.total)\nFROM shop.orders o JOIN shop.customers c ON o.customer_id = c.id\nGROUP BY c.region\n```", text)
}

func TestFallbackProviderWithoutExamples(t *testing.T) {
	_, err := NewFallbackProvider().Generate(context.Background(), "### Schema\n\n### Question\nq\n", "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeGeneration))
}

func TestFirstExampleSQLLastExample(t *testing.T) {
	prompt := "### Examples\n-- Example 1: only\nSELECT 1\n\n### Question\nq"
	assert.Equal(t, "SELECT 1", firstExampleSQL(prompt))
}
