package assembler

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/ragsql/internal/catalog"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/index"
	"github.com/kyleking/ragsql/internal/testutil"
)

func testCatalog() *catalog.Catalog {
	return testutil.TestCatalog()
}

func hits(records ...index.ExampleRecord) index.RetrievalResult {
	out := make(index.RetrievalResult, len(records))
	for i, rec := range records {
		out[i] = index.Hit{Record: rec, Score: 1.0 - float64(i)*0.1}
	}

	return out
}

func ids(records []index.ExampleRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}

	return out
}

var (
	aggExample = testutil.NewTestExample("agg",
		testutil.WithSQL("SELECT region, COUNT(*) FROM shop.customers GROUP BY region"),
		testutil.WithTables("shop.customers"))
	joinExample = testutil.NewTestExample("join",
		testutil.WithSQL("SELECT o.id, c.name FROM shop.orders o JOIN shop.customers c ON o.customer_id = c.id"),
		testutil.WithTables("shop.orders", "shop.customers"),
		testutil.WithJoin("shop.orders", "customer_id", "shop.customers", "id"))
	plainExample = testutil.NewTestExample("plain",
		testutil.WithSQL("SELECT sku, qty FROM shop.order_items WHERE qty > 10"),
		testutil.WithTables("shop.order_items"))
	windowExample = testutil.NewTestExample("window",
		testutil.WithSQL("SELECT id, ROW_NUMBER() OVER (PARTITION BY customer_id ORDER BY created_at) FROM shop.orders"),
		testutil.WithTables("shop.orders"))
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 1, EstimateTokens("éééé"), "counts runes, not bytes")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		sql  string
		want Pattern
	}{
		{"SELECT SUM(x) OVER (ORDER BY y) FROM t GROUP BY z", PatternWindow},
		{"SELECT RANK() OVER w FROM t WINDOW w AS (ORDER BY x)", PatternWindow},
		{"SELECT * FROM t WHERE id IN (SELECT id FROM u) GROUP BY 1", PatternSubquery},
		{"SELECT a, COUNT(*) FROM t JOIN u ON t.id = u.id GROUP BY a", PatternAggregation},
		{"SELECT max(x) FROM t", PatternAggregation},
		{"SELECT * FROM t LEFT JOIN u ON t.id = u.id", PatternJoin},
		{"SELECT * FROM t WHERE note = 'JOIN over (select'", PatternPlain},
		{"SELECT 1", PatternPlain},
		{"SELECT 'unterminated", PatternPlain},
	}

	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.sql))
		})
	}
}

func TestDiversify(t *testing.T) {
	agg2 := testutil.NewTestExample("agg2", testutil.WithSQL("SELECT SUM(qty) FROM shop.order_items"))

	out := Diversify([]index.ExampleRecord{aggExample, agg2, plainExample, joinExample, windowExample})

	assert.Equal(t, []string{"window", "agg", "join", "plain", "agg2"}, ids(out))
	assert.Empty(t, Diversify(nil))
}

func TestJaccard(t *testing.T) {
	a := sqlWords("SELECT id FROM orders")
	b := sqlWords("select ID from ORDERS")
	c := sqlWords("SELECT id, total FROM orders")

	assert.Equal(t, 1.0, Jaccard(a, b))
	assert.InDelta(t, 0.8, Jaccard(a, c), 1e-9)
	assert.Equal(t, 1.0, Jaccard(map[string]bool{}, map[string]bool{}))
	assert.Equal(t, 0.0, Jaccard(a, map[string]bool{}))

	commented := sqlWords("SELECT id /* top spenders by region */ FROM orders -- weekly report")
	assert.Equal(t, 1.0, Jaccard(a, commented), "comment words do not count")
}

func TestDedup(t *testing.T) {
	first := testutil.NewTestExample("first", testutil.WithSQL("SELECT id, total FROM shop.orders WHERE total > 100"))
	near := testutil.NewTestExample("near", testutil.WithSQL("select id, total from shop.orders where total > 500"))
	other := testutil.NewTestExample("other", testutil.WithSQL("SELECT name FROM shop.customers"))

	kept := Dedup([]index.ExampleRecord{first, near, other}, DefaultDedupThreshold)
	assert.Equal(t, []string{"first", "other"}, ids(kept))

	assert.Equal(t, ids(kept), ids(Dedup(kept, DefaultDedupThreshold)), "dedup is idempotent")

	all := Dedup([]index.ExampleRecord{first, near, other}, 1.0)
	assert.Len(t, all, 3, "nothing exceeds a threshold of 1")
}

func TestQuestionTables(t *testing.T) {
	a := New(testCatalog(), Options{})

	assert.Equal(t, []string{"shop.orders"}, a.QuestionTables("how many orders were placed"))
	assert.Equal(t, []string{"shop.customers", "shop.order_items"},
		a.QuestionTables("join SHOP.CUSTOMERS with order_items"))
	assert.Empty(t, a.QuestionTables("reorders per month"), "matches whole words only")

	ambiguous := New(catalog.MustNew([]catalog.TableSchema{
		{TableID: "shop.orders", Columns: []catalog.ColumnSchema{{Name: "id", DataType: "INT"}}},
		{TableID: "archive.orders", Columns: []catalog.ColumnSchema{{Name: "id", DataType: "INT"}}},
	}), Options{})

	assert.Empty(t, ambiguous.QuestionTables("count orders"), "ambiguous short names do not resolve")
	assert.Equal(t, []string{"archive.orders"}, ambiguous.QuestionTables("count archive.orders"))
}

func TestBuild(t *testing.T) {
	a := New(testCatalog(), Options{})
	question := "Which region has the most customers?"

	ghost := testutil.NewTestExample("ghost",
		testutil.WithSQL("SELECT * FROM analytics.events"),
		testutil.WithTables("analytics.events"))

	ctx, err := a.Build(question, hits(aggExample, joinExample, ghost), []string{"order_items"}, DefaultTokenBudget)
	require.NoError(t, err)

	assert.Equal(t, []string{"shop.customers", "shop.order_items", "shop.orders"}, ctx.Tables)
	assert.Equal(t, []string{"analytics.events"}, ctx.MissingTables)
	assert.Equal(t, []string{"agg", "join", "ghost"}, ids(ctx.Examples))
	assert.Equal(t, []Pattern{PatternAggregation, PatternJoin, PatternPlain}, ctx.Patterns)
	assert.Zero(t, ctx.DroppedForBudget)
	assert.False(t, ctx.Narrowed)

	assert.Contains(t, ctx.SchemaExcerpt, "TABLE shop.customers (")
	assert.Contains(t, ctx.SchemaExcerpt, "TABLE shop.order_items (")
	assert.Contains(t, ctx.ExampleBlock, "-- Example 2: Revenue per region")
	assert.Contains(t, ctx.ExampleBlock, "-- INNER JOIN shop.orders.customer_id = shop.customers.id")

	schemaAt := strings.Index(ctx.Prompt, "### Schema")
	examplesAt := strings.Index(ctx.Prompt, "### Examples")
	questionAt := strings.Index(ctx.Prompt, "### Question\n"+question)
	assert.True(t, schemaAt >= 0 && schemaAt < examplesAt && examplesAt < questionAt, "sections in reading order")
	assert.True(t, strings.HasSuffix(ctx.Prompt, answerInstruction))

	assert.LessOrEqual(t, ctx.TokenCount, ctx.TokenBudget)
	assert.GreaterOrEqual(t, ctx.TokenCount, EstimateTokens(ctx.Prompt))
}

func TestBuildIsDeterministic(t *testing.T) {
	a := New(testCatalog(), Options{})
	retrieval := hits(windowExample, aggExample, joinExample, plainExample)

	first, err := a.Build("orders by customer", retrieval, nil, 600)
	require.NoError(t, err)

	for range 5 {
		again, err := a.Build("orders by customer", retrieval, nil, 600)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBuildStopsAtFirstExampleThatDoesNotFit(t *testing.T) {
	a := New(testCatalog(), Options{})
	question := "list order items"

	small1 := testutil.NewTestExample("small1", testutil.WithDescription("one"),
		testutil.WithSQL("SELECT sku FROM shop.order_items"), testutil.WithTables("shop.order_items"))
	big := testutil.NewTestExample("big", testutil.WithDescription("big"),
		testutil.WithSQL("SELECT "+strings.Repeat("qty + ", 200)+"qty FROM shop.order_items"),
		testutil.WithTables("shop.order_items"))
	small2 := testutil.NewTestExample("small2", testutil.WithDescription("two"),
		testutil.WithSQL("SELECT order_id FROM shop.order_items LIMIT 5"), testutil.WithTables("shop.order_items"))

	schema := testCatalog().Render([]string{"shop.order_items"})
	frame := FrameTokens(question, schema)

	// room for the two small examples but not the big one between them
	builder := NewBuilder(1 << 20)
	require.True(t, builder.SetFrame(question, schema))
	require.True(t, builder.AddExample(small1))
	budget := builder.Tokens() + 60

	ctx, err := a.Build(question, hits(small1, big, small2), nil, budget)
	require.NoError(t, err)

	assert.Equal(t, []string{"small1"}, ids(ctx.Examples), "examples are never skipped or truncated")
	assert.Equal(t, 2, ctx.DroppedForBudget)
	assert.Greater(t, ctx.TokenCount, frame)
	assert.LessOrEqual(t, ctx.TokenCount, budget)
	assert.NotContains(t, ctx.Prompt, "small2")
}

func TestBuildNarrowsSchemaToQuestionTables(t *testing.T) {
	a := New(testCatalog(), Options{})
	question := "total qty in order_items"

	full := testCatalog().Render([]string{"shop.customers", "shop.order_items", "shop.orders"})
	narrow := testCatalog().Render([]string{"shop.order_items"})
	budget := FrameTokens(question, narrow) + 5

	require.Greater(t, FrameTokens(question, full), budget)

	ctx, err := a.Build(question, hits(joinExample, plainExample), nil, budget)
	require.NoError(t, err)

	assert.True(t, ctx.Narrowed)
	assert.Equal(t, []string{"shop.order_items"}, ctx.Tables)
	assert.NotContains(t, ctx.SchemaExcerpt, "shop.customers")
	assert.LessOrEqual(t, ctx.TokenCount, budget)
}

func TestBuildBudgetExceeded(t *testing.T) {
	a := New(testCatalog(), Options{})

	t.Run("question tables still too large", func(t *testing.T) {
		_, err := a.Build("orders and customers", hits(joinExample), nil, 20)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeBudgetExceeded))
		assert.Contains(t, err.Error(), "only 20 are available")
	})

	t.Run("nothing named in the question", func(t *testing.T) {
		question := "what sells best"
		schema := testCatalog().Render([]string{"shop.customers", "shop.orders"})

		_, err := a.Build(question, hits(joinExample), nil, 30)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeBudgetExceeded))
		assert.Contains(t, err.Error(), fmt.Sprintf("needs %d tokens", FrameTokens(question, schema)))
	})
}

func TestBuildInputValidation(t *testing.T) {
	a := New(testCatalog(), Options{})

	_, err := a.Build("q", nil, nil, 0)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	_, err = a.Build("  ", nil, nil, 100)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestBuildWithoutExamples(t *testing.T) {
	a := New(testCatalog(), Options{})

	ctx, err := a.Build("count customers", nil, nil, DefaultTokenBudget)
	require.NoError(t, err)

	assert.Empty(t, ctx.Examples)
	assert.Empty(t, ctx.ExampleBlock)
	assert.NotContains(t, ctx.Prompt, "### Examples")
	assert.Equal(t, []string{"shop.customers"}, ctx.Tables)
}

func TestNewDefaultsAndNilCatalog(t *testing.T) {
	a := New(nil, Options{DedupThreshold: 5})
	assert.Equal(t, DefaultDedupThreshold, a.opts.DedupThreshold)

	ctx, err := a.Build("anything", hits(plainExample), nil, DefaultTokenBudget)
	require.NoError(t, err)
	assert.Empty(t, ctx.Tables)
	assert.Equal(t, []string{"shop.order_items"}, ctx.MissingTables)
}
