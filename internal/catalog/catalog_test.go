package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shopTables() []TableSchema {
	return []TableSchema{
		{TableID: "shop.orders", Columns: []ColumnSchema{
			{Name: "id", DataType: "BIGINT"},
			{Name: "customer_id", DataType: "BIGINT"},
			{Name: "total", DataType: "DECIMAL(10,2)", Nullable: true},
		}},
		{TableID: "shop.customers", Columns: []ColumnSchema{
			{Name: "id", DataType: "BIGINT"},
			{Name: "name", DataType: "VARCHAR"},
		}},
		{TableID: "crm.customers", Columns: []ColumnSchema{
			{Name: "id", DataType: "BIGINT"},
		}},
	}
}

func TestCatalogLookups(t *testing.T) {
	c := MustNew(shopTables())

	assert.Equal(t, []string{"crm.customers", "shop.customers", "shop.orders"}, c.Tables())

	orders, ok := c.Resolve("SHOP.Orders")
	require.True(t, ok)
	assert.Equal(t, "shop.orders", orders.TableID)
	assert.Len(t, orders.Columns, 3)

	cols := c.ColumnsOf(`"shop"."orders"`)
	require.Len(t, cols, 3)
	assert.Equal(t, "customer_id", cols[1].Name)

	col, ok := c.Column("shop.orders", "TOTAL")
	require.True(t, ok)
	assert.True(t, col.Nullable)
}

func TestCatalogMissingTableIsNotAnError(t *testing.T) {
	c := MustNew(shopTables())

	_, ok := c.Resolve("shop.refunds")
	assert.False(t, ok)
	assert.Nil(t, c.ColumnsOf("shop.refunds"))

	_, ok = c.Column("shop.orders", "discount")
	assert.False(t, ok)
}

func TestCatalogShortNames(t *testing.T) {
	c := MustNew(shopTables())

	id, ok := c.CanonicalID("orders")
	require.True(t, ok)
	assert.Equal(t, "shop.orders", id)

	// "customers" exists in two schemas, so the bare name is ambiguous
	assert.False(t, c.Has("customers"))
	assert.True(t, c.Has("crm.customers"))
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	_, err := New([]TableSchema{
		{TableID: "a", Columns: []ColumnSchema{{Name: "x"}, {Name: "X"}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate column")

	_, err = New([]TableSchema{{TableID: "a"}, {TableID: "A"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate table")
}

func TestCatalogReturnsCopies(t *testing.T) {
	c := MustNew(shopTables())

	tables := c.Tables()
	tables[0] = "mutated"
	cols := c.ColumnsOf("shop.orders")
	cols[0].Name = "mutated"

	assert.Equal(t, "crm.customers", c.Tables()[0])
	assert.Equal(t, "id", c.ColumnsOf("shop.orders")[0].Name)
}

func TestRender(t *testing.T) {
	c := MustNew(shopTables())

	out := c.Render([]string{"shop.customers", "nope"})
	assert.Equal(t, "TABLE shop.customers (\n  id BIGINT NOT NULL,\n  name VARCHAR NOT NULL\n)\n", out)
}

type flakySource struct {
	mu     sync.Mutex
	tables []TableSchema
	err    error
}

func (f *flakySource) Name() string { return "flaky" }

func (f *flakySource) Load(context.Context) ([]TableSchema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.tables, f.err
}

func TestStoreReloadSwapsSnapshot(t *testing.T) {
	ctx := context.Background()
	src := &flakySource{tables: shopTables()[:1]}

	store, err := NewStore(ctx, src)
	require.NoError(t, err)

	before := store.Current()
	assert.Equal(t, 1, before.Len())

	src.tables = shopTables()
	require.NoError(t, store.Reload(ctx))

	assert.Equal(t, 3, store.Current().Len())
	assert.Equal(t, 1, before.Len(), "old snapshot must stay intact")

	src.err = errors.New("warehouse down")
	require.Error(t, store.Reload(ctx))
	assert.Equal(t, 3, store.Current().Len(), "failed reload keeps the current snapshot")
}

func TestNewStoreFailsOnBadSource(t *testing.T) {
	_, err := NewStore(context.Background(), &flakySource{err: errors.New("nope")})
	assert.Error(t, err)
}

func TestCSVSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.csv")
	content := strings.Join([]string{
		"table_id,column,data_type,nullable",
		"shop.orders,id,bigint,false",
		"shop.orders,total,decimal,true",
		"shop.customers,id,bigint,",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	tables, err := CSVSource{Path: path}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 2)

	assert.Equal(t, "shop.orders", tables[0].TableID)
	assert.Equal(t, "DECIMAL", tables[0].Columns[1].DataType)
	assert.False(t, tables[0].Columns[0].Nullable)
	assert.True(t, tables[1].Columns[0].Nullable)
}

func TestCSVSourceErrors(t *testing.T) {
	_, err := parseCSV(context.Background(), strings.NewReader("table,col\nx,y"))
	assert.ErrorContains(t, err, "table_id")

	_, err = parseCSV(context.Background(), strings.NewReader("table_id,column,data_type,nullable\nx,y,int,maybe"))
	assert.ErrorContains(t, err, "invalid nullable")
}

func TestParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.parquet")
	require.NoError(t, WriteParquet(path, shopTables()))

	tables, err := ParquetSource{Path: path}.Load(context.Background())
	require.NoError(t, err)

	c, err := New(tables)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Len())

	col, ok := c.Column("shop.orders", "total")
	require.True(t, ok)
	assert.True(t, col.Nullable)
}

func TestJSONSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"table_id":"a.b","columns":[{"name":"c","data_type":"INT"}]}]`), 0600))

	tables, err := JSONSource{Path: path}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "c", tables[0].Columns[0].Name)
}

func TestSQLSource(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT table_schema, table_name").WillReturnRows(
		sqlmock.NewRows([]string{"table_schema", "table_name", "column_name", "data_type", "is_nullable"}).
			AddRow("main", "orders", "id", "BIGINT", "NO").
			AddRow("main", "orders", "note", "VARCHAR", "YES").
			AddRow("main", "users", "id", "BIGINT", "NO"),
	)

	tables, err := SQLSource{DB: db}.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "main.orders", tables[0].TableID)
	assert.True(t, tables[0].Columns[1].Nullable)
	assert.False(t, tables[0].Columns[0].Nullable)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceFromConfig(t *testing.T) {
	src, err := SourceFromConfig("parquet", "x.parquet")
	require.NoError(t, err)
	assert.Equal(t, "parquet:x.parquet", src.Name())

	_, err = SourceFromConfig("warehouse", "")
	assert.Error(t, err)
}
