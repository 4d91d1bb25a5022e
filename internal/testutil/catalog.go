package testutil

import "github.com/kyleking/ragsql/internal/catalog"

// TestTables is a small shop schema: customers, orders and order items
func TestTables() []catalog.TableSchema {
	return []catalog.TableSchema{
		{TableID: "shop.orders", Columns: []catalog.ColumnSchema{
			{Name: "id", DataType: "BIGINT"},
			{Name: "customer_id", DataType: "BIGINT"},
			{Name: "total", DataType: "DECIMAL(10,2)", Nullable: true},
			{Name: "created_at", DataType: "TIMESTAMP"},
		}},
		{TableID: "shop.customers", Columns: []catalog.ColumnSchema{
			{Name: "id", DataType: "BIGINT"},
			{Name: "name", DataType: "VARCHAR"},
			{Name: "region", DataType: "VARCHAR", Nullable: true},
		}},
		{TableID: "shop.order_items", Columns: []catalog.ColumnSchema{
			{Name: "order_id", DataType: "BIGINT"},
			{Name: "sku", DataType: "VARCHAR"},
			{Name: "qty", DataType: "INTEGER"},
		}},
	}
}

// TestCatalog builds a catalog over TestTables
func TestCatalog() *catalog.Catalog {
	return catalog.MustNew(TestTables())
}
