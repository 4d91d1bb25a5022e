package catalog

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// columnRow is the flat one-row-per-column layout shared by the CSV and
// Parquet schema files.
type columnRow struct {
	TableID  string `parquet:"table_id"`
	Column   string `parquet:"column"`
	DataType string `parquet:"data_type"`
	Nullable bool   `parquet:"nullable"`
}

// groupRows folds flat column rows into tables, keeping first-seen order
func groupRows(rows []columnRow) []TableSchema {
	index := make(map[string]int)

	var tables []TableSchema

	for _, r := range rows {
		id := NormalizeIdent(r.TableID)

		i, ok := index[id]
		if !ok {
			i = len(tables)
			index[id] = i
			tables = append(tables, TableSchema{TableID: id})
		}

		tables[i].Columns = append(tables[i].Columns, ColumnSchema{
			TableID:  id,
			Name:     r.Column,
			DataType: strings.ToUpper(strings.TrimSpace(r.DataType)),
			Nullable: r.Nullable,
		})
	}

	return tables
}

// CSVSource reads "table_id,column,data_type[,nullable]" rows with a header line
type CSVSource struct {
	Path string
}

func (s CSVSource) Name() string { return "csv:" + s.Path }

func (s CSVSource) Load(ctx context.Context) ([]TableSchema, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema csv: %w", err)
	}
	defer f.Close()

	return parseCSV(ctx, f)
}

func parseCSV(ctx context.Context, r io.Reader) ([]TableSchema, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read schema csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	for _, required := range []string{"table_id", "column", "data_type"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("schema csv is missing the %q column", required)
		}
	}

	var rows []columnRow

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("schema csv line %d: %w", line, err)
		}

		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(record) {
				return ""
			}

			return strings.TrimSpace(record[i])
		}

		row := columnRow{
			TableID:  field("table_id"),
			Column:   field("column"),
			DataType: field("data_type"),
			Nullable: true,
		}

		if v := field("nullable"); v != "" {
			nullable, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("schema csv line %d: invalid nullable value %q", line, v)
			}

			row.Nullable = nullable
		}

		if row.TableID == "" || row.Column == "" {
			return nil, fmt.Errorf("schema csv line %d: table_id and column are required", line)
		}

		rows = append(rows, row)
	}

	return groupRows(rows), nil
}

// ParquetSource reads the same column layout as CSVSource from a Parquet file
type ParquetSource struct {
	Path string
}

func (s ParquetSource) Name() string { return "parquet:" + s.Path }

func (s ParquetSource) Load(ctx context.Context) ([]TableSchema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := parquet.ReadFile[columnRow](s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema parquet: %w", err)
	}

	return groupRows(rows), nil
}

// WriteParquet exports tables in the ParquetSource layout
func WriteParquet(path string, tables []TableSchema) error {
	var rows []columnRow

	for _, t := range tables {
		for _, c := range t.Columns {
			rows = append(rows, columnRow{
				TableID:  t.TableID,
				Column:   c.Name,
				DataType: c.DataType,
				Nullable: c.Nullable,
			})
		}
	}

	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("failed to write schema parquet: %w", err)
	}

	return nil
}

// JSONSource reads a JSON array of TableSchema
type JSONSource struct {
	Path string
}

func (s JSONSource) Name() string { return "json:" + s.Path }

func (s JSONSource) Load(ctx context.Context) ([]TableSchema, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema json: %w", err)
	}

	var tables []TableSchema
	if err := json.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("failed to parse schema json: %w", err)
	}

	return tables, nil
}

const informationSchemaQuery = `
SELECT table_schema, table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema NOT IN ('information_schema', 'pg_catalog')
ORDER BY table_schema, table_name, ordinal_position`

// SQLSource reads information_schema.columns from a live database. Both DuckDB
// and Postgres expose the same view.
type SQLSource struct {
	DB    *sql.DB
	Label string
}

func (s SQLSource) Name() string {
	if s.Label != "" {
		return s.Label
	}

	return "information_schema"
}

func (s SQLSource) Load(ctx context.Context) ([]TableSchema, error) {
	rows, err := s.DB.QueryContext(ctx, informationSchemaQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query information_schema: %w", err)
	}
	defer rows.Close()

	var flat []columnRow

	for rows.Next() {
		var schema, table, column, dataType, nullable string
		if err := rows.Scan(&schema, &table, &column, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("failed to scan information_schema row: %w", err)
		}

		flat = append(flat, columnRow{
			TableID:  schema + "." + table,
			Column:   column,
			DataType: dataType,
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read information_schema: %w", err)
	}

	return groupRows(flat), nil
}

// StaticSource serves a fixed table list
type StaticSource []TableSchema

func (s StaticSource) Name() string { return "static" }

func (s StaticSource) Load(_ context.Context) ([]TableSchema, error) {
	return s, nil
}

// SourceFromConfig picks a file source by kind; "warehouse" sources are built by
// the caller since they need an open connection.
func SourceFromConfig(kind, path string) (Source, error) {
	switch kind {
	case "csv":
		return CSVSource{Path: path}, nil
	case "parquet":
		return ParquetSource{Path: path}, nil
	case "json":
		return JSONSource{Path: path}, nil
	default:
		return nil, fmt.Errorf("unsupported schema source: %s", kind)
	}
}
