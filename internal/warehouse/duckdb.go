package warehouse

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/sqlcheck"
)

// bytesPerValue is the width assumed for every column when sizing a DuckDB scan
const bytesPerValue = 8

const duckdbTableSizeQuery = `
	SELECT estimated_size, column_count
	FROM duckdb_tables()
	WHERE lower(schema_name) = lower(?) AND lower(table_name) = lower(?)`

// OpenDuckDB opens a DuckDB database file. An empty dsn opens an in-memory
// database. Paths are expected to be expanded already.
func OpenDuckDB(dsn string, maxRows int) (*SQLClient, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to open DuckDB warehouse")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to connect to DuckDB warehouse").
			WithSuggestion("Check the warehouse dsn path")
	}

	return newSQLClient(db, duckdbDialect{}, maxRows), nil
}

type duckdbDialect struct{}

func (duckdbDialect) name() string { return "duckdb" }

// estimate plans the statement with EXPLAIN, then sizes every base table it
// reads as estimated rows times columns times eight bytes
func (duckdbDialect) estimate(ctx context.Context, db *sql.DB, sqlText string) (Estimate, error) {
	rows, err := db.QueryContext(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return Estimate{}, err
	}

	for rows.Next() {
	}

	err = rows.Err()
	rows.Close()

	if err != nil {
		return Estimate{}, err
	}

	tables, err := sqlcheck.ReferencedTables(sqlText)
	if err != nil {
		// The engine accepted what the local parser did not; nothing to size.
		return Estimate{}, nil
	}

	est := Estimate{Tables: tables}

	for _, id := range tables {
		schema, table := splitTableID(id, "main")

		var size, columns int64

		err := db.QueryRowContext(ctx, duckdbTableSizeQuery, schema, table).Scan(&size, &columns)
		if stderrors.Is(err, sql.ErrNoRows) {
			continue
		}

		if err != nil {
			return Estimate{}, fmt.Errorf("failed to size table %s: %w", id, err)
		}

		est.BytesProcessed += size * columns * bytesPerValue
	}

	return est, nil
}

// DuckDB reports errors as "<Kind> Error: message"
func (duckdbDialect) classify(err error) errors.ExecutionReason {
	msg := err.Error()

	switch {
	case strings.Contains(msg, "INTERRUPT Error"), strings.Contains(msg, "Interrupt Error"):
		return errors.ReasonTimeout
	case strings.Contains(msg, "IO Error"), strings.Contains(msg, "Connection Error"),
		strings.Contains(msg, "Out of Memory Error"):
		return errors.ReasonTransient
	default:
		return errors.ReasonRejected
	}
}
