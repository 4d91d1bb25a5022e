// Package warehouse runs read-only SQL against the analytical database and
// estimates how much data a statement would scan before it runs.
package warehouse

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"net"
	"strings"

	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/logging"
)

// Estimate is the result of a dry run
type Estimate struct {
	BytesProcessed int64    `json:"bytes_processed"`
	Tables         []string `json:"tables,omitempty"`
}

// Rows is a fully materialized result set
type Rows struct {
	Columns        []string `json:"columns"`
	Values         [][]any  `json:"rows"`
	BytesProcessed int64    `json:"bytes_processed"`
	Truncated      bool     `json:"truncated,omitempty"`
}

// Client is the warehouse contract the executor depends on
type Client interface {
	DryRun(ctx context.Context, sqlText string) (Estimate, error)
	Run(ctx context.Context, sqlText string) (*Rows, error)
	Close() error
}

// dialect holds the engine-specific parts of a SQLClient
type dialect interface {
	name() string
	estimate(ctx context.Context, db *sql.DB, sqlText string) (Estimate, error)
	classify(err error) errors.ExecutionReason
}

// SQLClient implements Client over database/sql
type SQLClient struct {
	db      *sql.DB
	dialect dialect
	maxRows int
}

// NewClient opens the warehouse named by cfg.Driver
func NewClient(cfg config.WarehouseConfig, maxRows int) (*SQLClient, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "duckdb":
		return OpenDuckDB(cfg.DSN, maxRows)
	case "postgres":
		return OpenPostgres(cfg.DSN, maxRows)
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unsupported warehouse driver %q", cfg.Driver), "warehouse.driver")
	}
}

func newSQLClient(db *sql.DB, d dialect, maxRows int) *SQLClient {
	return &SQLClient{db: db, dialect: d, maxRows: maxRows}
}

// Dialect returns the engine name
func (c *SQLClient) Dialect() string {
	return c.dialect.name()
}

// DB exposes the connection for schema discovery
func (c *SQLClient) DB() *sql.DB {
	return c.db
}

// Close closes the database connection
func (c *SQLClient) Close() error {
	if c.db == nil {
		return nil
	}

	logging.Debugf("closing %s warehouse connection", c.dialect.name())

	return c.db.Close()
}

// DryRun asks the engine to plan sqlText without running it and estimates the
// bytes it would scan
func (c *SQLClient) DryRun(ctx context.Context, sqlText string) (Estimate, error) {
	est, err := c.dialect.estimate(ctx, c.db, sqlText)
	if err != nil {
		return Estimate{}, c.executionError(ctx, err, "dry run failed")
	}

	return est, nil
}

// Run executes sqlText and reads at most maxRows rows
func (c *SQLClient) Run(ctx context.Context, sqlText string) (*Rows, error) {
	rows, err := c.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, c.executionError(ctx, err, "query failed")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, c.executionError(ctx, err, "failed to read result columns")
	}

	result := &Rows{Columns: columns, Values: [][]any{}}

	for rows.Next() {
		if c.maxRows > 0 && len(result.Values) >= c.maxRows {
			result.Truncated = true
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))

		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, c.executionError(ctx, err, "failed to scan result row")
		}

		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}

		result.Values = append(result.Values, values)
	}

	if err := rows.Err(); err != nil {
		return nil, c.executionError(ctx, err, "failed to read result rows")
	}

	return result, nil
}

// executionError maps a driver error to an execution error with a reason.
// Deadlines become timeouts, broken connections are transient and everything
// else is left to the dialect.
func (c *SQLClient) executionError(ctx context.Context, err error, message string) error {
	var reason errors.ExecutionReason

	var netErr net.Error

	switch {
	case stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = errors.ReasonTimeout
	case stderrors.Is(err, context.Canceled):
		return errors.Wrap(err, errors.ErrTypeExecution, message+": canceled")
	case stderrors.Is(err, driver.ErrBadConn), stderrors.Is(err, sql.ErrConnDone), stderrors.As(err, &netErr):
		reason = errors.ReasonTransient
	default:
		reason = c.dialect.classify(err)
	}

	return errors.NewExecutionError(reason, err, fmt.Sprintf("%s: %s", message, err.Error()))
}

// splitTableID returns the schema and table of a dotted id, using
// defaultSchema for bare names. Catalog prefixes are dropped.
func splitTableID(id, defaultSchema string) (string, string) {
	parts := strings.Split(id, ".")
	if len(parts) == 1 {
		return defaultSchema, parts[0]
	}

	return parts[len(parts)-2], parts[len(parts)-1]
}
