package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	"github.com/kyleking/ragsql/internal/types"
)

// ErrCorruptIndex is returned when stored examples disagree with the index metadata
var ErrCorruptIndex = errors.New("example index is corrupt")

// DuckDBStore implements ExampleStore on a DuckDB file
type DuckDBStore struct {
	db           *sql.DB
	path         string
	queryTimeout time.Duration
}

// NewDuckDBStore opens or creates the DuckDB store at dbPath with connection pooling
func NewDuckDBStore(dbPath string) (*DuckDBStore, error) {
	if dbPath != "" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DuckDBStore{db: db, path: dbPath}, nil
}

// OpenExistingDuckDBStore opens a store that must already exist on disk. A
// missing file is reported as ErrNoIndex instead of creating an empty store.
func OpenExistingDuckDBStore(dbPath string) (*DuckDBStore, error) {
	if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s does not exist (run 'ragsql index' first)", ErrNoIndex, dbPath)
		}

		return nil, fmt.Errorf("failed to stat database: %w", err)
	}

	return NewDuckDBStore(dbPath)
}

// DB exposes the underlying connection pool
func (s *DuckDBStore) DB() *sql.DB {
	return s.db
}

// Path returns the database file path
func (s *DuckDBStore) Path() string {
	return s.path
}

// Initialize creates the database schema using migrations
func (s *DuckDBStore) Initialize(ctx context.Context) error {
	return NewMigrationManager(s.db).MigrateUp(ctx)
}

func (s *DuckDBStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, s.queryTimeout)
}

// ReplaceExamples swaps the stored index for records and meta in one transaction
func (s *DuckDBStore) ReplaceExamples(ctx context.Context, records []types.ExampleRecord, meta IndexMeta) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"example_tables", "examples", "index_meta"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	insertExampleSQL := `
	INSERT INTO examples (
		id, position, sql_text, description, referenced_tables, joins, embedding, dimensions
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	for i, rec := range records {
		// DuckDB doesn't bind []string or structs directly, so lists are stored as JSON
		tablesJSON, err := json.Marshal(nonNil(rec.ReferencedTables))
		if err != nil {
			return fmt.Errorf("failed to marshal tables of %s: %w", rec.ID, err)
		}

		joinsJSON, err := json.Marshal(nonNilJoins(rec.Joins))
		if err != nil {
			return fmt.Errorf("failed to marshal joins of %s: %w", rec.ID, err)
		}

		embeddingJSON, err := json.Marshal(rec.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding of %s: %w", rec.ID, err)
		}

		_, err = tx.ExecContext(ctx, insertExampleSQL,
			rec.ID, i, rec.SQLText, rec.Description,
			string(tablesJSON), string(joinsJSON), string(embeddingJSON), len(rec.Embedding),
		)
		if err != nil {
			return fmt.Errorf("failed to insert example %s: %w", rec.ID, err)
		}

		for _, table := range rec.ReferencedTables {
			_, err = tx.ExecContext(ctx,
				"INSERT INTO example_tables (example_id, table_id) VALUES (?, ?)", rec.ID, table)
			if err != nil {
				return fmt.Errorf("failed to insert table of example %s: %w", rec.ID, err)
			}
		}
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO index_meta (id, version, record_count, dimensions, distance, embedding_model, built_at)
	VALUES (1, ?, ?, ?, ?, ?, ?)`,
		meta.Version, len(records), meta.Dimensions, meta.Distance, meta.EmbeddingModel, meta.BuiltAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record index metadata: %w", err)
	}

	return tx.Commit()
}

// LoadExamples returns every stored example in index order with the metadata of
// the build. A store without metadata yields ErrNoIndex; records that disagree
// with the metadata yield ErrCorruptIndex.
func (s *DuckDBStore) LoadExamples(ctx context.Context) ([]types.ExampleRecord, *IndexMeta, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	meta, err := s.loadMeta(ctx)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT id, sql_text, description, referenced_tables, joins, embedding, dimensions
	FROM examples ORDER BY position`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query examples: %w", err)
	}
	defer rows.Close()

	records := make([]types.ExampleRecord, 0, meta.RecordCount)

	for rows.Next() {
		rec, dims, err := scanExample(rows)
		if err != nil {
			return nil, nil, err
		}

		if dims != meta.Dimensions || len(rec.Embedding) != meta.Dimensions {
			return nil, nil, fmt.Errorf("%w: example %s has %d dimensions, index has %d",
				ErrCorruptIndex, rec.ID, len(rec.Embedding), meta.Dimensions)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read examples: %w", err)
	}

	if len(records) != meta.RecordCount {
		return nil, nil, fmt.Errorf("%w: found %d examples, metadata records %d",
			ErrCorruptIndex, len(records), meta.RecordCount)
	}

	return records, meta, nil
}

func (s *DuckDBStore) loadMeta(ctx context.Context) (*IndexMeta, error) {
	var (
		meta  IndexMeta
		model sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `
	SELECT version, record_count, dimensions, distance, embedding_model, built_at
	FROM index_meta WHERE id = 1`).Scan(
		&meta.Version, &meta.RecordCount, &meta.Dimensions, &meta.Distance, &model, &meta.BuiltAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoIndex
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read index metadata: %w", err)
	}

	meta.EmbeddingModel = model.String

	return &meta, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExample(row rowScanner) (types.ExampleRecord, int, error) {
	var (
		rec                                 types.ExampleRecord
		description                         sql.NullString
		tablesJSON, joinsJSON, embeddingStr string
		dims                                int
	)

	if err := row.Scan(&rec.ID, &rec.SQLText, &description, &tablesJSON, &joinsJSON, &embeddingStr, &dims); err != nil {
		return rec, 0, fmt.Errorf("failed to scan example: %w", err)
	}

	rec.Description = description.String

	if err := json.Unmarshal([]byte(tablesJSON), &rec.ReferencedTables); err != nil {
		return rec, 0, fmt.Errorf("%w: example %s has unreadable tables: %v", ErrCorruptIndex, rec.ID, err)
	}

	if err := json.Unmarshal([]byte(joinsJSON), &rec.Joins); err != nil {
		return rec, 0, fmt.Errorf("%w: example %s has unreadable joins: %v", ErrCorruptIndex, rec.ID, err)
	}

	if err := json.Unmarshal([]byte(embeddingStr), &rec.Embedding); err != nil {
		return rec, 0, fmt.Errorf("%w: example %s has an unreadable embedding: %v", ErrCorruptIndex, rec.ID, err)
	}

	if len(rec.ReferencedTables) == 0 {
		rec.ReferencedTables = nil
	}

	if len(rec.Joins) == 0 {
		rec.Joins = nil
	}

	return rec, dims, nil
}

// GetExample returns one stored example
func (s *DuckDBStore) GetExample(ctx context.Context, id string) (*types.ExampleRecord, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, sql_text, description, referenced_tables, joins, embedding, dimensions
	FROM examples WHERE id = ?`, id)

	rec, _, err := scanExample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrExampleNotFound, id)
	}

	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// ListExamples returns examples in index order with pagination
func (s *DuckDBStore) ListExamples(ctx context.Context, limit, offset int) ([]types.ExampleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, sql_text, description, referenced_tables, joins, embedding, dimensions
	FROM examples ORDER BY position LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list examples: %w", err)
	}
	defer rows.Close()

	var records []types.ExampleRecord

	for rows.Next() {
		rec, _, err := scanExample(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

// GetStats returns database statistics
func (s *DuckDBStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{TableBreakdown: make(map[string]int)}

	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM examples").Scan(&stats.TotalExamples)
	if err != nil {
		return nil, fmt.Errorf("failed to get example count: %w", err)
	}

	meta, err := s.loadMeta(ctx)
	switch {
	case errors.Is(err, ErrNoIndex):
	case err != nil:
		return nil, err
	default:
		stats.IndexVersion = meta.Version
		stats.Dimensions = meta.Dimensions
		stats.LastBuiltAt = meta.BuiltAt
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.DatabaseSizeMB = float64(info.Size()) / (1024 * 1024)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT table_id, COUNT(*) FROM example_tables GROUP BY table_id ORDER BY COUNT(*) DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to get table breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			table string
			count int
		)

		if err := rows.Scan(&table, &count); err != nil {
			return nil, err
		}

		stats.TableBreakdown[table] = count
	}

	return stats, rows.Err()
}

// Clear removes all data from the database
func (s *DuckDBStore) Clear(ctx context.Context) error {
	for _, table := range []string{"example_tables", "examples", "index_meta"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	return nil
}

// Close closes the database connection
func (s *DuckDBStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}

	return s
}

func nonNilJoins(j []types.JoinSpec) []types.JoinSpec {
	if j == nil {
		return []types.JoinSpec{}
	}

	return j
}
