// Package catalog holds the table and column metadata SQL is validated against.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/logging"
)

// ColumnSchema describes one column of a table
type ColumnSchema struct {
	TableID  string `json:"table_id"`
	Name     string `json:"name"`
	DataType string `json:"data_type"`
	Nullable bool   `json:"nullable"`
}

// TableSchema describes a table by its fully-qualified id
type TableSchema struct {
	TableID string         `json:"table_id"`
	Columns []ColumnSchema `json:"columns"`
}

// Column looks up a column by name within the table
func (t TableSchema) Column(name string) (ColumnSchema, bool) {
	name = NormalizeIdent(name)
	for _, c := range t.Columns {
		if NormalizeIdent(c.Name) == name {
			return c, true
		}
	}

	return ColumnSchema{}, false
}

// Source produces the table list a catalog is built from
type Source interface {
	Load(ctx context.Context) ([]TableSchema, error)
	Name() string
}

// Catalog is an immutable snapshot of table metadata. Lookups are O(1).
type Catalog struct {
	tables    map[string]*TableSchema
	columns   map[string]map[string]ColumnSchema
	shortName map[string][]string
	ids       []string
	loadedAt  time.Time
}

// New builds a catalog from tables, rejecting duplicate tables and duplicate
// columns within a table.
func New(tables []TableSchema) (*Catalog, error) {
	c := &Catalog{
		tables:    make(map[string]*TableSchema, len(tables)),
		columns:   make(map[string]map[string]ColumnSchema, len(tables)),
		shortName: make(map[string][]string),
		loadedAt:  time.Now(),
	}

	for _, t := range tables {
		id := NormalizeIdent(t.TableID)
		if id == "" {
			return nil, errors.New(errors.ErrTypeValidation, "table with empty id")
		}

		if _, dup := c.tables[id]; dup {
			return nil, errors.Newf(errors.ErrTypeValidation, "duplicate table %s", id)
		}

		cols := make(map[string]ColumnSchema, len(t.Columns))
		normalized := TableSchema{TableID: id, Columns: make([]ColumnSchema, 0, len(t.Columns))}

		for _, col := range t.Columns {
			name := NormalizeIdent(col.Name)
			if _, dup := cols[name]; dup {
				return nil, errors.Newf(errors.ErrTypeValidation, "duplicate column %s in table %s", name, id)
			}

			col.TableID = id
			col.Name = name
			cols[name] = col
			normalized.Columns = append(normalized.Columns, col)
		}

		c.tables[id] = &normalized
		c.columns[id] = cols
		c.ids = append(c.ids, id)

		short := shortNameOf(id)
		c.shortName[short] = append(c.shortName[short], id)
	}

	sort.Strings(c.ids)

	return c, nil
}

// MustNew is New for fixed table lists in tests and examples
func MustNew(tables []TableSchema) *Catalog {
	c, err := New(tables)
	if err != nil {
		panic(err)
	}

	return c
}

// Tables returns every table id, sorted
func (c *Catalog) Tables() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)

	return out
}

// Len returns the number of tables
func (c *Catalog) Len() int {
	return len(c.ids)
}

// LoadedAt returns when the snapshot was built
func (c *Catalog) LoadedAt() time.Time {
	return c.loadedAt
}

// Resolve returns the schema of id. An unknown table is reported with ok=false,
// never as an error. A bare table name resolves when exactly one qualified table
// carries it.
func (c *Catalog) Resolve(id string) (TableSchema, bool) {
	key, ok := c.canonical(id)
	if !ok {
		return TableSchema{}, false
	}

	return *c.tables[key], true
}

// Has reports whether id resolves
func (c *Catalog) Has(id string) bool {
	_, ok := c.canonical(id)
	return ok
}

// CanonicalID returns the fully-qualified id id resolves to
func (c *Catalog) CanonicalID(id string) (string, bool) {
	return c.canonical(id)
}

// ColumnsOf returns the columns of id, or nil when the table is unknown
func (c *Catalog) ColumnsOf(id string) []ColumnSchema {
	key, ok := c.canonical(id)
	if !ok {
		return nil
	}

	cols := c.tables[key].Columns
	out := make([]ColumnSchema, len(cols))
	copy(out, cols)

	return out
}

// Column returns one column of a table
func (c *Catalog) Column(tableID, column string) (ColumnSchema, bool) {
	key, ok := c.canonical(tableID)
	if !ok {
		return ColumnSchema{}, false
	}

	col, ok := c.columns[key][NormalizeIdent(column)]

	return col, ok
}

func (c *Catalog) canonical(id string) (string, bool) {
	id = NormalizeIdent(id)
	if _, ok := c.tables[id]; ok {
		return id, true
	}

	if strings.Contains(id, ".") {
		return "", false
	}

	if ids := c.shortName[id]; len(ids) == 1 {
		return ids[0], true
	}

	return "", false
}

// NormalizeIdent lowercases an identifier and strips quoting from each part
func NormalizeIdent(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}

	parts := strings.Split(id, ".")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, "`\"[]")
		parts[i] = strings.ToLower(p)
	}

	return strings.Join(parts, ".")
}

// ShortName returns the last dotted part of a table id
func ShortName(id string) string {
	return shortNameOf(NormalizeIdent(id))
}

func shortNameOf(id string) string {
	if i := strings.LastIndex(id, "."); i >= 0 {
		return id[i+1:]
	}

	return id
}

// Store holds the current catalog snapshot and reloads it on request
type Store struct {
	source  Source
	current atomic.Pointer[Catalog]
	reload  sync.Mutex
}

// NewStore loads the first snapshot from source. Failure here is fatal to startup.
func NewStore(ctx context.Context, source Source) (*Store, error) {
	s := &Store{source: source}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// NewStaticStore wraps an already built catalog
func NewStaticStore(c *Catalog) *Store {
	s := &Store{}
	s.current.Store(c)

	return s
}

// Current returns the active snapshot
func (s *Store) Current() *Catalog {
	return s.current.Load()
}

// Reload rebuilds the catalog from its source and swaps it in. Readers holding
// the previous snapshot keep using it.
func (s *Store) Reload(ctx context.Context) error {
	if s.source == nil {
		return errors.New(errors.ErrTypeConfig, "catalog store has no source to reload from")
	}

	s.reload.Lock()
	defer s.reload.Unlock()

	tables, err := s.source.Load(ctx)
	if err != nil {
		return errors.Wrapf(err, errors.ErrTypeDatabase, "failed to load schema from %s", s.source.Name())
	}

	c, err := New(tables)
	if err != nil {
		return errors.Wrapf(err, errors.ErrTypeValidation, "invalid schema from %s", s.source.Name())
	}

	s.current.Store(c)

	logging.WithFields(map[string]interface{}{
		"source": s.source.Name(),
		"tables": c.Len(),
	}).Info("Schema catalog loaded")

	return nil
}

// Render writes a compact DDL-like description of the given tables, in the
// order given. Unknown tables are skipped.
func (c *Catalog) Render(tableIDs []string) string {
	var b strings.Builder

	for _, id := range tableIDs {
		t, ok := c.Resolve(id)
		if !ok {
			continue
		}

		b.WriteString(RenderTable(t))
	}

	return b.String()
}

// RenderTable renders one table as a CREATE TABLE style block
func RenderTable(t TableSchema) string {
	var b strings.Builder

	fmt.Fprintf(&b, "TABLE %s (\n", t.TableID)

	for i, col := range t.Columns {
		nullability := " NOT NULL"
		if col.Nullable {
			nullability = ""
		}

		sep := ","
		if i == len(t.Columns)-1 {
			sep = ""
		}

		fmt.Fprintf(&b, "  %s %s%s%s\n", col.Name, col.DataType, nullability, sep)
	}

	b.WriteString(")\n")

	return b.String()
}
