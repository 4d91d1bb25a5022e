package types

import (
	"sort"
	"strings"
)

// ExampleRecord is one previously written query from the example corpus. Records
// are immutable once indexed.
type ExampleRecord struct {
	ID               string     `json:"id" yaml:"id"`
	SQLText          string     `json:"sql" yaml:"sql"`
	Description      string     `json:"description" yaml:"description"`
	ReferencedTables []string   `json:"tables" yaml:"tables"`
	Joins            []JoinSpec `json:"joins,omitempty" yaml:"joins,omitempty"`
	Embedding        []float32  `json:"embedding,omitempty" yaml:"embedding,omitempty"`
}

// JoinSpec describes a join used by an example. It is a hint for prompting only
// and is never trusted for validation.
type JoinSpec struct {
	LeftTable   string `json:"left_table" yaml:"left_table"`
	LeftColumn  string `json:"left_column" yaml:"left_column"`
	RightTable  string `json:"right_table" yaml:"right_table"`
	RightColumn string `json:"right_column" yaml:"right_column"`
	Kind        string `json:"kind,omitempty" yaml:"kind,omitempty"`
}

// EmbeddingText is the text embedded for a record: its description followed by
// its SQL.
func (r ExampleRecord) EmbeddingText() string {
	if r.Description == "" {
		return r.SQLText
	}

	return r.Description + "\n" + r.SQLText
}

// NormalizeTables lowercases, trims and de-duplicates the referenced tables in
// place, leaving them sorted.
func (r *ExampleRecord) NormalizeTables() {
	seen := make(map[string]bool, len(r.ReferencedTables))
	out := r.ReferencedTables[:0]

	for _, t := range r.ReferencedTables {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}

		seen[t] = true
		out = append(out, t)
	}

	sort.Strings(out)
	r.ReferencedTables = out
}

// Clone returns a deep copy of r
func (r ExampleRecord) Clone() ExampleRecord {
	c := r
	c.ReferencedTables = append([]string(nil), r.ReferencedTables...)
	c.Joins = append([]JoinSpec(nil), r.Joins...)
	c.Embedding = append([]float32(nil), r.Embedding...)

	return c
}
