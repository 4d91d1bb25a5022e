package sqlcheck

import (
	"fmt"
	"strings"
)

// Level selects how much of the schema a statement is checked against. Levels
// are totally ordered and each includes every check of the levels below it.
type Level int

const (
	SyntaxOnly Level = iota + 1
	TableExists
	SchemaStrict
)

// Levels lists every level from weakest to strictest
func Levels() []Level {
	return []Level{SyntaxOnly, TableExists, SchemaStrict}
}

func (l Level) String() string {
	switch l {
	case SyntaxOnly:
		return "syntax_only"
	case TableExists:
		return "table_exists"
	case SchemaStrict:
		return "schema_strict"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Valid reports whether l is one of the defined levels
func (l Level) Valid() bool {
	return l >= SyntaxOnly && l <= SchemaStrict
}

// Includes reports whether checks required at other run at l
func (l Level) Includes(other Level) bool {
	return l >= other
}

// ParseLevel accepts the snake_case names plus their upper-case and hyphenated forms
func ParseLevel(s string) (Level, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for _, l := range Levels() {
		if l.String() == key {
			return l, nil
		}
	}

	return 0, fmt.Errorf("unknown validation level %q (must be syntax_only, table_exists, or schema_strict)", s)
}
