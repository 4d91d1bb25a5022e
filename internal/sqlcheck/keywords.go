package sqlcheck

// blockedKeywords are statements that modify data or schema. They are rejected
// wherever they appear as a word outside comments.
var blockedKeywords = map[string]bool{
	"DROP":     true,
	"DELETE":   true,
	"UPDATE":   true,
	"INSERT":   true,
	"ALTER":    true,
	"TRUNCATE": true,
	"MERGE":    true,
	"CREATE":   true,
	"GRANT":    true,
	"REVOKE":   true,
}

// reserved words never name a table, alias or column when unquoted
var reserved = toSet(
	"ALL", "AND", "ANTI", "ANY", "AS", "ASC", "ASOF", "BETWEEN", "BY", "CASE", "CROSS",
	"DESC", "DISTINCT", "ELSE", "END", "ESCAPE", "EXCEPT", "EXISTS", "FALSE", "FETCH",
	"FILTER", "FOLLOWING", "FROM", "FULL", "GROUP", "HAVING", "ILIKE", "IN", "INNER",
	"INTERSECT", "INTO", "IS", "JOIN", "LATERAL", "LEFT", "LIKE", "LIMIT", "NATURAL",
	"NOT", "NULL", "NULLS", "OFFSET", "ON", "OR", "ORDER", "OUTER", "OVER", "PARTITION",
	"POSITIONAL", "PRECEDING", "QUALIFY", "RANGE", "RECURSIVE", "RIGHT", "ROWS", "SELECT",
	"SEMI", "SIMILAR", "SOME", "TABLESAMPLE", "THEN", "TRUE", "UNBOUNDED", "UNION", "USING",
	"VALUES", "WHEN", "WHERE", "WINDOW", "WITH", "WITHIN",
	"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "TRUNCATE", "MERGE", "CREATE", "GRANT", "REVOKE",
)

// nonColumnWords are unreserved words that commonly appear bare in expressions
// without naming a column: date parts, type names, niladic functions.
var nonColumnWords = toSet(
	"YEAR", "MONTH", "DAY", "HOUR", "MINUTE", "SECOND", "WEEK", "QUARTER", "DOW", "DOY",
	"EPOCH", "MILLISECOND", "MICROSECOND", "ISODOW", "ISOYEAR", "DAYOFWEEK", "DAYOFYEAR",
	"INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT", "HUGEINT", "DOUBLE", "FLOAT", "REAL",
	"DECIMAL", "NUMERIC", "VARCHAR", "CHAR", "TEXT", "STRING", "BOOLEAN", "BOOL", "DATE",
	"TIME", "TIMESTAMP", "TIMESTAMPTZ", "INTERVAL", "JSON", "UUID", "BLOB", "BYTES", "PRECISION",
	"CURRENT_DATE", "CURRENT_TIME", "CURRENT_TIMESTAMP", "CURRENT_USER", "LOCALTIME",
	"LOCALTIMESTAMP", "CURRENT", "ROW", "BOTH", "LEADING", "TRAILING", "FIRST", "LAST",
	"ZONE", "AT", "IGNORE", "RESPECT", "SEPARATOR", "COLLATE", "NOCASE", "MATERIALIZED",
)

func toSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}

	return set
}

func isReserved(upper string) bool {
	return reserved[upper]
}

func isNonColumnWord(upper string) bool {
	return nonColumnWords[upper]
}
