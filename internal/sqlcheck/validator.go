// Package sqlcheck validates generated SQL against a schema catalog without
// executing it.
package sqlcheck

import (
	"fmt"
	"strings"

	"github.com/kyleking/ragsql/internal/catalog"
)

// ErrorCode classifies a validation error
type ErrorCode string

const (
	CodeBlocked       ErrorCode = "blocked_statement"
	CodeParse         ErrorCode = "parse_error"
	CodeUnknownTable  ErrorCode = "unknown_table"
	CodeUnknownColumn ErrorCode = "unknown_column"
	CodeNoCatalog     ErrorCode = "no_catalog"
)

// ValidationError is one problem found in a statement
type ValidationError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Pos     Position  `json:"position"`
}

func (e ValidationError) String() string {
	if e.Pos.Line == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	return fmt.Sprintf("%s at %s: %s", e.Code, e.Pos, e.Message)
}

// Report is the outcome of validating one statement. It is data, not an error.
type Report struct {
	IsValid      bool              `json:"is_valid"`
	Level        Level             `json:"level"`
	Errors       []ValidationError `json:"errors"`
	Warnings     []string          `json:"warnings"`
	TablesFound  []string          `json:"tables_found"`
	ColumnsFound []string          `json:"columns_found"`
}

// ErrorMessages flattens the errors for display or prompting
func (r Report) ErrorMessages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.String()
	}

	return out
}

func failed(level Level, err ValidationError) Report {
	return Report{Level: level, Errors: []ValidationError{err}}
}

// CheckBlocklist returns the first data- or schema-modifying keyword in sql.
// Comments are ignored; string literals and quoted identifiers are not, so a
// keyword anywhere else in the text blocks the statement.
func CheckBlocklist(sql string) (string, bool) {
	stripped := StripComments(sql)

	for i := 0; i < len(stripped); {
		if !isIdentPart(stripped[i]) {
			i++
			continue
		}

		j := i
		for j < len(stripped) && isIdentPart(stripped[j]) {
			j++
		}

		// a numeric prefix such as 1DROP still lexes as a keyword
		word := strings.TrimLeft(stripped[i:j], "0123456789")
		if kw := strings.ToUpper(word); blockedKeywords[kw] {
			return kw, true
		}

		i = j
	}

	return "", false
}

// CheckReadOnly applies the checks every level shares: the blocklist, a
// single statement, a SELECT or CTE chain ending in SELECT, and no SELECT INTO.
// It returns nil when sql may be sent to a warehouse.
func CheckReadOnly(sql string) *ValidationError {
	_, verr := readOnly(sql)

	return verr
}

func readOnly(sql string) ([]Token, *ValidationError) {
	if kw, blocked := CheckBlocklist(sql); blocked {
		return nil, &ValidationError{
			Code:    CodeBlocked,
			Message: fmt.Sprintf("%s statements are not allowed; only read-only queries can run", kw),
		}
	}

	toks, lexErr := Tokenize(sql)
	if lexErr != nil {
		verr := &ValidationError{Code: CodeParse, Message: lexErr.Error()}
		if le, ok := lexErr.(*LexError); ok {
			verr = &ValidationError{Code: CodeParse, Message: le.Msg, Pos: le.Pos}
		}

		return toks, verr
	}

	for _, t := range toks {
		if t.Is("INTO") {
			return toks, &ValidationError{
				Code:    CodeBlocked,
				Message: "SELECT INTO writes a table; only read-only queries can run",
				Pos:     t.Pos,
			}
		}
	}

	return toks, checkSyntax(toks)
}

// Validate checks sql at level against cat. It never panics and never modifies
// sql; every problem is reported through the returned Report.
func Validate(sql string, cat *catalog.Catalog, level Level) (report Report) {
	defer func() {
		if r := recover(); r != nil {
			report = failed(level, ValidationError{
				Code:    CodeParse,
				Message: fmt.Sprintf("could not analyze statement: %v", r),
			})
		}
	}()

	if !level.Valid() {
		level = SchemaStrict
	}

	toks, verr := readOnly(sql)
	if verr != nil {
		return failed(level, *verr)
	}

	a, verr := analyze(toks)
	if verr != nil {
		return failed(level, *verr)
	}

	report = Report{Level: level}
	report.TablesFound = tablesFound(a, cat)

	if level.Includes(TableExists) {
		if cat == nil {
			report.Errors = append(report.Errors, ValidationError{
				Code:    CodeNoCatalog,
				Message: "no schema catalog is loaded",
			})
		} else {
			report.Errors = append(report.Errors, checkTables(a, cat)...)
		}
	}

	cols, errs, warnings := resolveColumns(a, cat, level.Includes(SchemaStrict) && cat != nil)
	report.ColumnsFound = cols
	report.Errors = append(report.Errors, errs...)
	report.Warnings = append(report.Warnings, warnings...)
	report.IsValid = len(report.Errors) == 0

	return report
}

// checkSyntax covers what SYNTAX_ONLY guarantees: one statement, balanced
// parentheses, and a SELECT or a CTE chain ending in SELECT.
func checkSyntax(toks []Token) *ValidationError {
	if len(toks) == 0 || toks[0].Kind == TokenEOF {
		return &ValidationError{Code: CodeParse, Message: "empty statement"}
	}

	depth := 0
	statements := 0
	inStatement := false

	for _, t := range toks {
		switch {
		case t.Kind == TokenEOF:
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
			if depth < 0 {
				return &ValidationError{Code: CodeParse, Message: "unbalanced parentheses: unexpected )", Pos: t.Pos}
			}
		case t.IsPunct(";") && depth == 0:
			inStatement = false
			continue
		}

		if t.Kind != TokenEOF && !inStatement {
			inStatement = true
			statements++

			if statements > 1 {
				return &ValidationError{Code: CodeParse, Message: "only a single statement is allowed", Pos: t.Pos}
			}
		}
	}

	if depth != 0 {
		return &ValidationError{Code: CodeParse, Message: "unbalanced parentheses: missing )"}
	}

	if statements == 0 {
		return &ValidationError{Code: CodeParse, Message: "empty statement"}
	}

	i := 0
	for toks[i].IsPunct("(") {
		i++
	}

	first := toks[i]

	switch {
	case first.Is("SELECT"):
		return checkSelectList(toks, i)
	case first.Is("WITH"):
		return checkCTEChain(toks, i)
	default:
		return &ValidationError{
			Code:    CodeParse,
			Message: "statement must be a SELECT query or a WITH clause ending in SELECT",
			Pos:     first.Pos,
		}
	}
}

func checkSelectList(toks []Token, i int) *ValidationError {
	next := toks[i+1]
	if next.Kind == TokenEOF || next.IsPunct(";") || next.Is("FROM") || next.IsPunct(")") {
		return &ValidationError{Code: CodeParse, Message: "SELECT list is empty", Pos: toks[i].Pos}
	}

	return nil
}

func checkCTEChain(toks []Token, i int) *ValidationError {
	i++
	if toks[i].Is("RECURSIVE") {
		i++
	}

	for {
		if !toks[i].IsIdent() {
			return &ValidationError{Code: CodeParse, Message: "expected a CTE name after WITH", Pos: toks[i].Pos}
		}

		i++
		if toks[i].IsPunct("(") {
			i = skipGroup(toks, i)
		}

		if !toks[i].Is("AS") {
			return &ValidationError{Code: CodeParse, Message: "expected AS in WITH clause", Pos: toks[i].Pos}
		}

		i++
		if toks[i].Is("NOT") {
			i++
		}

		if toks[i].Kind == TokenWord && toks[i].Upper == "MATERIALIZED" {
			i++
		}

		if !toks[i].IsPunct("(") {
			return &ValidationError{Code: CodeParse, Message: "expected ( to open a CTE body", Pos: toks[i].Pos}
		}

		i = skipGroup(toks, i)

		if !toks[i].IsPunct(",") {
			break
		}

		i++
	}

	for toks[i].IsPunct("(") {
		i++
	}

	if !toks[i].Is("SELECT") {
		return &ValidationError{
			Code:    CodeParse,
			Message: "WITH clause must be followed by a SELECT",
			Pos:     toks[i].Pos,
		}
	}

	return checkSelectList(toks, i)
}

func tablesFound(a *analysis, cat *catalog.Catalog) []string {
	seen := make(map[string]bool)

	var out []string

	for _, ref := range a.tables {
		name := ref.name
		if cat != nil {
			if id, ok := cat.CanonicalID(name); ok {
				name = id
			}
		}

		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	return out
}

func checkTables(a *analysis, cat *catalog.Catalog) []ValidationError {
	seen := make(map[string]bool)

	var errs []ValidationError

	for _, ref := range a.tables {
		if seen[ref.name] || cat.Has(ref.name) {
			continue
		}

		seen[ref.name] = true
		errs = append(errs, ValidationError{
			Code:    CodeUnknownTable,
			Message: fmt.Sprintf("table %s does not exist in the catalog", ref.name),
			Pos:     ref.pos,
		})
	}

	return errs
}

// resolveColumns attributes each column reference to a table through the alias
// bindings of its scope. Only attributable references are checked: qualified
// names whose qualifier is bound to a catalog table, and bare names in a scope
// reading from exactly one catalog table.
func resolveColumns(a *analysis, cat *catalog.Catalog, strict bool) ([]string, []ValidationError, []string) {
	var (
		found    []string
		errs     []ValidationError
		warnings []string
	)

	seenCol := make(map[string]bool)
	seenErr := make(map[string]bool)

	for _, ref := range a.columns {
		if !seenCol[ref.text] {
			seenCol[ref.text] = true
			found = append(found, ref.text)
		}

		if !strict {
			continue
		}

		var msg, warn string
		if len(ref.parts) == 1 {
			msg = checkBare(ref, cat)
		} else {
			msg, warn = checkQualified(ref, a, cat)
		}

		if warn != "" && !seenErr[warn] {
			seenErr[warn] = true
			warnings = append(warnings, warn)
		}

		if msg != "" && !seenErr[msg] {
			seenErr[msg] = true
			errs = append(errs, ValidationError{Code: CodeUnknownColumn, Message: msg, Pos: ref.pos})
		}
	}

	return found, errs, warnings
}

func checkQualified(ref columnRef, a *analysis, cat *catalog.Catalog) (string, string) {
	for k := len(ref.parts) - 1; k >= 1; k-- {
		qualifier := strings.Join(ref.parts[:k], ".")

		b, ok := ref.scope.lookup(qualifier)
		if !ok {
			continue
		}

		if b.kind != bindTable {
			return "", ""
		}

		tableID, ok := cat.CanonicalID(b.tableID)
		if !ok {
			// reported as an unknown table already
			return "", ""
		}

		column := ref.parts[k]
		if _, ok := cat.Column(tableID, column); !ok {
			return fmt.Sprintf("column %s does not exist in table %s", column, tableID), ""
		}

		return "", ""
	}

	if a.ctes[ref.parts[0]] {
		return "", ""
	}

	return "", fmt.Sprintf("could not attribute column reference %s to a table in scope", ref.text)
}

func checkBare(ref columnRef, cat *catalog.Catalog) string {
	name := ref.parts[0]
	if ref.scope.selectAliases[name] {
		return ""
	}

	opaque := false
	visible := 0

	for s := ref.scope; s != nil; s = s.parent {
		opaque = opaque || s.opaque

		for _, t := range s.tables {
			id, ok := cat.CanonicalID(t)
			if !ok {
				// unknown tables make the reference unattributable
				opaque = true
				continue
			}

			visible++

			if _, ok := cat.Column(id, name); ok {
				return ""
			}
		}
	}

	if opaque || visible == 0 || len(ref.scope.tables) != 1 {
		return ""
	}

	id, _ := cat.CanonicalID(ref.scope.tables[0])

	return fmt.Sprintf("column %s does not exist in table %s", name, id)
}

// ReferencedTables returns the tables sql reads, normalized and in order of
// first reference. CTE names and table functions are not included.
func ReferencedTables(sql string) ([]string, error) {
	toks, err := Tokenize(sql)
	if err != nil {
		return nil, err
	}

	if verr := checkSyntax(toks); verr != nil {
		return nil, fmt.Errorf("%s", verr.String())
	}

	a, verr := analyze(toks)
	if verr != nil {
		return nil, fmt.Errorf("%s", verr.String())
	}

	return tablesFound(a, nil), nil
}
