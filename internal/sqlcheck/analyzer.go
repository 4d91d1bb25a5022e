package sqlcheck

import (
	"strings"

	"github.com/kyleking/ragsql/internal/catalog"
)

type clause int

const (
	clauseNone clause = iota
	clauseWith
	clauseSelect
	clauseFrom
	clauseOn
	clauseUsing
	clauseWhere
	clauseGroup
	clauseHaving
	clauseOrder
	clauseQualify
	clauseLimit
	clauseWindow
)

// collects reports whether identifiers in c are column references
func (c clause) collects() bool {
	switch c {
	case clauseSelect, clauseOn, clauseWhere, clauseGroup, clauseHaving, clauseOrder, clauseQualify:
		return true
	default:
		return false
	}
}

type bindingKind int

const (
	bindTable bindingKind = iota
	bindCTE
	bindDerived
)

type binding struct {
	kind    bindingKind
	tableID string
}

// scope is one SELECT's FROM-clause namespace. Set operations start a sibling
// scope; subqueries start a child scope that can see its parents.
type scope struct {
	parent        *scope
	bindings      map[string]binding
	tables        []string
	opaque        bool
	selectAliases map[string]bool
}

func newScope(parent *scope) *scope {
	return &scope{
		parent:        parent,
		bindings:      make(map[string]binding),
		selectAliases: make(map[string]bool),
	}
}

func (s *scope) lookup(name string) (binding, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if b, ok := cur.bindings[name]; ok {
			return b, true
		}
	}

	return binding{}, false
}

type tableRef struct {
	name string
	pos  Position
}

type columnRef struct {
	parts []string
	text  string
	pos   Position
	scope *scope
}

type analysis struct {
	tables  []tableRef
	ctes    map[string]bool
	columns []columnRef
}

type frame struct {
	query       bool
	scope       *scope
	clause      clause
	expectTable bool
	tablePos    bool
	tableCount  int
}

type walker struct {
	toks  []Token
	i     int
	stack []*frame
	a     *analysis
}

// analyze walks a syntactically checked token stream and records table
// references, CTE names and column references with their scopes.
func analyze(toks []Token) (*analysis, *ValidationError) {
	w := &walker{
		toks: toks,
		a:    &analysis{ctes: make(map[string]bool)},
	}
	w.stack = []*frame{{query: true, scope: newScope(nil)}}

	for w.i < len(w.toks) && w.toks[w.i].Kind != TokenEOF {
		if err := w.step(); err != nil {
			return nil, err
		}
	}

	return w.a, nil
}

func (w *walker) top() *frame {
	return w.stack[len(w.stack)-1]
}

func (w *walker) tok(i int) Token {
	if i < 0 || i >= len(w.toks) {
		return Token{Kind: TokenEOF}
	}

	return w.toks[i]
}

func (w *walker) step() *ValidationError {
	t := w.toks[w.i]
	f := w.top()

	switch {
	case t.IsPunct("("):
		w.openParen()
		return nil
	case t.IsPunct(")"):
		w.closeParen()
		return nil
	case t.IsPunct(","):
		return w.comma()
	case t.IsPunct(";"):
		w.i++
		return nil
	}

	if f.query && t.Kind == TokenWord {
		handled, err := w.keyword(t)
		if err != nil || handled {
			return err
		}
	}

	if f.expectTable && t.IsIdent() {
		w.tableReference()
		return nil
	}

	if f.clause.collects() && t.IsIdent() {
		w.columnReference()
		return nil
	}

	w.i++

	return nil
}

func (w *walker) openParen() {
	f := w.top()
	next := w.tok(w.i + 1)
	isQuery := next.Is("SELECT") || next.Is("WITH")

	nf := &frame{query: isQuery, clause: f.clause, scope: f.scope}

	if isQuery {
		nf.clause = clauseNone
		nf.scope = newScope(f.scope)
	}

	if f.expectTable {
		// derived table or parenthesized join group
		nf.tablePos = true
		f.expectTable = false

		if !isQuery {
			nf.query = true
			nf.clause = clauseFrom
			nf.expectTable = true
		}
	}

	w.stack = append(w.stack, nf)
	w.i++
}

func (w *walker) closeParen() {
	w.i++

	if len(w.stack) == 1 {
		return
	}

	popped := w.top()
	w.stack = w.stack[:len(w.stack)-1]

	if !popped.tablePos {
		return
	}

	f := w.top()

	alias := w.alias()
	if alias != "" {
		f.scope.bindings[alias] = binding{kind: bindDerived}
	}

	if popped.scope != f.scope || popped.tableCount == 0 {
		f.scope.opaque = true
	}
}

func (w *walker) comma() *ValidationError {
	f := w.top()
	w.i++

	if !f.query {
		return nil
	}

	switch f.clause {
	case clauseFrom:
		f.expectTable = true
	case clauseWith:
		return w.cteHead()
	}

	return nil
}

// keyword handles clause-changing keywords in a query frame
func (w *walker) keyword(t Token) (bool, *ValidationError) {
	f := w.top()

	switch t.Upper {
	case "WITH":
		w.i++
		if w.tok(w.i).Is("RECURSIVE") {
			w.i++
		}

		f.clause = clauseWith

		return true, w.cteHead()
	case "SELECT":
		f.clause = clauseSelect
		f.expectTable = false
	case "FROM", "JOIN":
		if t.Upper == "FROM" && w.tok(w.i-1).Is("DISTINCT") {
			// IS [NOT] DISTINCT FROM
			return false, nil
		}

		next := w.tok(w.i + 1)
		if !next.IsIdent() && !next.IsPunct("(") && !next.Is("LATERAL") {
			return true, &ValidationError{
				Code:    CodeParse,
				Message: "expected a table after " + t.Upper,
				Pos:     t.Pos,
			}
		}

		f.clause = clauseFrom
		f.expectTable = true
	case "LATERAL", "LEFT", "RIGHT", "FULL", "INNER", "OUTER", "CROSS", "NATURAL",
		"ANTI", "SEMI", "ASOF", "POSITIONAL":
	case "ON":
		f.clause = clauseOn
		f.expectTable = false
	case "USING":
		f.clause = clauseUsing
		f.expectTable = false
	case "WHERE":
		f.clause = clauseWhere
		f.expectTable = false
	case "GROUP":
		f.clause = clauseGroup
		f.expectTable = false
	case "HAVING":
		f.clause = clauseHaving
	case "ORDER":
		f.clause = clauseOrder
		f.expectTable = false
	case "QUALIFY":
		f.clause = clauseQualify
	case "LIMIT", "OFFSET", "FETCH":
		f.clause = clauseLimit
		f.expectTable = false
	case "WINDOW":
		f.clause = clauseWindow
	case "UNION", "INTERSECT", "EXCEPT":
		f.scope = newScope(f.scope.parent)
		f.clause = clauseNone
		f.expectTable = false
	default:
		return false, nil
	}

	w.i++

	return true, nil
}

// cteHead reads "name [(cols)] AS [NOT] [MATERIALIZED]" and leaves the walker
// on the body's opening parenthesis.
func (w *walker) cteHead() *ValidationError {
	name := w.tok(w.i)
	if !name.IsIdent() {
		return &ValidationError{Code: CodeParse, Message: "expected a CTE name after WITH", Pos: name.Pos}
	}

	cte := catalog.NormalizeIdent(name.Text)
	w.a.ctes[cte] = true
	w.top().scope.bindings[cte] = binding{kind: bindCTE}
	w.i++

	if w.tok(w.i).IsPunct("(") {
		w.i = skipGroup(w.toks, w.i)
	}

	if !w.tok(w.i).Is("AS") {
		return &ValidationError{Code: CodeParse, Message: "expected AS after CTE name " + cte, Pos: w.tok(w.i).Pos}
	}

	w.i++

	if w.tok(w.i).Is("NOT") {
		w.i++
	}

	if w.tok(w.i).Kind == TokenWord && w.tok(w.i).Upper == "MATERIALIZED" {
		w.i++
	}

	if !w.tok(w.i).IsPunct("(") {
		return &ValidationError{Code: CodeParse, Message: "expected ( to open the body of CTE " + cte, Pos: w.tok(w.i).Pos}
	}

	return nil
}

func (w *walker) tableReference() {
	f := w.top()
	parts, end := w.qualifiedName(w.i)
	f.expectTable = false

	if w.tok(end).IsPunct("(") {
		// table function such as read_parquet(...) or unnest(...)
		w.i = skipGroup(w.toks, end)
		f.scope.opaque = true

		if alias := w.alias(); alias != "" {
			f.scope.bindings[alias] = binding{kind: bindDerived}
		}

		return
	}

	start := w.toks[w.i]
	name := strings.Join(parts, ".")
	w.i = end
	f.tableCount++

	if len(parts) == 1 && w.a.ctes[name] {
		f.scope.opaque = true
		if alias := w.alias(); alias != "" {
			f.scope.bindings[alias] = binding{kind: bindCTE}
		}

		return
	}

	w.a.tables = append(w.a.tables, tableRef{name: name, pos: start.Pos})
	f.scope.tables = append(f.scope.tables, name)

	b := binding{kind: bindTable, tableID: name}
	f.scope.bindings[name] = b
	f.scope.bindings[catalog.ShortName(name)] = b

	if alias := w.alias(); alias != "" {
		f.scope.bindings[alias] = b
	}

	if w.tok(w.i).Is("TABLESAMPLE") {
		w.i++
	}
}

// alias consumes an optional "[AS] alias [(col, ...)]"
func (w *walker) alias() string {
	t := w.tok(w.i)

	if t.Is("AS") {
		w.i++
		t = w.tok(w.i)
	} else if !t.IsIdent() {
		return ""
	}

	if !t.IsIdent() {
		return ""
	}

	w.i++

	if w.tok(w.i).IsPunct("(") {
		w.i = skipGroup(w.toks, w.i)
	}

	return catalog.NormalizeIdent(t.Text)
}

func (w *walker) columnReference() {
	f := w.top()
	t := w.toks[w.i]
	prev := w.tok(w.i - 1)

	if prev.Is("AS") {
		if f.clause == clauseSelect {
			f.scope.selectAliases[catalog.NormalizeIdent(t.Text)] = true
		}

		w.i++

		return
	}

	if prev.Is("OVER") || (prev.Kind == TokenOperator && prev.Text == "::") {
		w.i++
		return
	}

	parts, end := w.qualifiedName(w.i)

	switch next := w.tok(end); {
	case next.IsPunct("("):
		w.i = end
		return
	case next.IsPunct(".") && w.tok(end+1).Kind == TokenOperator && w.tok(end+1).Text == "*":
		w.i = end + 2
		return
	}

	w.i = end

	if len(parts) == 1 {
		if t.Kind == TokenWord && isNonColumnWord(t.Upper) {
			return
		}

		if f.clause == clauseSelect && endsOperand(prev) {
			f.scope.selectAliases[parts[0]] = true
			return
		}
	}

	w.a.columns = append(w.a.columns, columnRef{
		parts: parts,
		text:  strings.Join(parts, "."),
		pos:   t.Pos,
		scope: f.scope,
	})
}

// qualifiedName reads ident(.ident)* starting at i and returns the normalized
// parts and the index just past the name.
func (w *walker) qualifiedName(i int) ([]string, int) {
	parts := []string{catalog.NormalizeIdent(w.toks[i].Text)}
	i++

	for w.tok(i).IsPunct(".") && w.tok(i+1).IsIdent() {
		parts = append(parts, catalog.NormalizeIdent(w.tok(i+1).Text))
		i += 2
	}

	return parts, i
}

// endsOperand reports whether an identifier after t would be an implicit alias
func endsOperand(t Token) bool {
	switch t.Kind {
	case TokenQuoted, TokenString, TokenNumber, TokenParam:
		return true
	case TokenWord:
		return t.IsIdent() || t.Is("END") || t.Is("NULL") || t.Is("TRUE") || t.Is("FALSE")
	case TokenPunct:
		return t.Text == ")"
	default:
		return false
	}
}

// skipGroup returns the index just past the parenthesis group opening at i
func skipGroup(toks []Token, i int) int {
	depth := 0

	for ; i < len(toks); i++ {
		switch {
		case toks[i].IsPunct("("):
			depth++
		case toks[i].IsPunct(")"):
			depth--
			if depth == 0 {
				return i + 1
			}
		case toks[i].Kind == TokenEOF:
			return i
		}
	}

	return i
}
