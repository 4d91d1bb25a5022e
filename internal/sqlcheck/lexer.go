package sqlcheck

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind identifies the lexical class of a token.
type TokenKind int

const (
	TokenEOF    TokenKind = iota
	TokenWord             // unquoted identifier or keyword
	TokenQuoted           // "quoted" or `backticked` identifier
	TokenString           // 'string literal'
	TokenNumber
	TokenPunct // ( ) , . ; and single-char operators
	TokenOperator
	TokenParam // ? $1 :name @name
)

func (k TokenKind) String() string {
	switch k {
	case TokenEOF:
		return "EOF"
	case TokenWord:
		return "WORD"
	case TokenQuoted:
		return "QUOTED"
	case TokenString:
		return "STRING"
	case TokenNumber:
		return "NUMBER"
	case TokenPunct:
		return "PUNCT"
	case TokenOperator:
		return "OPERATOR"
	case TokenParam:
		return "PARAM"
	default:
		return "UNKNOWN"
	}
}

// Position is a 1-based line/column plus byte offset.
type Position struct {
	Line   int
	Column int
	Offset int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token is one lexical unit. Text holds the identifier or literal with quoting
// removed, except escape and dollar-quoted strings which keep their delimiters.
// Upper is the uppercased text of a word.
type Token struct {
	Kind  TokenKind
	Text  string
	Upper string
	Pos   Position
}

// Is reports whether t is the unquoted keyword kw (uppercase).
func (t Token) Is(kw string) bool {
	return t.Kind == TokenWord && t.Upper == kw
}

// IsPunct reports whether t is the punctuation p.
func (t Token) IsPunct(p string) bool {
	return t.Kind == TokenPunct && t.Text == p
}

// IsIdent reports whether t can name a table, alias or column.
func (t Token) IsIdent() bool {
	return t.Kind == TokenQuoted || (t.Kind == TokenWord && !isReserved(t.Upper))
}

// LexError reports malformed input such as an unterminated literal.
type LexError struct {
	Pos Position
	Msg string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%s at %s", e.Msg, e.Pos)
}

type lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
	line    int
	col     int
}

func newLexer(input string) *lexer {
	l := &lexer{input: input, line: 1}
	l.readChar()

	return l
}

func (l *lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}

	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

func (l *lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}

	return l.input[l.readPos]
}

func (l *lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

func (l *lexer) position() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.pos}
}

// Tokenize splits sql into tokens, dropping whitespace and comments. On a lexical
// error the tokens read so far are returned along with the error.
func Tokenize(sql string) ([]Token, error) {
	l := newLexer(sql)

	var tokens []Token

	for {
		tok, err := l.next()
		if err != nil {
			return tokens, err
		}

		if tok.Kind == TokenEOF {
			tokens = append(tokens, tok)
			return tokens, nil
		}

		tokens = append(tokens, tok)
	}
}

func (l *lexer) next() (Token, error) {
	if err := l.skipWhitespaceAndComments(); err != nil {
		return Token{}, err
	}

	pos := l.position()

	if l.atEOF() {
		return Token{Kind: TokenEOF, Pos: pos}, nil
	}

	switch ch := l.ch; {
	case (ch == 'E' || ch == 'e') && l.peekChar() == '\'':
		l.readChar()
		return l.readSpan(pos, "unterminated string literal")
	case ch == '$' && dollarQuoteAt(l.input, l.pos):
		return l.readSpan(pos, "unterminated dollar-quoted string")
	case ch == '\'':
		text, err := l.readDelimited('\'')
		if err != nil {
			return Token{}, &LexError{Pos: pos, Msg: "unterminated string literal"}
		}

		return Token{Kind: TokenString, Text: text, Pos: pos}, nil
	case ch == '"' || ch == '`':
		text, err := l.readDelimited(ch)
		if err != nil {
			return Token{}, &LexError{Pos: pos, Msg: "unterminated quoted identifier"}
		}

		return Token{Kind: TokenQuoted, Text: text, Upper: strings.ToUpper(text), Pos: pos}, nil
	case ch == '[' && l.bracketIdentAhead():
		text, err := l.readDelimited(']')
		if err != nil {
			return Token{}, &LexError{Pos: pos, Msg: "unterminated quoted identifier"}
		}

		return Token{Kind: TokenQuoted, Text: text, Upper: strings.ToUpper(text), Pos: pos}, nil
	case isIdentStart(ch):
		word := l.readIdentifier()
		return Token{Kind: TokenWord, Text: word, Upper: strings.ToUpper(word), Pos: pos}, nil
	case isDigit(ch) || (ch == '.' && isDigit(l.peekChar())):
		return Token{Kind: TokenNumber, Text: l.readNumber(), Pos: pos}, nil
	case ch == '?' || ch == '$' || ch == '@' || (ch == ':' && isIdentStart(l.peekChar())):
		return Token{Kind: TokenParam, Text: l.readParam(), Pos: pos}, nil
	case strings.IndexByte("(),.;[]{}", ch) >= 0:
		l.readChar()
		return Token{Kind: TokenPunct, Text: string(ch), Pos: pos}, nil
	default:
		return Token{Kind: TokenOperator, Text: l.readOperator(), Pos: pos}, nil
	}
}

func (l *lexer) skipWhitespaceAndComments() error {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' || l.ch == '\f' {
			l.readChar()
		}

		if l.ch == '-' && l.peekChar() == '-' {
			for l.ch != '\n' && !l.atEOF() {
				l.readChar()
			}

			continue
		}

		if l.ch == '/' && l.peekChar() == '*' {
			start := l.position()
			if !l.skipBlockComment() {
				return &LexError{Pos: start, Msg: "unterminated block comment"}
			}

			continue
		}

		return nil
	}
}

func (l *lexer) skipBlockComment() bool {
	l.readChar()
	l.readChar()

	for !l.atEOF() {
		if l.ch == '*' && l.peekChar() == '/' {
			l.readChar()
			l.readChar()

			return true
		}

		l.readChar()
	}

	return false
}

// readDelimited reads a literal closed by end, where a doubled end is an escape.
func (l *lexer) readDelimited(end byte) (string, error) {
	l.readChar()

	var b strings.Builder

	for {
		if l.atEOF() {
			return b.String(), fmt.Errorf("unterminated")
		}

		if l.ch == end {
			if l.peekChar() == end && end != ']' {
				b.WriteByte(end)
				l.readChar()
				l.readChar()

				continue
			}

			l.readChar()

			return b.String(), nil
		}

		b.WriteByte(l.ch)
		l.readChar()
	}
}

// readSpan reads the escape-string or dollar-quoted literal starting at the
// current character as a single string token.
func (l *lexer) readSpan(pos Position, msg string) (Token, error) {
	start := l.pos

	end, closed, _ := LiteralSpan(l.input, start)
	for l.pos < end && !l.atEOF() {
		l.readChar()
	}

	if !closed {
		return Token{}, &LexError{Pos: pos, Msg: msg}
	}

	return Token{Kind: TokenString, Text: l.input[start:end], Pos: pos}, nil
}

// bracketIdentAhead distinguishes [quoted ident] from array subscripts: only a
// bracket directly enclosing identifier characters counts.
func (l *lexer) bracketIdentAhead() bool {
	end := strings.IndexByte(l.input[l.pos:], ']')
	if end <= 1 {
		return false
	}

	inner := l.input[l.pos+1 : l.pos+end]
	if !isIdentStart(inner[0]) {
		return false
	}

	for i := 0; i < len(inner); i++ {
		if !isIdentPart(inner[i]) && inner[i] != ' ' {
			return false
		}
	}

	return true
}

func (l *lexer) readIdentifier() string {
	start := l.pos
	for isIdentPart(l.ch) && !l.atEOF() {
		l.readChar()
	}

	return l.input[start:l.pos]
}

func (l *lexer) readNumber() string {
	start := l.pos

	for isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}

	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()

		for isDigit(l.ch) {
			l.readChar()
		}
	}

	if l.ch == 'e' || l.ch == 'E' {
		l.readChar()

		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}

		for isDigit(l.ch) {
			l.readChar()
		}
	}

	return l.input[start:l.pos]
}

func (l *lexer) readParam() string {
	start := l.pos
	l.readChar()

	for isIdentPart(l.ch) && !l.atEOF() {
		l.readChar()
	}

	return l.input[start:l.pos]
}

const operatorChars = "+-*/%=<>!|&^~:#"

func (l *lexer) readOperator() string {
	start := l.pos

	if strings.IndexByte(operatorChars, l.ch) < 0 {
		// any other byte becomes its own token, keeping multi-byte runes whole
		_, size := utf8.DecodeRuneInString(l.input[l.pos:])
		for range size {
			l.readChar()
		}

		return l.input[start:l.pos]
	}

	for strings.IndexByte(operatorChars, l.ch) >= 0 && !l.atEOF() {
		// a comment start ends the operator
		if (l.ch == '-' && l.peekChar() == '-') || (l.ch == '/' && l.peekChar() == '*') {
			break
		}

		l.readChar()
	}

	if l.pos == start {
		l.readChar()
	}

	return l.input[start:l.pos]
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ch >= 0x80 || unicode.IsLetter(rune(ch))
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || isDigit(ch) || ch == '$'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// LiteralSpan reports whether a string literal, quoted identifier or
// dollar-quoted string starts at sql[i] and returns the offset just past it.
// A quote directly after a standalone E opens an escape string, where a
// backslash escapes the next character. An unterminated literal runs to the
// end of sql with closed set to false.
func LiteralSpan(sql string, i int) (end int, closed, ok bool) {
	if i >= len(sql) {
		return i, false, false
	}

	switch ch := sql[i]; {
	case ch == '\'' || ch == '"' || ch == '`':
		escapes := ch == '\'' && escapePrefixed(sql, i)

		for j := i + 1; j < len(sql); j++ {
			switch {
			case escapes && sql[j] == '\\':
				j++
			case sql[j] == ch:
				if j+1 < len(sql) && sql[j+1] == ch {
					j++
					continue
				}

				return j + 1, true, true
			}
		}

		return len(sql), false, true
	case ch == '$' && dollarQuoteAt(sql, i):
		tagEnd := i + 1 + strings.IndexByte(sql[i+1:], '$')
		tag := sql[i : tagEnd+1]

		closeAt := strings.Index(sql[tagEnd+1:], tag)
		if closeAt < 0 {
			return len(sql), false, true
		}

		return tagEnd + 1 + closeAt + len(tag), true, true
	default:
		return i, false, false
	}
}

// escapePrefixed reports whether the quote at sql[i] follows a standalone E.
func escapePrefixed(sql string, i int) bool {
	if i < 1 || (sql[i-1] != 'E' && sql[i-1] != 'e') {
		return false
	}

	return i < 2 || !isIdentPart(sql[i-2])
}

// dollarQuoteAt reports whether sql[i] opens a $tag$ string. Positional
// parameters such as $1 never do.
func dollarQuoteAt(sql string, i int) bool {
	if sql[i] != '$' || (i > 0 && isIdentPart(sql[i-1])) {
		return false
	}

	for j := i + 1; j < len(sql); j++ {
		c := sql[j]

		switch {
		case c == '$':
			return true
		case c == '_' || unicode.IsLetter(rune(c)) || c >= 0x80:
		case isDigit(c) && j > i+1:
		default:
			return false
		}
	}

	return false
}

// StripComments removes -- and /* */ comments while leaving string literals and
// quoted identifiers untouched. Unterminated comments run to the end of input.
func StripComments(sql string) string {
	var b strings.Builder

	b.Grow(len(sql))

	for i := 0; i < len(sql); {
		if end, _, ok := LiteralSpan(sql, i); ok {
			b.WriteString(sql[i:end])
			i = end

			continue
		}

		switch ch := sql[i]; {
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 4
			}

			b.WriteByte(' ')
		default:
			b.WriteByte(ch)
			i++
		}
	}

	return b.String()
}
