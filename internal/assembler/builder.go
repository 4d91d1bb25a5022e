package assembler

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kyleking/ragsql/internal/index"
)

const instructions = `You are an expert SQL analyst. Write one read-only SELECT statement that answers the question.
Use only the tables and columns listed in the schema. Follow the conventions of the examples where they apply.
`

const answerInstruction = "Return only the SQL, in a single ```sql fenced block.\n"

// EstimateTokens approximates the token count of s as one token per four
// characters, rounded up
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// Builder accumulates prompt segments against a token budget. The token count
// is the sum of the estimates of the segments added so far.
type Builder struct {
	budget   int
	tokens   int
	header   string
	schema   string
	footer   string
	examples []string
}

// NewBuilder creates a builder that refuses to grow past budget tokens
func NewBuilder(budget int) *Builder {
	return &Builder{budget: budget}
}

// Tokens returns the estimated size of everything added so far
func (b *Builder) Tokens() int {
	return b.tokens
}

// Budget returns the token budget
func (b *Builder) Budget() int {
	return b.budget
}

// Remaining returns how many tokens can still be added
func (b *Builder) Remaining() int {
	return b.budget - b.tokens
}

func frameSegments(question, schema string) (header, schemaSection, footer string) {
	header = instructions
	schemaSection = "\n### Schema\n" + schema
	footer = "\n### Question\n" + strings.TrimSpace(question) + "\n\n" + answerInstruction

	return header, schemaSection, footer
}

// FrameTokens returns the cost of the instructions, schema and question
func FrameTokens(question, schema string) int {
	header, schemaSection, footer := frameSegments(question, schema)

	return EstimateTokens(header) + EstimateTokens(schemaSection) + EstimateTokens(footer)
}

// SetFrame adds the instructions, schema and question. Examples only get the
// budget left over after them. It returns false, leaving the builder
// unchanged, when the frame alone does not fit.
func (b *Builder) SetFrame(question, schema string) bool {
	cost := FrameTokens(question, schema)
	if b.tokens+cost > b.budget {
		return false
	}

	b.header, b.schema, b.footer = frameSegments(question, schema)
	b.tokens += cost

	return true
}

// AddExample appends rec as a whole if it fits in the remaining budget
func (b *Builder) AddExample(rec index.ExampleRecord) bool {
	block := renderExample(len(b.examples)+1, rec)
	if len(b.examples) == 0 {
		block = "\n### Examples\n" + block
	}

	cost := EstimateTokens(block)
	if b.tokens+cost > b.budget {
		return false
	}

	b.examples = append(b.examples, block)
	b.tokens += cost

	return true
}

// ExampleBlock returns the rendered examples
func (b *Builder) ExampleBlock() string {
	return strings.Join(b.examples, "")
}

// Prompt renders the full prompt in reading order
func (b *Builder) Prompt() string {
	var sb strings.Builder

	sb.WriteString(b.header)
	sb.WriteString(b.schema)

	for _, ex := range b.examples {
		sb.WriteString(ex)
	}

	sb.WriteString(b.footer)

	return sb.String()
}

func renderExample(n int, rec index.ExampleRecord) string {
	var sb strings.Builder

	desc := strings.TrimSpace(rec.Description)
	if desc == "" {
		desc = rec.ID
	}

	fmt.Fprintf(&sb, "-- Example %d: %s\n", n, oneLine(desc))

	for _, j := range rec.Joins {
		kind := strings.ToUpper(j.Kind)
		if kind == "" {
			kind = "INNER"
		}

		fmt.Fprintf(&sb, "-- %s JOIN %s.%s = %s.%s\n", kind, j.LeftTable, j.LeftColumn, j.RightTable, j.RightColumn)
	}

	sb.WriteString(strings.TrimSpace(rec.SQLText))
	sb.WriteString("\n")

	return sb.String()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
