package formatter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kyleking/ragsql/internal/executor"
	"github.com/kyleking/ragsql/internal/index"
	"github.com/kyleking/ragsql/internal/pipeline"
	"github.com/kyleking/ragsql/internal/sqlcheck"
	"github.com/kyleking/ragsql/internal/types"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatLong  OutputFormat = "long"
	FormatShort OutputFormat = "short"
	FormatJSON  OutputFormat = "json"
)

// ParseFormat accepts long, short or json; anything else is an error
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatLong, FormatShort, FormatJSON:
		return f, nil
	case "":
		return FormatLong, nil
	default:
		return "", fmt.Errorf("unknown output format %q (must be long, short, or json)", s)
	}
}

// DefaultMaxRows caps how many result rows a table rendering shows
const DefaultMaxRows = 50

// Formatter renders pipeline output for the terminal
type Formatter struct {
	MaxRows int
	now     func() time.Time
}

// NewFormatter creates a new formatter instance
func NewFormatter() *Formatter {
	return &Formatter{MaxRows: DefaultMaxRows, now: time.Now}
}

// JSON renders v indented
func (f *Formatter) JSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal output: %w", err)
	}

	return string(data), nil
}

// FormatAnswer renders everything the pipeline produced for one question
func (f *Formatter) FormatAnswer(a *pipeline.Answer, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return f.JSON(a)
	case FormatShort:
		return f.formatAnswerShort(a), nil
	default:
		return f.formatAnswerLong(a), nil
	}
}

func (f *Formatter) formatAnswerShort(a *pipeline.Answer) string {
	var lines []string

	if a.SQL != "" {
		lines = append(lines, a.SQL)
	}

	if a.Validation != nil && !a.Validation.IsValid {
		for _, msg := range a.Validation.ErrorMessages() {
			lines = append(lines, "-- invalid: "+msg)
		}
	}

	if a.Execution != nil {
		lines = append(lines, f.FormatResult(a.Execution))
	}

	return strings.Join(lines, "\n")
}

func (f *Formatter) formatAnswerLong(a *pipeline.Answer) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Question: %s\n", a.Question)

	if a.Context != nil {
		fmt.Fprintf(&b, "Context: %d/%d tokens, %d examples, tables %s\n",
			a.Context.TokenCount, a.Context.TokenBudget, len(a.Context.Examples), joinOrDash(a.Context.Tables))

		if a.Context.Narrowed {
			b.WriteString("Context: schema narrowed to the tables named in the question\n")
		}
	}

	if len(a.Retrieval) > 0 {
		b.WriteString("\nRetrieved examples:\n")
		b.WriteString(f.FormatHits(a.Retrieval))
		b.WriteString("\n")
	}

	if a.SQL != "" {
		fmt.Fprintf(&b, "\nGenerated SQL (attempt %d):\n%s\n", a.Attempts, a.SQL)
	}

	if a.Validation != nil {
		b.WriteString("\n")
		b.WriteString(f.FormatReport(*a.Validation))
		b.WriteString("\n")
	}

	if a.Execution != nil {
		b.WriteString("\n")
		b.WriteString(f.FormatResult(a.Execution))
		b.WriteString("\n")
	}

	for _, w := range a.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}

	return strings.TrimRight(b.String(), "\n")
}

// FormatHits renders ranked examples one per line
func (f *Formatter) FormatHits(hits index.RetrievalResult) string {
	lines := make([]string, len(hits))
	for i, h := range hits {
		lines[i] = fmt.Sprintf("%d. %s  Score:%.3f  %s", i+1, h.Record.ID, h.Score, truncate(h.Record.Description, 60))
	}

	return strings.Join(lines, "\n")
}

// FormatReport renders a validation report
func (f *Formatter) FormatReport(r sqlcheck.Report) string {
	status := "valid"
	if !r.IsValid {
		status = "invalid"
	}

	lines := []string{fmt.Sprintf("Validation (%s): %s", r.Level, status)}

	for _, msg := range r.ErrorMessages() {
		lines = append(lines, "  error: "+msg)
	}

	for _, w := range r.Warnings {
		lines = append(lines, "  warning: "+w)
	}

	if len(r.TablesFound) > 0 {
		lines = append(lines, "  tables: "+strings.Join(r.TablesFound, ", "))
	}

	if len(r.ColumnsFound) > 0 {
		lines = append(lines, "  columns: "+strings.Join(r.ColumnsFound, ", "))
	}

	return strings.Join(lines, "\n")
}

// FormatResult renders an execution result: the cost line, then the rows as an
// aligned table
func (f *Formatter) FormatResult(r *executor.Result) string {
	var lines []string

	switch {
	case !r.Success:
		lines = append(lines, "Execution failed: "+r.ErrorMessage)
	case r.DryRun:
		lines = append(lines, fmt.Sprintf("Dry run: %s would be processed", f.formatBytes(r.BytesProcessed)))
	default:
		source := "warehouse"
		if r.CacheHit {
			source = "cache"
		}

		lines = append(lines, fmt.Sprintf("%s rows from %s in %s, %s processed, %s billed (job %s)",
			f.formatInt(r.RowCount), source, r.ExecutionTime.Round(time.Millisecond),
			f.formatBytes(r.BytesProcessed), f.formatBytes(r.BytesBilled), r.JobID))
	}

	if len(r.Columns) > 0 {
		lines = append(lines, f.formatTable(r.Columns, r.Rows))
	}

	if r.Truncated {
		lines = append(lines, "(result truncated by the warehouse row limit)")
	}

	return strings.Join(lines, "\n")
}

func (f *Formatter) formatTable(columns []string, rows [][]any) string {
	limit := len(rows)
	if f.MaxRows > 0 && limit > f.MaxRows {
		limit = f.MaxRows
	}

	cells := make([][]string, 0, limit+1)
	cells = append(cells, columns)

	for _, row := range rows[:limit] {
		line := make([]string, len(columns))
		for i := range columns {
			if i < len(row) {
				line[i] = formatValue(row[i])
			}
		}

		cells = append(cells, line)
	}

	widths := make([]int, len(columns))
	for _, line := range cells {
		for i, cell := range line {
			widths[i] = max(widths[i], len([]rune(cell)))
		}
	}

	out := make([]string, 0, len(cells)+2)
	for i, line := range cells {
		out = append(out, padRow(line, widths))

		if i == 0 {
			sep := make([]string, len(widths))
			for j, w := range widths {
				sep[j] = strings.Repeat("-", w)
			}

			out = append(out, strings.Join(sep, "  "))
		}
	}

	if limit < len(rows) {
		out = append(out, fmt.Sprintf("... and %d more rows", len(rows)-limit))
	}

	return strings.Join(out, "\n")
}

func padRow(cells []string, widths []int) string {
	padded := make([]string, len(cells))
	for i, cell := range cells {
		padded[i] = cell + strings.Repeat(" ", widths[i]-len([]rune(cell)))
	}

	return strings.TrimRight(strings.Join(padded, "  "), " ")
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return x.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}

// FormatExample renders one corpus example
func (f *Formatter) FormatExample(rec types.ExampleRecord, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return f.JSON(rec)
	case FormatShort:
		return fmt.Sprintf("%s  %s  [%s]", rec.ID, truncate(rec.Description, 60), joinOrDash(rec.ReferencedTables)), nil
	}

	lines := []string{
		"Example: " + rec.ID,
		"Description: " + orDash(rec.Description),
		"Tables: " + joinOrDash(rec.ReferencedTables),
	}

	for _, j := range rec.Joins {
		kind := j.Kind
		if kind == "" {
			kind = "inner"
		}

		lines = append(lines, fmt.Sprintf("Join: %s %s.%s = %s.%s",
			strings.ToUpper(kind), j.LeftTable, j.LeftColumn, j.RightTable, j.RightColumn))
	}

	embedded := "no"
	if len(rec.Embedding) > 0 {
		embedded = fmt.Sprintf("%d dimensions", len(rec.Embedding))
	}

	lines = append(lines, "Embedding: "+embedded, "SQL:", rec.SQLText)

	return strings.Join(lines, "\n"), nil
}

// FormatBytes renders a byte count with a binary unit
func (f *Formatter) FormatBytes(n int64) string {
	return f.formatBytes(n)
}

// HumanizeAge renders how long ago t was
func (f *Formatter) HumanizeAge(t time.Time) string {
	return f.humanizeAge(t)
}

func (f *Formatter) formatBytes(n int64) string {
	if n < 0 {
		return "?"
	}

	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// formatInt formats an integer, returning "?" for negative values (unknown)
func (f *Formatter) formatInt(value int) string {
	if value < 0 {
		return "?"
	}

	return strconv.Itoa(value)
}

// humanizeAge converts a time to a human-readable age string
func (f *Formatter) humanizeAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	duration := f.now().Sub(t)

	if duration < time.Hour {
		minutes := int(duration.Minutes())
		if minutes < 1 {
			return "just now"
		}

		if minutes == 1 {
			return "1 minute ago"
		}

		return fmt.Sprintf("%d minutes ago", minutes)
	}

	days := int(duration.Hours() / 24)

	switch {
	case days < 1:
		return "today"
	case days == 1:
		return "1 day ago"
	case days < 30:
		return fmt.Sprintf("%d days ago", days)
	case days < 365:
		months := days / 30
		if months == 1 {
			return "1 month ago"
		}

		return fmt.Sprintf("%d months ago", months)
	}

	years := days / 365
	if years == 1 {
		return "1 year ago"
	}

	return fmt.Sprintf("%d years ago", years)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return orDash(s)
	}

	return string(r[:n-3]) + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}

	return s
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}

	return strings.Join(items, ", ")
}
