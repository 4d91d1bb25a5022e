// Package assembler turns retrieved examples and the schema catalog into a
// prompt that fits a token budget.
package assembler

import (
	"regexp"
	"sort"
	"strings"

	"github.com/kyleking/ragsql/internal/catalog"
	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/index"
	"github.com/kyleking/ragsql/internal/logging"
	"github.com/kyleking/ragsql/internal/metrics"
)

// DefaultDedupThreshold is the Jaccard similarity above which a lower-ranked
// example is dropped as a near duplicate
const DefaultDedupThreshold = 0.70

// DefaultTokenBudget is used when no budget is configured
const DefaultTokenBudget = 4000

// AssembledContext is everything handed to the model for one question
type AssembledContext struct {
	Question      string                `json:"question"`
	SchemaExcerpt string                `json:"schema_excerpt"`
	ExampleBlock  string                `json:"example_block"`
	Prompt        string                `json:"prompt"`
	TokenCount    int                   `json:"token_count"`
	TokenBudget   int                   `json:"token_budget"`
	Tables        []string              `json:"tables"`
	MissingTables []string              `json:"missing_tables,omitempty"`
	Examples      []index.ExampleRecord `json:"examples"`
	Patterns      []Pattern             `json:"patterns"`
	// DroppedDuplicates counts examples removed as near duplicates
	DroppedDuplicates int `json:"dropped_duplicates"`
	// DroppedForBudget counts examples that did not fit
	DroppedForBudget int  `json:"dropped_for_budget"`
	Narrowed         bool `json:"narrowed"`
}

// Options configures assembly
type Options struct {
	DedupThreshold float64
}

// OptionsFromConfig reads assembly options from configuration
func OptionsFromConfig(cfg config.ContextConfig) Options {
	return Options{DedupThreshold: cfg.DedupThreshold}
}

// Assembler builds prompts against one catalog snapshot
type Assembler struct {
	catalog *catalog.Catalog
	opts    Options
}

// New creates an assembler. A zero dedup threshold uses the default and a nil
// catalog behaves as an empty one.
func New(cat *catalog.Catalog, opts Options) *Assembler {
	if opts.DedupThreshold <= 0 || opts.DedupThreshold > 1 {
		opts.DedupThreshold = DefaultDedupThreshold
	}

	if cat == nil {
		cat = catalog.MustNew(nil)
	}

	return &Assembler{catalog: cat, opts: opts}
}

// Build assembles the prompt for question. The schema of every table the
// examples, the hint and the question mention is rendered first; examples are
// then appended whole, in diversified rank order, until the next one would
// exceed tokenBudget. When the schema alone is too large only the tables named
// in the question are kept, and if even that does not fit a budget_exceeded
// error carries the required and available token counts.
func (a *Assembler) Build(question string, retrieval index.RetrievalResult, schemaHint []string, tokenBudget int) (assembled *AssembledContext, err error) {
	defer func() {
		if assembled != nil {
			metrics.ObserveAssembly(assembled.TokenCount, nil)
		} else if errors.IsType(err, errors.ErrTypeBudgetExceeded) {
			metrics.ObserveAssembly(0, err)
		}
	}()

	if tokenBudget <= 0 {
		return nil, errors.Newf(errors.ErrTypeValidation, "token budget must be positive, got %d", tokenBudget)
	}

	if strings.TrimSpace(question) == "" {
		return nil, errors.New(errors.ErrTypeValidation, "question is empty")
	}

	ranked := retrieval.Records()
	kept := Dedup(ranked, a.opts.DedupThreshold)
	ordered := Diversify(kept)

	named := a.QuestionTables(question)

	var wanted []string
	for _, rec := range ordered {
		wanted = append(wanted, rec.ReferencedTables...)
	}

	wanted = append(wanted, schemaHint...)
	wanted = append(wanted, named...)

	tables, missing := a.resolveTables(wanted)

	builder := NewBuilder(tokenBudget)
	narrowed := false

	schema := a.catalog.Render(tables)
	if !builder.SetFrame(question, schema) {
		required := FrameTokens(question, schema)

		if len(named) == 0 {
			return nil, errors.NewBudgetExceededError(required, tokenBudget)
		}

		tables = named
		schema = a.catalog.Render(tables)
		narrowed = true

		if !builder.SetFrame(question, schema) {
			return nil, errors.NewBudgetExceededError(FrameTokens(question, schema), tokenBudget)
		}

		logging.Debugf("schema narrowed to %d question tables to fit %d tokens (needed %d)",
			len(tables), tokenBudget, required)
	}

	var examples []index.ExampleRecord

	for _, rec := range ordered {
		if !builder.AddExample(rec) {
			break
		}

		examples = append(examples, rec)
	}

	patterns := make([]Pattern, len(examples))
	for i, rec := range examples {
		patterns[i] = Classify(rec.SQLText)
	}

	return &AssembledContext{
		Question:          question,
		SchemaExcerpt:     schema,
		ExampleBlock:      builder.ExampleBlock(),
		Prompt:            builder.Prompt(),
		TokenCount:        builder.Tokens(),
		TokenBudget:       tokenBudget,
		Tables:            tables,
		MissingTables:     missing,
		Examples:          examples,
		Patterns:          patterns,
		DroppedDuplicates: len(ranked) - len(kept),
		DroppedForBudget:  len(kept) - len(examples),
		Narrowed:          narrowed,
	}, nil
}

// resolveTables maps ids to sorted canonical catalog ids, collecting the ones
// the catalog does not know
func (a *Assembler) resolveTables(ids []string) ([]string, []string) {
	known := make(map[string]bool)
	unknown := make(map[string]bool)

	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}

		if canonical, ok := a.catalog.CanonicalID(id); ok {
			known[canonical] = true
		} else {
			unknown[catalog.NormalizeIdent(id)] = true
		}
	}

	return sortedKeys(known), sortedKeys(unknown)
}

var identPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*`)

// QuestionTables returns the catalog tables the question names literally, by
// full id or by a short name that is unique in the catalog
func (a *Assembler) QuestionTables(question string) []string {
	found := make(map[string]bool)

	for _, word := range identPattern.FindAllString(question, -1) {
		if id, ok := a.catalog.CanonicalID(word); ok {
			found[id] = true
		}
	}

	return sortedKeys(found)
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}

	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}
