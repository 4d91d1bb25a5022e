package assembler

import (
	"strings"
	"unicode"

	"github.com/kyleking/ragsql/internal/index"
	"github.com/kyleking/ragsql/internal/sqlcheck"
)

// Pattern is the dominant query shape of an example
type Pattern string

const (
	PatternWindow      Pattern = "window"
	PatternSubquery    Pattern = "subquery"
	PatternAggregation Pattern = "aggregation"
	PatternJoin        Pattern = "join"
	PatternPlain       Pattern = "plain"
)

// PatternOrder is both the classification precedence and the interleave order
var PatternOrder = []Pattern{PatternWindow, PatternSubquery, PatternAggregation, PatternJoin, PatternPlain}

var aggregateFuncs = map[string]bool{
	"COUNT": true, "SUM": true, "AVG": true, "MIN": true, "MAX": true,
	"ARRAY_AGG": true, "STRING_AGG": true, "LISTAGG": true,
}

// Classify tags sql with its highest-precedence pattern. Text that does not
// lex is classified from the tokens read before the error.
func Classify(sql string) Pattern {
	toks, _ := sqlcheck.Tokenize(sql)

	var window, subquery, aggregation, join bool

	for i, tok := range toks {
		var next sqlcheck.Token
		if i+1 < len(toks) {
			next = toks[i+1]
		}

		switch {
		case tok.Is("OVER") && (next.IsPunct("(") || next.IsIdent()):
			window = true
		case tok.IsPunct("(") && (next.Is("SELECT") || next.Is("WITH")):
			subquery = true
		case tok.Is("GROUP") && next.Is("BY"):
			aggregation = true
		case tok.Kind == sqlcheck.TokenWord && aggregateFuncs[tok.Upper] && next.IsPunct("("):
			aggregation = true
		case tok.Is("JOIN"):
			join = true
		}
	}

	switch {
	case window:
		return PatternWindow
	case subquery:
		return PatternSubquery
	case aggregation:
		return PatternAggregation
	case join:
		return PatternJoin
	default:
		return PatternPlain
	}
}

// Diversify buckets records by pattern, keeping their order within a bucket,
// then interleaves the buckets round-robin in PatternOrder
func Diversify(records []index.ExampleRecord) []index.ExampleRecord {
	buckets := make(map[Pattern][]index.ExampleRecord, len(PatternOrder))
	for _, rec := range records {
		p := Classify(rec.SQLText)
		buckets[p] = append(buckets[p], rec)
	}

	out := make([]index.ExampleRecord, 0, len(records))

	for round := 0; len(out) < len(records); round++ {
		for _, p := range PatternOrder {
			if round < len(buckets[p]) {
				out = append(out, buckets[p][round])
			}
		}
	}

	return out
}

// sqlWords is the lowercase word-token set of sql with comments stripped
func sqlWords(sql string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(sqlcheck.StripComments(sql)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}

	return set
}

// Jaccard returns |a∩b| / |a∪b|. Two empty sets are identical.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}

	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}

	return float64(inter) / float64(len(a)+len(b)-inter)
}

// Dedup drops every record whose SQL is more than threshold similar to a
// record kept before it. Order is preserved and Dedup(Dedup(x)) == Dedup(x).
func Dedup(records []index.ExampleRecord, threshold float64) []index.ExampleRecord {
	kept := make([]index.ExampleRecord, 0, len(records))
	keptWords := make([]map[string]bool, 0, len(records))

	for _, rec := range records {
		words := sqlWords(rec.SQLText)
		duplicate := false

		for _, k := range keptWords {
			if Jaccard(words, k) > threshold {
				duplicate = true
				break
			}
		}

		if !duplicate {
			kept = append(kept, rec)
			keptWords = append(keptWords, words)
		}
	}

	return kept
}
