package index

import (
	"math"
	"strings"
	"unicode"
)

// BM25 term-frequency saturation parameter
const k1 = 1.2

// Field weights, higher is more important. Fixed order keeps float sums stable.
var fieldWeights = []struct {
	name   string
	weight float64
}{
	{"description", 1.0},
	{"tables", 0.8},
	{"sql", 0.6},
}

var totalFieldWeight = func() float64 {
	var sum float64
	for _, f := range fieldWeights {
		sum += f.weight
	}

	return sum
}()

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "by": true, "each": true, "for": true,
	"from": true, "give": true, "how": true, "in": true, "is": true, "list": true, "me": true,
	"of": true, "on": true, "or": true, "per": true, "show": true, "the": true, "to": true,
	"was": true, "what": true, "which": true, "with": true,
}

// lexicalDoc holds precomputed term frequencies for one record
type lexicalDoc struct {
	fields map[string]map[string]int
}

func newLexicalDoc(rec ExampleRecord) lexicalDoc {
	tables := make([]string, 0, len(rec.ReferencedTables)*2)
	for _, t := range rec.ReferencedTables {
		tables = append(tables, t)

		if i := strings.LastIndexByte(t, '.'); i >= 0 {
			tables = append(tables, t[i+1:])
		}
	}

	return lexicalDoc{
		fields: map[string]map[string]int{
			"description": termFrequencies(tokenize(rec.Description)),
			"sql":         termFrequencies(tokenize(rec.SQLText)),
			"tables":      termFrequencies(tokenize(strings.Join(tables, " "))),
		},
	}
}

// tokenize lowercases text and splits it into identifier-like words
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// queryTerms tokenizes a question, dropping stop words and duplicates
func queryTerms(question string) []string {
	seen := make(map[string]bool)

	var terms []string

	for _, term := range tokenize(question) {
		if stopWords[term] || seen[term] {
			continue
		}

		seen[term] = true
		terms = append(terms, term)
	}

	return terms
}

func termFrequencies(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}

	return tf
}

// score computes a BM25-like relevance in [0,1]: per-field saturated term
// frequency, averaged over query terms, scaled by query-term coverage.
func (d lexicalDoc) score(terms []string) float64 {
	if len(terms) == 0 {
		return 0.0
	}

	totalScore := 0.0
	matchedTerms := 0

	for _, term := range terms {
		termScore := 0.0

		for _, f := range fieldWeights {
			tf := float64(d.fields[f.name][term])
			if tf > 0 {
				termScore += (tf / (tf + k1)) * f.weight
			}
		}

		if termScore > 0 {
			matchedTerms++
			totalScore += termScore
		}
	}

	if matchedTerms == 0 {
		return 0.0
	}

	avgScore := totalScore / float64(len(terms))
	coverage := float64(matchedTerms) / float64(len(terms))

	return math.Min(1.0, avgScore*(0.7+0.3*coverage)/totalFieldWeight)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64

	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func l2Distance(a, b []float32) float64 {
	var sum float64

	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}

	return math.Sqrt(sum)
}

// vectorScore maps a similarity or distance into [0,1]
func vectorScore(distance Distance, query, doc []float32) float64 {
	if distance == DistanceL2 {
		return 1.0 / (1.0 + l2Distance(query, doc))
	}

	s := cosineSimilarity(query, doc)
	if s < 0 {
		return 0.0
	}

	return math.Min(s, 1.0)
}
