package llm

import (
	"context"
	"strings"

	"github.com/kyleking/ragsql/internal/errors"
)

// FallbackProvider answers without a model by returning the SQL of the
// highest-ranked example in the prompt. It lets the pipeline run offline and
// gives a baseline to compare model output against.
type FallbackProvider struct{}

// NewFallbackProvider creates the offline provider
func NewFallbackProvider() *FallbackProvider {
	return &FallbackProvider{}
}

func (f *FallbackProvider) Name() string {
	return ProviderOffline
}

// Generate returns the first example's SQL in a fenced block
func (f *FallbackProvider) Generate(_ context.Context, prompt, _ string) (string, error) {
	sql := firstExampleSQL(prompt)
	if sql == "" {
		return "", errors.New(errors.ErrTypeGeneration, "offline provider found no example to answer with").
			WithSuggestion("Configure an LLM provider or add examples to the corpus")
	}

	return "```sql\n" + sql + "\n```", nil
}

// firstExampleSQL reads the lines after the first "-- Example" header up to the
// next header or section, skipping comment lines
func firstExampleSQL(prompt string) string {
	lines := strings.Split(prompt, "\n")

	start := -1

	for i, line := range lines {
		if strings.HasPrefix(line, "-- Example ") {
			start = i + 1
			break
		}
	}

	if start < 0 {
		return ""
	}

	var body []string

	for _, line := range lines[start:] {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "-- Example ") || strings.HasPrefix(trimmed, "### ") {
			break
		}

		if strings.HasPrefix(trimmed, "--") {
			continue
		}

		body = append(body, line)
	}

	return strings.TrimSpace(strings.Join(body, "\n"))
}
