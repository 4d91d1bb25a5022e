package sqlcheck

import (
	"strings"

	"github.com/kyleking/ragsql/internal/errors"
)

// ExtractSQL pulls the statement out of a model response. A ```sql fenced block
// wins over any other fenced block; a response without a fenced block is a
// generation error. Extraction never inspects the SQL itself.
func ExtractSQL(response string) (string, error) {
	blocks := fencedBlocks(response)
	if len(blocks) == 0 {
		return "", errors.NewGenerationError(nil, "model response contains no fenced SQL block")
	}

	chosen := blocks[0]

	for _, b := range blocks {
		if b.lang == "sql" {
			chosen = b
			break
		}
	}

	sql := strings.TrimSpace(chosen.body)
	if sql == "" {
		return "", errors.NewGenerationError(nil, "model response contains an empty SQL block")
	}

	return sql, nil
}

type fence struct {
	lang string
	body string
}

func fencedBlocks(text string) []fence {
	var blocks []fence

	for {
		start := strings.Index(text, "```")
		if start < 0 {
			return blocks
		}

		rest := text[start+3:]

		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return blocks
		}

		lang := strings.ToLower(strings.TrimSpace(rest[:nl]))
		rest = rest[nl+1:]

		end := strings.Index(rest, "```")
		if end < 0 {
			// an unclosed fence still yields its body
			blocks = append(blocks, fence{lang: lang, body: rest})
			return blocks
		}

		blocks = append(blocks, fence{lang: lang, body: rest[:end]})
		text = rest[end+3:]
	}
}
