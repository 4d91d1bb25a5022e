package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kyleking/ragsql/internal/sqlcheck"
)

// Normalize strips comments, collapses whitespace, drops trailing semicolons
// and lowercases everything outside string literals and quoted identifiers, so
// statements that differ only in layout share one signature
func Normalize(sqlText string) string {
	stripped := sqlcheck.StripComments(sqlText)

	var b strings.Builder

	b.Grow(len(stripped))

	space := false

	for i := 0; i < len(stripped); {
		if end, _, ok := sqlcheck.LiteralSpan(stripped, i); ok {
			if space {
				b.WriteByte(' ')
				space = false
			}

			b.WriteString(stripped[i:end])
			i = end

			continue
		}

		r, size := utf8.DecodeRuneInString(stripped[i:])
		i += size

		if unicode.IsSpace(r) {
			space = b.Len() > 0
			continue
		}

		if space {
			b.WriteByte(' ')
			space = false
		}

		b.WriteRune(unicode.ToLower(r))
	}

	return strings.TrimRight(b.String(), "; ")
}

// Signature is the hex sha256 of the normalized statement
func Signature(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))

	return hex.EncodeToString(sum[:])
}
