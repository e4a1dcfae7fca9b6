package extract

import (
	"strings"
	"unicode/utf8"
)

// extractPlain validates UTF-8 (replacing invalid sequences) and normalizes
// whitespace. Plain text has no page/row structure, so no locators.
func extractPlain(content []byte) (*Result, error) {
	text := string(content)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	return &Result{Text: normalizeText(text)}, nil
}
