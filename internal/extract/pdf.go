package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF extracts text page by page, recording a "page N" locator at the
// start of each page's text. Pages whose content cannot be decoded (scanned
// images, malformed streams) are skipped rather than failing the document.
func extractPDF(content []byte) (*Result, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: open pdf: %v", ErrCorruptFile, err)
	}
	var buf strings.Builder
	var locators []Locator
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Non-text page content; skip it, keep the rest of the document.
			continue
		}
		text = normalizeText(text)
		if text == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		locators = append(locators, Locator{Offset: buf.Len(), Label: fmt.Sprintf("page %d", i)})
		buf.WriteString(text)
	}
	return &Result{Text: buf.String(), Locators: locators}, nil
}
