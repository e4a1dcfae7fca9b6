// Package extract converts uploaded documents (PDF, Word, plain text, CSV,
// Excel) into normalized UTF-8 text plus a locator map pointing back to page
// or row boundaries. Extraction is a pure transform; persistence is the
// caller's concern.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

var (
	// ErrUnsupportedFormat is returned for file types outside the supported set.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrCorruptFile is returned when a file cannot be parsed as its declared format.
	ErrCorruptFile = errors.New("corrupt file")
)

// Locator maps an offset in the extracted text to a position in the original
// document (a page for PDFs, a row for CSV/Excel).
type Locator struct {
	Offset int    // byte offset into Result.Text where this region starts
	Label  string // e.g. "page 3", "row 12"
}

// Result is the output of an extraction: normalized text and its locator map.
// Locators are sorted by ascending offset; empty for formats without
// page/row structure (plain text, Word).
type Result struct {
	Text     string
	Locators []Locator
}

// LocatorAt returns the label of the region containing offset, or "" when the
// result has no locator map.
func (r *Result) LocatorAt(offset int) string {
	label := ""
	for _, loc := range r.Locators {
		if loc.Offset > offset {
			break
		}
		label = loc.Label
	}
	return label
}

// Extractor extracts plain text from uploaded document bytes.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract converts content into normalized text. The format is resolved from
// declaredType (a MIME type) when recognized, else from the filename
// extension. Returns ErrUnsupportedFormat for types outside the supported set
// and ErrCorruptFile when the bytes cannot be parsed as the resolved format.
func (e *Extractor) Extract(content []byte, filename, declaredType string) (*Result, error) {
	format := resolveFormat(filename, declaredType)
	switch format {
	case formatPDF:
		return extractPDF(content)
	case formatWord:
		return extractDOCX(content)
	case formatCSV:
		return extractCSV(content)
	case formatExcel:
		return extractExcel(content)
	case formatText:
		return extractPlain(content)
	default:
		return nil, fmt.Errorf("%w: %q (%s)", ErrUnsupportedFormat, filepath.Ext(filename), declaredType)
	}
}

type format int

const (
	formatUnknown format = iota
	formatText
	formatPDF
	formatWord
	formatCSV
	formatExcel
)

// mimeFormats maps declared MIME types to formats. Extensions are the
// fallback because browsers often upload with a generic octet-stream type.
var mimeFormats = map[string]format{
	"application/pdf":    formatPDF,
	"application/msword": formatWord,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": formatWord,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       formatExcel,
	"text/plain":    formatText,
	"text/markdown": formatText,
	"text/csv":      formatCSV,
}

var extFormats = map[string]format{
	".pdf":      formatPDF,
	".docx":     formatWord,
	".doc":      formatWord,
	".txt":      formatText,
	".md":       formatText,
	".markdown": formatText,
	".csv":      formatCSV,
	".xlsx":     formatExcel,
}

func resolveFormat(filename, declaredType string) format {
	if mt := strings.ToLower(strings.TrimSpace(declaredType)); mt != "" {
		// Strip parameters like "; charset=utf-8".
		if i := strings.IndexByte(mt, ';'); i >= 0 {
			mt = strings.TrimSpace(mt[:i])
		}
		if f, ok := mimeFormats[mt]; ok {
			return f
		}
	}
	if f, ok := extFormats[strings.ToLower(filepath.Ext(filename))]; ok {
		return f
	}
	return formatUnknown
}

// normalizeText trims trailing whitespace per line, collapses runs of spaces
// and tabs inside lines, and drops carriage returns. Newlines are preserved so
// line boundaries stay usable for chunking and row locators.
func normalizeText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = collapseSpaces(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func collapseSpaces(s string) string {
	var b strings.Builder
	wasSpace := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteByte(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}
