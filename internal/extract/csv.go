package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// extractCSV flattens each row into one "col1: v1, col2: v2, ..." text line so
// that every row remains independently retrievable. Column keys are
// positional; a "row N" locator (1-based) marks the start of each line.
func extractCSV(content []byte) (*Result, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1

	var buf strings.Builder
	var locators []Locator
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: parse csv: %v", ErrCorruptFile, err)
		}
		row++
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		locators = append(locators, Locator{Offset: buf.Len(), Label: fmt.Sprintf("row %d", row)})
		buf.WriteString(flattenRow(record))
	}
	return &Result{Text: buf.String(), Locators: locators}, nil
}

func flattenRow(record []string) string {
	parts := make([]string, len(record))
	for i, v := range record {
		parts[i] = fmt.Sprintf("col%d: %s", i+1, collapseSpaces(v))
	}
	return strings.Join(parts, ", ")
}
