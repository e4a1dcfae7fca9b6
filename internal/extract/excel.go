package extract

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// extractExcel flattens spreadsheet rows the same way as CSV, one text line
// per non-empty row. Locators carry the sheet name when the workbook has more
// than one sheet.
func extractExcel(content []byte) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: open xlsx: %v", ErrCorruptFile, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var buf bytes.Buffer
	var locators []Locator
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: read sheet %q: %v", ErrCorruptFile, sheet, err)
		}
		for i, row := range rows {
			line := flattenRow(row)
			if line == "" {
				continue
			}
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			label := fmt.Sprintf("row %d", i+1)
			if len(sheets) > 1 {
				label = fmt.Sprintf("%s row %d", sheet, i+1)
			}
			locators = append(locators, Locator{Offset: buf.Len(), Label: label})
			buf.WriteString(line)
		}
	}
	return &Result{Text: buf.String(), Locators: locators}, nil
}
