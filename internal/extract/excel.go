package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// xlsxRecords returns one tab-joined record per non-empty row, sheet by sheet.
func xlsxRecords(content []byte) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	var out []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			if rec := joinCells(row); rec != "" {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func joinCells(cells []string) string {
	trimmed := make([]string, 0, len(cells))
	for _, c := range cells {
		trimmed = append(trimmed, strings.TrimSpace(c))
	}
	return strings.TrimSpace(strings.Join(trimmed, "\t"))
}
