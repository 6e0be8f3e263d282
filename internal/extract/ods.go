package extract

import (
	"fmt"
	"html"
	"regexp"
	"strings"
)

const odsContentPath = "content.xml"

var (
	odsRow  = regexp.MustCompile(`(?s)<table:table-row[^>]*>.*?</table:table-row>`)
	odsCell = regexp.MustCompile(`(?s)<table:table-cell[^>]*>(.*?)</table:table-cell>`)
	odsText = regexp.MustCompile(`<text:(?:p|span)[^>]*>([^<]*)`)
)

// odsRecords returns one tab-joined record per non-empty table row.
func odsRecords(content []byte) ([]string, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, fmt.Errorf("extract ODS: %w", err)
	}
	contentXML, err := readZipPart(zr, odsContentPath)
	if err != nil {
		return nil, fmt.Errorf("extract ODS: %w", err)
	}

	var out []string
	for _, row := range odsRow.FindAllString(string(contentXML), -1) {
		var cells []string
		for _, cell := range odsCell.FindAllStringSubmatch(row, -1) {
			var b strings.Builder
			for _, t := range odsText.FindAllStringSubmatch(cell[1], -1) {
				b.WriteString(html.UnescapeString(t[1]))
			}
			cells = append(cells, b.String())
		}
		if rec := joinCells(cells); rec != "" {
			out = append(out, rec)
		}
	}
	return out, nil
}
