// Package extract turns ingest source files into ordered logical records, one
// record per non-empty line, paragraph or spreadsheet row.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lu4p/cat"
)

// ErrUnsupported is returned for extensions that have no record reader.
var ErrUnsupported = errors.New("unsupported file type")

type bytesReader func(content []byte) ([]string, error)

var readers = map[string]bytesReader{
	".txt":   plainRecords,
	".md":    plainRecords,
	".rst":   plainRecords,
	".csv":   plainRecords,
	".jsonl": jsonlRecords,
	".pdf":   pdfRecords,
	".docx":  docxRecords,
	".xlsx":  xlsxRecords,
	".ods":   odsRecords,
}

// catExtensions are converted to text by lu4p/cat, which reads from a path.
var catExtensions = map[string]bool{
	".odt": true,
	".rtf": true,
}

// Supported reports whether ext (with leading dot, any case) can be read.
func Supported(ext string) bool {
	ext = strings.ToLower(ext)
	_, ok := readers[ext]
	return ok || catExtensions[ext]
}

// Extensions returns every supported extension in sorted order.
func Extensions() []string {
	out := make([]string, 0, len(readers)+len(catExtensions))
	for ext := range readers {
		out = append(out, ext)
	}
	for ext := range catExtensions {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// ReadRecords returns the records of the file at path. The order is stable for
// a given file, which is what makes resuming an ingest by record count valid.
func ReadRecords(path string) ([]string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if catExtensions[ext] {
		text, err := cat.File(path)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", ext, err)
		}
		return splitLines(text), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return RecordsFromBytes(content, ext)
}

// RecordsFromBytes reads records from content using the reader for ext. An empty
// extension is treated as plain text.
func RecordsFromBytes(content []byte, ext string) ([]string, error) {
	ext = strings.ToLower(ext)
	if ext == "" {
		return plainRecords(content)
	}
	read, ok := readers[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	return read(content)
}
