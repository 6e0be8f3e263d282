package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestRecordsFromBytes_plain(t *testing.T) {
	tests := []struct {
		name    string
		content string
		ext     string
		want    []string
	}{
		{"lines", "Hello world\n\n  Line 2  \n", ".txt", []string{"Hello world", "Line 2"}},
		{"crlf", "a\r\nb\r\n", ".md", []string{"a", "b"}},
		{"utf8", "caf\xc3\xa9", ".rst", []string{"café"}},
		{"invalid utf8", "hello\x80world", ".csv", []string{"hello�world"}},
		{"no extension", "raw content", "", []string{"raw content"}},
		{"upper case ext", "x", ".TXT", []string{"x"}},
		{"blank", "  \n\t\n", ".txt", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RecordsFromBytes([]byte(tt.content), tt.ext)
			if err != nil {
				t.Fatalf("RecordsFromBytes: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecordsFromBytes_jsonl(t *testing.T) {
	content := `{"text": "first"}
{"id": 2, "text": "  second  "}
not json
{"other": "field"}
{"text": ""}
`
	got, err := RecordsFromBytes([]byte(content), ".jsonl")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "not json", `{"other": "field"}`}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRecordsFromBytes_unsupported(t *testing.T) {
	_, err := RecordsFromBytes([]byte("x"), ".pptx")
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestSupported(t *testing.T) {
	for _, ext := range []string{".txt", ".PDF", ".docx", ".xlsx", ".odt", ".rtf", ".jsonl"} {
		if !Supported(ext) {
			t.Errorf("%s should be supported", ext)
		}
	}
	if Supported(".exe") {
		t.Error(".exe should not be supported")
	}
	if exts := Extensions(); len(exts) != 11 {
		t.Errorf("Extensions() = %v", exts)
	}
}

func TestRecordsFromBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	f.SetCellValue("Sheet1", "A4", "After gap")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := RecordsFromBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("RecordsFromBytes: %v", err)
	}
	want := []string{"Title", "Value 1\tValue 2", "After gap"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestReadRecords_files(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "test.txt")
	if err := os.WriteFile(txt, []byte("one\ntwo\n"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := ReadRecords(txt)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Errorf("got %q", got)
	}

	xlsx := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Searchable text")
	if err := f.SaveAs(xlsx); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()
	got, err = ReadRecords(xlsx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"Searchable text"}) {
		t.Errorf("got %q", got)
	}

	if _, err := ReadRecords(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func docxBody(paragraphs string) string {
	return `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + paragraphs + `</w:body></w:document>`
}

func zipOf(files map[string]string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, _ := w.Create(name)
		_, _ = fw.Write([]byte(content))
	}
	_ = w.Close()
	return buf.Bytes()
}

func TestRecordsFromBytes_docxParagraphs(t *testing.T) {
	body := docxBody(`<w:p w:rsidR="00A1"><w:pPr><w:jc w:val="left"/></w:pPr><w:r><w:t>First </w:t></w:r><w:r><w:t xml:space="preserve">paragraph</w:t></w:r></w:p>` +
		`<w:p/><w:p><w:r><w:t></w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Tom &amp; Jerry</w:t></w:r></w:p>`)
	got, err := RecordsFromBytes(zipOf(map[string]string{"word/document.xml": body}), ".docx")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"First paragraph", "Tom & Jerry"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRecordsFromBytes_docxContentTypes(t *testing.T) {
	tests := []struct {
		name     string
		override string
	}{
		{"part name first", `<Override PartName="/word/document2.xml" ContentType="` + docxMainContentType + `"/>`},
		{"content type first", `<Override ContentType="` + docxMainContentType + `" PartName="/word/document2.xml"/>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := zipOf(map[string]string{
				"[Content_Types].xml": `<?xml version="1.0"?><Types>` + tt.override + `</Types>`,
				"word/document2.xml":  docxBody(`<w:p><w:r><w:t>Content from document2</w:t></w:r></w:p>`),
			})
			got, err := RecordsFromBytes(content, ".docx")
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, []string{"Content from document2"}) {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestRecordsFromBytes_docxErrors(t *testing.T) {
	if _, err := RecordsFromBytes([]byte("not a zip"), ".docx"); err == nil {
		t.Error("expected error for invalid docx")
	}
	if _, err := RecordsFromBytes(zipOf(map[string]string{"other.xml": ""}), ".docx"); err == nil {
		t.Error("expected error when document.xml is missing")
	}
}

func TestRecordsFromBytes_odsRows(t *testing.T) {
	contentXML := `<office:document><office:body><table:table>` +
		`<table:table-row><table:table-cell><text:p>Cell A</text:p></table:table-cell><table:table-cell><text:p><text:span>Cell B</text:span></text:p></table:table-cell></table:table-row>` +
		`<table:table-row><table:table-cell/></table:table-row>` +
		`<table:table-row table:style-name="ro1"><table:table-cell office:value-type="string"><text:p>Row two</text:p></table:table-cell></table:table-row>` +
		`</table:table></office:body></office:document>`
	got, err := RecordsFromBytes(zipOf(map[string]string{"content.xml": contentXML}), ".ods")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Cell A\tCell B", "Row two"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}

	if _, err := RecordsFromBytes(zipOf(map[string]string{"other.xml": ""}), ".ods"); err == nil {
		t.Error("expected error when content.xml missing")
	}
}
