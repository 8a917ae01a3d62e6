package parser

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// ---------------------------------------------------------------------------
// Registry tests
// ---------------------------------------------------------------------------

func TestRegistryBuiltInParsers(t *testing.T) {
	reg := NewRegistry()

	formats := []struct {
		format     string
		wantParser string
	}{
		{"txt", "*parser.TextParser"},
		{"md", "*parser.TextParser"},
		{"pdf", "*parser.PDFParser"},
		{"docx", "*parser.DOCXParser"},
		{"xlsx", "*parser.XLSXParser"},
		{"pptx", "*parser.PPTXParser"},
		{"PDF", "*parser.PDFParser"},
	}

	for _, tt := range formats {
		t.Run(tt.format, func(t *testing.T) {
			p, err := reg.Get(tt.format)
			if err != nil {
				t.Fatalf("Get(%q) returned error: %v", tt.format, err)
			}
			supported := p.SupportedFormats()
			found := false
			for _, f := range supported {
				if f == strings.ToLower(tt.format) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("parser for %q does not list it in SupportedFormats(): %v", tt.format, supported)
			}
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	reg := NewRegistry()

	for _, f := range []string{"csv", "json", "html", "ppt", "doc", ""} {
		t.Run("format_"+f, func(t *testing.T) {
			p, err := reg.Get(f)
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("Get(%q) err = %v, want ErrUnsupportedFormat", f, err)
			}
			if p != nil {
				t.Errorf("Get(%q) expected nil parser", f)
			}
		})
	}

	if _, err := reg.Load(context.Background(), "/tmp/notes.csv"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Load err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestRegistryCustomParser(t *testing.T) {
	reg := NewRegistry()
	if reg.Supports("data.custom") {
		t.Fatal("custom format should not be supported before registration")
	}
	reg.Register("custom", &TextParser{})
	if !reg.Supports("data.CUSTOM") {
		t.Fatal("custom format should be supported after registration")
	}
}

// ---------------------------------------------------------------------------
// Loader tests
// ---------------------------------------------------------------------------

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadText(t *testing.T) {
	tests := []struct {
		name string
		file string
		data []byte
		want string
	}{
		{"utf8", "a.txt", []byte("Alice founded Acme."), "Alice founded Acme."},
		{"bom", "b.md", []byte("\xEF\xBB\xBF# Title\n\nBody"), "# Title\n\nBody"},
		{"gbk", "c.txt", []byte{0xC4, 0xE3, 0xBA, 0xC3}, "你好"},
		{"latin1", "d.txt", []byte("caf\xE9 \xFF"), "café ÿ"},
		{"empty", "e.txt", []byte("  \n"), ""},
	}
	reg := NewRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Load(context.Background(), writeFile(t, tt.file, tt.data))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got != tt.want {
				t.Errorf("Load = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadMissingFileIsParseError(t *testing.T) {
	_, err := NewRegistry().Load(context.Background(), filepath.Join(t.TempDir(), "missing.txt"))
	if !errors.Is(err, ErrParseError) {
		t.Fatalf("err = %v, want ErrParseError", err)
	}
}

func TestLoadCorruptPDF(t *testing.T) {
	path := writeFile(t, "bad.pdf", []byte("this is not a pdf"))
	_, err := NewRegistry().Load(context.Background(), path)
	if !errors.Is(err, ErrParseError) {
		t.Fatalf("err = %v, want ErrParseError", err)
	}
}

const testDocumentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>History</w:t></w:r></w:p>
<w:p><w:r><w:t>Alice founded </w:t></w:r><w:r><w:t>Acme.</w:t></w:r></w:p>
<w:p><w:r><w:t>Bob works at Acme.</w:t></w:r></w:p>
<w:tbl><w:tr><w:tc><w:p><w:r><w:t>Name</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>Role</w:t></w:r></w:p></w:tc></w:tr></w:tbl>
</w:body>
</w:document>`

func TestLoadDOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(testDocumentXML)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := NewRegistry().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "History\n\nAlice founded Acme.\nBob works at Acme.\n\n| Name | Role |"
	if got != want {
		t.Errorf("Load = %q, want %q", got, want)
	}
}

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

const slideXMLTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
<p:cSld><p:spTree>
<p:sp><p:txBody><a:p><a:r><a:t>%s</a:t></a:r></a:p></p:txBody></p:sp>
<p:sp><p:txBody><a:p><a:r><a:t>%s</a:t></a:r><a:r><a:t>%s</a:t></a:r></a:p></p:txBody></p:sp>
</p:spTree></p:cSld>
</p:sld>`

func TestLoadPPTX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deck.pptx")
	writeZip(t, path, map[string]string{
		"ppt/slides/slide2.xml":  fmt.Sprintf(slideXMLTemplate, "Team", "Bob works ", "at Acme."),
		"ppt/slides/slide1.xml":  fmt.Sprintf(slideXMLTemplate, "History", "Alice founded ", "Acme."),
		"ppt/slides/slide10.xml": fmt.Sprintf(slideXMLTemplate, "", "", ""),
	})

	got, err := NewRegistry().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "Slide 1\n\nHistory\nAlice founded Acme.\n\nSlide 2\n\nTeam\nBob works at Acme."
	if got != want {
		t.Errorf("Load = %q, want %q", got, want)
	}
}

func TestLoadPPTXWithoutText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pptx")
	writeZip(t, path, map[string]string{"ppt/presentation.xml": "<p:presentation/>"})

	_, err := NewRegistry().Load(context.Background(), path)
	if !errors.Is(err, ErrParseError) {
		t.Fatalf("Load error = %v, want ErrParseError", err)
	}
}

func TestSlideNumber(t *testing.T) {
	for name, want := range map[string]int{
		"ppt/slides/slide1.xml":  1,
		"ppt/slides/slide12.xml": 12,
		"ppt/slides/slideX.xml":  0,
	} {
		if got := slideNumber(name); got != want {
			t.Errorf("slideNumber(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestLoadXLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetRow("Sheet1", "A1", &[]any{"Name", "Company"}); err != nil {
		t.Fatal(err)
	}
	if err := f.SetSheetRow("Sheet1", "A2", &[]any{"Alice", "Acme"}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "people.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}

	got, err := NewRegistry().Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "Sheet1\n\n| Name | Company |\n| Alice | Acme |"
	if got != want {
		t.Errorf("Load = %q, want %q", got, want)
	}
}

func TestNormalizePageText(t *testing.T) {
	got := normalizePageText("  Title \r\n\r\n\r\nline one\n line two \n\n")
	want := "Title\n\nline one\nline two"
	if got != want {
		t.Errorf("normalizePageText = %q, want %q", got, want)
	}
}

func TestParseResultText(t *testing.T) {
	r := &ParseResult{Sections: []Section{
		{Heading: "Intro", Content: "Intro text starts here."},
		{Heading: "Scope", Content: "Covers anvils."},
		{Content: "  "},
		{Heading: "Empty"},
	}}
	want := "Intro text starts here.\n\nScope\n\nCovers anvils.\n\nEmpty"
	if got := r.Text(); got != want {
		t.Errorf("Text = %q, want %q", got, want)
	}
}

func TestSheetTableSkipsBlankCells(t *testing.T) {
	rows := [][]string{
		{"Name", "Role", ""},
		{"", " "},
		{},
		{"Bob", "", "Engineer"},
	}
	want := "| Name | Role |\n| Bob |  | Engineer |\n"
	if got := sheetTable(rows); got != want {
		t.Errorf("sheetTable = %q, want %q", got, want)
	}
}
