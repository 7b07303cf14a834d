package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/shiru/internal/models"
	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}
}

func loadOne(t *testing.T, l *Loader, locator string) models.Document {
	t.Helper()
	docs, err := l.Load(context.Background(), locator)
	if err != nil {
		t.Fatalf("Load(%s): %v", locator, err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	return docs[0]
}

func TestLoad_plainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	writeFile(t, path, []byte("\ufeffHello world\r\nLine 2"))

	doc := loadOne(t, New(), path)
	if doc.Text != "Hello world\nLine 2" {
		t.Errorf("got %q", doc.Text)
	}
	if doc.Metadata[models.MetaSource] != path {
		t.Errorf("source = %v, want %s", doc.Metadata[models.MetaSource], path)
	}
	if doc.Metadata[models.MetaIngestSource] != SourceFile {
		t.Errorf("ingest_source = %v", doc.Metadata[models.MetaIngestSource])
	}
}

func TestLoad_plainInvalidUTF8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.rst")
	writeFile(t, path, []byte("hello\x80world"))
	if got := loadOne(t, New(), path).Text; got != "hello\ufffdworld" {
		t.Errorf("got %q", got)
	}
}

func TestLoad_unknownExtensionIsPlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.xyz")
	writeFile(t, path, []byte("raw content"))
	if got := loadOne(t, New(), path).Text; got != "raw content" {
		t.Errorf("got %q", got)
	}
}

func TestLoad_binaryRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	writeFile(t, path, []byte{0x7f, 'E', 'L', 'F', 0, 0, 1})
	_, err := New().Load(context.Background(), path)
	if !errors.Is(err, models.ErrLoadFailure) || !errors.Is(err, errBinary) {
		t.Errorf("expected binary load failure, got %v", err)
	}
}

func TestLoad_missingFile(t *testing.T) {
	_, err := New().Load(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	var loadErr *models.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected *LoadError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("cause should be ErrNotExist: %v", err)
	}
	if models.KindOf(err) != models.KindLoadFailure {
		t.Errorf("kind = %s", models.KindOf(err))
	}
}

func TestLoad_emptyLocator(t *testing.T) {
	if _, err := New().Load(context.Background(), "  "); !errors.Is(err, models.ErrLoadFailure) {
		t.Errorf("expected load failure, got %v", err)
	}
}

func TestLoad_excelOneDocumentPerSheet(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	if _, err := f.NewSheet("Totals"); err != nil {
		t.Fatal(err)
	}
	f.SetCellValue("Totals", "A1", "Sum")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	path := filepath.Join(t.TempDir(), "book.xlsx")
	writeFile(t, path, buf.Bytes())

	docs, err := New().Load(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].Text != "Title\nValue 1\tValue 2" || docs[0].Metadata["sheet"] != "Sheet1" {
		t.Errorf("sheet 1: %q %v", docs[0].Text, docs[0].Metadata)
	}
	if docs[1].Text != "Sum" || docs[1].Metadata["sheet"] != "Totals" {
		t.Errorf("sheet 2: %q %v", docs[1].Text, docs[1].Metadata)
	}
}

const wordNS = `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

func docxBody(paragraphs ...string) string {
	var b strings.Builder
	b.WriteString(wordNS)
	for _, p := range paragraphs {
		b.WriteString(`<w:p w:rsidR="00A1"><w:r><w:t xml:space="preserve">` + p + `</w:t></w:r></w:p>`)
	}
	b.WriteString(`</w:body></w:document>`)
	return b.String()
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtract_docxParagraphs(t *testing.T) {
	content := zipBytes(t, map[string]string{
		"word/document.xml": docxBody("First paragraph", "Fish &amp; chips", "  "),
	})
	sections, err := extract(content, ".docx")
	if err != nil {
		t.Fatal(err)
	}
	if got := sections[0].text; got != "First paragraph\nFish & chips" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_docxContentTypes(t *testing.T) {
	tests := []struct {
		name     string
		override string
	}{
		{"part name first", `<Override PartName="/word/document2.xml" ContentType="` + docxMainContentType + `"/>`},
		{"content type first", `<Override ContentType="` + docxMainContentType + `" PartName="/word/document2.xml"/>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := zipBytes(t, map[string]string{
				contentTypesPath:     `<?xml version="1.0"?><Types>` + tt.override + `</Types>`,
				"word/document2.xml": docxBody("Content from document2"),
			})
			sections, err := extract(content, ".docx")
			if err != nil {
				t.Fatal(err)
			}
			if sections[0].text != "Content from document2" {
				t.Errorf("got %q", sections[0].text)
			}
		})
	}
}

func TestExtract_docxNotZip(t *testing.T) {
	if _, err := extract([]byte("not a zip"), ".docx"); err == nil {
		t.Error("expected error")
	}
}

func TestExtract_pptxSlideOrder(t *testing.T) {
	slide := func(text string) string {
		return `<p:sld><p:cSld><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:cSld></p:sld>`
	}
	content := zipBytes(t, map[string]string{
		"ppt/slides/slide10.xml":           slide("Ten"),
		"ppt/slides/slide2.xml":            slide("Two"),
		"ppt/slides/slide1.xml":            slide("One"),
		"ppt/slides/_rels/slide1.xml.rels": "<Relationships/>",
	})
	sections, err := extract(content, ".pptx")
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, s := range sections {
		got = append(got, s.text)
	}
	if strings.Join(got, ",") != "One,Two,Ten" {
		t.Errorf("slides = %v", got)
	}
	if sections[2].meta["slide"] != 10 {
		t.Errorf("slide meta = %v", sections[2].meta)
	}
}

const samplePage = `<!DOCTYPE html>
<html><head><title>Release &amp; Notes</title><style>body{color:red}</style></head>
<body>
<script>var x = 1;</script>
<h1>Version 2</h1>
<p>Faster   indexing.<br>Smaller files.</p>
<!-- hidden -->
<div>Bug fixes</div>
</body></html>`

func TestLoad_htmlFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.html")
	writeFile(t, path, []byte(samplePage))
	doc := loadOne(t, New(), path)
	want := "Version 2\n\nFaster indexing.\nSmaller files.\n\nBug fixes"
	if doc.Text != want {
		t.Errorf("got %q, want %q", doc.Text, want)
	}
	if doc.Metadata[models.MetaTitle] != "Release & Notes" {
		t.Errorf("title = %v", doc.Metadata[models.MetaTitle])
	}
}

func TestLoad_directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.md"), []byte("# B"))
	writeFile(t, filepath.Join(dir, "a.txt"), []byte("A"))
	writeFile(t, filepath.Join(dir, "sub", "c.txt"), []byte("C"))
	writeFile(t, filepath.Join(dir, "skip.go"), []byte("package x"))
	writeFile(t, filepath.Join(dir, ".git", "d.txt"), []byte("hidden"))

	docs, err := New().Load(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, d := range docs {
		got = append(got, d.Text)
	}
	if strings.Join(got, ",") != "A,# B,C" {
		t.Errorf("documents = %v", got)
	}
}

func TestLoad_directoryCustomExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), []byte("A"))
	writeFile(t, filepath.Join(dir, "main.go"), []byte("package main"))
	docs, err := New(WithExtensions([]string{"go"})).Load(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Text != "package main" {
		t.Errorf("documents = %+v", docs)
	}
}

func TestLoad_url(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(samplePage))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("just text"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	l := New(WithHTTPClient(srv.Client()))

	doc := loadOne(t, l, srv.URL+"/page")
	if doc.Metadata[models.MetaIngestSource] != SourceURL || doc.Metadata[models.MetaSource] != srv.URL+"/page" {
		t.Errorf("metadata = %v", doc.Metadata)
	}
	if doc.Metadata[models.MetaTitle] != "Release & Notes" {
		t.Errorf("title = %v", doc.Metadata[models.MetaTitle])
	}
	if !strings.Contains(doc.Text, "Bug fixes") || strings.Contains(doc.Text, "var x") {
		t.Errorf("text = %q", doc.Text)
	}

	if got := loadOne(t, l, srv.URL+"/plain").Text; got != "just text" {
		t.Errorf("plain = %q", got)
	}

	_, err := l.Load(context.Background(), srv.URL+"/missing")
	if !errors.Is(err, models.ErrLoadFailure) || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected 404 load failure, got %v", err)
	}
}

func TestLoad_urlTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte("x"), 100))
	}))
	defer srv.Close()
	_, err := New(WithHTTPClient(srv.Client()), WithMaxBytes(10)).Load(context.Background(), srv.URL)
	if !errors.Is(err, models.ErrLoadFailure) {
		t.Errorf("expected load failure, got %v", err)
	}
}

func TestHTMLTitleFallback(t *testing.T) {
	if got := htmlTitle("<p>no title</p>", "https://example.com/docs/guide.html"); got != "guide.html" {
		t.Errorf("got %q", got)
	}
	if got := htmlTitle("", "https://example.com/"); got != "example.com" {
		t.Errorf("got %q", got)
	}
}
