package e2e

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"

	"github.com/xuri/excelize/v2"
)

// FixtureExtensions are the file types written by WriteFixture. PDF is left to the loader's
// own tests; producing one with extractable text needs a PDF writer.
var FixtureExtensions = []string{".txt", ".md", ".html", ".docx", ".xlsx", ".pptx"}

// WriteFixture returns the bytes of a minimal file of type ext holding title and text.
func WriteFixture(ext, title, text string) ([]byte, error) {
	switch ext {
	case ".txt":
		return []byte(title + "\n\n" + text), nil
	case ".md":
		return []byte("# " + title + "\n\n" + text + "\n"), nil
	case ".html":
		return []byte("<html><head><title>" + html.EscapeString(title) + "</title></head><body><h1>" +
			html.EscapeString(title) + "</h1><p>" + html.EscapeString(text) + "</p></body></html>"), nil
	case ".docx":
		return zipped("word/document.xml",
			`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`+
				`<w:p><w:r><w:t>`+html.EscapeString(title)+`</w:t></w:r></w:p>`+
				`<w:p><w:r><w:t>`+html.EscapeString(text)+`</w:t></w:r></w:p></w:body></w:document>`)
	case ".pptx":
		return zipped("ppt/slides/slide1.xml",
			`<p:sld xmlns:p="p" xmlns:a="a"><p:cSld><p:spTree><p:sp><p:txBody>`+
				`<a:p><a:r><a:t>`+html.EscapeString(title)+`</a:t></a:r></a:p>`+
				`<a:p><a:r><a:t>`+html.EscapeString(text)+`</a:t></a:r></a:p>`+
				`</p:txBody></p:sp></p:spTree></p:cSld></p:sld>`)
	case ".xlsx":
		return workbook(title, text)
	default:
		return nil, fmt.Errorf("no fixture writer for %s", ext)
	}
}

func zipped(name, body string) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.Create(name)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write([]byte(body)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func workbook(title, text string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetCellValue("Sheet1", "A1", title); err != nil {
		return nil, err
	}
	if err := f.SetCellValue("Sheet1", "A2", text); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
