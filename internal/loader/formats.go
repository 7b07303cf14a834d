package loader

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"

	"github.com/hyperjump/shiru/internal/models"
)

// extract returns the text sections of content, chosen by extension (with leading dot).
func extract(content []byte, ext string) ([]section, error) {
	switch ext {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	case ".pptx":
		return extractPPTX(content)
	case ".html", ".htm":
		raw := string(content)
		s := section{text: stripHTML(raw)}
		if title := htmlTitle(raw, ""); title != "" {
			s.meta = map[string]any{models.MetaTitle: title}
		}
		return []section{s}, nil
	default:
		return extractPlain(content)
	}
}

// readZipFile returns the contents of name inside zr.
func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, rc); err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%s not found", name)
}
