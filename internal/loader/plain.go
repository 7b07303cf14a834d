package loader

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"
)

var errBinary = errors.New("file looks binary")

// extractPlain returns content as one section. Invalid UTF-8 sequences are replaced with the
// replacement character; content with NUL bytes is rejected as binary.
func extractPlain(content []byte) ([]section, error) {
	if bytes.IndexByte(content, 0) >= 0 {
		return nil, errBinary
	}
	text := string(content)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\ufffd")
	}
	return []section{{text: text}}, nil
}
