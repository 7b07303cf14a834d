// Package indexer splits documents into overlapping, id-stamped chunks.
package indexer

import (
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/shiru/internal/models"
)

// Default window parameters, in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order: paragraph, line, word, character.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Chunker splits documents into overlapping windows and stamps each window with an id
// taken from a shared Sequence.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
	seq          *Sequence
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithChunkSize sets the maximum window length in characters.
func WithChunkSize(n int) ChunkerOption {
	return func(c *Chunker) { c.chunkSize = n }
}

// WithOverlap sets how many trailing characters consecutive windows may share.
func WithOverlap(n int) ChunkerOption {
	return func(c *Chunker) { c.chunkOverlap = n }
}

// WithSeparators overrides the separator hierarchy. A final "" is appended when missing so
// text without any separator still splits by character.
func WithSeparators(seps ...string) ChunkerOption {
	return func(c *Chunker) {
		if len(seps) == 0 {
			return
		}
		if seps[len(seps)-1] != "" {
			seps = append(seps[:len(seps):len(seps)], "")
		}
		c.separators = seps
	}
}

// NewChunker creates a chunker drawing ids from seq.
func NewChunker(seq *Sequence, opts ...ChunkerOption) (*Chunker, error) {
	c := &Chunker{
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
		separators:   DefaultSeparators,
		seq:          seq,
	}
	for _, opt := range opts {
		opt(c)
	}
	if seq == nil {
		return nil, models.InvalidArgument("chunker needs an id sequence")
	}
	if c.chunkSize <= 0 {
		return nil, models.InvalidArgument("chunk size must be positive, got %d", c.chunkSize)
	}
	if c.chunkOverlap < 0 || c.chunkOverlap >= c.chunkSize {
		return nil, models.InvalidArgument("chunk overlap must be in [0, %d), got %d", c.chunkSize, c.chunkOverlap)
	}
	if len(c.separators) == 0 {
		c.separators = DefaultSeparators
	}
	return c, nil
}

// ChunkSize returns the configured window size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// ChunkOverlap returns the configured overlap.
func (c *Chunker) ChunkOverlap() int { return c.chunkOverlap }

// Split chunks every document in order. Each chunk gets a copy of its document's metadata;
// a non-empty sourceTag overrides "source" in that copy only. Ids are reserved per document
// so the sequence advances by exactly the number of chunks emitted.
func (c *Chunker) Split(docs []models.Document, sourceTag string) []models.Chunk {
	var out []models.Chunk
	for _, doc := range docs {
		windows := c.SplitText(doc.Text)
		if len(windows) == 0 {
			continue
		}
		first := c.seq.Reserve(len(windows))
		tag := sourceTag
		if tag == "" {
			tag = doc.Source()
		}
		for i, w := range windows {
			meta := models.CopyMetadata(doc.Metadata)
			if sourceTag != "" {
				meta[models.MetaSource] = sourceTag
			}
			out = append(out, models.Chunk{
				ID:         first + int64(i),
				Text:       w.Text,
				CharLen:    utf8.RuneCountInString(w.Text),
				SourceTag:  tag,
				StartIndex: w.Start,
				Metadata:   meta,
			})
		}
	}
	return out
}

// Window is one piece of split text. Start is its offset in characters.
type Window struct {
	Text  string
	Start int
}

// span is a piece of the original text addressed by byte offset.
type span struct {
	text string
	off  int
}

// SplitText splits text into windows without assigning ids.
func (c *Chunker) SplitText(text string) []Window {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	spans := c.split(span{text: text}, c.separators)
	out := make([]Window, 0, len(spans))
	for _, s := range spans {
		out = append(out, Window{
			Text:  s.text,
			Start: utf8.RuneCountInString(text[:s.off]),
		})
	}
	return out
}

// split picks the first separator present in the piece, splits on it, and recurses into
// pieces that are still too long using the remaining separators.
func (c *Chunker) split(piece span, seps []string) []span {
	sep := ""
	var rest []string
	for i, s := range seps {
		if s == "" {
			break
		}
		if strings.Contains(piece.text, s) {
			sep = s
			rest = seps[i+1:]
			break
		}
	}

	var out, good []span
	for _, p := range splitKeep(piece, sep) {
		if utf8.RuneCountInString(p.text) < c.chunkSize {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, c.merge(good)...)
			good = nil
		}
		if sep == "" || len(rest) == 0 {
			out = append(out, c.merge([]span{p})...)
		} else {
			out = append(out, c.split(p, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, c.merge(good)...)
	}
	return out
}

// merge packs adjacent pieces into windows of at most chunkSize characters, carrying up to
// chunkOverlap characters of trailing pieces into the next window.
func (c *Chunker) merge(pieces []span) []span {
	var (
		out   []span
		cur   []span
		total int
	)
	for _, p := range pieces {
		n := utf8.RuneCountInString(p.text)
		if total+n > c.chunkSize && len(cur) > 0 {
			if w, ok := join(cur); ok {
				out = append(out, w)
			}
			for len(cur) > 0 && (total > c.chunkOverlap || total+n > c.chunkSize) {
				total -= utf8.RuneCountInString(cur[0].text)
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		total += n
	}
	if w, ok := join(cur); ok {
		out = append(out, w)
	}
	return out
}

// splitKeep splits on sep, keeping the separator at the start of the following piece.
// An empty separator splits into single characters.
func splitKeep(piece span, sep string) []span {
	var out []span
	if sep == "" {
		for i, r := range piece.text {
			out = append(out, span{text: string(r), off: piece.off + i})
		}
		return out
	}
	off := 0
	for i, part := range strings.Split(piece.text, sep) {
		text := part
		if i > 0 {
			text = sep + part
		}
		if text != "" {
			out = append(out, span{text: text, off: piece.off + off})
		}
		off += len(text)
	}
	return out
}

// join concatenates contiguous pieces and trims surrounding whitespace, adjusting the offset.
func join(pieces []span) (span, bool) {
	if len(pieces) == 0 {
		return span{}, false
	}
	var b strings.Builder
	for _, p := range pieces {
		b.WriteString(p.text)
	}
	raw := b.String()
	trimmed := strings.TrimLeft(raw, " \t\r\n")
	off := pieces[0].off + len(raw) - len(trimmed)
	trimmed = strings.TrimRight(trimmed, " \t\r\n")
	if trimmed == "" {
		return span{}, false
	}
	return span{text: trimmed, off: off}, true
}
