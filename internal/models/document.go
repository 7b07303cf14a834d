// Package models defines core data structures for documents, chunks, and retrieval results.
package models

// Metadata keys shared by loaders, the chunker and the index.
const (
	MetaSource       = "source"
	MetaTitle        = "title"
	MetaIngestSource = "ingest_source"
	MetaStartIndex   = "start_index"
)

// Document is a raw ingested unit produced by a loader.
// It is treated as immutable once produced.
type Document struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Source returns the document's source metadata value, or "" when absent.
func (d Document) Source() string {
	return metaString(d.Metadata, MetaSource)
}

// Chunk is a contiguous window of a document's text plus inherited metadata.
type Chunk struct {
	ID         int64          `json:"chunk_id"`
	Text       string         `json:"text"`
	CharLen    int            `json:"char_len"`
	SourceTag  string         `json:"source_tag,omitempty"`
	StartIndex int            `json:"start_index"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Source returns the chunk's source metadata value, falling back to its tag.
func (c Chunk) Source() string {
	if s := metaString(c.Metadata, MetaSource); s != "" {
		return s
	}
	return c.SourceTag
}

// IndexEntry is the persisted unit: id, vector, and the chunk it was computed from.
type IndexEntry struct {
	ID     int64     `json:"chunk_id"`
	Vector []float32 `json:"-"`
	Chunk  Chunk     `json:"chunk"`
}

// CopyMetadata returns a shallow copy of m. A nil map yields an empty map.
func CopyMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
