// Package embedding turns chunk text into unit-length vectors and memoizes them by chunk id.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations must return vectors of a
// fixed length per model and the same output for the same input.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the output length, or 0 when it is only known after the first call.
	Dimensions() int
	// ModelID identifies the vector space. Indexes built with different ids are never mixed.
	ModelID() string
	Close() error
}
