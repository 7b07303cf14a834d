// Package storage persists a vector index as a directory keyed by embedding model id.
package storage

import (
	"context"

	"github.com/hyperjump/shiru/internal/vector"
)

// Persister saves and restores a vector index and can wipe its on-disk state.
type Persister interface {
	// Save writes idx so that a crash at any point leaves either the old or the new state on disk.
	Save(ctx context.Context, idx *vector.Index) error
	// Load restores the persisted index, or returns an empty index of dimension dim when
	// nothing is persisted yet.
	Load(ctx context.Context, dim int) (*vector.Index, error)
	// Clear removes all persisted state.
	Clear() error
	// Exists reports whether a persisted index is present.
	Exists() bool
	// Dir is the directory holding the persisted state.
	Dir() string
	// DiskUsage returns the bytes used on disk.
	DiskUsage() int64
}

var _ Persister = (*IndexStore)(nil)
