package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/shiru/internal/models"
	"github.com/hyperjump/shiru/internal/vector"
	"go.uber.org/zap"
)

// File names inside an index directory.
const (
	VectorsFile = "vectors.bin"
	ChunksFile  = "chunks.db"
)

// Meta keys written to the chunk store.
const (
	metaDimension = "dimension"
	metaModelID   = "model_id"
	metaCount     = "count"
	metaSavedAt   = "saved_at"
	metaNextID    = "next_id"
)

// IndexStore persists one vector index under <root>/<model id>/. Saves are written to a
// sibling ".tmp" directory and swapped in with renames, so the live directory is never
// half written.
type IndexStore struct {
	root    string
	modelID string
	dir     string
	logger  *zap.Logger
}

// IndexStoreOption configures an IndexStore.
type IndexStoreOption func(*IndexStore)

// WithLogger sets the logger for the store.
func WithLogger(logger *zap.Logger) IndexStoreOption {
	return func(s *IndexStore) { s.logger = logger }
}

// NewIndexStore returns a store for modelID under root.
func NewIndexStore(root, modelID string, opts ...IndexStoreOption) *IndexStore {
	s := &IndexStore{
		root:    root,
		modelID: modelID,
		dir:     filepath.Join(root, DirName(modelID)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DirName turns a model id into a safe directory name.
func DirName(modelID string) string {
	if modelID == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, modelID)
}

// Dir returns the live index directory.
func (s *IndexStore) Dir() string { return s.dir }

func (s *IndexStore) tmpDir() string { return s.dir + ".tmp" }
func (s *IndexStore) oldDir() string { return s.dir + ".old" }

// Exists reports whether a persisted index is present. A live directory left in ".old" by an
// interrupted swap counts, since Load recovers it.
func (s *IndexStore) Exists() bool {
	for _, dir := range []string{s.dir, s.oldDir()} {
		if _, err := os.Stat(filepath.Join(dir, VectorsFile)); err == nil {
			return true
		}
	}
	return false
}

// recover finishes or rolls back a swap interrupted by a crash.
func (s *IndexStore) recover() error {
	_, dirErr := os.Stat(s.dir)
	_, oldErr := os.Stat(s.oldDir())
	switch {
	case os.IsNotExist(dirErr) && oldErr == nil:
		// Crashed between moving the live dir away and moving the new one in.
		if err := os.Rename(s.oldDir(), s.dir); err != nil {
			return err
		}
	case dirErr == nil && oldErr == nil:
		if err := os.RemoveAll(s.oldDir()); err != nil {
			return err
		}
	}
	return os.RemoveAll(s.tmpDir())
}

// Save writes idx to disk.
func (s *IndexStore) Save(ctx context.Context, idx *vector.Index) error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return &models.PersistenceError{Op: "save", Path: s.root, Cause: err}
	}
	if err := s.recover(); err != nil {
		return &models.PersistenceError{Op: "recover", Path: s.dir, Cause: err}
	}
	tmp := s.tmpDir()
	if err := s.write(ctx, tmp, idx); err != nil {
		_ = os.RemoveAll(tmp)
		return &models.PersistenceError{Op: "save", Path: tmp, Cause: err}
	}
	if err := s.swap(tmp); err != nil {
		return &models.PersistenceError{Op: "swap", Path: s.dir, Cause: err}
	}
	if s.logger != nil {
		s.logger.Debug("index saved",
			zap.String("dir", s.dir),
			zap.Int("entries", idx.Len()),
		)
	}
	return nil
}

func (s *IndexStore) write(ctx context.Context, dir string, idx *vector.Index) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := idx.SaveVectors(filepath.Join(dir, VectorsFile)); err != nil {
		return err
	}
	store, err := OpenChunkStore(filepath.Join(dir, ChunksFile))
	if err != nil {
		return err
	}
	entries := idx.Entries()
	chunks := make([]models.Chunk, len(entries))
	for i, e := range entries {
		chunks[i] = e.Chunk
	}
	writeErr := func() error {
		if err := store.BatchPutChunks(ctx, chunks); err != nil {
			return err
		}
		for k, v := range map[string]string{
			metaDimension: strconv.Itoa(idx.Dimensions()),
			metaModelID:   s.modelID,
			metaCount:     strconv.Itoa(len(chunks)),
			metaSavedAt:   time.Now().UTC().Format(time.RFC3339),
		} {
			if err := store.SetMeta(ctx, k, v); err != nil {
				return fmt.Errorf("failed to write meta %s: %w", k, err)
			}
		}
		return nil
	}()
	if closeErr := store.Close(); writeErr == nil && closeErr != nil {
		writeErr = closeErr
	}
	return writeErr
}

// swap replaces the live directory with tmp.
func (s *IndexStore) swap(tmp string) error {
	hadLive := true
	if err := os.Rename(s.dir, s.oldDir()); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		hadLive = false
	}
	if err := os.Rename(tmp, s.dir); err != nil {
		if hadLive {
			_ = os.Rename(s.oldDir(), s.dir)
		}
		return err
	}
	if hadLive {
		return os.RemoveAll(s.oldDir())
	}
	return nil
}

// Load restores the persisted index. When nothing is persisted it returns an empty index of
// dimension dim. A persisted index whose dimension differs from a non-zero dim is a
// DimensionError: the vectors were produced by a different model.
func (s *IndexStore) Load(ctx context.Context, dim int) (*vector.Index, error) {
	if err := s.recover(); err != nil {
		return nil, &models.PersistenceError{Op: "recover", Path: s.dir, Cause: err}
	}
	vectorsPath := filepath.Join(s.dir, VectorsFile)
	if _, err := os.Stat(vectorsPath); errors.Is(err, os.ErrNotExist) {
		if s.logger != nil {
			s.logger.Info("no persisted index, starting empty",
				zap.String("dir", s.dir),
				zap.Int("dimension", dim),
			)
		}
		return vector.NewIndex(dim)
	}

	fileDim, ids, vectors, err := vector.LoadVectors(vectorsPath)
	if err != nil {
		return nil, &models.PersistenceError{Op: "load", Path: vectorsPath, Cause: err}
	}
	if dim > 0 && fileDim != dim {
		return nil, &models.DimensionError{Want: fileDim, Got: dim}
	}

	chunksPath := filepath.Join(s.dir, ChunksFile)
	store, err := OpenChunkStore(chunksPath)
	if err != nil {
		return nil, &models.PersistenceError{Op: "load", Path: chunksPath, Cause: err}
	}
	defer store.Close()
	if stored, ok, err := store.Meta(ctx, metaModelID); err == nil && ok && stored != s.modelID {
		return nil, &models.PersistenceError{
			Op:    "load",
			Path:  chunksPath,
			Cause: fmt.Errorf("index was built with model %q, not %q", stored, s.modelID),
		}
	}
	chunks, err := store.AllChunks(ctx)
	if err != nil {
		return nil, &models.PersistenceError{Op: "load", Path: chunksPath, Cause: err}
	}
	idx, err := vector.Restore(fileDim, ids, vectors, chunks)
	if err != nil {
		return nil, &models.PersistenceError{Op: "load", Path: s.dir, Cause: err}
	}
	if raw, ok, err := store.Meta(ctx, metaNextID); err != nil {
		return nil, &models.PersistenceError{Op: "load", Path: chunksPath, Cause: err}
	} else if ok {
		next, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &models.PersistenceError{Op: "load", Path: chunksPath, Cause: fmt.Errorf("bad next_id %q: %w", raw, err)}
		}
		idx.SetNextID(next)
	}
	if s.logger != nil {
		s.logger.Info("index loaded",
			zap.String("dir", s.dir),
			zap.Int("entries", idx.Len()),
			zap.Int("dimension", fileDim),
			zap.Int64("next_id", idx.NextID()),
		)
	}
	return idx, nil
}

// Clear removes the persisted index. The live directory is first renamed out of the way, so
// a later Load sees either the full old index or nothing.
func (s *IndexStore) Clear() error {
	if err := s.recover(); err != nil {
		return &models.PersistenceError{Op: "clear", Path: s.dir, Cause: err}
	}
	trash := fmt.Sprintf("%s.trash-%s", s.dir, uuid.NewString())
	if err := os.Rename(s.dir, trash); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &models.PersistenceError{Op: "clear", Path: s.dir, Cause: err}
	}
	if err := os.RemoveAll(trash); err != nil {
		return &models.PersistenceError{Op: "clear", Path: trash, Cause: err}
	}
	if s.logger != nil {
		s.logger.Info("index cleared", zap.String("dir", s.dir))
	}
	return nil
}

// DiskUsage returns the bytes used by the live directory.
func (s *IndexStore) DiskUsage() int64 {
	n, err := DiskUsageBytes(s.dir)
	if err != nil {
		return 0
	}
	return n
}
