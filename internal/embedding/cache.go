package embedding

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/hyperjump/shiru/internal/models"
	"github.com/hyperjump/shiru/pkg/utils"
	"go.uber.org/zap"
)

// DefaultBatchSize is how many chunk texts are sent to the embedder per call.
const DefaultBatchSize = 64

// Cache memoizes chunk embeddings by chunk id. Only ids it has never seen reach the embedder.
// Every stored vector is unit length, and all vectors share one dimension fixed by the first
// successful embedding.
type Cache struct {
	embedder  Embedder
	batchSize int
	logger    *zap.Logger

	mu      sync.RWMutex
	vectors map[string][]float32
	dim     int
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithBatchSize sets how many texts are embedded per embedder call.
func WithBatchSize(n int) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithLogger sets the logger for the cache.
func WithLogger(logger *zap.Logger) CacheOption {
	return func(c *Cache) { c.logger = logger }
}

// WithDimension fixes the dimension up front, e.g. from a persisted index.
func WithDimension(dim int) CacheOption {
	return func(c *Cache) { c.dim = dim }
}

// NewCache wraps embedder with a chunk-id keyed cache.
func NewCache(embedder Embedder, opts ...CacheOption) *Cache {
	c := &Cache{
		embedder:  embedder,
		batchSize: DefaultBatchSize,
		vectors:   make(map[string][]float32),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key is the cache key for a chunk id.
func Key(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Embedder returns the wrapped embedder.
func (c *Cache) Embedder() Embedder { return c.embedder }

// ModelID returns the wrapped embedder's model id.
func (c *Cache) ModelID() string { return c.embedder.ModelID() }

// EmbedNew embeds the chunks whose ids are not cached yet and returns how many were added
// and the cache size afterwards. Batches are committed one at a time, so on error the
// returned count still reflects the batches that were stored before the failure.
func (c *Cache) EmbedNew(ctx context.Context, chunks []models.Chunk) (added, total int, err error) {
	missing := c.missing(chunks)
	for start := 0; start < len(missing); start += c.batchSize {
		end := start + c.batchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]
		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
		}
		vecs, embedErr := c.embedder.EmbedBatch(ctx, texts)
		if embedErr != nil {
			return added, c.Len(), fmt.Errorf("failed to embed chunks %d..%d: %w", batch[0].ID, batch[len(batch)-1].ID, embedErr)
		}
		if len(vecs) != len(batch) {
			return added, c.Len(), fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
		}
		n, storeErr := c.store(batch, vecs)
		added += n
		if storeErr != nil {
			return added, c.Len(), storeErr
		}
		if c.logger != nil {
			c.logger.Debug("embedded batch",
				zap.Int("batch", len(batch)),
				zap.Int64("first_chunk_id", batch[0].ID),
			)
		}
	}
	return added, c.Len(), nil
}

// missing returns the chunks not yet cached, dropping repeated ids within the input.
func (c *Cache) missing(chunks []models.Chunk) []models.Chunk {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[int64]struct{}, len(chunks))
	var out []models.Chunk
	for _, ch := range chunks {
		if _, ok := seen[ch.ID]; ok {
			continue
		}
		seen[ch.ID] = struct{}{}
		if _, ok := c.vectors[Key(ch.ID)]; !ok {
			out = append(out, ch)
		}
	}
	return out
}

// store validates and commits one batch. Nothing from the batch is stored if any vector
// has the wrong dimension.
func (c *Cache) store(batch []models.Chunk, vecs [][]float32) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dim := c.dim
	if dim == 0 && len(vecs) > 0 {
		dim = len(vecs[0])
	}
	for _, v := range vecs {
		if len(v) != dim || dim == 0 {
			return 0, &models.DimensionError{Want: dim, Got: len(v)}
		}
	}
	c.dim = dim
	added := 0
	for i, ch := range batch {
		key := Key(ch.ID)
		if _, ok := c.vectors[key]; ok {
			continue
		}
		c.vectors[key] = utils.Normalized(vecs[i])
		added++
	}
	return added, nil
}

// EmbedQuery embeds text for searching. Query vectors are never cached.
func (c *Cache) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if err := c.fixDimension(len(vec)); err != nil {
		return nil, err
	}
	return utils.Normalized(vec), nil
}

// Probe returns the dimension, embedding a probe text if none has been fixed yet.
func (c *Cache) Probe(ctx context.Context) (int, error) {
	if dim := c.Dimension(); dim > 0 {
		return dim, nil
	}
	if dim := c.embedder.Dimensions(); dim > 0 {
		return dim, c.fixDimension(dim)
	}
	vec, err := c.embedder.Embed(ctx, "dimension probe")
	if err != nil {
		return 0, fmt.Errorf("failed to probe embedding dimension: %w", err)
	}
	return len(vec), c.fixDimension(len(vec))
}

func (c *Cache) fixDimension(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dim == 0 {
		if n == 0 {
			return &models.DimensionError{Want: 0, Got: 0}
		}
		c.dim = n
		return nil
	}
	if n != c.dim {
		return &models.DimensionError{Want: c.dim, Got: n}
	}
	return nil
}

// Seed loads already-computed vectors, e.g. from a persisted index. Existing entries win.
func (c *Cache) Seed(vectors map[int64][]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, v := range vectors {
		if c.dim == 0 {
			c.dim = len(v)
		}
		if len(v) != c.dim {
			return &models.DimensionError{Want: c.dim, Got: len(v)}
		}
		key := Key(id)
		if _, ok := c.vectors[key]; !ok {
			c.vectors[key] = v
		}
	}
	return nil
}

// Vectors returns the cached vectors for ids. Ids without a vector are omitted.
func (c *Cache) Vectors(ids []int64) map[int64][]float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64][]float32, len(ids))
	for _, id := range ids {
		if v, ok := c.vectors[Key(id)]; ok {
			out[id] = v
		}
	}
	return out
}

// Has reports whether id has a cached vector.
func (c *Cache) Has(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.vectors[Key(id)]
	return ok
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}

// Dimension returns the fixed dimension, or 0 before the first embedding.
func (c *Cache) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dim
}

// Forget drops the vectors of ids, e.g. after their chunks were removed from the index.
func (c *Cache) Forget(ids []int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.vectors, Key(id))
	}
}

// Clear drops all cached vectors. The dimension stays fixed.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors = make(map[string][]float32)
}
