// Package vector provides a flat inner-product index over chunk embeddings.
package vector

import (
	"sync"

	"github.com/hyperjump/shiru/internal/models"
)

// Index is an in-memory flat index of (chunk id, vector, chunk) entries. Search is brute-force
// inner product, which equals cosine similarity because stored vectors are unit length.
// Reads and writes may run concurrently.
type Index struct {
	dimensions int

	mu      sync.RWMutex
	ids     []int64
	vectors [][]float32
	chunks  []models.Chunk
	pos     map[int64]int
	nextID  int64
}

// NewIndex creates an empty index for vectors of the given dimension.
func NewIndex(dimensions int) (*Index, error) {
	if dimensions <= 0 {
		return nil, models.InvalidArgument("dimensions must be positive, got %d", dimensions)
	}
	return &Index{
		dimensions: dimensions,
		pos:        make(map[int64]int),
	}, nil
}

// Dimensions returns the vector length every entry must have.
func (x *Index) Dimensions() int {
	return x.dimensions
}

// Upsert adds the chunks whose ids are not already stored and returns how many were added.
// Existing ids are left untouched. Chunks without a vector in vectors are skipped so a later
// call can add them. A vector of the wrong length fails the whole call before anything is added.
func (x *Index) Upsert(chunks []models.Chunk, vectors map[int64][]float32) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	todo := make([]int, 0, len(chunks))
	inBatch := make(map[int64]struct{}, len(chunks))
	for i, ch := range chunks {
		if _, ok := x.pos[ch.ID]; ok {
			continue
		}
		if _, ok := inBatch[ch.ID]; ok {
			continue
		}
		vec, ok := vectors[ch.ID]
		if !ok {
			continue
		}
		if len(vec) != x.dimensions {
			return 0, &models.DimensionError{Want: x.dimensions, Got: len(vec)}
		}
		inBatch[ch.ID] = struct{}{}
		todo = append(todo, i)
	}

	for _, i := range todo {
		ch := chunks[i]
		x.appendLocked(ch.ID, vectors[ch.ID], ch)
	}
	return len(todo), nil
}

func (x *Index) appendLocked(id int64, vec []float32, ch models.Chunk) {
	v := make([]float32, len(vec))
	copy(v, vec)
	ch.Metadata = models.CopyMetadata(ch.Metadata)
	x.pos[id] = len(x.ids)
	x.ids = append(x.ids, id)
	x.vectors = append(x.vectors, v)
	x.chunks = append(x.chunks, ch)
}

// Search returns the k entries with the highest inner product against query, ordered by
// score descending and then by ascending chunk id. Fewer than k entries returns all of them;
// an empty index returns an empty slice.
func (x *Index) Search(query []float32, k int) ([]*models.SearchResult, error) {
	if k <= 0 {
		return nil, models.InvalidArgument("k must be positive, got %d", k)
	}
	if len(query) != x.dimensions {
		return nil, &models.DimensionError{Want: x.dimensions, Got: len(query)}
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	hits := make([]hit, len(x.ids))
	for i, vec := range x.vectors {
		hits[i] = hit{pos: i, id: x.ids[i], score: InnerProduct(query, vec)}
	}
	rank(hits)
	if k > len(hits) {
		k = len(hits)
	}
	out := make([]*models.SearchResult, k)
	for i := 0; i < k; i++ {
		ch := x.chunks[hits[i].pos]
		ch.Metadata = models.CopyMetadata(ch.Metadata)
		out[i] = &models.SearchResult{Chunk: ch, Score: hits[i].score, Rank: i + 1}
	}
	return out, nil
}

// Has reports whether id is stored.
func (x *Index) Has(id int64) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.pos[id]
	return ok
}

// Get returns the stored chunk for id.
func (x *Index) Get(id int64) (models.Chunk, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	p, ok := x.pos[id]
	if !ok {
		return models.Chunk{}, false
	}
	return x.chunks[p], true
}

// RemoveWhere deletes every entry whose chunk matches and returns the removed ids.
func (x *Index) RemoveWhere(match func(models.Chunk) bool) []int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	var removed []int64
	ids := x.ids[:0:0]
	vectors := x.vectors[:0:0]
	chunks := x.chunks[:0:0]
	for i, ch := range x.chunks {
		if match(ch) {
			removed = append(removed, x.ids[i])
			continue
		}
		ids = append(ids, x.ids[i])
		vectors = append(vectors, x.vectors[i])
		chunks = append(chunks, ch)
	}
	if len(removed) == 0 {
		return nil
	}
	x.ids, x.vectors, x.chunks = ids, vectors, chunks
	x.pos = make(map[int64]int, len(ids))
	for i, id := range ids {
		x.pos[id] = i
	}
	return removed
}

// Entries returns a snapshot of every entry in insertion order.
func (x *Index) Entries() []models.IndexEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]models.IndexEntry, len(x.ids))
	for i, id := range x.ids {
		out[i] = models.IndexEntry{ID: id, Vector: x.vectors[i], Chunk: x.chunks[i]}
	}
	return out
}

// Vectors returns the stored vectors keyed by chunk id.
func (x *Index) Vectors() map[int64][]float32 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[int64][]float32, len(x.ids))
	for i, id := range x.ids {
		out[id] = x.vectors[i]
	}
	return out
}

// MaxID returns the largest stored chunk id, or -1 for an empty index.
func (x *Index) MaxID() int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	max := int64(-1)
	for _, id := range x.ids {
		if id > max {
			max = id
		}
	}
	return max
}

// SetNextID records the next id the chunk sequence will hand out, so a saved index remembers
// ids that were assigned and later removed. It never moves backwards.
func (x *Index) SetNextID(id int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if id > x.nextID {
		x.nextID = id
	}
}

// NextID returns the lowest id that was never assigned: the recorded next id or MaxID+1,
// whichever is larger.
func (x *Index) NextID() int64 {
	max := x.MaxID() + 1
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.nextID > max {
		return x.nextID
	}
	return max
}

// Len returns the number of entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// Reset drops every in-memory entry. The recorded next id is kept.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ids = nil
	x.vectors = nil
	x.chunks = nil
	x.pos = make(map[int64]int)
}
