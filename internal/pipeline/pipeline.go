// Package pipeline ties chunking, embedding, indexing and persistence together. A Pipeline is
// built once in main and shared by the HTTP server, the CLI and the directory watcher.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/shiru/internal/embedding"
	"github.com/hyperjump/shiru/internal/indexer"
	"github.com/hyperjump/shiru/internal/keyword"
	"github.com/hyperjump/shiru/internal/models"
	"github.com/hyperjump/shiru/internal/search"
	"github.com/hyperjump/shiru/internal/storage"
	"github.com/hyperjump/shiru/internal/vector"
	"github.com/hyperjump/shiru/pkg/utils"
	"go.uber.org/zap"
)

const (
	// DefaultK is the number of results returned when the caller does not ask for a count.
	DefaultK = 5
	// DefaultMaxK caps k when the config leaves it unset.
	DefaultMaxK = 100
)

// Loader turns a locator (file, directory or URL) into documents.
type Loader interface {
	Load(ctx context.Context, locator string) ([]models.Document, error)
}

// Answerer generates an answer to question from the retrieved chunks.
type Answerer interface {
	Answer(ctx context.Context, chunks []*models.SearchResult, question string) (string, error)
}

// Config holds the pipeline knobs that come from the config file.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	// Separators overrides the chunker's split hierarchy when set.
	Separators []string
	MaxK       int
	Search     search.Config
}

// Pipeline runs ingestion (chunk, embed, upsert, persist) and retrieval over one vector index.
// Writers (Ingest, RetryPending, RemoveSource, Clear) are serialized; queries run concurrently
// with them against the index's own lock.
type Pipeline struct {
	cfg      Config
	seq      *indexer.Sequence
	chunker  *indexer.Chunker
	cache    *embedding.Cache
	store    storage.Persister
	keyword  keyword.KeywordIndex
	engine   *search.Engine
	loader   Loader
	answerer Answerer
	logger   *zap.Logger

	initMu sync.Mutex
	index  atomic.Pointer[vector.Index]

	writeMu sync.Mutex
	pending []models.Chunk
	dirty   bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithLoader sets the document loader used by IngestLocator.
func WithLoader(loader Loader) Option {
	return func(p *Pipeline) { p.loader = loader }
}

// WithAnswerer sets the answerer used by Ask.
func WithAnswerer(answerer Answerer) Option {
	return func(p *Pipeline) { p.answerer = answerer }
}

// WithKeywordIndex replaces the default in-memory Bleve index.
func WithKeywordIndex(idx keyword.KeywordIndex) Option {
	return func(p *Pipeline) { p.keyword = idx }
}

// New creates a pipeline. The index is loaded lazily on first use.
func New(cache *embedding.Cache, store storage.Persister, cfg Config, opts ...Option) (*Pipeline, error) {
	if cache == nil || store == nil {
		return nil, models.InvalidArgument("pipeline needs an embedding cache and a persister")
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = indexer.DefaultChunkSize
		if cfg.ChunkOverlap == 0 {
			cfg.ChunkOverlap = indexer.DefaultChunkOverlap
		}
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = DefaultMaxK
	}
	seq := indexer.NewSequence(0)
	chunker, err := indexer.NewChunker(seq,
		indexer.WithChunkSize(cfg.ChunkSize),
		indexer.WithOverlap(cfg.ChunkOverlap),
		indexer.WithSeparators(cfg.Separators...),
	)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:     cfg,
		seq:     seq,
		chunker: chunker,
		cache:   cache,
		store:   store,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.keyword == nil {
		kw, err := keyword.NewBleveIndex()
		if err != nil {
			return nil, err
		}
		p.keyword = kw
	}
	p.logger = utils.OrNop(p.logger)
	p.engine = search.NewEngine(p.keyword, cache, cfg.Search)
	return p, nil
}

// ensureIndex returns the live index, loading it on first use. A failed load leaves the
// pipeline uninitialized so the next call tries again.
func (p *Pipeline) ensureIndex(ctx context.Context) (*vector.Index, error) {
	if idx := p.index.Load(); idx != nil {
		return idx, nil
	}
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if idx := p.index.Load(); idx != nil {
		return idx, nil
	}

	dim := p.cache.Dimension()
	if dim == 0 {
		dim = p.cache.Embedder().Dimensions()
	}
	if dim == 0 && !p.store.Exists() {
		probed, err := p.cache.Probe(ctx)
		if err != nil {
			return nil, err
		}
		dim = probed
	}
	idx, err := p.store.Load(ctx, dim)
	if err != nil {
		return nil, err
	}
	if err := p.cache.Seed(idx.Vectors()); err != nil {
		return nil, err
	}
	p.seq.AdvanceTo(idx.NextID())

	entries := idx.Entries()
	chunks := make([]models.Chunk, len(entries))
	for i, e := range entries {
		chunks[i] = e.Chunk
	}
	if err := p.keyword.Reset(); err != nil {
		return nil, fmt.Errorf("failed to reset keyword index: %w", err)
	}
	if err := p.keyword.Index(ctx, chunks); err != nil {
		return nil, fmt.Errorf("failed to rebuild keyword index: %w", err)
	}
	p.index.Store(idx)
	p.logger.Info("pipeline ready",
		zap.String("model", p.cache.ModelID()),
		zap.Int("dimension", idx.Dimensions()),
		zap.Int("entries", idx.Len()),
		zap.Int64("next_chunk_id", p.seq.Peek()),
		zap.Int("chunk_size", p.chunker.ChunkSize()),
		zap.Int("chunk_overlap", p.chunker.ChunkOverlap()),
	)
	return idx, nil
}

// Ingest chunks docs, embeds the chunks not embedded yet, adds them to the index and saves
// the index. There is no rollback: on failure the report says which stage failed and how far
// the earlier stages got, and the unindexed chunks stay pending for RetryPending.
func (p *Pipeline) Ingest(ctx context.Context, docs []models.Document, sourceTag string) (report models.IngestReport, err error) {
	started := time.Now()
	report = models.IngestReport{IngestID: uuid.NewString(), DocumentsLoaded: len(docs)}
	defer func() { report.DurationMs = time.Since(started).Milliseconds() }()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	idx, initErr := p.ensureIndex(ctx)
	if initErr != nil {
		report.Fail(models.StageIndex, initErr)
		p.logFailure(&report, initErr)
		return report, initErr
	}

	chunks := p.chunker.Split(docs, sourceTag)
	report.ChunksAdded = len(chunks)
	if len(chunks) == 0 {
		err = fmt.Errorf("%w: no text to index in %d document(s)", models.ErrEmptyInput, len(docs))
		report.Fail(models.StageChunk, err)
		report.Pending = len(p.pending)
		return report, err
	}
	p.pending = append(p.pending, chunks...)

	err = p.commit(ctx, idx, chunks, &report)
	return report, err
}

// IngestLocator loads locator and ingests its documents. A load failure consumes no chunk ids.
func (p *Pipeline) IngestLocator(ctx context.Context, locator, sourceTag string) (models.IngestReport, error) {
	if p.loader == nil {
		err := models.InvalidArgument("no document loader configured")
		report := models.IngestReport{IngestID: uuid.NewString(), Locator: locator}
		report.Fail(models.StageLoad, err)
		return report, err
	}
	started := time.Now()
	docs, err := p.loader.Load(ctx, locator)
	if err != nil {
		report := models.IngestReport{IngestID: uuid.NewString(), Locator: locator}
		report.Fail(models.StageLoad, err)
		report.DurationMs = time.Since(started).Milliseconds()
		p.logFailure(&report, err)
		return report, err
	}
	report, err := p.Ingest(ctx, docs, sourceTag)
	report.Locator = locator
	report.DurationMs = time.Since(started).Milliseconds()
	return report, err
}

// RetryPending re-runs embed, upsert and persist for chunks left over by failed ingestions,
// and saves the index if an earlier save failed. Cached embeddings and index dedup make it
// safe to call any number of times.
func (p *Pipeline) RetryPending(ctx context.Context) (report models.IngestReport, err error) {
	started := time.Now()
	report = models.IngestReport{IngestID: uuid.NewString()}
	defer func() { report.DurationMs = time.Since(started).Milliseconds() }()

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	idx, initErr := p.ensureIndex(ctx)
	if initErr != nil {
		report.Fail(models.StageIndex, initErr)
		return report, initErr
	}
	chunks := append([]models.Chunk(nil), p.pending...)
	if len(chunks) == 0 && !p.dirty {
		report.Persisted = true
		return report, nil
	}
	err = p.commit(ctx, idx, chunks, &report)
	return report, err
}

// commit runs embed, upsert and persist for chunks. Must be called with writeMu held.
func (p *Pipeline) commit(ctx context.Context, idx *vector.Index, chunks []models.Chunk, report *models.IngestReport) error {
	defer func() { report.Pending = len(p.pending) }()

	added, total, err := p.cache.EmbedNew(ctx, chunks)
	report.EmbeddingsAdded = added
	if err != nil {
		report.Fail(models.StageEmbed, err)
		p.logFailure(report, err)
		return err
	}

	ids := make([]int64, len(chunks))
	for i, ch := range chunks {
		ids[i] = ch.ID
	}
	n, err := idx.Upsert(chunks, p.cache.Vectors(ids))
	report.IndexAdded = n
	if err != nil {
		report.Fail(models.StageIndex, err)
		p.logFailure(report, err)
		return err
	}
	if n > 0 {
		p.dirty = true
	}
	if err := p.keyword.Index(ctx, chunks); err != nil {
		err = fmt.Errorf("failed to update keyword index: %w", err)
		report.Fail(models.StageIndex, err)
		p.logFailure(report, err)
		return err
	}
	p.dropPending(idx)

	if p.dirty {
		if err := p.save(ctx, idx); err != nil {
			report.Fail(models.StagePersist, err)
			p.logFailure(report, err)
			return err
		}
		p.dirty = false
	}
	report.Persisted = true

	p.logger.Info("ingested",
		zap.String("ingest_id", report.IngestID),
		zap.Int("chunks", len(chunks)),
		zap.Int("embedded", added),
		zap.Int("cached", total),
		zap.Int("indexed", n),
		zap.Int("entries", idx.Len()),
	)
	return nil
}

// save persists idx along with the sequence position, so ids handed out before a restart
// are not handed out again after it.
func (p *Pipeline) save(ctx context.Context, idx *vector.Index) error {
	idx.SetNextID(p.seq.Peek())
	return p.store.Save(ctx, idx)
}

// dropPending forgets pending chunks that are now in the index.
func (p *Pipeline) dropPending(idx *vector.Index) {
	kept := p.pending[:0]
	for _, ch := range p.pending {
		if !idx.Has(ch.ID) {
			kept = append(kept, ch)
		}
	}
	p.pending = kept
}

// Query returns the k chunks most similar to question, best first.
func (p *Pipeline) Query(ctx context.Context, question string, k int) ([]*models.SearchResult, error) {
	if err := models.ValidateQuery(question, k); err != nil {
		return nil, err
	}
	idx, err := p.ensureIndex(ctx)
	if err != nil {
		return nil, err
	}
	vec, err := p.cache.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}
	return idx.Search(vec, p.capK(k))
}

// HybridQuery ranks chunks by a weighted sum of vector similarity and keyword relevance.
func (p *Pipeline) HybridQuery(ctx context.Context, question string, k int) ([]*models.SearchResult, error) {
	if err := models.ValidateQuery(question, k); err != nil {
		return nil, err
	}
	idx, err := p.ensureIndex(ctx)
	if err != nil {
		return nil, err
	}
	return p.engine.Hybrid(ctx, idx, question, p.capK(k))
}

// Ask retrieves the k best chunks and has the answerer respond from them. Answers are
// computed on every call.
func (p *Pipeline) Ask(ctx context.Context, question string, k int) (*models.Answer, error) {
	if p.answerer == nil {
		return nil, models.InvalidArgument("no answerer configured")
	}
	results, err := p.Query(ctx, question, k)
	if err != nil {
		return nil, err
	}
	text, err := p.answerer.Answer(ctx, results, question)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	return &models.Answer{Question: question, Answer: text, Sources: results}, nil
}

// RemoveSource deletes every indexed and pending chunk whose source is source and returns how
// many index entries were removed.
func (p *Pipeline) RemoveSource(ctx context.Context, source string) (int, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	idx, err := p.ensureIndex(ctx)
	if err != nil {
		return 0, err
	}
	match := func(ch models.Chunk) bool { return ch.Source() == source }

	kept := p.pending[:0]
	for _, ch := range p.pending {
		if !match(ch) {
			kept = append(kept, ch)
		}
	}
	p.pending = kept

	removed := idx.RemoveWhere(match)
	if len(removed) == 0 {
		return 0, nil
	}
	p.cache.Forget(removed)
	if err := p.keyword.Delete(ctx, removed); err != nil {
		return len(removed), fmt.Errorf("failed to delete from keyword index: %w", err)
	}
	p.dirty = true
	if err := p.save(ctx, idx); err != nil {
		return len(removed), err
	}
	p.dirty = false
	p.logger.Info("source removed", zap.String("source", source), zap.Int("entries", len(removed)))
	return len(removed), nil
}

// Sources returns the number of indexed chunks per source.
func (p *Pipeline) Sources(ctx context.Context) (map[string]int, error) {
	idx, err := p.ensureIndex(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, e := range idx.Entries() {
		out[e.Chunk.Source()]++
	}
	return out, nil
}

// Clear empties the index on disk and then in memory, along with the keyword index and
// pending chunks. If the disk clear fails nothing in memory changes. The embedding cache and
// the id sequence are left alone.
func (p *Pipeline) Clear(ctx context.Context) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.store.Clear(); err != nil {
		return err
	}
	if idx := p.index.Load(); idx != nil {
		idx.Reset()
	}
	p.pending = nil
	p.dirty = false
	if err := p.keyword.Reset(); err != nil {
		return fmt.Errorf("failed to reset keyword index: %w", err)
	}
	p.logger.Info("index cleared", zap.String("dir", p.store.Dir()))
	return nil
}

// ClearCache drops every cached embedding. Indexed entries keep their vectors. It waits for
// a running ingest so a commit never sees its fresh embeddings vanish before the upsert.
func (p *Pipeline) ClearCache() {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.cache.Clear()
	p.logger.Info("embedding cache cleared")
}

// Status reports the current state of the index, cache and id sequence.
func (p *Pipeline) Status(ctx context.Context) (models.Status, error) {
	idx, err := p.ensureIndex(ctx)
	if err != nil {
		return models.Status{}, err
	}
	p.writeMu.Lock()
	pending := len(p.pending)
	p.writeMu.Unlock()
	return models.Status{
		ModelID:        p.cache.ModelID(),
		Dimension:      idx.Dimensions(),
		Entries:        idx.Len(),
		CachedVectors:  p.cache.Len(),
		NextChunkID:    p.seq.Peek(),
		PendingChunks:  pending,
		IndexDir:       p.store.Dir(),
		DiskUsageBytes: p.store.DiskUsage(),
	}, nil
}

// Close releases the keyword index.
func (p *Pipeline) Close() error {
	return p.keyword.Close()
}

func (p *Pipeline) capK(k int) int {
	if k > p.cfg.MaxK {
		return p.cfg.MaxK
	}
	return k
}

func (p *Pipeline) logFailure(report *models.IngestReport, err error) {
	p.logger.Error("ingestion failed",
		zap.String("ingest_id", report.IngestID),
		zap.String("locator", report.Locator),
		zap.String("stage", report.FailedStage),
		zap.String("kind", string(report.ErrorKind)),
		zap.Error(err),
	)
}
