package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/shiru/internal/answer"
	"github.com/hyperjump/shiru/internal/config"
	"github.com/hyperjump/shiru/internal/embedding"
	"github.com/hyperjump/shiru/internal/loader"
	"github.com/hyperjump/shiru/internal/models"
	"github.com/hyperjump/shiru/internal/pipeline"
	"github.com/hyperjump/shiru/internal/search"
	"github.com/hyperjump/shiru/internal/storage"
	"go.uber.org/zap"
)

// Components holds everything built from the config for one process.
type Components struct {
	Embedder embedding.Embedder
	Pipeline *pipeline.Pipeline
}

// Close releases the pipeline and the embedder.
func (c *Components) Close() {
	if c.Pipeline != nil {
		_ = c.Pipeline.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		return nil, err
	}
	cacheOpts := []embedding.CacheOption{
		embedding.WithBatchSize(cfg.Embedding.BatchSize),
		embedding.WithLogger(logger),
	}
	if dim := embedder.Dimensions(); dim > 0 {
		cacheOpts = append(cacheOpts, embedding.WithDimension(dim))
	}
	cache := embedding.NewCache(embedder, cacheOpts...)
	store := storage.NewIndexStore(cfg.Storage.IndexDir, embedder.ModelID(), storage.WithLogger(logger))
	ld := loader.New(
		loader.WithExtensions(cfg.Loader.Extensions),
		loader.WithHTTPTimeout(time.Duration(cfg.Loader.HTTPTimeoutSeconds)*time.Second),
		loader.WithMaxBytes(cfg.Loader.MaxBytes),
		loader.WithLogger(logger),
	)
	answerer, err := newAnswerer(cfg.Answer, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	p, err := pipeline.New(cache, store, pipeline.Config{
		ChunkSize:    cfg.Chunking.Size,
		ChunkOverlap: cfg.Chunking.Overlap,
		Separators:   cfg.Chunking.Separators,
		MaxK:         cfg.Search.MaxK,
		Search: search.Config{
			KeywordWeight: cfg.Search.KeywordWeight,
			VectorWeight:  cfg.Search.VectorWeight,
			Candidates:    cfg.Search.Candidates,
			Fuzzy:         cfg.Search.Fuzzy,
			Fuzziness:     cfg.Search.Fuzziness,
		},
	},
		pipeline.WithLogger(logger),
		pipeline.WithLoader(ld),
		pipeline.WithAnswerer(answerer),
	)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}
	logger.Info("pipeline initialized",
		zap.String("model_id", embedder.ModelID()),
		zap.String("index_dir", store.Dir()),
		zap.Int("chunk_size", cfg.Chunking.Size),
		zap.Int("chunk_overlap", cfg.Chunking.Overlap),
		zap.String("answerer", cfg.Answer.Provider),
	)
	return &Components{Embedder: embedder, Pipeline: p}, nil
}

func newEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "mock":
		dims := cfg.Dimensions
		if dims == 0 {
			dims = 384
		}
		logger.Warn("using mock embedder; retrieval quality is not meaningful", zap.Int("dimensions", dims))
		return embedding.NewMockEmbedder(dims), nil
	case "openai":
		return embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			BaseURL:           cfg.BaseURL,
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			MaxBatch:          cfg.BatchSize,
			Timeout:           cfg.Timeout(),
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, embedding.WithOpenAILogger(logger))
	default:
		e, err := embedding.NewONNXEmbedder(cfg.ModelPath, cfg.LibraryPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to load onnx model %s (set embedding.provider to openai or mock to run without it): %w", cfg.ModelPath, err)
		}
		return e, nil
	}
}

func newAnswerer(cfg config.AnswerConfig, logger *zap.Logger) (pipeline.Answerer, error) {
	if cfg.Provider != "openai" {
		return answer.NewExtractive(), nil
	}
	return answer.NewOpenAI(answer.OpenAIConfig{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		Timeout:           cfg.Timeout(),
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxRetries:        cfg.MaxRetries,
	}, answer.WithLogger(logger))
}

// backend is what the client commands run against: a server over HTTP or an in-process
// pipeline.
type backend interface {
	Ingest(ctx context.Context, locator, sourceTag string) (*models.IngestReport, error)
	Retry(ctx context.Context) (*models.IngestReport, error)
	Query(ctx context.Context, question string, k int, hybrid bool) (*models.QueryResponse, error)
	Ask(ctx context.Context, question string, k int) (*models.AnswerView, error)
	ClearIndex(ctx context.Context) error
	ClearCache(ctx context.Context) error
	Status(ctx context.Context) (*models.Status, error)
	Close() error
}

// direct runs commands against a pipeline built in this process.
type direct struct {
	components *Components
}

func (d *direct) Ingest(ctx context.Context, locator, sourceTag string) (*models.IngestReport, error) {
	report, err := d.components.Pipeline.IngestLocator(ctx, locator, sourceTag)
	return &report, err
}

func (d *direct) Retry(ctx context.Context) (*models.IngestReport, error) {
	report, err := d.components.Pipeline.RetryPending(ctx)
	return &report, err
}

func (d *direct) Query(ctx context.Context, question string, k int, hybrid bool) (*models.QueryResponse, error) {
	started := time.Now()
	mode := models.ModeVector
	query := d.components.Pipeline.Query
	if hybrid {
		mode = models.ModeHybrid
		query = d.components.Pipeline.HybridQuery
	}
	results, err := query(ctx, question, k)
	if err != nil {
		return nil, err
	}
	return &models.QueryResponse{
		Question:    question,
		K:           k,
		Mode:        mode,
		Results:     results,
		QueryTimeMs: time.Since(started).Milliseconds(),
	}, nil
}

func (d *direct) Ask(ctx context.Context, question string, k int) (*models.AnswerView, error) {
	a, err := d.components.Pipeline.Ask(ctx, question, k)
	if err != nil {
		return nil, err
	}
	view := answer.Cite(a)
	return &view, nil
}

func (d *direct) ClearIndex(ctx context.Context) error {
	return d.components.Pipeline.Clear(ctx)
}

func (d *direct) ClearCache(context.Context) error {
	d.components.Pipeline.ClearCache()
	return nil
}

func (d *direct) Status(ctx context.Context) (*models.Status, error) {
	st, err := d.components.Pipeline.Status(ctx)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (d *direct) Close() error {
	d.components.Close()
	return nil
}
