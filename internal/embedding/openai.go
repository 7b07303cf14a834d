package embedding

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hyperjump/shiru/internal/models"
	"github.com/hyperjump/shiru/pkg/utils"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIConfig configures an embedder for any OpenAI-compatible /embeddings endpoint.
// Ollama works with BaseURL "http://localhost:11434/v1" and an arbitrary APIKey.
type OpenAIConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Dimensions        int
	MaxBatch          int
	Timeout           time.Duration
	RequestsPerSecond float64
}

// OpenAIEmbedder calls a remote embeddings API. Each request is bounded by a timeout and
// passes through a rate limiter.
type OpenAIEmbedder struct {
	client   *openai.Client
	model    string
	maxBatch int
	timeout  time.Duration
	limiter  *utils.RateLimiter
	logger   *zap.Logger
	// requestDims is sent with every request when set; text-embedding-3 models shorten
	// their output to it.
	requestDims int
	dim         atomic.Int64
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*OpenAIEmbedder)

// WithOpenAILogger sets the logger.
func WithOpenAILogger(logger *zap.Logger) OpenAIOption {
	return func(e *OpenAIEmbedder) { e.logger = logger }
}

// NewOpenAIEmbedder creates an embedder from cfg.
func NewOpenAIEmbedder(cfg OpenAIConfig, opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, errors.New("openai embedder: model is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	e := &OpenAIEmbedder{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxBatch:    cfg.MaxBatch,
		timeout:     cfg.Timeout,
		limiter:     utils.NewRateLimiter(cfg.RequestsPerSecond, 1),
		requestDims: cfg.Dimensions,
	}
	if e.maxBatch <= 0 {
		e.maxBatch = 96
	}
	if e.timeout <= 0 {
		e.timeout = 30 * time.Second
	}
	e.dim.Store(int64(cfg.Dimensions))
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most MaxBatch inputs, preserving input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.maxBatch {
		end := start + e.maxBatch
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.request(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	input := make([]string, len(texts))
	for i, t := range texts {
		// The API rejects empty inputs.
		if strings.TrimSpace(t) == "" {
			t = " "
		}
		input[i] = t
	}
	req := openai.EmbeddingRequestStrings{
		Input:      input,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.requestDims,
	}
	started := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request to %s failed: %w", e.model, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		// Older models ignore the dimensions parameter.
		if e.requestDims > 0 && len(d.Embedding) != e.requestDims {
			return nil, fmt.Errorf("model %s ignored dimensions=%d: %w", e.model, e.requestDims,
				&models.DimensionError{Want: e.requestDims, Got: len(d.Embedding)})
		}
		out[i] = d.Embedding
	}
	if len(out) > 0 {
		e.dim.CompareAndSwap(0, int64(len(out[0])))
	}
	if e.logger != nil {
		e.logger.Debug("embeddings request",
			zap.String("model", e.model),
			zap.Int("inputs", len(texts)),
			zap.Duration("took", time.Since(started)),
		)
	}
	return out, nil
}

// Dimensions returns the configured dimension, or the one observed on the first response.
func (e *OpenAIEmbedder) Dimensions() int {
	return int(e.dim.Load())
}

// ModelID returns "openai-" plus the model name.
func (e *OpenAIEmbedder) ModelID() string {
	return "openai-" + e.model
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
