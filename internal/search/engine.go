package search

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/shiru/internal/keyword"
	"github.com/hyperjump/shiru/internal/models"
	"github.com/hyperjump/shiru/pkg/utils"
)

// SnippetLength is the number of characters of chunk text shown with answer sources.
const SnippetLength = 300

// Index is the part of the vector index hybrid search reads from.
type Index interface {
	Search(query []float32, k int) ([]*models.SearchResult, error)
	Get(id int64) (models.Chunk, bool)
}

// QueryEmbedder embeds query text into a unit vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config holds hybrid search weights and candidate pool size.
type Config struct {
	KeywordWeight float64
	VectorWeight  float64
	// Candidates is how many hits each side contributes before fusion. Never less than k.
	Candidates int
	Fuzzy      bool
	Fuzziness  int
}

// Engine runs hybrid (keyword + vector) search over chunks.
type Engine struct {
	keywordIndex keyword.KeywordIndex
	embedder     QueryEmbedder
	config       Config
}

// NewEngine creates a hybrid search engine.
func NewEngine(keywordIndex keyword.KeywordIndex, embedder QueryEmbedder, cfg Config) *Engine {
	if cfg.KeywordWeight == 0 && cfg.VectorWeight == 0 {
		cfg.KeywordWeight, cfg.VectorWeight = 0.3, 0.7
	}
	return &Engine{keywordIndex: keywordIndex, embedder: embedder, config: cfg}
}

// Hybrid returns the k best chunks by fused keyword and vector score.
func (e *Engine) Hybrid(ctx context.Context, idx Index, question string, k int) ([]*models.SearchResult, error) {
	if err := models.ValidateQuery(question, k); err != nil {
		return nil, err
	}
	candidates := e.config.Candidates
	if candidates < k {
		candidates = k
	}

	var (
		keywordResults []*keyword.KeywordResult
		vectorResults  []*models.SearchResult
		errChan        = make(chan error, 2)
		wg             sync.WaitGroup
	)

	if e.config.KeywordWeight > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			opts := &keyword.SearchOptions{FuzzyEnabled: e.config.Fuzzy, Fuzziness: e.config.Fuzziness}
			results, err := e.keywordIndex.Search(ctx, question, candidates, opts)
			if err != nil {
				errChan <- fmt.Errorf("keyword search failed: %w", err)
				return
			}
			keywordResults = results
		}()
	}

	if e.config.VectorWeight > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			queryEmbedding, err := e.embedder.EmbedQuery(ctx, question)
			if err != nil {
				errChan <- err
				return
			}
			results, err := idx.Search(queryEmbedding, candidates)
			if err != nil {
				errChan <- err
				return
			}
			vectorResults = results
		}()
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}

	chunks := make(map[int64]models.Chunk, len(vectorResults))
	for _, r := range vectorResults {
		chunks[r.Chunk.ID] = r.Chunk
	}
	fused := Fuse(NormalizeKeywordScores(keywordResults), VectorScores(vectorResults),
		e.config.KeywordWeight, e.config.VectorWeight)

	out := make([]*models.SearchResult, 0, k)
	for _, f := range fused {
		if len(out) == k {
			break
		}
		ch, ok := chunks[f.ID]
		if !ok {
			// Keyword hit outside the vector candidates; a stale keyword entry has no chunk.
			if ch, ok = idx.Get(f.ID); !ok {
				continue
			}
			ch.Metadata = models.CopyMetadata(ch.Metadata)
		}
		out = append(out, &models.SearchResult{
			Chunk:        ch,
			Score:        f.Score,
			VectorScore:  f.VectorScore,
			KeywordScore: f.KeywordScore,
			Rank:         len(out) + 1,
		})
	}
	return out, nil
}

// Snippet returns the first SnippetLength characters of text, with "..." when cut.
func Snippet(text string) string {
	return utils.Truncate(text, SnippetLength)
}
