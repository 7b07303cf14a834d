package e2e

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/shiru/internal/embedding"
	"github.com/hyperjump/shiru/internal/loader"
	"github.com/hyperjump/shiru/internal/models"
	"github.com/hyperjump/shiru/internal/pipeline"
	"github.com/hyperjump/shiru/internal/search"
	"github.com/hyperjump/shiru/internal/storage"
)

const (
	e2eK          = 10
	e2eDimensions = 8
)

// newPipeline builds a pipeline whose hybrid ranking leans on keyword relevance; the mock
// embedder's vectors carry no meaning.
func newPipeline(t *testing.T, indexDir string) *pipeline.Pipeline {
	t.Helper()
	cache := embedding.NewCache(embedding.NewMockEmbedder(e2eDimensions))
	store := storage.NewIndexStore(indexDir, "mock")
	p, err := pipeline.New(cache, store, pipeline.Config{
		ChunkSize:    400,
		ChunkOverlap: 40,
		MaxK:         50,
		Search: search.Config{
			KeywordWeight: 0.9,
			VectorWeight:  0.1,
			Candidates:    50,
		},
	}, pipeline.WithLoader(loader.New()))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func sources(results []*models.SearchResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Chunk.Source())
	}
	return out
}

func containsAny(got, expected []string) bool {
	set := make(map[string]bool, len(got))
	for _, s := range got {
		set[s] = true
	}
	for _, s := range expected {
		if set[s] {
			return true
		}
	}
	return false
}

func TestE2E_HybridQueryFindsPage(t *testing.T) {
	p := newPipeline(t, t.TempDir())
	ctx := context.Background()
	corpus := BuildCorpus()

	report, err := p.Ingest(ctx, corpus.Documents(), "")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if report.IndexAdded < len(corpus.Pages) {
		t.Fatalf("indexed %d chunks for %d pages", report.IndexAdded, len(corpus.Pages))
	}
	t.Logf("indexed %d chunks; running %d query cases", report.IndexAdded, len(corpus.Cases))

	for _, tc := range corpus.Cases {
		t.Run(tc.Description, func(t *testing.T) {
			results, err := p.HybridQuery(ctx, tc.Question, e2eK)
			if err != nil {
				t.Fatalf("query failed: %v", err)
			}
			got := sources(results)
			if !containsAny(got, tc.ExpectedIDs) {
				t.Errorf("query %q: expected one of %v in %v", tc.Question, tc.ExpectedIDs, got)
			}
		})
	}
}

func TestE2E_VectorQueryIsDeterministic(t *testing.T) {
	p := newPipeline(t, t.TempDir())
	ctx := context.Background()
	corpus := BuildCorpus()
	if _, err := p.Ingest(ctx, corpus.Documents(), ""); err != nil {
		t.Fatal(err)
	}
	first, err := p.Query(ctx, corpus.Cases[0].Question, e2eK)
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Query(ctx, corpus.Cases[0].Question, e2eK)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != e2eK {
		t.Fatalf("got %d results, want %d", len(first), e2eK)
	}
	for i := range first {
		if first[i].Chunk.ID != second[i].Chunk.ID || first[i].Score != second[i].Score {
			t.Fatalf("result %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
		if i > 0 && first[i].Score > first[i-1].Score {
			t.Errorf("results not sorted by score at %d", i)
		}
	}
}

// TestE2E_DirectoryIngest writes the corpus as files of every fixture type, ingests the
// directory and checks each page is found through its file path.
func TestE2E_DirectoryIngest(t *testing.T) {
	dir := t.TempDir()
	docDir := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docDir, 0755); err != nil {
		t.Fatal(err)
	}

	corpus := BuildCorpus()
	pathByID := make(map[string]string, len(corpus.Pages))
	for i, page := range corpus.Pages {
		ext := FixtureExtensions[i%len(FixtureExtensions)]
		content, err := WriteFixture(ext, page.Title, page.Content)
		if err != nil {
			t.Fatalf("fixture %s: %v", page.ID, err)
		}
		path := filepath.Join(docDir, page.ID+ext)
		if err := os.WriteFile(path, content, 0644); err != nil {
			t.Fatal(err)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			t.Fatal(err)
		}
		pathByID[page.ID] = abs
	}

	p := newPipeline(t, filepath.Join(dir, "index"))
	ctx := context.Background()
	report, err := p.IngestLocator(ctx, docDir, "")
	if err != nil {
		t.Fatalf("ingest directory: %v", err)
	}
	if report.DocumentsLoaded < len(corpus.Pages) {
		t.Fatalf("loaded %d documents from %d files", report.DocumentsLoaded, len(corpus.Pages))
	}

	for _, tc := range corpus.Cases {
		expected := make([]string, 0, len(tc.ExpectedIDs))
		for _, id := range tc.ExpectedIDs {
			expected = append(expected, pathByID[id])
		}
		t.Run(tc.Description, func(t *testing.T) {
			results, err := p.HybridQuery(ctx, tc.Question, e2eK)
			if err != nil {
				t.Fatalf("query failed: %v", err)
			}
			if got := sources(results); !containsAny(got, expected) {
				t.Errorf("query %q: expected one of %v in %v", tc.Question, expected, got)
			}
		})
	}
}
