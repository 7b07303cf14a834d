package embedding

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/hyperjump/shiru/internal/models"
	"github.com/hyperjump/shiru/pkg/utils"
)

func chunks(ids ...int64) []models.Chunk {
	out := make([]models.Chunk, len(ids))
	for i, id := range ids {
		out[i] = models.Chunk{ID: id, Text: "chunk text " + Key(id)}
	}
	return out
}

// fixedEmbedder returns a preset vector per text and fails once failAfter texts were embedded.
type fixedEmbedder struct {
	dim       int
	calls     int
	embedded  int
	failAfter int
	override  map[string][]float32
}

func (f *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.failAfter > 0 && f.embedded+len(texts) > f.failAfter {
		return nil, errors.New("model unavailable")
	}
	f.embedded += len(texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.override[t]; ok {
			out[i] = v
			continue
		}
		v := make([]float32, f.dim)
		v[0] = 3
		v[1] = 4
		out[i] = v
	}
	return out, nil
}

func (f *fixedEmbedder) Dimensions() int { return f.dim }
func (f *fixedEmbedder) ModelID() string { return "fixed" }
func (f *fixedEmbedder) Close() error    { return nil }

func TestCache_EmbedNewIsIdempotent(t *testing.T) {
	m := NewMockEmbedder(8)
	c := NewCache(m)
	ctx := context.Background()

	added, total, err := c.EmbedNew(ctx, chunks(0, 1, 2))
	if err != nil {
		t.Fatal(err)
	}
	if added != 3 || total != 3 {
		t.Fatalf("first call added=%d total=%d", added, total)
	}
	first := c.Vectors([]int64{0, 1, 2})
	texts := m.TextsEmbedded()

	added, total, err = c.EmbedNew(ctx, chunks(0, 1, 2))
	if err != nil {
		t.Fatal(err)
	}
	if added != 0 || total != 3 {
		t.Errorf("second call added=%d total=%d", added, total)
	}
	if m.TextsEmbedded() != texts {
		t.Errorf("second call reached the embedder: %d -> %d texts", texts, m.TextsEmbedded())
	}
	second := c.Vectors([]int64{0, 1, 2})
	for id, v := range first {
		for i := range v {
			if math.Float32bits(v[i]) != math.Float32bits(second[id][i]) {
				t.Fatalf("vector %d changed between calls", id)
			}
		}
	}
}

func TestCache_NormalizesVectors(t *testing.T) {
	c := NewCache(&fixedEmbedder{dim: 3})
	if _, _, err := c.EmbedNew(context.Background(), chunks(5)); err != nil {
		t.Fatal(err)
	}
	v := c.Vectors([]int64{5})[5]
	if math.Abs(utils.L2Norm(v)-1) > 1e-6 {
		t.Errorf("norm = %f", utils.L2Norm(v))
	}
	q, err := c.EmbedQuery(context.Background(), "question")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(utils.L2Norm(q)-1) > 1e-6 {
		t.Errorf("query norm = %f", utils.L2Norm(q))
	}
}

func TestCache_QueriesAreNotCached(t *testing.T) {
	f := &fixedEmbedder{dim: 3}
	c := NewCache(f)
	for i := 0; i < 3; i++ {
		if _, err := c.EmbedQuery(context.Background(), "same question"); err != nil {
			t.Fatal(err)
		}
	}
	if f.calls != 3 {
		t.Errorf("expected 3 embedder calls, got %d", f.calls)
	}
	if c.Len() != 0 {
		t.Errorf("query stored in cache: len=%d", c.Len())
	}
}

func TestCache_DimensionMismatchIsFatal(t *testing.T) {
	f := &fixedEmbedder{dim: 3, override: map[string][]float32{"odd": {1, 2, 3, 4}}}
	c := NewCache(f)
	ctx := context.Background()
	if _, _, err := c.EmbedNew(ctx, chunks(0)); err != nil {
		t.Fatal(err)
	}
	_, _, err := c.EmbedNew(ctx, []models.Chunk{{ID: 1, Text: "odd"}})
	var de *models.DimensionError
	if !errors.As(err, &de) || de.Want != 3 || de.Got != 4 {
		t.Fatalf("expected DimensionError{3,4}, got %v", err)
	}
	if !errors.Is(err, models.ErrDimensionMismatch) {
		t.Error("expected ErrDimensionMismatch")
	}
	if c.Has(1) {
		t.Error("mismatched vector must not be stored")
	}
	if _, err := c.EmbedQuery(ctx, "odd"); !errors.Is(err, models.ErrDimensionMismatch) {
		t.Errorf("query with wrong dimension: %v", err)
	}
}

func TestCache_PartialProgressKept(t *testing.T) {
	f := &fixedEmbedder{dim: 2, failAfter: 4}
	c := NewCache(f, WithBatchSize(2))
	added, total, err := c.EmbedNew(context.Background(), chunks(0, 1, 2, 3, 4, 5))
	if err == nil {
		t.Fatal("expected error from third batch")
	}
	if added != 4 || total != 4 {
		t.Errorf("added=%d total=%d, want 4/4", added, total)
	}
	// Retry embeds only what is missing.
	f.failAfter = 0
	added, total, err = c.EmbedNew(context.Background(), chunks(0, 1, 2, 3, 4, 5))
	if err != nil {
		t.Fatal(err)
	}
	if added != 2 || total != 6 {
		t.Errorf("retry added=%d total=%d, want 2/6", added, total)
	}
}

func TestCache_DuplicateIDsInOneCall(t *testing.T) {
	m := NewMockEmbedder(4)
	c := NewCache(m)
	added, _, err := c.EmbedNew(context.Background(), chunks(1, 1, 2))
	if err != nil {
		t.Fatal(err)
	}
	if added != 2 || m.TextsEmbedded() != 2 {
		t.Errorf("added=%d embedded=%d", added, m.TextsEmbedded())
	}
}

func TestCache_WithDimensionRejectsOtherLengths(t *testing.T) {
	c := NewCache(NewMockEmbedder(4), WithDimension(3))
	if c.Dimension() != 3 {
		t.Fatalf("Dimension() = %d, want 3", c.Dimension())
	}
	added, _, err := c.EmbedNew(context.Background(), chunks(1, 2))
	if !errors.Is(err, models.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if added != 0 || c.Has(1) {
		t.Errorf("nothing should be cached: added=%d len=%d", added, c.Len())
	}
	if _, err := c.EmbedQuery(context.Background(), "q"); !errors.Is(err, models.ErrDimensionMismatch) {
		t.Errorf("expected query mismatch, got %v", err)
	}
}

func TestCache_SeedClearAndProbe(t *testing.T) {
	c := NewCache(NewMockEmbedder(2))
	if err := c.Seed(map[int64][]float32{7: {1, 0}}); err != nil {
		t.Fatal(err)
	}
	if !c.Has(7) || c.Dimension() != 2 {
		t.Fatalf("seed not applied: has=%v dim=%d", c.Has(7), c.Dimension())
	}
	if err := c.Seed(map[int64][]float32{8: {1, 0, 0}}); !errors.Is(err, models.ErrDimensionMismatch) {
		t.Errorf("expected mismatch on seed, got %v", err)
	}
	c.Clear()
	if c.Len() != 0 || c.Dimension() != 2 {
		t.Errorf("after clear len=%d dim=%d", c.Len(), c.Dimension())
	}
	dim, err := c.Probe(context.Background())
	if err != nil || dim != 2 {
		t.Errorf("Probe() = %d, %v", dim, err)
	}
}

func TestCache_ProbeUsesEmbedderWhenDimensionUnknown(t *testing.T) {
	f := &fixedEmbedder{dim: 5}
	c := NewCache(f)
	dim, err := c.Probe(context.Background())
	if err != nil || dim != 5 {
		t.Fatalf("Probe() = %d, %v", dim, err)
	}
	if c.Dimension() != 5 {
		t.Errorf("Dimension() = %d", c.Dimension())
	}
}
