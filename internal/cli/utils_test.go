package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/shiru/internal/models"
)

func sampleResponse(mode string) *models.QueryResponse {
	return &models.QueryResponse{
		Question:    "how do I rotate keys",
		K:           2,
		Mode:        mode,
		QueryTimeMs: 7,
		Results: []*models.SearchResult{
			{
				Rank:         1,
				Score:        0.91,
				VectorScore:  0.8,
				KeywordScore: 1,
				Chunk: models.Chunk{
					ID:         3,
					Text:       "Rotate the signing keys\nevery quarter.",
					StartIndex: 120,
					Metadata:   map[string]any{models.MetaSource: "security.md", models.MetaTitle: "Security"},
				},
			},
		},
	}
}

func TestWriteResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResults(&buf, sampleResponse(models.ModeVector), OutputJSON); err != nil {
		t.Fatalf("WriteResults(json): %v", err)
	}
	var decoded models.QueryResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Question != "how do I rotate keys" || decoded.K != 2 {
		t.Errorf("decoded %+v", decoded)
	}
	if len(decoded.Results) != 1 || decoded.Results[0].Chunk.ID != 3 {
		t.Errorf("decoded results: %+v", decoded.Results)
	}
}

func TestWriteResults_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResults(&buf, sampleResponse(models.ModeHybrid), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Found 1 results in 7ms (hybrid, k=2)", "Keyword: 1.0000", "Source: security.md", "Offset: 120", "Title: Security", "every quarter."} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteResults_textVectorOmitsComponentScores(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResults(&buf, sampleResponse(models.ModeVector), OutputText); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "Keyword:") {
		t.Errorf("vector output should not show component scores:\n%s", buf.String())
	}
}

func TestWriteResults_compact(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResults(&buf, sampleResponse(models.ModeVector), OutputCompact); err != nil {
		t.Fatal(err)
	}
	want := "1\t0.9100\tsecurity.md\tRotate the signing keys every quarter.\n"
	if buf.String() != want {
		t.Errorf("compact = %q, want %q", buf.String(), want)
	}
}

func TestWriteResults_empty(t *testing.T) {
	var buf bytes.Buffer
	resp := &models.QueryResponse{Mode: models.ModeVector, K: 5, Results: []*models.SearchResult{}}
	if err := WriteResults(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Found 0 results") {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteReport(t *testing.T) {
	report := &models.IngestReport{
		Locator:         "docs/",
		DocumentsLoaded: 2,
		ChunksAdded:     5,
		EmbeddingsAdded: 3,
		Pending:         2,
		FailedStage:     models.StageEmbed,
		Error:           "embedder unavailable",
		ErrorKind:       models.KindInternal,
	}
	var buf bytes.Buffer
	if err := WriteReport(&buf, report, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Ingested docs/", "chunks:    5", "pending:   2", "failed at embed [internal]: embedder unavailable"} {
		if !strings.Contains(out, want) {
			t.Errorf("report output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := WriteReport(&buf, report, OutputCompact); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "failed:embed\tdocs/\tchunks=5") {
		t.Errorf("compact report = %q", buf.String())
	}
}

func TestWriteAnswer(t *testing.T) {
	view := &models.AnswerView{
		Question: "q",
		Answer:   "Rotate keys\nquarterly.",
		Sources:  []models.AnswerSource{{Source: "security.md", StartIndex: 40, Snippet: "Rotate", Score: 0.5}},
	}
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, view, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "[1] security.md (offset 40, score 0.5000)") {
		t.Errorf("answer output:\n%s", buf.String())
	}
	buf.Reset()
	if err := WriteAnswer(&buf, view, OutputCompact); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "Rotate keys quarterly.\n" {
		t.Errorf("compact answer = %q", buf.String())
	}
}

func TestWriteStatus(t *testing.T) {
	st := &models.Status{ModelID: "mock-16", Dimension: 16, Entries: 4, NextChunkID: 4, DiskUsageBytes: 2048}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, st, OutputText); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Model:          mock-16", "Entries:        4", "Disk usage:     2.0 KiB"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("status output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", OutputText, false},
		{"text", OutputText, false},
		{"JSON", OutputJSON, false},
		{"compact", OutputCompact, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{0: "0 B", 1023: "1023 B", 1024: "1.0 KiB", 1536: "1.5 KiB", 5 << 20: "5.0 MiB"}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncateWords(t *testing.T) {
	tests := []struct {
		s        string
		maxWords int
		want     string
	}{
		{"one two three", 5, "one two three"},
		{"one two three", 2, "one two..."},
		{"", 3, ""},
	}
	for _, tt := range tests {
		if got := TruncateWords(tt.s, tt.maxWords); got != tt.want {
			t.Errorf("TruncateWords(%q, %d) = %q, want %q", tt.s, tt.maxWords, got, tt.want)
		}
	}
}
