package answer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/shiru/internal/models"
)

func results(texts ...string) []*models.SearchResult {
	out := make([]*models.SearchResult, len(texts))
	for i, t := range texts {
		out[i] = &models.SearchResult{
			Chunk: models.Chunk{ID: int64(i), Text: t, Metadata: map[string]any{"source": "doc.txt"}},
			Rank:  i + 1,
		}
	}
	return out
}

func TestBuildPrompt(t *testing.T) {
	got := BuildPrompt(results("alpha", "beta"), "what is alpha?")
	want := "From this data:\nalpha\n\nbeta\nFind this what is alpha?, and give response."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractive(t *testing.T) {
	e := NewExtractive()
	got, err := e.Answer(context.Background(), results("one", "two", "three", "four"), "q")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "[1] doc.txt: one") || strings.Contains(got, "four") {
		t.Errorf("got %q", got)
	}
	empty, _ := e.Answer(context.Background(), nil, "q")
	if empty != NoAnswer {
		t.Errorf("got %q", empty)
	}
}

func chatServer(t *testing.T, failures int32, prompts *[]string) *httptest.Server {
	t.Helper()
	var calls atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if calls.Add(1) <= failures {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if prompts != nil && len(req.Messages) > 0 {
			*prompts = append(*prompts, req.Messages[0].Content)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"` + req.Model + `",
			"choices":[{"index":0,"message":{"role":"assistant","content":"  Paris.  "},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`))
	}))
}

func TestCite(t *testing.T) {
	long := strings.Repeat("é", 400)
	srcs := results("short", long)
	srcs[1].Chunk.StartIndex = 120
	srcs[1].Score = 0.5
	view := Cite(&models.Answer{Question: "q", Answer: "a", Sources: srcs})
	if view.Question != "q" || view.Answer != "a" || len(view.Sources) != 2 {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Sources[0].Snippet != "short" || view.Sources[0].Source != "doc.txt" {
		t.Errorf("first source: %+v", view.Sources[0])
	}
	got := view.Sources[1]
	if got.Snippet != strings.Repeat("é", 300)+"..." {
		t.Errorf("snippet should be cut to 300 characters, got %d bytes", len(got.Snippet))
	}
	if got.StartIndex != 120 || got.Score != 0.5 {
		t.Errorf("second source: start=%d score=%f", got.StartIndex, got.Score)
	}
}

func TestOpenAI_Answer(t *testing.T) {
	var prompts []string
	srv := chatServer(t, 0, &prompts)
	defer srv.Close()

	a, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "llama3"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.Answer(context.Background(), results("Paris is the capital of France."), "capital of France")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Paris." {
		t.Errorf("got %q", got)
	}
	if len(prompts) != 1 || !strings.Contains(prompts[0], "Paris is the capital of France.") {
		t.Errorf("prompts = %v", prompts)
	}
}

func TestOpenAI_RetriesServerErrors(t *testing.T) {
	srv := chatServer(t, 2, nil)
	defer srv.Close()
	a, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m", MaxRetries: 2, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if got, err := a.Answer(context.Background(), nil, "q"); err != nil || got != "Paris." {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestOpenAI_GivesUpAfterRetries(t *testing.T) {
	srv := chatServer(t, 5, nil)
	defer srv.Close()
	a, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m", MaxRetries: 1, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Answer(context.Background(), nil, "q"); err == nil {
		t.Error("expected error")
	}
}

func TestOpenAI_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()
	a, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m", MaxRetries: 3, RetryDelay: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Answer(context.Background(), nil, "q"); err == nil {
		t.Error("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("expected a single request for a 400, got %d", calls.Load())
	}
}

func TestOpenAI_RetryStopsWhenContextEnds(t *testing.T) {
	srv := chatServer(t, 100, nil)
	defer srv.Close()
	a, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1", Model: "m", MaxRetries: 50, RetryDelay: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	started := time.Now()
	if _, err := a.Answer(ctx, nil, "q"); err == nil {
		t.Error("expected error")
	}
	if took := time.Since(started); took > 5*time.Second {
		t.Errorf("retries kept going after the context ended: %s", took)
	}
}

func TestNewOpenAI_RequiresModel(t *testing.T) {
	if _, err := NewOpenAI(OpenAIConfig{}); err == nil {
		t.Error("expected error")
	}
}
