// Package answer turns retrieved chunks into an answer to the user's question.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/shiru/internal/models"
	"github.com/hyperjump/shiru/internal/search"
)

// NoAnswer is returned when nothing relevant was retrieved.
const NoAnswer = "No relevant information found."

// BuildPrompt formats the retrieved chunks and question into a single user message.
func BuildPrompt(chunks []*models.SearchResult, question string) string {
	return fmt.Sprintf("From this data:\n%s\nFind this %s, and give response.", Context(chunks), question)
}

// Context joins chunk texts, best first, separated by blank lines.
func Context(chunks []*models.SearchResult) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Chunk.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Extractive answers with snippets of the best chunks. It needs no model and is the default.
type Extractive struct {
	// MaxSources bounds how many chunks are quoted. Zero means 3.
	MaxSources int
}

// NewExtractive returns an extractive answerer.
func NewExtractive() *Extractive {
	return &Extractive{MaxSources: 3}
}

// Answer quotes the top chunks with their sources.
func (e *Extractive) Answer(ctx context.Context, chunks []*models.SearchResult, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return NoAnswer, nil
	}
	n := e.MaxSources
	if n <= 0 {
		n = 3
	}
	if n > len(chunks) {
		n = len(chunks)
	}
	var b strings.Builder
	for i, c := range chunks[:n] {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s: %s", i+1, c.Chunk.Source(), search.Snippet(c.Chunk.Text))
	}
	return b.String(), nil
}

// Cite converts a to the client-facing view, cutting each source down to a snippet.
func Cite(a *models.Answer) models.AnswerView {
	view := models.AnswerView{
		Question: a.Question,
		Answer:   a.Answer,
		Sources:  make([]models.AnswerSource, len(a.Sources)),
	}
	for i, src := range a.Sources {
		view.Sources[i] = models.AnswerSource{
			Source:     src.Chunk.Source(),
			StartIndex: src.Chunk.StartIndex,
			Snippet:    search.Snippet(src.Chunk.Text),
			Score:      src.Score,
		}
	}
	return view
}
