// Package cli provides output formatting and a server client for the shiru command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/shiru/internal/models"
	"github.com/hyperjump/shiru/pkg/utils"
)

// OutputFormat selects how command results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is indented JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputCompact is one line per result.
	OutputCompact OutputFormat = "compact"
)

// ParseFormat validates a -format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON, OutputCompact:
		return f, nil
	default:
		return "", models.InvalidArgument("unknown format %q (want text, json or compact)", s)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteResults writes a query response in the given format.
func WriteResults(w io.Writer, resp *models.QueryResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, resp)
	case OutputCompact:
		for _, r := range resp.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", r.Rank, r.Score, r.Chunk.Source(), TruncateWords(utils.CollapseSpace(r.Chunk.Text), 12))
		}
		return nil
	default:
		writeResultsText(w, resp)
		return nil
	}
}

func writeResultsText(w io.Writer, resp *models.QueryResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms (%s, k=%d)\n\n", len(resp.Results), resp.QueryTimeMs, resp.Mode, resp.K)
	for _, r := range resp.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		if resp.Mode == models.ModeHybrid {
			fmt.Fprintf(w, "Rank: %d | Score: %.4f (Keyword: %.4f, Vector: %.4f)\n",
				r.Rank, r.Score, r.KeywordScore, r.VectorScore)
		} else {
			fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", r.Rank, r.Score)
		}
		fmt.Fprintf(w, "Chunk: %d | Source: %s | Offset: %d\n", r.Chunk.ID, r.Chunk.Source(), r.Chunk.StartIndex)
		if title, ok := r.Chunk.Metadata[models.MetaTitle].(string); ok && title != "" {
			fmt.Fprintf(w, "Title: %s\n", title)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(r.Chunk.Text, 200))
	}
}

// WriteReport writes an ingest report.
func WriteReport(w io.Writer, report *models.IngestReport, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, report)
	case OutputCompact:
		status := "ok"
		if report.FailedStage != "" {
			status = "failed:" + report.FailedStage
		}
		fmt.Fprintf(w, "%s\t%s\tchunks=%d\tembedded=%d\tindexed=%d\tpending=%d\n",
			status, report.Locator, report.ChunksAdded, report.EmbeddingsAdded, report.IndexAdded, report.Pending)
		return nil
	default:
		if report.Locator != "" {
			fmt.Fprintf(w, "Ingested %s\n", report.Locator)
		}
		fmt.Fprintf(w, "  documents: %d\n  chunks:    %d\n  embedded:  %d\n  indexed:   %d\n  persisted: %t\n",
			report.DocumentsLoaded, report.ChunksAdded, report.EmbeddingsAdded, report.IndexAdded, report.Persisted)
		if report.Pending > 0 {
			fmt.Fprintf(w, "  pending:   %d (run \"shiru retry\")\n", report.Pending)
		}
		if report.FailedStage != "" {
			fmt.Fprintf(w, "  failed at %s [%s]: %s\n", report.FailedStage, report.ErrorKind, report.Error)
		}
		fmt.Fprintf(w, "  took %dms\n", report.DurationMs)
		return nil
	}
}

// WriteAnswer writes an answer and its sources.
func WriteAnswer(w io.Writer, view *models.AnswerView, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, view)
	case OutputCompact:
		fmt.Fprintln(w, utils.CollapseSpace(view.Answer))
		return nil
	default:
		fmt.Fprintf(w, "\n%s\n", view.Answer)
		if len(view.Sources) > 0 {
			fmt.Fprintln(w, "\nSources:")
			for i, src := range view.Sources {
				fmt.Fprintf(w, "  [%d] %s (offset %d, score %.4f)\n", i+1, src.Source, src.StartIndex, src.Score)
			}
		}
		return nil
	}
}

// WriteStatus writes a status snapshot.
func WriteStatus(w io.Writer, st *models.Status, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, st)
	case OutputCompact:
		fmt.Fprintf(w, "%s\tdim=%d\tentries=%d\tcached=%d\tpending=%d\tnext_id=%d\n",
			st.ModelID, st.Dimension, st.Entries, st.CachedVectors, st.PendingChunks, st.NextChunkID)
		return nil
	default:
		fmt.Fprintf(w, "Model:          %s\n", st.ModelID)
		fmt.Fprintf(w, "Dimension:      %d\n", st.Dimension)
		fmt.Fprintf(w, "Entries:        %d\n", st.Entries)
		fmt.Fprintf(w, "Cached vectors: %d\n", st.CachedVectors)
		fmt.Fprintf(w, "Pending chunks: %d\n", st.PendingChunks)
		fmt.Fprintf(w, "Next chunk id:  %d\n", st.NextChunkID)
		fmt.Fprintf(w, "Index dir:      %s\n", st.IndexDir)
		fmt.Fprintf(w, "Disk usage:     %s\n", FormatBytes(st.DiskUsageBytes))
		return nil
	}
}

// FormatBytes renders n with a binary unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
