package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/shiru/internal/models"
)

// RemoteError is a failure reported by the server. It unwraps to the sentinel of its kind so
// models.KindOf works the same for remote and in-process calls.
type RemoteError struct {
	StatusCode int
	Kind       models.ErrorKind
	Message    string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error {
	switch e.Kind {
	case models.KindLoadFailure:
		return models.ErrLoadFailure
	case models.KindEmptyInput:
		return models.ErrEmptyInput
	case models.KindInvalidArgument:
		return models.ErrInvalidArgument
	case models.KindDimensionMismatch:
		return models.ErrDimensionMismatch
	case models.KindPersistence:
		return models.ErrPersistence
	default:
		return nil
	}
}

// Client talks to a running shiru server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, false)
}

// Ingest asks the server to load and ingest locator. A failed ingest still returns its report.
func (c *Client) Ingest(ctx context.Context, locator, sourceTag string) (*models.IngestReport, error) {
	var report models.IngestReport
	body := map[string]string{"locator": locator, "source_tag": sourceTag}
	err := c.do(ctx, http.MethodPost, "/api/v1/ingest", body, &report, true)
	return &report, err
}

// Retry re-runs pending ingestion work.
func (c *Client) Retry(ctx context.Context) (*models.IngestReport, error) {
	var report models.IngestReport
	err := c.do(ctx, http.MethodPost, "/api/v1/ingest/retry", nil, &report, true)
	return &report, err
}

// Query retrieves the k nearest chunks, or runs a hybrid query when hybrid is set.
func (c *Client) Query(ctx context.Context, question string, k int, hybrid bool) (*models.QueryResponse, error) {
	mode := models.ModeVector
	if hybrid {
		mode = models.ModeHybrid
	}
	req := models.QueryRequest{Question: question, K: &k, Mode: mode}
	var resp models.QueryResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/query", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ask retrieves k chunks and returns the server's answer.
func (c *Client) Ask(ctx context.Context, question string, k int) (*models.AnswerView, error) {
	body := map[string]any{"question": question, "k": k}
	var view models.AnswerView
	if err := c.do(ctx, http.MethodPost, "/api/v1/ask", body, &view, false); err != nil {
		return nil, err
	}
	return &view, nil
}

// ClearIndex empties the server's index.
func (c *Client) ClearIndex(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/index", nil, nil, false)
}

// ClearCache drops the server's embedding cache.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/cache", nil, nil, false)
}

// Status returns the server's pipeline status.
func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	var st models.Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &st, false); err != nil {
		return nil, err
	}
	return &st, nil
}

type errorBody struct {
	Error     string           `json:"error"`
	Kind      models.ErrorKind `json:"kind"`
	ErrorKind models.ErrorKind `json:"error_kind"`
}

// do sends a JSON request and decodes the response into out. With decodeOnError the body of a
// failed response is decoded into out as well.
func (c *Client) do(ctx context.Context, method, path string, body, out any, decodeOnError bool) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("invalid server url %q: %w", c.baseURL, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return fmt.Errorf("cannot reach server at %s (is \"shiru serve\" running?): %w", c.baseURL, err)
		}
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if out != nil && (ok || decodeOnError) {
		if err := json.Unmarshal(data, out); err != nil && ok {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	if ok {
		return nil
	}
	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	kind := eb.Kind
	if kind == "" {
		kind = eb.ErrorKind
	}
	msg := eb.Error
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	return &RemoteError{StatusCode: resp.StatusCode, Kind: kind, Message: msg}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
