// Package loader turns locators (files, directories and http(s) URLs) into documents.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/shiru/internal/models"
	"github.com/hyperjump/shiru/pkg/utils"
	"go.uber.org/zap"
)

// Defaults for URL fetching.
const (
	DefaultHTTPTimeout = 30 * time.Second
	DefaultMaxBytes    = 20 << 20
	userAgent          = "shiru/1.0 (+https://github.com/hyperjump/shiru)"
)

// DefaultExtensions are the file types picked up when walking a directory.
var DefaultExtensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".pptx", ".html", ".htm"}

// Ingest source values stored under models.MetaIngestSource.
const (
	SourceFile = "file"
	SourceURL  = "url"
)

// Loader loads documents. A single file of any extension is accepted (unknown types are read
// as plain text); directory walks only pick up the configured extensions.
type Loader struct {
	extensions map[string]bool
	client     *http.Client
	maxBytes   int64
	logger     *zap.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithExtensions sets the extensions accepted during directory walks.
func WithExtensions(exts []string) Option {
	return func(l *Loader) {
		if len(exts) == 0 {
			return
		}
		l.extensions = make(map[string]bool, len(exts))
		for _, e := range exts {
			e = strings.ToLower(e)
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			l.extensions[e] = true
		}
	}
}

// WithHTTPClient sets the client used for URLs.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// WithHTTPTimeout sets the per-request timeout for URLs.
func WithHTTPTimeout(d time.Duration) Option {
	return func(l *Loader) {
		if d > 0 {
			l.client = &http.Client{Timeout: d}
		}
	}
}

// WithMaxBytes caps the size of a fetched URL body.
func WithMaxBytes(n int64) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New returns a Loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		client:   &http.Client{Timeout: DefaultHTTPTimeout},
		maxBytes: DefaultMaxBytes,
	}
	WithExtensions(DefaultExtensions)(l)
	for _, opt := range opts {
		opt(l)
	}
	l.logger = utils.OrNop(l.logger)
	return l
}

// Supported reports whether path has an extension picked up by directory walks.
func (l *Loader) Supported(path string) bool {
	return l.extensions[strings.ToLower(filepath.Ext(path))]
}

// Load resolves locator to documents. Every failure is a *models.LoadError.
func (l *Loader) Load(ctx context.Context, locator string) ([]models.Document, error) {
	locator = strings.TrimSpace(locator)
	if locator == "" {
		return nil, &models.LoadError{Locator: locator, Cause: errors.New("empty locator")}
	}
	if isURL(locator) {
		docs, err := l.loadURL(ctx, locator)
		if err != nil {
			return nil, &models.LoadError{Locator: locator, Cause: err}
		}
		return docs, nil
	}

	path := expandHome(locator)
	info, err := os.Stat(path)
	if err != nil {
		return nil, &models.LoadError{Locator: locator, Cause: err}
	}
	var docs []models.Document
	if info.IsDir() {
		docs, err = l.loadDir(ctx, path)
	} else {
		docs, err = l.loadFile(path)
	}
	if err != nil {
		return nil, &models.LoadError{Locator: locator, Cause: err}
	}
	l.logger.Debug("loaded",
		zap.String("locator", locator),
		zap.Int("documents", len(docs)),
	)
	return docs, nil
}

func (l *Loader) loadFile(path string) ([]models.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	sections, err := extract(content, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return toDocuments(sections, map[string]any{
		models.MetaSource:       abs,
		models.MetaIngestSource: SourceFile,
	}), nil
}

// loadDir walks root in lexical order. Unreadable files are logged and skipped; the walk
// only fails when nothing at all could be loaded.
func (l *Loader) loadDir(ctx context.Context, root string) ([]models.Document, error) {
	var docs []models.Document
	var errs []error
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !l.Supported(path) {
			return nil
		}
		fileDocs, err := l.loadFile(path)
		if err != nil {
			l.logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		docs = append(docs, fileDocs...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return docs, nil
}

func (l *Loader) loadURL(ctx context.Context, rawURL string) ([]models.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: unexpected status %s", rawURL, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > l.maxBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", l.maxBytes)
	}

	meta := map[string]any{
		models.MetaSource:       rawURL,
		models.MetaIngestSource: SourceURL,
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = strings.ToLower(http.DetectContentType(body))
	}
	var sections []section
	switch {
	case strings.Contains(contentType, "html"):
		raw := string(body)
		meta[models.MetaTitle] = htmlTitle(raw, rawURL)
		sections = []section{{text: stripHTML(raw)}}
	case strings.Contains(contentType, "pdf"):
		if sections, err = extractPDF(body); err != nil {
			return nil, err
		}
	default:
		if sections, err = extractPlain(body); err != nil {
			return nil, err
		}
	}
	return toDocuments(sections, meta), nil
}

func isURL(locator string) bool {
	u, err := url.Parse(locator)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// section is one extracted unit of a file (a page, sheet or slide) with its own metadata.
type section struct {
	text string
	meta map[string]any
}

// toDocuments builds one document per non-blank section. base is copied into every document.
func toDocuments(sections []section, base map[string]any) []models.Document {
	docs := make([]models.Document, 0, len(sections))
	for _, s := range sections {
		text := normalize(s.text)
		if strings.TrimSpace(text) == "" {
			continue
		}
		meta := models.CopyMetadata(base)
		for k, v := range s.meta {
			meta[k] = v
		}
		docs = append(docs, models.Document{Text: text, Metadata: meta})
	}
	return docs
}

// normalize drops a leading byte order mark and converts line endings to "\n".
func normalize(text string) string {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
