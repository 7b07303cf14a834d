// Package watcher keeps the index in step with watched directories: files that appear or change
// are re-ingested, files that disappear have their chunks removed.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/shiru/internal/models"
	"github.com/hyperjump/shiru/pkg/utils"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a file must be quiet before it is re-ingested.
const DefaultDebounce = 500 * time.Millisecond

// Sink is the part of the pipeline the watcher drives.
type Sink interface {
	IngestLocator(ctx context.Context, locator, sourceTag string) (models.IngestReport, error)
	RemoveSource(ctx context.Context, source string) (int, error)
	Sources(ctx context.Context) (map[string]int, error)
}

// Watcher watches root directories with fsnotify and forwards debounced changes to a Sink.
type Watcher struct {
	sink       Sink
	extensions []string
	recursive  bool
	debounce   time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	roots     []string
	rootPaths map[string][]string // root -> directories added to fsnotify for it
	timers    map[string]*time.Timer
	fs        *fsnotify.Watcher
	ctx       context.Context
	done      chan struct{}
	stopOnce  sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet period before a changed file is re-ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New creates a watcher for roots. extensions filters files (empty means all).
func New(sink Sink, roots, extensions []string, recursive bool, opts ...Option) *Watcher {
	w := &Watcher{
		sink:       sink,
		extensions: extensions,
		recursive:  recursive,
		debounce:   DefaultDebounce,
		roots:      append([]string(nil), roots...),
		rootPaths:  make(map[string][]string),
		timers:     make(map[string]*time.Timer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

// Start begins watching. Missing roots are created. The watcher runs until ctx is cancelled
// or Stop is called; ctx is also the context for ingest and remove calls.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fs != nil {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fs = fsw
	w.ctx = ctx
	for i, root := range w.roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			abs = root
		}
		w.roots[i] = filepath.Clean(abs)
		if err := w.addRootLocked(w.roots[i]); err != nil {
			_ = fsw.Close()
			w.fs = nil
			return err
		}
	}
	w.logger.Info("watching directories",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive),
	)
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if matchExtension(path, w.extensions) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		w.removePath(path)
	}
}

// handleNewDirectory watches a directory created or moved under a root and ingests its files.
func (w *Watcher) handleNewDirectory(dir string) {
	w.mu.Lock()
	fsw := w.fs
	w.mu.Unlock()
	if fsw == nil || !w.recursive {
		return
	}
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Debug("failed to watch directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
	w.syncDirectory(dir, nil)
}

// schedule re-ingests path once it has been quiet for the debounce period.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.reingest(path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) runCtx() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx == nil {
		return context.Background()
	}
	return w.ctx
}

// reingest replaces the chunks of path with a fresh ingest of its current content.
func (w *Watcher) reingest(path string) {
	ctx := w.runCtx()
	if _, err := w.sink.RemoveSource(ctx, path); err != nil {
		w.logger.Warn("failed to remove stale chunks", zap.String("path", path), zap.Error(err))
		return
	}
	// No source tag: chunks must keep the file path as their source so RemoveSource finds them.
	report, err := w.sink.IngestLocator(ctx, path, "")
	if err != nil {
		if errors.Is(err, models.ErrEmptyInput) {
			w.logger.Debug("watched file has no text", zap.String("path", path))
			return
		}
		w.logger.Warn("failed to ingest watched file",
			zap.String("path", path),
			zap.String("stage", report.FailedStage),
			zap.Error(err),
		)
		return
	}
	w.logger.Info("watched file ingested",
		zap.String("path", path),
		zap.Int("chunks", report.ChunksAdded),
	)
}

// removePath removes the chunks of path, or of every file under path when it was a directory.
func (w *Watcher) removePath(path string) {
	ctx := w.runCtx()
	sources, err := w.sink.Sources(ctx)
	if err != nil {
		w.logger.Warn("failed to list sources", zap.Error(err))
		return
	}
	for source := range sources {
		if source != path && !inDir(path, source) {
			continue
		}
		n, err := w.sink.RemoveSource(ctx, source)
		if err != nil {
			w.logger.Warn("failed to remove chunks", zap.String("source", source), zap.Error(err))
			continue
		}
		w.logger.Info("removed chunks of deleted file", zap.String("source", source), zap.Int("entries", n))
	}
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if inDir(root, path) {
			return true
		}
	}
	return false
}

// inDir reports whether path is dir or lies below it.
func inDir(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) addRootLocked(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if !w.recursive {
		if err := w.fs.Add(root); err != nil {
			return err
		}
		w.rootPaths[root] = []string{root}
		return nil
	}
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fs.Add(path); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return err
	}
	w.rootPaths[root] = paths
	return nil
}

// AddDirectory starts watching root. With syncExisting, files already there are ingested in
// the background.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	if w.fs == nil {
		w.mu.Unlock()
		return errors.New("watcher is not running")
	}
	for _, r := range w.roots {
		if r == abs {
			w.mu.Unlock()
			return nil
		}
	}
	if err := w.addRootLocked(abs); err != nil {
		w.mu.Unlock()
		return err
	}
	w.roots = append(w.roots, abs)
	w.mu.Unlock()
	w.logger.Info("watch directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		go w.syncDirectory(abs, nil)
	}
	return nil
}

// RemoveDirectory stops watching root. Chunks already ingested from it stay in the index.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, r := range w.roots {
		if r != abs {
			continue
		}
		if w.fs != nil {
			for _, p := range w.rootPaths[abs] {
				_ = w.fs.Remove(p)
			}
		}
		delete(w.rootPaths, abs)
		w.roots = append(w.roots[:i], w.roots[i+1:]...)
		w.logger.Info("watch directory removed", zap.String("path", abs))
		return nil
	}
	return nil
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles brings the index in line with the watched roots: matching files that are not
// indexed yet are ingested, and indexed files under a root that no longer exist are removed.
// Files already indexed are left alone.
func (w *Watcher) SyncExistingFiles() {
	ctx := w.runCtx()
	sources, err := w.sink.Sources(ctx)
	if err != nil {
		w.logger.Warn("failed to list sources", zap.Error(err))
		return
	}
	roots := w.Directories()
	for source := range sources {
		under := false
		for _, root := range roots {
			if inDir(root, source) {
				under = true
				break
			}
		}
		if !under {
			continue
		}
		if _, err := os.Stat(source); errors.Is(err, fs.ErrNotExist) {
			w.removePath(source)
		}
	}
	for _, root := range roots {
		w.syncDirectory(root, sources)
	}
}

// syncDirectory ingests the matching files under root whose path is not in skip.
func (w *Watcher) syncDirectory(root string, skip map[string]int) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !matchExtension(path, w.extensions) {
			return nil
		}
		if _, ok := skip[path]; ok {
			return nil
		}
		w.reingest(path)
		return nil
	})
}

// Stop stops watching and cancels pending re-ingests.
func (w *Watcher) Stop() {
	w.mu.Lock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	fsw := w.fs
	w.fs = nil
	w.mu.Unlock()
	if fsw != nil {
		_ = fsw.Close()
	}
	w.stopOnce.Do(func() { close(w.done) })
}
