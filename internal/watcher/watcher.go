// Package watcher turns directories into ingestion inboxes: files dropped into a watched
// directory are ingested with the configured defaults.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/fileid"
	"github.com/hyperjump/kura/internal/ingest"
	"github.com/hyperjump/kura/internal/models"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Ingester ingests one request.
type Ingester interface {
	Ingest(ctx context.Context, req *models.IngestRequest) (*ingest.Result, error)
}

// Inbox watches directories and ingests new or rewritten files once writes settle.
type Inbox struct {
	roots      []string
	extensions []string
	recursive  bool
	cfg        config.WatchConfig
	ingester   Ingester
	debounce   time.Duration
	logger     *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	watcher  *fsnotify.Watcher
	pending  map[string]*time.Timer
	ingested map[string]time.Time // path -> mod time at last ingestion
	wg       sync.WaitGroup
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Inbox) { w.logger = l }
}

// WithDebounce sets how long a file must stay quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(w *Inbox) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// New returns an inbox over cfg.Directories. Nothing is watched until Start.
func New(cfg config.WatchConfig, ing Ingester, opts ...Option) *Inbox {
	w := &Inbox{
		roots:      append([]string(nil), cfg.Directories...),
		extensions: cfg.Extensions,
		recursive:  cfg.RecursiveOrDefault(),
		cfg:        cfg,
		ingester:   ing,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		ingested:   make(map[string]time.Time),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start creates missing roots, begins watching and returns. Watching stops when ctx is
// cancelled or Stop is called.
func (w *Inbox) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = watcher.Close()
			w.watcher = nil
			return err
		}
	}
	w.ctx = ctx
	w.started = true
	w.logger.Info("watching inbox",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	go w.run(ctx, watcher)
	return nil
}

func (w *Inbox) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (w *Inbox) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !w.underRoot(path) || hidden(path) {
		return
	}
	w.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
		if matchExtension(path, w.extensions) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancel(path)
		w.mu.Lock()
		delete(w.ingested, path)
		w.mu.Unlock()
	}
}

// handleNewDirectory watches a directory that appeared under a root and ingests what is
// already inside it.
func (w *Inbox) handleNewDirectory(dir string) {
	w.mu.Lock()
	watcher := w.watcher
	w.mu.Unlock()
	if watcher == nil {
		return
	}
	if w.recursive {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if err := watcher.Add(path); err != nil {
					w.logger.Warn("failed to watch directory", zap.String("path", path), zap.Error(err))
				}
			}
			return nil
		})
	}
	w.syncDirectory(dir)
}

func (w *Inbox) underRoot(path string) bool {
	clean := filepath.Clean(path)
	for _, root := range w.roots {
		if inDir(filepath.Clean(root), clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// hidden reports dotfiles, which editors and downloaders use for partial writes.
func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
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

// schedule (re)starts the quiet timer for path.
func (w *Inbox) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(path)
	})
}

func (w *Inbox) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// ingest submits path unless it was already ingested at its current modification time.
func (w *Inbox) ingest(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	if last, ok := w.ingested[path]; ok && last.Equal(info.ModTime()) {
		w.mu.Unlock()
		return
	}
	w.ingested[path] = info.ModTime()
	ctx := w.ctx
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	req := &models.IngestRequest{
		FilePath:      path,
		SourceID:      fileid.SourceID(path),
		DeleteSource:  w.cfg.DeleteSource,
		Embed:         w.cfg.Embed,
		NotebookID:    w.cfg.NotebookID,
		ApplyDefaults: true,
	}
	res, err := w.ingester.Ingest(ctx, req)
	if err != nil {
		w.logger.Warn("inbox ingestion failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Info("inbox file ingested", zap.String("path", path), zap.String("source_id", res.Source.ID))
}

func (w *Inbox) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if !w.recursive {
		return w.watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Inbox) syncDirectory(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !hidden(path) && matchExtension(path, w.extensions) {
			w.ingest(path)
		}
		return nil
	})
}

// SyncExisting ingests files already present in the roots. Call it after Start.
func (w *Inbox) SyncExisting() {
	for _, root := range w.roots {
		w.syncDirectory(root)
	}
}

// Directories returns the watched roots.
func (w *Inbox) Directories() []string {
	return append([]string(nil), w.roots...)
}

// Stop stops watching and waits for running ingestions to finish.
func (w *Inbox) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
}
