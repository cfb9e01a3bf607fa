package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a path must stay quiet before it is synced
const DefaultDebounce = 250 * time.Millisecond

// ErrClosed is returned when Watch is called after Close
var ErrClosed = errors.New("watcher closed")

// Handler receives debounced changes to watched files
type Handler interface {
	// Reindex is called with the new content of a file whose fingerprint changed
	Reindex(ctx context.Context, path, content string) error
	// Forget is called when a watched file disappeared
	Forget(ctx context.Context, path string) error
}

// Option configures a Watcher
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// watched is one tracked file, keyed by absolute path
type watched struct {
	path        string // as given to Watch, passed back to the handler
	fingerprint uint64
}

// pending is a scheduled sync for one path
type pending struct {
	timer *time.Timer
}

// Watcher tracks individual files by watching their parent directories, so
// editors that save by rename do not drop the watch.
type Watcher struct {
	fsw      *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	files  map[string]watched
	dirs   map[string]int
	timers map[string]*pending
	closed bool

	closeOnce sync.Once
}

// New creates a Watcher and starts its event loop
func New(handler Handler, logger *zap.Logger, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watcher handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		fsw:      fsw,
		handler:  handler,
		debounce: DefaultDebounce,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		files:    make(map[string]watched),
		dirs:     make(map[string]int),
		timers:   make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

// Fingerprint returns the content hash used to detect real changes
func Fingerprint(content []byte) uint64 {
	return xxhash.Sum64(content)
}

// Watch starts tracking path with content as its current version. Paths that
// do not exist on disk are ignored.
func (w *Watcher) Watch(path, content string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		w.logger.Debug("not watching path without a backing file", zap.String("path", path))
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	_, known := w.files[abs]
	w.files[abs] = watched{path: path, fingerprint: Fingerprint([]byte(content))}
	if known {
		return nil
	}

	dir := filepath.Dir(abs)
	if w.dirs[dir] == 0 {
		if err := w.fsw.Add(dir); err != nil {
			delete(w.files, abs)
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.logger.Debug("watching file", zap.String("path", path))
	return nil
}

// Unwatch stops tracking path
func (w *Watcher) Unwatch(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unwatchLocked(abs)
}

func (w *Watcher) unwatchLocked(abs string) {
	if _, ok := w.files[abs]; !ok {
		return
	}
	delete(w.files, abs)

	dir := filepath.Dir(abs)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if !w.closed {
			_ = w.fsw.Remove(dir)
		}
	}
}

// Watching reports whether path is tracked
func (w *Watcher) Watching(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[abs]
	return ok
}

// Close stops the event loop and waits for running syncs to finish
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.cancel()

		w.mu.Lock()
		w.closed = true
		for path, p := range w.timers {
			if p.timer.Stop() {
				w.wg.Done()
			}
			delete(w.timers, path)
		}
		w.mu.Unlock()

		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	abs := filepath.Clean(event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[abs]; !ok || w.closed {
		return
	}
	w.scheduleLocked(abs)
}

// scheduleLocked (re)arms the debounce timer for abs
func (w *Watcher) scheduleLocked(abs string) {
	if p, ok := w.timers[abs]; ok && p.timer.Stop() {
		p.timer.Reset(w.debounce)
		return
	}

	p := &pending{}
	w.wg.Add(1)
	p.timer = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()

		w.mu.Lock()
		if w.timers[abs] == p {
			delete(w.timers, abs)
		}
		w.mu.Unlock()

		w.sync(abs)
	})
	w.timers[abs] = p
}

// sync compares the file on disk with its last fingerprint and notifies the handler
func (w *Watcher) sync(abs string) {
	if w.ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	entry, ok := w.files[abs]
	w.mu.Unlock()
	if !ok {
		return
	}

	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		w.mu.Lock()
		w.unwatchLocked(abs)
		w.mu.Unlock()

		if err := w.handler.Forget(w.ctx, entry.path); err != nil {
			w.logger.Warn("failed to drop removed file", zap.String("path", entry.path), zap.Error(err))
			return
		}
		w.logger.Info("removed file dropped from context", zap.String("path", entry.path))
		return
	}
	if err != nil {
		w.logger.Warn("failed to read watched file", zap.String("path", entry.path), zap.Error(err))
		return
	}

	fp := Fingerprint(data)
	if fp == entry.fingerprint {
		w.logger.Debug("watched file unchanged", zap.String("path", entry.path))
		return
	}

	if err := w.handler.Reindex(w.ctx, entry.path, string(data)); err != nil {
		w.logger.Warn("failed to re-index watched file", zap.String("path", entry.path), zap.Error(err))
		return
	}

	w.mu.Lock()
	if cur, ok := w.files[abs]; ok {
		cur.fingerprint = fp
		w.files[abs] = cur
	}
	w.mu.Unlock()
	w.logger.Info("watched file re-indexed", zap.String("path", entry.path))
}
