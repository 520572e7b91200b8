// Package watch feeds files dropped into an inbox directory to a handler.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultSettle is how long a file must go without writes before it is handled.
const DefaultSettle = 2 * time.Second

// Handler processes one settled file. Errors are logged and do not stop
// the watcher.
type Handler func(ctx context.Context, path string) error

// Watcher watches a single directory, non-recursively.
type Watcher struct {
	dir    string
	handle Handler
	settle time.Duration
	scan   bool
	logger *slog.Logger

	fs    *fsnotify.Watcher
	ready chan string

	mu      sync.Mutex
	timers  map[string]*time.Timer
	handled map[string]fingerprint
}

type fingerprint struct {
	size    int64
	modTime time.Time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle sets the quiet period before a file is handled.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		w.settle = d
	}
}

// WithScanExisting handles files already in the directory when Run starts.
func WithScanExisting() Option {
	return func(w *Watcher) {
		w.scan = true
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// New starts watching dir. Call Run to handle events and Close when done.
func New(dir string, handle Handler, opts ...Option) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		dir:     dir,
		handle:  handle,
		settle:  DefaultSettle,
		logger:  slog.Default(),
		fs:      fw,
		ready:   make(chan string),
		timers:  make(map[string]*time.Timer),
		handled: make(map[string]fingerprint),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "watch", "dir", dir)
	return w, nil
}

// Run handles files until ctx is cancelled or the watcher is closed.
// Handlers run one at a time on the calling goroutine.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stopTimers()

	if w.scan {
		entries, err := os.ReadDir(w.dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir() && !hidden(e.Name()) {
				w.process(ctx, filepath.Join(w.dir, e.Name()))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if path, ok := wants(ev); ok {
				w.schedule(ctx, path)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "err", err)
		case path := <-w.ready:
			w.process(ctx, path)
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// wants reports whether an event may mean a new or grown file.
func wants(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return "", false
	}
	if hidden(filepath.Base(ev.Name)) {
		return "", false
	}
	return ev.Name, true
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~")
}

// schedule restarts the settle timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// process hands a regular file to the handler unless it was already
// handled with the same size and modification time.
func (w *Watcher) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		w.logger.Warn("stat failed", "path", path, "err", err)
		return
	}
	if !info.Mode().IsRegular() {
		return
	}
	fp := fingerprint{size: info.Size(), modTime: info.ModTime()}
	if prev, ok := w.handled[path]; ok && prev == fp {
		return
	}
	w.handled[path] = fp

	w.logger.Info("handling file", "path", path, "size", fp.size)
	if err := w.handle(ctx, path); err != nil {
		w.logger.Error("handler failed", "path", path, "err", err)
	}
}
