// Package watcher turns files dropped into an inbox directory into ingest
// submissions. Files live under <inbox>/<store>/ and are handed over once they
// stop changing.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/vecstore/internal/fileid"
	"github.com/hyperjump/vecstore/pkg/utils"
)

const defaultDebounce = 400 * time.Millisecond

// Handler takes ownership of a settled inbox file for store. It is expected to
// move the file out of the inbox.
type Handler func(store, path string) error

// Inbox watches <dir> and each store subdirectory.
type Inbox struct {
	dir        string
	extensions []string
	handle     Handler
	debounce   time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timers  map[string]*time.Timer
	// handled maps store to the content IDs already submitted from the inbox.
	handled  map[string]map[string]bool
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Inbox) { in.logger = utils.OrNop(l) }
}

// WithDebounce sets how long a file must stay unchanged before it is handled.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) {
		if d > 0 {
			in.debounce = d
		}
	}
}

// NewInbox creates an inbox over dir. extensions filters accepted files (empty
// accepts all).
func NewInbox(dir string, extensions []string, handle Handler, opts ...Option) *Inbox {
	in := &Inbox{
		dir:        filepath.Clean(dir),
		extensions: extensions,
		handle:     handle,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		timers:     make(map[string]*time.Timer),
		handled:    make(map[string]map[string]bool),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Start creates the inbox if needed, watches it and hands over files already
// present. It returns once watching is set up; events are processed until ctx is
// cancelled or Stop is called.
func (in *Inbox) Start(ctx context.Context) error {
	if err := os.MkdirAll(in.dir, 0755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(in.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch inbox: %w", err)
	}
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("read inbox: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(in.dir, e.Name())); err != nil {
				in.logger.Warn("cannot watch store inbox", zap.String("store", e.Name()), zap.Error(err))
			}
		}
	}
	in.mu.Lock()
	in.watcher = w
	in.mu.Unlock()
	in.logger.Info("inbox watching", zap.String("dir", in.dir), zap.Strings("extensions", in.extensions))

	for _, e := range entries {
		if e.IsDir() {
			in.syncStoreDir(filepath.Join(in.dir, e.Name()))
		}
	}
	go in.run(ctx, w)
	return nil
}

func (in *Inbox) run(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			in.Stop()
			return
		case <-in.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			in.handleEvent(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			in.logger.Debug("inbox watcher error", zap.Error(err))
		}
	}
}

func (in *Inbox) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	in.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if filepath.Dir(path) == in.dir {
				in.addStoreDir(path)
			}
			return
		}
		if _, ok := in.storeFor(path); ok && matchExtension(path, in.extensions) {
			in.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		in.cancel(path)
	}
}

// storeFor returns the store a file belongs to: the name of its directory
// directly under the inbox. Files at the inbox root or deeper are ignored.
func (in *Inbox) storeFor(path string) (string, bool) {
	rel, err := filepath.Rel(in.dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 2 || strings.HasPrefix(parts[1], ".") {
		return "", false
	}
	return parts[0], true
}

func (in *Inbox) addStoreDir(dir string) {
	in.mu.Lock()
	w := in.watcher
	in.mu.Unlock()
	if w == nil {
		return
	}
	if err := w.Add(dir); err != nil {
		in.logger.Warn("cannot watch store inbox", zap.String("dir", dir), zap.Error(err))
		return
	}
	in.logger.Debug("inbox store directory added", zap.String("dir", dir))
	// Files may have landed before the watch was in place.
	in.syncStoreDir(dir)
}

func (in *Inbox) syncStoreDir(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := in.storeFor(path); ok && matchExtension(path, in.extensions) {
			in.schedule(path)
		}
		return nil
	})
}

func (in *Inbox) schedule(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.watcher == nil {
		return
	}
	if t, ok := in.timers[path]; ok {
		t.Stop()
	}
	in.timers[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.timers, path)
		in.mu.Unlock()
		in.settle(path)
	})
}

func (in *Inbox) cancel(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.timers[path]; ok {
		t.Stop()
		delete(in.timers, path)
	}
}

// settle hands a file over unless the same content was already submitted for the
// same store, in which case the duplicate is removed.
func (in *Inbox) settle(path string) {
	store, ok := in.storeFor(path)
	if !ok {
		return
	}
	id, err := fileid.File(path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		in.logger.Warn("inbox file unreadable", zap.String("path", path), zap.Error(err))
		return
	}

	in.mu.Lock()
	seen := in.handled[store]
	if seen == nil {
		seen = make(map[string]bool)
		in.handled[store] = seen
	}
	dup := seen[id]
	if !dup {
		seen[id] = true
	}
	in.mu.Unlock()

	if dup {
		in.logger.Info("inbox duplicate ignored", zap.String("store", store), zap.String("path", path), zap.String("content_id", id))
		_ = os.Remove(path)
		return
	}
	if err := in.handle(store, path); err != nil {
		in.mu.Lock()
		delete(seen, id)
		in.mu.Unlock()
		in.logger.Warn("inbox submission failed", zap.String("store", store), zap.String("path", path), zap.Error(err))
		return
	}
	in.logger.Info("inbox file submitted", zap.String("store", store), zap.String("path", path))
}

// Stop stops watching and cancels pending hand-overs.
func (in *Inbox) Stop() {
	in.mu.Lock()
	for path, t := range in.timers {
		t.Stop()
		delete(in.timers, path)
	}
	w := in.watcher
	in.watcher = nil
	in.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
	in.stopOnce.Do(func() { close(in.done) })
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
