package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches source roots with fsnotify, falling back to polling when
// fsnotify cannot be created or cannot watch every directory.
type Watcher struct {
	opts      Options
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	errors    chan error
	stopCh    chan struct{}

	mu      sync.RWMutex
	polling bool
	stopped bool
}

// New creates a watcher. Nothing is watched until Start.
func New(opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()
	w := &Watcher{
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow, opts.EventBufferSize),
		errors:    make(chan error, 16),
		stopCh:    make(chan struct{}),
		polling:   opts.ForcePolling,
	}
	if !w.polling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("watch_fsnotify_unavailable",
				slog.String("error", err.Error()),
				slog.String("fallback", "polling"))
			w.polling = true
		} else {
			w.fsw = fsw
		}
	}
	return w, nil
}

// Start watches roots until ctx is done or Stop is called. It blocks; the
// returned error is ctx.Err() after cancellation and nil after Stop.
func (w *Watcher) Start(ctx context.Context, roots ...string) error {
	if len(roots) == 0 {
		return fmt.Errorf("watcher: no roots to watch")
	}
	abs := make([]string, len(roots))
	for i, r := range roots {
		p, err := filepath.Abs(r)
		if err != nil {
			return fmt.Errorf("resolve absolute path: %w", err)
		}
		abs[i] = p
	}

	if !w.Polling() {
		if err := w.addAll(abs); err != nil {
			slog.Warn("watch_fsnotify_failed",
				slog.String("error", err.Error()),
				slog.String("fallback", "polling"))
			_ = w.fsw.Close()
			w.mu.Lock()
			w.polling = true
			w.mu.Unlock()
		}
	}
	slog.Info("watch_started",
		slog.String("mode", w.Mode()),
		slog.Int("roots", len(abs)))

	if w.Polling() {
		p := newPollingWatcher(w.opts.PollInterval, w.opts.ignored, w.debouncer.Add)
		return w.finish(ctx, p.run(ctx, w.stopCh, abs))
	}
	return w.finish(ctx, w.loop(ctx))
}

func (w *Watcher) finish(ctx context.Context, err error) error {
	_ = w.Stop()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (w *Watcher) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// handle converts one fsnotify event.
func (w *Watcher) handle(ev fsnotify.Event) {
	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	}
	if w.opts.ignored(ev.Name, isDir) {
		return
	}

	var op Operation
	switch {
	case ev.Op&fsnotify.Create != 0:
		op = OpCreate
		if isDir {
			if err := w.addTree(ev.Name); err != nil {
				w.emitError(err)
			}
		}
	case ev.Op&fsnotify.Write != 0:
		op = OpModify
	case ev.Op&fsnotify.Remove != 0:
		op = OpDelete
	case ev.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		// chmod alone never changes indexed content
		return
	}
	w.debouncer.Add(FileEvent{Path: ev.Name, Operation: op, IsDir: isDir, Timestamp: time.Now()})
}

func (w *Watcher) addAll(roots []string) error {
	for _, r := range roots {
		if err := w.addTree(r); err != nil {
			return err
		}
	}
	return nil
}

// addTree watches root and every directory under it that is not skipped.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && w.opts.ignored(p, true) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Stop releases resources and closes Events and Errors. It is idempotent.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsw != nil && !w.polling {
		_ = w.fsw.Close()
	}
	close(w.errors)
	return nil
}

// Events returns debounced batches, sorted by path.
func (w *Watcher) Events() <-chan []FileEvent { return w.debouncer.Output() }

// Errors returns non-fatal watch errors.
func (w *Watcher) Errors() <-chan error { return w.errors }

// Polling reports whether the watcher polls instead of using fsnotify.
func (w *Watcher) Polling() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.polling
}

// Mode returns "fsnotify" or "polling".
func (w *Watcher) Mode() string {
	if w.Polling() {
		return "polling"
	}
	return "fsnotify"
}
