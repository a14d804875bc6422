package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"time"
)

// pollingWatcher detects changes by comparing directory snapshots.
type pollingWatcher struct {
	interval time.Duration
	ignored  func(path string, isDir bool) bool
	emit     func(FileEvent)
	state    map[string]fileSnapshot
	now      func() time.Time
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

func newPollingWatcher(interval time.Duration, ignored func(string, bool) bool, emit func(FileEvent)) *pollingWatcher {
	return &pollingWatcher{interval: interval, ignored: ignored, emit: emit, now: time.Now}
}

// run takes a baseline snapshot, then polls until ctx or stop ends it.
func (p *pollingWatcher) run(ctx context.Context, stop <-chan struct{}, roots []string) error {
	p.state = p.snapshot(roots)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			p.poll(roots)
		}
	}
}

// poll emits one event per difference from the previous snapshot, in path
// order.
func (p *pollingWatcher) poll(roots []string) {
	current := p.snapshot(roots)
	now := p.now()
	var events []FileEvent

	for path, snap := range current {
		prev, seen := p.state[path]
		switch {
		case !seen:
			events = append(events, FileEvent{Path: path, Operation: OpCreate, IsDir: snap.isDir, Timestamp: now})
		case !snap.isDir && (!prev.modTime.Equal(snap.modTime) || prev.size != snap.size):
			events = append(events, FileEvent{Path: path, Operation: OpModify, Timestamp: now})
		}
	}
	for path, snap := range p.state {
		if _, ok := current[path]; !ok {
			events = append(events, FileEvent{Path: path, Operation: OpDelete, IsDir: snap.isDir, Timestamp: now})
		}
	}
	p.state = current

	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	for _, ev := range events {
		p.emit(ev)
	}
}

func (p *pollingWatcher) snapshot(roots []string) map[string]fileSnapshot {
	state := make(map[string]fileSnapshot)
	for _, root := range roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || path == root {
				return nil
			}
			if p.ignored(path, d.IsDir()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			state[path] = fileSnapshot{modTime: info.ModTime(), size: info.Size(), isDir: d.IsDir()}
			return nil
		})
	}
	return state
}
