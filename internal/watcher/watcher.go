package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// Operation is the kind of change observed.
type Operation int

const (
	// OpCreate is a new file or directory.
	OpCreate Operation = iota
	// OpModify is a content change.
	OpModify
	// OpDelete is a removal.
	OpDelete
	// OpRename is the old name of a renamed entry.
	OpRename
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one observed change.
type FileEvent struct {
	// Path is absolute.
	Path      string
	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// SkipFunc reports whether an absolute path should be ignored. Skipped
// directories are not descended into.
type SkipFunc func(path string, isDir bool) bool

// Options configures a Watcher.
type Options struct {
	// DebounceWindow is how long the watcher waits for quiet before
	// emitting a batch.
	DebounceWindow time.Duration

	// PollInterval is the scan interval when fsnotify is unavailable.
	PollInterval time.Duration

	// EventBufferSize bounds undelivered batches.
	EventBufferSize int

	// Skip filters paths in addition to the built-in VCS directories.
	Skip SkipFunc

	// ForcePolling skips fsnotify entirely.
	ForcePolling bool
}

// DefaultOptions returns the defaults.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		PollInterval:    5 * time.Second,
		EventBufferSize: 64,
	}
}

// WithDefaults fills zero values from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}

// vcsDirs are never watched.
var vcsDirs = map[string]bool{".git": true, ".hg": true, ".svn": true, "node_modules": true}

// ignored applies the built-in rules, then opts.Skip.
func (o Options) ignored(path string, isDir bool) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if vcsDirs[part] {
			return true
		}
	}
	return o.Skip != nil && o.Skip(path, isDir)
}

// SkipUnder returns a SkipFunc ignoring everything under dir, such as the
// data directory, whose writes would otherwise retrigger syncs.
func SkipUnder(dir string) SkipFunc {
	dir = filepath.Clean(dir)
	return func(path string, _ bool) bool {
		return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
	}
}
