package source

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ignoreCacheSize bounds the per-directory ignore-file cache so long-running
// watch sessions over large trees don't grow without limit.
const ignoreCacheSize = 1000

// ignoreFiles are read in every directory; patterns apply beneath it.
var ignoreFiles = []string{".gitignore", ".strataignore"}

// FileInfo is a file discovered by the Walker.
type FileInfo struct {
	Path    string // absolute
	Rel     string // slash-separated, relative to the root
	Size    int64
	ModTime time.Time
}

// WalkOptions configures a walk.
type WalkOptions struct {
	Root string

	// Include restricts files to those matching any pattern (empty = all).
	Include []string

	// Exclude drops matching files and directories.
	Exclude []string

	// MaxFileSize skips larger files (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// Accept is consulted last, after every pattern check.
	Accept func(rel string) bool
}

// Walker discovers indexable files under a root.
type Walker struct {
	ignoreCache *lru.Cache[string, *Matcher]
	mu          sync.Mutex
}

// NewWalker creates a Walker.
func NewWalker() (*Walker, error) {
	cache, err := lru.New[string, *Matcher](ignoreCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create ignore cache: %w", err)
	}
	return &Walker{ignoreCache: cache}, nil
}

// Walk returns every accepted file under opts.Root, sorted by path.
// Unreadable entries are skipped; only a missing or non-directory root and
// cancellation are errors.
func (w *Walker) Walk(ctx context.Context, opts WalkOptions) ([]FileInfo, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", root)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	include := NewMatcher(opts.Include...)
	exclude := NewMatcher(opts.Exclude...)

	var files []FileInfo
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			slog.Debug("walk_entry_skipped", slog.String("path", p), slog.String("error", err.Error()))
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if defaultExcludeDirs.Match(rel, true) || exclude.Match(rel, true) || w.ignored(root, rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		// symlinks and special files are never followed
		if !d.Type().IsRegular() {
			return nil
		}
		if sensitiveFiles.Match(rel, false) || exclude.Match(rel, false) || w.ignored(root, rel, false) {
			return nil
		}
		if !include.Empty() && !include.Match(rel, false) {
			return nil
		}
		if opts.Accept != nil && !opts.Accept(rel) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.Size() > maxSize {
			slog.Debug("walk_file_too_large", slog.String("path", p), slog.Int64("size", fi.Size()))
			return nil
		}
		if isBinaryFile(p) {
			return nil
		}

		files = append(files, FileInfo{Path: p, Rel: rel, Size: fi.Size(), ModTime: fi.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// ignored checks the ignore files of every directory from the root down to
// rel's parent.
func (w *Walker) ignored(root, rel string, isDir bool) bool {
	dir := ""
	for {
		if m := w.matcher(root, dir); !m.Empty() {
			if sub, ok := rebase(rel, dir); ok && m.Match(sub, isDir) {
				return true
			}
		}
		next, done := nextDir(rel, dir)
		if done {
			return false
		}
		dir = next
	}
}

// nextDir returns the child of dir on the way to rel's parent.
func nextDir(rel, dir string) (string, bool) {
	rest := rel
	if dir != "" {
		rest = rel[len(dir)+1:]
	}
	i := strings.IndexByte(rest, '/')
	if i < 0 {
		return "", true
	}
	if dir == "" {
		return rest[:i], false
	}
	return dir + "/" + rest[:i], false
}

func (w *Walker) matcher(root, dir string) *Matcher {
	abs := filepath.Join(root, filepath.FromSlash(dir))

	w.mu.Lock()
	m, ok := w.ignoreCache.Get(abs)
	w.mu.Unlock()
	if ok {
		return m
	}

	m = NewMatcher()
	for _, name := range ignoreFiles {
		fm, err := LoadIgnoreFile(filepath.Join(abs, name))
		if err != nil {
			slog.Debug("ignore_file_unreadable", slog.String("path", abs), slog.String("error", err.Error()))
			continue
		}
		m.rules = append(m.rules, fm.rules...)
	}

	w.mu.Lock()
	w.ignoreCache.Add(abs, m)
	w.mu.Unlock()
	return m
}

// InvalidateIgnoreCache drops cached ignore files, e.g. after the watcher
// sees one change.
func (w *Walker) InvalidateIgnoreCache() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ignoreCache.Purge()
}

// isBinaryFile looks for a NUL byte in the first 512 bytes.
func isBinaryFile(p string) bool {
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}

// defaultExcludeDirs are never descended into.
var defaultExcludeDirs = NewMatcher(
	".git/",
	".hg/",
	".svn/",
	".strata/",
	"node_modules/",
	"vendor/",
	"__pycache__/",
	".venv/",
	".aws/",
	".gcp/",
	".azure/",
	".ssh/",
)

// sensitiveFiles are never indexed.
var sensitiveFiles = NewMatcher(
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
	"*.db",
	"*.db-wal",
	"*.db-shm",
)
