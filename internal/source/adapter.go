package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/store"
)

// parseFunc extracts text and hints from a file's contents. It must not
// fail on malformed metadata: the body is always indexable.
type parseFunc func(doc *Document, rel string, raw string)

// dirAdapter is the shared directory-backed Adapter; corpus kinds differ
// only in defaults and parseFunc.
type dirAdapter struct {
	name   string
	spec   Spec
	walker *Walker
	accept func(rel string) bool
	parse  parseFunc
}

var _ Adapter = (*dirAdapter)(nil)

// New builds the adapter for spec.Type. Include patterns default per type.
func New(name string, spec Spec, walker *Walker) (Adapter, error) {
	if spec.Root == "" {
		return nil, serrors.New(serrors.ErrCodeConfigInvalid, fmt.Sprintf("source %q has no root", name), nil)
	}
	root, err := filepath.Abs(spec.Root)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", name, err)
	}
	spec.Root = root
	if spec.MaxFileSize <= 0 {
		spec.MaxFileSize = DefaultMaxFileSize
	}
	if walker == nil {
		if walker, err = NewWalker(); err != nil {
			return nil, err
		}
	}

	a := &dirAdapter{name: name, spec: spec, walker: walker}
	switch spec.Type {
	case store.SourceArchive:
		a.parse = parseArchive
		if len(a.spec.Include) == 0 {
			a.spec.Include = []string{"*.md", "*.markdown", "*.mdx", "*.txt", "*.rst"}
		}
	case store.SourceStream:
		a.parse = parseStream
		if len(a.spec.Include) == 0 {
			a.spec.Include = []string{"*.log", "*.jsonl", "*.ndjson", "*.txt"}
		}
	case store.SourceNote:
		a.parse = parseNote
		if len(a.spec.Include) == 0 {
			a.spec.Include = []string{"*.md", "*.markdown", "*.txt"}
		}
	case store.SourceCode:
		a.parse = parseCode
		if len(a.spec.Include) == 0 {
			a.accept = func(rel string) bool { return DetectLanguage(rel) != "" }
		}
	default:
		return nil, serrors.New(serrors.ErrCodeSourceUnknown,
			fmt.Sprintf("source %q has unknown type %q", name, spec.Type), nil).
			WithSuggestion("use one of: archive, stream, note, code")
	}
	return a, nil
}

func (a *dirAdapter) Name() string                 { return a.name }
func (a *dirAdapter) SourceType() store.SourceType { return a.spec.Type }

// Root returns the absolute root directory.
func (a *dirAdapter) Root() string { return a.spec.Root }

func (a *dirAdapter) Enumerate(ctx context.Context) ([]string, error) {
	files, err := a.walker.Walk(ctx, WalkOptions{
		Root:        a.spec.Root,
		Include:     a.spec.Include,
		Exclude:     a.spec.Exclude,
		MaxFileSize: a.spec.MaxFileSize,
		Accept:      a.accept,
	})
	if err != nil {
		if serrors.IsCancelled(err) {
			return nil, serrors.Cancelled(err)
		}
		return nil, serrors.New(serrors.ErrCodeFileRead, "cannot enumerate source", err).
			WithDetail("source", a.name).
			WithDetail("root", a.spec.Root)
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	return paths, nil
}

func (a *dirAdapter) Read(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, serrors.Cancelled(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeFileRead, "cannot stat file", err).WithDetail("path", path)
	}
	if info.Size() > a.spec.MaxFileSize {
		return nil, serrors.New(serrors.ErrCodeFileTooLarge,
			fmt.Sprintf("file is %d bytes, limit is %d", info.Size(), a.spec.MaxFileSize), nil).
			WithDetail("path", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeFileRead, "cannot read file", err).WithDetail("path", path)
	}

	content := string(raw)
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "\uFFFD")
	}
	content = strings.TrimPrefix(content, "\uFEFF")

	rel, err := filepath.Rel(a.spec.Root, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	doc := &Document{Path: path, ModTime: info.ModTime(), Size: info.Size()}
	a.parse(doc, filepath.ToSlash(rel), content)
	return doc, nil
}
