// Package source turns the files of a corpus into documents ready for
// chunking. Each corpus kind (archive, stream, note, code) is a directory
// tree read by its own Adapter; all of them share one Walker for discovery.
package source

import (
	"context"
	"time"

	"github.com/Aman-CERP/strata/internal/store"
)

// Adapter enumerates and reads the files of one corpus.
type Adapter interface {
	// Name is the configured source name, e.g. "notes".
	Name() string

	// SourceType tags every chunk produced from this adapter.
	SourceType() store.SourceType

	// Enumerate lists absolute file paths, sorted.
	Enumerate(ctx context.Context) ([]string, error)

	// Read loads one file. Errors apply to that file only.
	Read(ctx context.Context, path string) (*Document, error)
}

// Document is a file's indexable text plus whatever metadata could be
// extracted from it.
type Document struct {
	Path    string
	Text    string
	ModTime time.Time
	Size    int64
	Hints   Hints
}

// Hints is best-effort metadata. Any field may be empty.
type Hints struct {
	Title     string
	Author    string
	Timestamp *time.Time
	Tags      []string
	Metadata  map[string]string
}

// Spec configures a directory-backed adapter.
type Spec struct {
	Type        store.SourceType
	Root        string
	Include     []string
	Exclude     []string
	MaxFileSize int64
}

// DefaultMaxFileSize is used when a Spec leaves MaxFileSize unset.
const DefaultMaxFileSize = 10 * 1024 * 1024
