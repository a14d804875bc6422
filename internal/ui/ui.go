// Package ui renders sync progress and index summaries on a terminal.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a phase of a sync pass.
type Stage int

const (
	StageScanning Stage = iota
	StageReading
	StageEmbedding
	StageWriting
	StageRemoving
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageReading:
		return "Reading"
	case StageEmbedding:
		return "Embedding"
	case StageWriting:
		return "Writing"
	case StageRemoving:
		return "Removing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain output.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageReading:
		return "READ"
	case StageEmbedding:
		return "EMBED"
	case StageWriting:
		return "WRITE"
	case StageRemoving:
		return "REMOVE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is a progress update.
type ProgressEvent struct {
	Stage       Stage
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent is a file failure, or a warning when IsWarn is set.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// StageTimings is time spent per stage across a pass.
type StageTimings struct {
	Scan  time.Duration
	Read  time.Duration // read + chunk
	Embed time.Duration
	Write time.Duration
}

// EmbedderInfo describes the embedder used for a pass. Model is empty when
// chunks were stored without vectors.
type EmbedderInfo struct {
	Model      string
	Dimensions int
}

// CompletionStats summarises a finished pass.
type CompletionStats struct {
	Scanned   int
	Updated   int
	Unchanged int
	Removed   int
	Chunks    int
	Duration  time.Duration
	Errors    int
	Warnings  int
	Cancelled bool
	Stages    StageTimings
	Embedder  EmbedderInfo
}

// Renderer displays sync progress.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config configures a renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Title is shown in the TUI header.
	Title string
}

// ConfigOption modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) { c.ForcePlain = force }
}

// WithNoColor disables colour.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) { c.NoColor = noColor }
}

// WithTitle sets the TUI header.
func WithTitle(title string) ConfigOption {
	return func(c *Config) { c.Title = title }
}

// NewConfig creates a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output, Title: "strata sync"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer picks the TUI for interactive terminals and plain text for
// pipes, CI, or when forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor reports whether NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI reports whether a CI environment is detected.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

// NullRenderer discards everything. It is the default for library callers
// that do not display progress.
type NullRenderer struct{}

// NewNullRenderer returns a Renderer that discards events.
func NewNullRenderer() NullRenderer { return NullRenderer{} }

func (NullRenderer) Start(context.Context) error  { return nil }
func (NullRenderer) UpdateProgress(ProgressEvent) {}
func (NullRenderer) AddError(ErrorEvent)          {}
func (NullRenderer) Complete(CompletionStats)     {}
func (NullRenderer) Stop() error                  { return nil }

var (
	_ Renderer = NullRenderer{}
	_ Renderer = (*PlainRenderer)(nil)
	_ Renderer = (*TUIRenderer)(nil)
)
