package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per event, for pipes and CI logs.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	errors []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(_ context.Context) error { return nil }

// UpdateProgress implements Renderer. Lines look like
// "[READ] 8/120 - notes: /path/to/file.md".
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := event.Message
	if event.CurrentFile != "" {
		if msg != "" {
			msg += ": "
		}
		msg += event.CurrentFile
	}

	switch {
	case event.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	case msg != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)
	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
		return
	}
	_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	verb := "Synced"
	if stats.Cancelled {
		verb = "Cancelled after"
	}
	_, _ = fmt.Fprintf(r.out, "%s %d files (%d updated, %d unchanged, %d removed), %d chunks in %s",
		verb, stats.Scanned, stats.Updated, stats.Unchanged, stats.Removed, stats.Chunks,
		stats.Duration.Round(100*time.Millisecond))
	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.Embedder.Model != "" {
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%d dims)\n", stats.Embedder.Model, stats.Embedder.Dimensions)
	} else {
		_, _ = fmt.Fprintln(r.out, "Embedder: none (keyword search only)")
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

// Errors returns every error and warning seen so far.
func (r *PlainRenderer) Errors() []ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorEvent(nil), r.errors...)
}
