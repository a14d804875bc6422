package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/Aman-CERP/strata/internal/store"
)

// EmbedderStatus is how the configured embedder looks right now.
type EmbedderStatus struct {
	Provider   string
	Model      string
	Dimensions int
	// State is "ready", "unavailable" or "disabled".
	State string
}

// StatsRenderer prints index statistics for humans.
type StatsRenderer struct {
	out    io.Writer
	styles Styles
	now    func() time.Time
}

// NewStatsRenderer creates a stats renderer.
func NewStatsRenderer(out io.Writer, noColor bool) *StatsRenderer {
	return &StatsRenderer{out: out, styles: GetStyles(noColor || DetectNoColor()), now: time.Now}
}

// Render writes a per-source table followed by totals.
func (r *StatsRenderer) Render(stats *store.Stats, emb EmbedderStatus) error {
	w := r.out
	_, _ = fmt.Fprintf(w, "%s\n\n", r.styles.Header.Render("Index"))

	_, _ = fmt.Fprintf(w, "  %-8s %8s %8s %10s %10s\n", "SOURCE", "FILES", "FAILED", "CHUNKS", "EMBEDDED")
	for _, s := range stats.Sources {
		_, _ = fmt.Fprintf(w, "  %-8s %8d %8d %10d %10d\n", s.SourceType, s.Files, s.FailedFiles, s.Chunks, s.EmbeddedChunks)
	}
	_, _ = fmt.Fprintf(w, "  %-8s %8d %8d %10d %10d\n\n", "total",
		stats.TotalFiles, stats.FailedFiles, stats.TotalChunks, stats.EmbeddedChunks)

	_, _ = fmt.Fprintf(w, "  %s %d\n", r.styles.Label.Render("Cross-refs:  "), stats.CrossRefs)
	_, _ = fmt.Fprintf(w, "  %s %s\n", r.styles.Label.Render("Database:    "), FormatBytes(stats.DatabaseBytes))
	if run := stats.LastSync; run != nil {
		_, _ = fmt.Fprintf(w, "  %s %s (%s, %d updated, %d failed)\n", r.styles.Label.Render("Last sync:   "),
			r.ago(run.StartedAt), r.runState(run.Status), run.FilesUpdated, run.FilesFailed)
	} else {
		_, _ = fmt.Fprintf(w, "  %s never\n", r.styles.Label.Render("Last sync:   "))
	}
	if stats.LastXrefRebuild != nil {
		_, _ = fmt.Fprintf(w, "  %s %s\n", r.styles.Label.Render("Last xref:   "), r.ago(*stats.LastXrefRebuild))
	}

	_, _ = fmt.Fprintf(w, "\n  %s %s", r.styles.Label.Render("Embedder:    "), emb.Provider)
	if emb.Model != "" {
		_, _ = fmt.Fprintf(w, " %s", emb.Model)
	}
	if emb.Dimensions > 0 {
		_, _ = fmt.Fprintf(w, " (%d dims)", emb.Dimensions)
	}
	_, _ = fmt.Fprintf(w, " %s\n", r.embedderState(emb.State))
	return nil
}

func (r *StatsRenderer) runState(s store.RunStatus) string {
	switch s {
	case store.RunOK:
		return r.styles.Success.Render(string(s))
	case store.RunPartial, store.RunCancelled:
		return r.styles.Warning.Render(string(s))
	case store.RunFailed:
		return r.styles.Error.Render(string(s))
	default:
		return string(s)
	}
}

func (r *StatsRenderer) embedderState(state string) string {
	switch state {
	case "ready":
		return r.styles.Success.Render("[ready]")
	case "unavailable":
		return r.styles.Warning.Render("[unavailable: keyword search only]")
	case "disabled":
		return r.styles.Dim.Render("[disabled]")
	default:
		return ""
	}
}

// ago renders t relative to now.
func (r *StatsRenderer) ago(t time.Time) string {
	diff := r.now().Sub(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute")
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour")
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day")
	default:
		return t.Local().Format("2006-01-02 15:04")
	}
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(n int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
