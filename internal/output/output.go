// Package output formats command results for the terminal or as JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/search"
	"github.com/Aman-CERP/strata/internal/store"
	"github.com/Aman-CERP/strata/internal/ui"
	"github.com/Aman-CERP/strata/internal/xref"
)

// snippetWidth bounds the excerpt printed under each hit.
const snippetWidth = 160

// Writer prints command output.
type Writer struct {
	out    io.Writer
	styles ui.Styles
	json   bool
}

// Option configures a Writer.
type Option func(*Writer)

// WithJSON makes result methods emit indented JSON instead of text.
func WithJSON(enabled bool) Option {
	return func(w *Writer) { w.json = enabled }
}

// WithNoColor disables styling.
func WithNoColor(noColor bool) Option {
	return func(w *Writer) {
		if noColor {
			w.styles = ui.NoColorStyles()
		}
	}
}

// New creates a Writer. Styling follows ui.DetectNoColor unless overridden.
func New(out io.Writer, opts ...Option) *Writer {
	w := &Writer{out: out, styles: ui.GetStyles(ui.DetectNoColor())}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// JSONMode reports whether the writer emits JSON.
func (w *Writer) JSONMode() bool { return w.json }

// Status prints a message prefixed by icon, or indented when icon is empty.
// Write errors are ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf is Status with formatting.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a completed action.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✓"), msg)
}

// Successf is Success with formatting.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a non-fatal problem.
func (w *Writer) Warning(msg string) {
	w.Status(w.styles.Warning.Render("!"), msg)
}

// Warningf is Warning with formatting.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints err with its hint and code when it carries them.
func (w *Writer) Error(err error) {
	if err == nil {
		return
	}
	_, _ = fmt.Fprint(w.out, w.styles.Error.Render(strings.TrimRight(serrors.FormatForCLI(err), "\n"))+"\n")
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

// JSON writes v as indented JSON.
func (w *Writer) JSON(v any) error {
	enc := json.NewEncoder(w.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Hit is the JSON shape of one search result.
type Hit struct {
	Rank         int       `json:"rank"`
	ID           int64     `json:"id"`
	Source       string    `json:"source"`
	Path         string    `json:"path"`
	Seq          int       `json:"seq"`
	Title        string    `json:"title,omitempty"`
	Score        float64   `json:"score"`
	Keyword      float64   `json:"keyword_score"`
	Vector       float64   `json:"vector_score"`
	Xref         float64   `json:"xref_score"`
	MatchedTerms []string  `json:"matched_terms,omitempty"`
	Modified     time.Time `json:"modified"`
	Content      string    `json:"content"`
}

// SearchResponse is the JSON shape of a search.
type SearchResponse struct {
	Query          string `json:"query"`
	Mode           string `json:"mode"`
	DegradedReason string `json:"degraded_reason,omitempty"`
	TookMS         int64  `json:"took_ms"`
	Results        []Hit  `json:"results"`
}

// NewSearchResponse converts resp to its JSON shape.
func NewSearchResponse(resp *search.Response) SearchResponse {
	out := SearchResponse{
		Query:          resp.Query,
		Mode:           string(resp.Mode),
		DegradedReason: resp.DegradedReason,
		TookMS:         resp.Took.Milliseconds(),
		Results:        make([]Hit, 0, len(resp.Results)),
	}
	for i, r := range resp.Results {
		out.Results = append(out.Results, Hit{
			Rank:         i + 1,
			ID:           r.Chunk.ID,
			Source:       string(r.Chunk.SourceType),
			Path:         r.Chunk.FilePath,
			Seq:          r.Chunk.Seq,
			Title:        r.Chunk.Title,
			Score:        r.Score,
			Keyword:      r.KeywordScore,
			Vector:       r.VectorScore,
			Xref:         r.XrefScore,
			MatchedTerms: r.MatchedTerms,
			Modified:     r.Chunk.ModifiedAt,
			Content:      r.Chunk.Content,
		})
	}
	return out
}

// SearchResults prints a ranked result set.
func (w *Writer) SearchResults(resp *search.Response) error {
	if w.json {
		return w.JSON(NewSearchResponse(resp))
	}
	if resp.Mode == search.ModeKeyword && resp.DegradedReason != "" {
		w.Warningf("keyword search only: %s", resp.DegradedReason)
	}
	if len(resp.Results) == 0 {
		w.Statusf("", "No results for %q", resp.Query)
		return nil
	}
	for i, r := range resp.Results {
		c := r.Chunk
		_, _ = fmt.Fprintf(w.out, "%2d. %s %s %s\n", i+1,
			w.styles.Label.Render("["+string(c.SourceType)+"]"),
			w.styles.Header.Render(displayTitle(c)),
			w.styles.Dim.Render(fmt.Sprintf("%.3f", r.Score)))
		_, _ = fmt.Fprintf(w.out, "    %s\n", w.styles.Dim.Render(location(c)))
		_, _ = fmt.Fprintf(w.out, "    %s\n", Snippet(c.Content, snippetWidth))
	}
	_, _ = fmt.Fprintf(w.out, "\n%s\n", w.styles.Dim.Render(
		fmt.Sprintf("%d results (%s, %d candidates) in %s", len(resp.Results), resp.Mode, resp.Candidates, resp.Took.Round(time.Millisecond))))
	return nil
}

// Chunk is the JSON shape of a listed chunk.
type Chunk struct {
	ID       int64      `json:"id"`
	Source   string     `json:"source"`
	Path     string     `json:"path"`
	Seq      int        `json:"seq"`
	Title    string     `json:"title,omitempty"`
	Author   string     `json:"author,omitempty"`
	Tags     []string   `json:"tags,omitempty"`
	Time     *time.Time `json:"timestamp,omitempty"`
	Modified time.Time  `json:"modified"`
	Content  string     `json:"content"`
}

// Chunks prints a list of chunks, newest first as given.
func (w *Writer) Chunks(chunks []*store.Chunk) error {
	if w.json {
		out := make([]Chunk, 0, len(chunks))
		for _, c := range chunks {
			out = append(out, Chunk{
				ID: c.ID, Source: string(c.SourceType), Path: c.FilePath, Seq: c.Seq,
				Title: c.Title, Author: c.Author, Tags: c.Tags, Time: c.Timestamp,
				Modified: c.ModifiedAt, Content: c.Content,
			})
		}
		return w.JSON(out)
	}
	if len(chunks) == 0 {
		w.Status("", "Nothing indexed yet")
		return nil
	}
	for _, c := range chunks {
		_, _ = fmt.Fprintf(w.out, "%s %s %s\n",
			w.styles.Dim.Render(c.ModifiedAt.Local().Format("2006-01-02 15:04")),
			w.styles.Label.Render("["+string(c.SourceType)+"]"),
			displayTitle(c))
		_, _ = fmt.Fprintf(w.out, "    %s\n", Snippet(c.Content, snippetWidth))
	}
	return nil
}

// CrossRefResult prints the outcome of a cross-reference rebuild.
func (w *Writer) CrossRefResult(res *xref.Result) error {
	if w.json {
		return w.JSON(struct {
			Strategy   string  `json:"strategy"`
			Threshold  float64 `json:"threshold"`
			Chunks     int     `json:"chunks"`
			Pairs      int     `json:"pairs"`
			Edges      int     `json:"edges"`
			Pruned     bool    `json:"pruned"`
			DurationMS int64   `json:"duration_ms"`
		}{res.Strategy, res.Threshold, res.Chunks, res.Pairs, res.Edges, res.Pruned, res.Duration.Milliseconds()})
	}
	w.Successf("Rebuilt cross-references: %d edges from %d chunks (%s, threshold %.2f) in %s",
		res.Edges, res.Chunks, res.Strategy, res.Threshold, res.Duration.Round(time.Millisecond))
	if res.Pruned {
		w.Status("", "Large corpus: only affine source types were compared")
	}
	return nil
}

// Snippet collapses whitespace in s and cuts it to at most width runes.
func Snippet(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if width <= 3 || len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}

func displayTitle(c *store.Chunk) string {
	if c.Title != "" {
		return c.Title
	}
	return c.FilePath
}

func location(c *store.Chunk) string {
	if c.Seq > 0 {
		return fmt.Sprintf("%s #%d", c.FilePath, c.Seq)
	}
	return c.FilePath
}
