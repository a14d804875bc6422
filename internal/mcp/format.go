package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/strata/internal/search"
	"github.com/Aman-CERP/strata/internal/store"
)

// FormatSearchResults renders a response as markdown for the model.
func FormatSearchResults(resp *search.Response) string {
	var sb strings.Builder
	if resp.Mode == search.ModeKeyword && resp.DegradedReason != "" {
		fmt.Fprintf(&sb, "_Keyword search only: %s._\n\n", resp.DegradedReason)
	}
	if len(resp.Results) == 0 {
		fmt.Fprintf(&sb, "No results found for %q", resp.Query)
		return sb.String()
	}

	fmt.Fprintf(&sb, "## Search results for %q\n\n", resp.Query)
	fmt.Fprintf(&sb, "Found %d result", len(resp.Results))
	if len(resp.Results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range resp.Results {
		formatChunk(&sb, i+1, r.Chunk, fmt.Sprintf("score: %.2f", r.Score))
		if len(r.MatchedTerms) > 0 {
			fmt.Fprintf(&sb, "**Matched:** %s\n\n", strings.Join(r.MatchedTerms, ", "))
		}
		writeBody(&sb, r.Chunk)
	}
	return sb.String()
}

// FormatRecent renders recently modified chunks as markdown.
func FormatRecent(chunks []*store.Chunk) string {
	if len(chunks) == 0 {
		return "The index is empty."
	}
	var sb strings.Builder
	sb.WriteString("## Recently modified\n\n")
	for i, c := range chunks {
		formatChunk(&sb, i+1, c, c.ModifiedAt.UTC().Format("2006-01-02 15:04"))
		writeBody(&sb, c)
	}
	return sb.String()
}

func formatChunk(sb *strings.Builder, num int, c *store.Chunk, note string) {
	title := c.Title
	if title == "" {
		title = c.FilePath
	}
	fmt.Fprintf(sb, "### %d. [%s] %s (%s)\n", num, c.SourceType, title, note)
	fmt.Fprintf(sb, "`%s` chunk %d, id %d\n\n", c.FilePath, c.Seq, c.ID)
}

// writeBody fences code and passes prose through.
func writeBody(sb *strings.Builder, c *store.Chunk) {
	if c.SourceType == store.SourceCode {
		fmt.Fprintf(sb, "```%s\n%s\n```\n\n", fenceLanguage(c.FilePath), c.Content)
		return
	}
	sb.WriteString(c.Content)
	sb.WriteString("\n\n---\n\n")
}

func clampLimit(limit, defaultVal, lo, hi int) int {
	if limit <= 0 {
		return defaultVal
	}
	return max(lo, min(limit, hi))
}

func toResultOutput(r *search.Result) ResultOutput {
	c := r.Chunk
	return ResultOutput{
		ID:           c.ID,
		Source:       string(c.SourceType),
		Path:         c.FilePath,
		Seq:          c.Seq,
		Title:        c.Title,
		Score:        r.Score,
		KeywordScore: r.KeywordScore,
		VectorScore:  r.VectorScore,
		XrefScore:    r.XrefScore,
		MatchedTerms: r.MatchedTerms,
		Modified:     c.ModifiedAt,
		Content:      c.Content,
	}
}

func toChunkOutput(c *store.Chunk) ChunkOutput {
	return ChunkOutput{
		ID:        c.ID,
		Source:    string(c.SourceType),
		Path:      c.FilePath,
		Seq:       c.Seq,
		Title:     c.Title,
		Author:    c.Author,
		Tags:      c.Tags,
		Timestamp: c.Timestamp,
		Modified:  c.ModifiedAt,
		Content:   c.Content,
	}
}

// NewStatsOutput converts store statistics; Embedder is left for the caller.
func NewStatsOutput(st *store.Stats) StatsOutput {
	out := StatsOutput{
		Files:           st.TotalFiles,
		FailedFiles:     st.FailedFiles,
		Chunks:          st.TotalChunks,
		EmbeddedChunks:  st.EmbeddedChunks,
		CrossRefs:       st.CrossRefs,
		DatabaseBytes:   st.DatabaseBytes,
		Sources:         make([]SourceStatsOutput, 0, len(st.Sources)),
		LastXrefRebuild: st.LastXrefRebuild,
	}
	for _, s := range st.Sources {
		out.Sources = append(out.Sources, SourceStatsOutput{
			Source:         string(s.SourceType),
			Files:          s.Files,
			FailedFiles:    s.FailedFiles,
			Chunks:         s.Chunks,
			EmbeddedChunks: s.EmbeddedChunks,
		})
	}
	if run := st.LastSync; run != nil {
		out.LastSync = &SyncRunOutput{
			ID:           run.ID,
			Status:       string(run.Status),
			StartedAt:    run.StartedAt,
			FinishedAt:   run.FinishedAt,
			FilesUpdated: run.FilesUpdated,
			FilesFailed:  run.FilesFailed,
			FilesRemoved: run.FilesRemoved,
		}
	}
	return out
}
