package mcp

import "time"

// Tool names.
const (
	ToolSearch = "search"
	ToolStats  = "stats"
	ToolRecent = "recent"
)

const (
	defaultLimit = 10
	maxLimit     = 50
)

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query       string   `json:"query" jsonschema:"the search query"`
	Limit       int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10, max 50"`
	Sources     []string `json:"sources,omitempty" jsonschema:"restrict to source types: archive, stream, note, code"`
	KeywordOnly bool     `json:"keyword_only,omitempty" jsonschema:"skip semantic scoring and rank by keyword and cross-references only"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Query          string         `json:"query"`
	Mode           string         `json:"mode" jsonschema:"hybrid, or keyword when no query embedding was available"`
	DegradedReason string         `json:"degraded_reason,omitempty"`
	Results        []ResultOutput `json:"results"`
}

// ResultOutput is one ranked chunk.
type ResultOutput struct {
	ID           int64     `json:"id" jsonschema:"chunk id, readable as strata://chunk/{id}"`
	Source       string    `json:"source"`
	Path         string    `json:"path"`
	Seq          int       `json:"seq"`
	Title        string    `json:"title,omitempty"`
	Score        float64   `json:"score" jsonschema:"blended relevance between 0 and 1"`
	KeywordScore float64   `json:"keyword_score"`
	VectorScore  float64   `json:"vector_score"`
	XrefScore    float64   `json:"xref_score"`
	MatchedTerms []string  `json:"matched_terms,omitempty"`
	Modified     time.Time `json:"modified"`
	Content      string    `json:"content"`
}

// StatsInput is the input schema for the stats tool.
type StatsInput struct{}

// StatsOutput is the output schema for the stats tool.
type StatsOutput struct {
	Files           int                 `json:"files"`
	FailedFiles     int                 `json:"failed_files"`
	Chunks          int                 `json:"chunks"`
	EmbeddedChunks  int                 `json:"embedded_chunks"`
	CrossRefs       int                 `json:"cross_refs"`
	DatabaseBytes   int64               `json:"database_bytes"`
	Sources         []SourceStatsOutput `json:"sources"`
	LastSync        *SyncRunOutput      `json:"last_sync,omitempty"`
	LastXrefRebuild *time.Time          `json:"last_xref_rebuild,omitempty"`
	Embedder        EmbedderOutput      `json:"embedder"`
}

// SourceStatsOutput is the per-source breakdown.
type SourceStatsOutput struct {
	Source         string `json:"source"`
	Files          int    `json:"files"`
	FailedFiles    int    `json:"failed_files"`
	Chunks         int    `json:"chunks"`
	EmbeddedChunks int    `json:"embedded_chunks"`
}

// SyncRunOutput describes the most recent sync pass.
type SyncRunOutput struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	FilesUpdated int        `json:"files_updated"`
	FilesFailed  int        `json:"files_failed"`
	FilesRemoved int        `json:"files_removed"`
}

// EmbedderOutput lets clients tell whether semantic ranking is active.
type EmbedderOutput struct {
	Provider   string `json:"provider"`
	Model      string `json:"model,omitempty"`
	Dimensions int    `json:"dimensions,omitempty"`
	Status     string `json:"status" jsonschema:"ready, unavailable or disabled"`
}

// RecentInput is the input schema for the recent tool.
type RecentInput struct {
	Limit   int      `json:"limit,omitempty" jsonschema:"maximum number of chunks, default 10, max 50"`
	Sources []string `json:"sources,omitempty" jsonschema:"restrict to source types: archive, stream, note, code"`
}

// RecentOutput is the output schema for the recent tool.
type RecentOutput struct {
	Chunks []ChunkOutput `json:"chunks"`
}

// ChunkOutput is one listed chunk.
type ChunkOutput struct {
	ID        int64      `json:"id"`
	Source    string     `json:"source"`
	Path      string     `json:"path"`
	Seq       int        `json:"seq"`
	Title     string     `json:"title,omitempty"`
	Author    string     `json:"author,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Modified  time.Time  `json:"modified"`
	Content   string     `json:"content"`
}
