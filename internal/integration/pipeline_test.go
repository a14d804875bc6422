package integration

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/strata/internal/mcp"
	"github.com/Aman-CERP/strata/internal/search"
	"github.com/Aman-CERP/strata/internal/store"
)

func TestPipeline_SyncIndexesEverySourceType(t *testing.T) {
	// Given: a corpus with one source of each type
	h := newHarness(t)

	// When: syncing everything
	sum := h.sync(t)

	// Then: every file is indexed and embedded
	assert.Equal(t, len(corpus), sum.FilesUpdated)
	assert.Zero(t, sum.FilesFailed)
	assert.Equal(t, sum.ChunksWritten, sum.ChunksEmbedded)

	st, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(corpus), st.TotalFiles)
	assert.Len(t, st.Sources, 4)
	require.NotNil(t, st.LastSync)

	// And: a second pass changes nothing
	again := h.sync(t)
	assert.Zero(t, again.FilesUpdated)
	assert.Equal(t, len(corpus), again.FilesUnchanged)
}

func TestPipeline_SearchAcrossSources(t *testing.T) {
	h := newHarness(t)
	h.sync(t)
	engine := h.engine(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		query  string
		types  []store.SourceType
		wantIn string
		want   store.SourceType
	}{
		{"stream", "billing export timed out", []store.SourceType{store.SourceStream}, "chat/2026-02.log", store.SourceStream},
		{"code", "ledger rows batches", []store.SourceType{store.SourceCode}, "src/billing/export.go", store.SourceCode},
		{"note", "tomatoes basil", nil, "2026-02-03-garden.md", store.SourceNote},
		{"archive", "identity portal laptop", nil, "docs/onboarding.md", store.SourceArchive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := engine.Search(ctx, tt.query, search.Options{SourceTypes: tt.types, Limit: 5})
			require.NoError(t, err)
			assert.Equal(t, search.ModeHybrid, resp.Mode)
			require.NotEmpty(t, resp.Results)
			assert.Contains(t, resp.Results[0].Chunk.FilePath, tt.wantIn)
			assert.Equal(t, tt.want, resp.Results[0].Chunk.SourceType)
			for _, r := range resp.Results {
				assert.GreaterOrEqual(t, r.Score, 0.0)
				assert.LessOrEqual(t, r.Score, 1.0)
			}
		})
	}
}

func TestPipeline_CrossRefsLinkDuplicatedContent(t *testing.T) {
	// Given: the same paragraph archived and noted
	h := newHarness(t)
	h.sync(t)

	// When: rebuilding cross-references
	res := h.rebuildXrefs(t)

	// Then: at least the archive/note pair is linked
	assert.GreaterOrEqual(t, res.Chunks, len(corpus))
	assert.GreaterOrEqual(t, res.Edges, 2, "edges are stored in both directions")
	n, err := h.store.CountCrossRefs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Edges, n)

	// And: search credits the link
	resp, err := h.engine(t).Search(context.Background(), "cache eviction", search.Options{Limit: 5})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(resp.Results), 2)
	for _, r := range resp.Results[:2] {
		assert.Contains(t, r.Chunk.Content, "cache eviction")
		assert.Positive(t, r.XrefScore)
	}
}

func TestPipeline_ModifyAndDelete(t *testing.T) {
	h := newHarness(t)
	h.sync(t)
	engine := h.engine(t)
	ctx := context.Background()

	// When: a note is rewritten and an archived doc removed
	writeFile(t, h.path("notes/2026-02-03-garden.md"), "# Garden\n\nMoved the raspberry canes to the north bed.\n")
	require.NoError(t, os.Remove(h.path("docs/onboarding.md")))
	sum := h.sync(t)

	// Then: only those two files are touched
	assert.Equal(t, 1, sum.FilesUpdated)
	assert.Equal(t, 1, sum.FilesRemoved)

	resp, err := engine.Search(ctx, "raspberry canes", search.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, resp.Results[0].Chunk.FilePath, "garden")

	for _, q := range []string{"tomatoes basil", "identity portal"} {
		resp, err := engine.Search(ctx, q, search.Options{KeywordOnly: true})
		require.NoError(t, err)
		assert.Empty(t, resp.Results, q)
	}
}

func TestPipeline_SelectedSourceOnly(t *testing.T) {
	h := newHarness(t)

	sum := h.sync(t, "src")

	assert.Equal(t, 2, sum.FilesUpdated)
	st, err := h.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalFiles)
}

func TestPipeline_MCPTools(t *testing.T) {
	// Given: a synced index behind an MCP server
	h := newHarness(t)
	h.sync(t)
	h.rebuildXrefs(t)
	srv, err := mcp.NewServer(mcp.Dependencies{Engine: h.engine(t), Index: h.store, Embedder: h.embedder, Provider: "static"})
	require.NoError(t, err)
	ctx := context.Background()

	// search
	got, err := srv.CallTool(ctx, mcp.ToolSearch, map[string]any{"query": "billing export", "sources": []any{"stream"}})
	require.NoError(t, err)
	out := got.(mcp.SearchOutput)
	assert.Equal(t, "hybrid", out.Mode)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, "stream", out.Results[0].Source)

	// stats
	got, err = srv.CallTool(ctx, mcp.ToolStats, nil)
	require.NoError(t, err)
	stats := got.(*mcp.StatsOutput)
	assert.Equal(t, len(corpus), stats.Files)
	assert.Equal(t, "ready", stats.Embedder.Status)
	assert.Positive(t, stats.CrossRefs)

	// recent: the newest note date sorts first among notes
	got, err = srv.CallTool(ctx, mcp.ToolRecent, map[string]any{"limit": float64(1), "sources": []any{"note"}})
	require.NoError(t, err)
	recent := got.(mcp.RecentOutput)
	require.Len(t, recent.Chunks, 1)
	assert.Equal(t, "note", recent.Chunks[0].Source)

	// unknown tool
	_, err = srv.CallTool(ctx, "nope", nil)
	assert.Error(t, err)
}

func TestPipeline_KeywordFallbackWithoutEmbedder(t *testing.T) {
	h := newHarness(t)
	h.sync(t)

	engine, err := search.NewEngine(h.store, nil, search.DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = engine.Close() }()

	resp, err := engine.Search(context.Background(), "ExportLedger", search.Options{})
	require.NoError(t, err)
	assert.Equal(t, search.ModeKeyword, resp.Mode)
	assert.NotEmpty(t, resp.DegradedReason)
	require.NotEmpty(t, resp.Results)
	assert.Zero(t, resp.Results[0].VectorScore)
}
