package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/strata/internal/embed"
	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/search"
	"github.com/Aman-CERP/strata/internal/store"
)

type fakeEngine struct {
	resp  *search.Response
	err   error
	calls []search.Options
}

func (f *fakeEngine) Search(_ context.Context, query string, opts search.Options) (*search.Response, error) {
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	resp := *f.resp
	resp.Query = query
	return &resp, nil
}

type fakeIndex struct {
	stats   *store.Stats
	chunks  []*store.Chunk
	err     error
	filters []store.Filter
	limits  []int
}

func (f *fakeIndex) Stats(context.Context) (*store.Stats, error) {
	return f.stats, f.err
}

func (f *fakeIndex) Recent(_ context.Context, filter store.Filter, limit int) ([]*store.Chunk, error) {
	f.filters = append(f.filters, filter)
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks[:min(limit, len(f.chunks))], nil
}

func (f *fakeIndex) GetChunks(_ context.Context, ids []int64) ([]*store.Chunk, error) {
	var out []*store.Chunk
	for _, c := range f.chunks {
		for _, id := range ids {
			if c.ID == id {
				out = append(out, c)
			}
		}
	}
	return out, f.err
}

var modified = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func sampleChunks() []*store.Chunk {
	return []*store.Chunk{
		{ID: 7, SourceType: store.SourceNote, FilePath: "/notes/db.md", Title: "Postgres notes",
			Content: "replication lag spikes at night", ModifiedAt: modified},
		{ID: 9, SourceType: store.SourceCode, FilePath: "/src/lag.go", Seq: 2,
			Content: "func lag() time.Duration { return 0 }", ModifiedAt: modified.Add(-time.Hour)},
	}
}

func newTestServer(t *testing.T) (*Server, *fakeEngine, *fakeIndex) {
	t.Helper()
	chunks := sampleChunks()
	engine := &fakeEngine{resp: &search.Response{
		Mode: search.ModeHybrid,
		Results: []*search.Result{
			{Chunk: chunks[0], Score: 0.9, KeywordScore: 1, VectorScore: 0.85, MatchedTerms: []string{"replication"}},
			{Chunk: chunks[1], Score: 0.3, KeywordScore: 0.4},
		},
	}}
	index := &fakeIndex{
		chunks: chunks,
		stats: &store.Stats{
			Sources: []store.SourceStats{
				{SourceType: store.SourceNote, Files: 1, Chunks: 1, EmbeddedChunks: 1},
				{SourceType: store.SourceCode, Files: 1, Chunks: 1},
			},
			TotalFiles: 2, TotalChunks: 2, EmbeddedChunks: 1, CrossRefs: 2, DatabaseBytes: 4096,
			LastSync: &store.SyncRun{ID: "run-1", Status: store.RunOK, StartedAt: modified, FilesUpdated: 2},
		},
	}
	s, err := NewServer(Dependencies{Engine: engine, Index: index, Embedder: embed.NewStaticEmbedder(64), Provider: "static"})
	require.NoError(t, err)
	return s, engine, index
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(Dependencies{Index: &fakeIndex{}})
	assert.Error(t, err)

	_, err = NewServer(Dependencies{Engine: &fakeEngine{}})
	assert.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	s, _, _ := newTestServer(t)

	var names []string
	for _, tool := range s.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.Equal(t, []string{ToolSearch, ToolStats, ToolRecent}, names)
}

func TestCallTool_Search(t *testing.T) {
	s, engine, _ := newTestServer(t)

	// When: searching notes with a JSON-decoded argument map
	res, err := s.CallTool(context.Background(), ToolSearch, map[string]any{
		"query":        "replication lag",
		"limit":        float64(5),
		"sources":      []any{"note"},
		"keyword_only": true,
	})
	require.NoError(t, err)

	// Then: options reach the engine and results are converted
	require.Len(t, engine.calls, 1)
	assert.Equal(t, 5, engine.calls[0].Limit)
	assert.Equal(t, []store.SourceType{store.SourceNote}, engine.calls[0].SourceTypes)
	assert.True(t, engine.calls[0].KeywordOnly)

	out, ok := res.(SearchOutput)
	require.True(t, ok)
	assert.Equal(t, "replication lag", out.Query)
	assert.Equal(t, "hybrid", out.Mode)
	require.Len(t, out.Results, 2)
	assert.Equal(t, int64(7), out.Results[0].ID)
	assert.Equal(t, "note", out.Results[0].Source)
	assert.InDelta(t, 0.85, out.Results[0].VectorScore, 1e-9)
}

func TestCallTool_SearchClampsLimit(t *testing.T) {
	tests := []struct {
		name  string
		limit any
		want  int
	}{
		{"missing", nil, defaultLimit},
		{"zero", float64(0), defaultLimit},
		{"too large", float64(500), maxLimit},
		{"in range", float64(3), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, engine, _ := newTestServer(t)
			args := map[string]any{"query": "lag"}
			if tt.limit != nil {
				args["limit"] = tt.limit
			}
			_, err := s.CallTool(context.Background(), ToolSearch, args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, engine.calls[0].Limit)
		})
	}
}

func TestCallTool_SearchRejectsBadInput(t *testing.T) {
	s, engine, _ := newTestServer(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing query", map[string]any{}},
		{"blank query", map[string]any{"query": "   "}},
		{"unknown source", map[string]any{"query": "lag", "sources": []any{"email"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CallTool(context.Background(), ToolSearch, tt.args)
			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
		})
	}
	assert.Empty(t, engine.calls)
}

func TestCallTool_SearchAllSourcesMeansNoFilter(t *testing.T) {
	s, engine, _ := newTestServer(t)
	_, err := s.CallTool(context.Background(), ToolSearch, map[string]any{"query": "lag", "sources": []string{"all"}})
	require.NoError(t, err)
	assert.Empty(t, engine.calls[0].SourceTypes)
}

func TestCallTool_SearchMapsEngineErrors(t *testing.T) {
	s, engine, _ := newTestServer(t)
	engine.err = serrors.New(serrors.ErrCodeSearchFailed, "keyword search failed", errors.New("database is locked"))

	_, err := s.CallTool(context.Background(), ToolSearch, map[string]any{"query": "lag"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInternalError, mcpErr.Code)
	assert.Equal(t, "keyword search failed", mcpErr.Message)
}

func TestCallTool_Stats(t *testing.T) {
	s, _, _ := newTestServer(t)

	res, err := s.CallTool(context.Background(), ToolStats, nil)
	require.NoError(t, err)

	out, ok := res.(*StatsOutput)
	require.True(t, ok)
	assert.Equal(t, 2, out.Files)
	assert.Equal(t, 1, out.EmbeddedChunks)
	assert.Equal(t, 2, out.CrossRefs)
	require.Len(t, out.Sources, 2)
	assert.Equal(t, "note", out.Sources[0].Source)
	require.NotNil(t, out.LastSync)
	assert.Equal(t, "ok", out.LastSync.Status)
	assert.Equal(t, EmbedderOutput{Provider: "static", Model: "static-64", Dimensions: 64, Status: "ready"}, out.Embedder)
}

func TestCallTool_StatsWithoutEmbedder(t *testing.T) {
	index := &fakeIndex{stats: &store.Stats{}}
	s, err := NewServer(Dependencies{Engine: &fakeEngine{}, Index: index})
	require.NoError(t, err)

	res, err := s.CallTool(context.Background(), ToolStats, nil)
	require.NoError(t, err)
	assert.Equal(t, EmbedderOutput{Provider: "none", Status: "disabled"}, res.(*StatsOutput).Embedder)
	assert.NotNil(t, res.(*StatsOutput).Sources)
}

func TestCallTool_Recent(t *testing.T) {
	s, _, index := newTestServer(t)

	res, err := s.CallTool(context.Background(), ToolRecent, map[string]any{"limit": float64(1), "sources": []any{"note", "code"}})
	require.NoError(t, err)

	out := res.(RecentOutput)
	require.Len(t, out.Chunks, 1)
	assert.Equal(t, "Postgres notes", out.Chunks[0].Title)
	assert.Equal(t, []int{1}, index.limits)
	assert.Equal(t, []store.SourceType{store.SourceNote, store.SourceCode}, index.filters[0].SourceTypes)
}

func TestCallTool_UnknownTool(t *testing.T) {
	s, _, _ := newTestServer(t)
	_, err := s.CallTool(context.Background(), "index_status", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

func TestParseChunkURI(t *testing.T) {
	id, ok := parseChunkURI("strata://chunk/42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"strata://chunk/", "strata://chunk/x", "strata://chunk/-1", "file:///a.md"} {
		_, ok := parseChunkURI(bad)
		assert.False(t, ok, bad)
	}
}

// connect runs s over an in-memory transport and returns a client session.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	clientT, serverT := mcp.NewInMemoryTransports()

	ss, err := s.MCPServer().Connect(ctx, serverT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestProtocol_ToolsOverTransport(t *testing.T) {
	s, _, _ := newTestServer(t)
	cs := connect(t, s)
	ctx := context.Background()

	// Given: a connected client
	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{ToolSearch, ToolStats, ToolRecent}, names)

	// When: calling search
	res, err := cs.CallTool(ctx, &mcp.CallToolParams{Name: ToolSearch, Arguments: map[string]any{"query": "replication"}})
	require.NoError(t, err)

	// Then: markdown text and structured output both arrive
	require.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, `## Search results for "replication"`)

	raw, err := json.Marshal(res.StructuredContent)
	require.NoError(t, err)
	var out SearchOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out.Results, 2)
	assert.Equal(t, "/notes/db.md", out.Results[0].Path)
}

func TestProtocol_ToolErrorsAreToolResults(t *testing.T) {
	s, _, _ := newTestServer(t)
	cs := connect(t, s)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: ToolSearch, Arguments: map[string]any{"query": " "}})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	require.NotEmpty(t, res.Content)
	assert.Contains(t, res.Content[0].(*mcp.TextContent).Text, "query cannot be empty")
}

func TestProtocol_Resources(t *testing.T) {
	s, _, _ := newTestServer(t)
	cs := connect(t, s)
	ctx := context.Background()

	stats, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: StatsURI})
	require.NoError(t, err)
	require.Len(t, stats.Contents, 1)
	assert.Equal(t, "application/json", stats.Contents[0].MIMEType)
	assert.Contains(t, stats.Contents[0].Text, `"cross_refs": 2`)

	chunk, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "strata://chunk/9"})
	require.NoError(t, err)
	require.Len(t, chunk.Contents, 1)
	assert.Equal(t, "text/x-go", chunk.Contents[0].MIMEType)
	assert.Contains(t, chunk.Contents[0].Text, "func lag()")

	_, err = cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "strata://chunk/1000"})
	assert.Error(t, err)
}

func TestServe_UnknownTransport(t *testing.T) {
	s, _, _ := newTestServer(t)
	err := s.Serve(context.Background(), "sse")
	assert.ErrorContains(t, err, "unknown transport")
}
