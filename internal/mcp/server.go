package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/strata/internal/embed"
	"github.com/Aman-CERP/strata/internal/search"
	"github.com/Aman-CERP/strata/internal/store"
	"github.com/Aman-CERP/strata/pkg/version"
)

// ServerName is reported to clients during initialisation.
const ServerName = "strata"

// Searcher runs hybrid queries.
type Searcher interface {
	Search(ctx context.Context, query string, opts search.Options) (*search.Response, error)
}

// Index is the read surface the server needs beyond search.
type Index interface {
	Stats(ctx context.Context) (*store.Stats, error)
	Recent(ctx context.Context, filter store.Filter, limit int) ([]*store.Chunk, error)
	GetChunks(ctx context.Context, ids []int64) ([]*store.Chunk, error)
}

var (
	_ Searcher = (*search.Engine)(nil)
	_ Index    = (*store.SQLiteStore)(nil)
)

// Dependencies are injected into NewServer.
type Dependencies struct {
	Engine Searcher
	Index  Index

	// Embedder may be nil; stats then reports it as disabled.
	Embedder embed.Embedder

	// Provider is the configured embedding provider name.
	Provider string
}

// ToolInfo names a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// Server bridges MCP clients and the index.
type Server struct {
	mcp      *mcp.Server
	engine   Searcher
	index    Index
	embedder embed.Embedder
	provider string
	logger   *slog.Logger
}

// NewServer creates a server with every tool and resource registered.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("search engine is required")
	}
	if deps.Index == nil {
		return nil, errors.New("index is required")
	}

	s := &Server{
		engine:   deps.Engine,
		index:    deps.Index,
		embedder: deps.Embedder,
		provider: deps.Provider,
		logger:   slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version.Version}, nil)
	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{
			Name: ToolSearch,
			Description: "Hybrid search over archived documents, message streams, notes and code. " +
				"Blends keyword relevance, semantic similarity and cross-references between related chunks. " +
				"Filter with sources: archive, stream, note, code.",
		},
		{
			Name:        ToolStats,
			Description: "Index statistics: files and chunks per source type, embedding coverage, last sync and whether semantic search is active.",
		},
		{
			Name:        ToolRecent,
			Description: "The most recently modified documents in the index, newest first.",
		},
	}
}

func (s *Server) registerTools() {
	tools := make(map[string]string)
	for _, t := range s.ListTools() {
		tools[t.Name] = t.Description
	}

	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolSearch, Description: tools[ToolSearch]}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolStats, Description: tools[ToolStats]}, s.mcpStatsHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolRecent, Description: tools[ToolRecent]}, s.mcpRecentHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

// CallTool invokes a tool by name outside the protocol, returning its
// structured output.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolSearch:
		in := SearchInput{Query: stringArg(args, "query"), Limit: intArg(args, "limit"), Sources: stringsArg(args, "sources")}
		in.KeywordOnly, _ = args["keyword_only"].(bool)
		out, _, err := s.search(ctx, in)
		return out, err
	case ToolStats:
		return s.stats(ctx)
	case ToolRecent:
		out, _, err := s.recent(ctx, RecentInput{Limit: intArg(args, "limit"), Sources: stringsArg(args, "sources")})
		return out, err
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	out, markdown, err := s.search(ctx, in)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return textResult(markdown), out, nil
}

func (s *Server) mcpStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ StatsInput) (*mcp.CallToolResult, StatsOutput, error) {
	out, err := s.stats(ctx)
	if err != nil {
		return nil, StatsOutput{}, err
	}
	return nil, *out, nil
}

func (s *Server) mcpRecentHandler(ctx context.Context, _ *mcp.CallToolRequest, in RecentInput) (*mcp.CallToolResult, RecentOutput, error) {
	out, markdown, err := s.recent(ctx, in)
	if err != nil {
		return nil, RecentOutput{}, err
	}
	return textResult(markdown), out, nil
}

func (s *Server) search(ctx context.Context, in SearchInput) (SearchOutput, string, error) {
	start := time.Now()
	requestID := newRequestID()

	if strings.TrimSpace(in.Query) == "" {
		return SearchOutput{}, "", NewInvalidParamsError("query cannot be empty or whitespace only")
	}
	types, err := parseSources(in.Sources)
	if err != nil {
		return SearchOutput{}, "", err
	}
	limit := clampLimit(in.Limit, defaultLimit, 1, maxLimit)

	s.logger.Info("mcp_search_started",
		slog.String("request_id", requestID),
		slog.String("query", in.Query),
		slog.Int("limit", limit))

	resp, err := s.engine.Search(ctx, in.Query, search.Options{SourceTypes: types, Limit: limit, KeywordOnly: in.KeywordOnly})
	if err != nil {
		s.logger.Error("mcp_search_failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return SearchOutput{}, "", MapError(err)
	}

	s.logger.Info("mcp_search_completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.String("mode", string(resp.Mode)),
		slog.Int("result_count", len(resp.Results)))

	out := SearchOutput{
		Query:          resp.Query,
		Mode:           string(resp.Mode),
		DegradedReason: resp.DegradedReason,
		Results:        make([]ResultOutput, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		if r != nil && r.Chunk != nil {
			out.Results = append(out.Results, toResultOutput(r))
		}
	}
	return out, FormatSearchResults(resp), nil
}

func (s *Server) stats(ctx context.Context) (*StatsOutput, error) {
	st, err := s.index.Stats(ctx)
	if err != nil {
		s.logger.Error("mcp_stats_failed", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	out := NewStatsOutput(st)
	out.Embedder = EmbedderState(ctx, s.embedder, s.provider)
	return &out, nil
}

func (s *Server) recent(ctx context.Context, in RecentInput) (RecentOutput, string, error) {
	types, err := parseSources(in.Sources)
	if err != nil {
		return RecentOutput{}, "", err
	}
	chunks, err := s.index.Recent(ctx, store.Filter{SourceTypes: types}, clampLimit(in.Limit, defaultLimit, 1, maxLimit))
	if err != nil {
		s.logger.Error("mcp_recent_failed", slog.String("error", err.Error()))
		return RecentOutput{}, "", MapError(err)
	}
	out := RecentOutput{Chunks: make([]ChunkOutput, 0, len(chunks))}
	for _, c := range chunks {
		out.Chunks = append(out.Chunks, toChunkOutput(c))
	}
	return out, FormatRecent(chunks), nil
}

// EmbedderState describes e for stats. A nil embedder is "disabled".
func EmbedderState(ctx context.Context, e embed.Embedder, provider string) EmbedderOutput {
	if e == nil {
		if provider == "" {
			provider = string(embed.ProviderNone)
		}
		return EmbedderOutput{Provider: provider, Status: "disabled"}
	}
	status := "unavailable"
	if e.Available(ctx) {
		status = "ready"
	}
	return EmbedderOutput{
		Provider:   provider,
		Model:      e.ModelName(),
		Dimensions: e.Dimensions(),
		Status:     status,
	}
}

// Serve runs the server on transport until ctx is cancelled or the client
// disconnects. Only "stdio" is supported.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

func parseSources(names []string) ([]store.SourceType, error) {
	var types []store.SourceType
	for _, n := range names {
		if n == "" || n == "all" {
			return nil, nil
		}
		t, err := store.ParseSourceType(n)
		if err != nil {
			return nil, NewInvalidParamsError(fmt.Sprintf("unknown source %q (expected archive, stream, note or code)", n))
		}
		types = append(types, t)
	}
	return types, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg accepts JSON numbers, which decode as float64.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func stringsArg(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// newRequestID is a short id for log correlation.
func newRequestID() string {
	return uuid.NewString()[:8]
}
