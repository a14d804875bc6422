package mcp

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// StatsURI is the index statistics resource.
	StatsURI = "strata://stats"

	// ChunkURITemplate addresses one chunk by id.
	ChunkURITemplate = "strata://chunk/{id}"

	chunkURIPrefix = "strata://chunk/"
)

// registerResources adds the stats resource and the chunk template.
func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		Name:        "stats",
		URI:         StatsURI,
		Description: "Index statistics per source type, last sync and embedder state",
		MIMEType:    "application/json",
	}, s.readStats)

	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "chunk",
		URITemplate: ChunkURITemplate,
		Description: "Full text of one indexed chunk; ids come from search and recent results",
	}, s.readChunk)
}

func (s *Server) readStats(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	out, err := s.stats(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: StatsURI, MIMEType: "application/json", Text: string(data)}},
	}, nil
}

func (s *Server) readChunk(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	id, ok := parseChunkURI(uri)
	if !ok {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	chunks, err := s.index.GetChunks(ctx, []int64{id})
	if err != nil {
		return nil, MapError(err)
	}
	if len(chunks) == 0 {
		return nil, mcp.ResourceNotFoundError(uri)
	}
	c := chunks[0]
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: MimeTypeForChunk(c), Text: c.Content}},
	}, nil
}

// parseChunkURI extracts a positive chunk id.
func parseChunkURI(uri string) (int64, bool) {
	rest, ok := strings.CutPrefix(uri, chunkURIPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
