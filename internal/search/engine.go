package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/strata/internal/embed"
	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/store"
	"github.com/Aman-CERP/strata/internal/vecmath"
)

// Defaults for Config.
const (
	DefaultLimit           = 10
	MaxLimit               = 100
	DefaultCandidateFactor = 4
	MinCandidates          = 50
	DefaultAccessTimeout   = 2 * time.Second
)

// ErrClosed is returned by Search after Close.
var ErrClosed = errors.New("search engine is closed")

// Config tunes the engine.
type Config struct {
	Weights         Weights
	CandidateFactor int
	DefaultLimit    int

	// AccessTimeout bounds the background access-count update.
	AccessTimeout time.Duration
}

// DefaultConfig returns the default tuning.
func DefaultConfig() Config {
	return Config{
		Weights:         DefaultWeights(),
		CandidateFactor: DefaultCandidateFactor,
		DefaultLimit:    DefaultLimit,
		AccessTimeout:   DefaultAccessTimeout,
	}
}

// metaReader is implemented by stores that expose index metadata. The
// engine uses it to notice a query embedder whose width no longer matches
// the indexed vectors.
type metaReader interface {
	GetMeta(ctx context.Context, key string) (string, error)
}

// Engine answers hybrid queries over a store.Reader. A nil embedder is
// valid and puts every query in keyword mode.
type Engine struct {
	reader   store.Reader
	embedder embed.Embedder
	config   Config

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// NewEngine creates an engine. reader is required; embedder may be nil.
func NewEngine(reader store.Reader, embedder embed.Embedder, cfg Config) (*Engine, error) {
	if reader == nil {
		return nil, fmt.Errorf("search: reader is required")
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	if cfg.CandidateFactor <= 0 {
		cfg.CandidateFactor = DefaultCandidateFactor
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.AccessTimeout <= 0 {
		cfg.AccessTimeout = DefaultAccessTimeout
	}
	return &Engine{reader: reader, embedder: embedder, config: cfg}, nil
}

// Search runs one query. Keyword candidates and the query embedding are
// fetched in parallel; candidates are then re-scored and ranked. A blank
// query returns an empty response and no error.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	start := time.Now()

	limit := opts.Limit
	if limit <= 0 {
		limit = e.config.DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	query = strings.TrimSpace(query)
	resp := &Response{Query: query, Mode: ModeHybrid, Weights: e.config.Weights, Results: []*Result{}}

	reason := e.degradedReason(ctx, opts)
	if reason != "" {
		resp.Mode = ModeKeyword
		resp.DegradedReason = reason
	}
	if query == "" {
		resp.Took = time.Since(start)
		return resp, nil
	}

	pool := max(limit*e.config.CandidateFactor, MinCandidates)
	filter := store.Filter{SourceTypes: opts.SourceTypes}

	var (
		hits     []*store.KeywordHit
		queryVec []float32
		embedErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hits, err = e.reader.KeywordSearch(gctx, query, filter, pool)
		return err
	})
	if resp.Mode == ModeHybrid {
		g.Go(func() error {
			// an embedding failure degrades the query, it never fails it
			queryVec, embedErr = e.embedder.Embed(gctx, query)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, serrors.Cancelled(ctx.Err())
		}
		return nil, serrors.New(serrors.ErrCodeSearchFailed, "keyword search failed", err)
	}

	if resp.Mode == ModeHybrid && (embedErr != nil || len(queryVec) == 0) {
		resp.Mode = ModeKeyword
		resp.DegradedReason = "query embedding failed"
		attrs := []any{slog.String("query", query)}
		if embedErr != nil {
			attrs = append(attrs, slog.String("error", embedErr.Error()))
		}
		slog.Warn("search_degraded_embedding_failed", attrs...)
	}
	if resp.Mode == ModeKeyword {
		resp.Weights = e.config.Weights.keywordOnly()
		slog.Debug("search_keyword_mode", slog.String("reason", resp.DegradedReason))
	}

	resp.Candidates = len(hits)
	if len(hits) == 0 {
		resp.Took = time.Since(start)
		return resp, nil
	}

	results := e.score(ctx, hits, queryVec, resp.Weights)
	Rank(results)
	if len(results) > limit {
		results = results[:limit]
	}

	terms := store.Tokenize(query)
	for _, r := range results {
		r.MatchedTerms = matchedTerms(terms, r.Chunk)
	}

	resp.Results = results
	resp.Took = time.Since(start)
	e.recordAccess(results)

	slog.Debug("search_complete",
		slog.String("mode", string(resp.Mode)),
		slog.Int("candidates", resp.Candidates),
		slog.Int("results", len(results)),
		slog.Duration("took", resp.Took))
	return resp, nil
}

// degradedReason decides up front whether a query vector will be sought.
func (e *Engine) degradedReason(ctx context.Context, opts Options) string {
	switch {
	case opts.KeywordOnly:
		return "keyword-only requested"
	case e.embedder == nil:
		return "no embedder configured"
	}
	if mr, ok := e.reader.(metaReader); ok {
		stored, err := mr.GetMeta(ctx, store.MetaEmbeddingDimension)
		if err == nil && stored != "" {
			if dim, err := strconv.Atoi(stored); err == nil && dim > 0 && e.embedder.Dimensions() > 0 && dim != e.embedder.Dimensions() {
				slog.Warn("search_dimension_mismatch",
					slog.Int("index_dimensions", dim),
					slog.Int("embedder_dimensions", e.embedder.Dimensions()),
					slog.String("recovery", "strata sync --force"))
				return "embedding dimension mismatch"
			}
		}
	}
	return ""
}

// score computes the three normalised components and blends them.
func (e *Engine) score(ctx context.Context, hits []*store.KeywordHit, queryVec []float32, w Weights) []*Result {
	results := make([]*Result, len(hits))
	ids := make([]int64, len(hits))
	kw := make([]float64, len(hits))
	for i, h := range hits {
		results[i] = &Result{Chunk: h.Chunk}
		ids[i] = h.Chunk.ID
		kw[i] = h.Score
	}

	// every candidate matched the query, so a tie is a full keyword score
	for i, v := range normalize(kw, nil, true) {
		results[i].KeywordScore = v
	}

	if len(queryVec) > 0 {
		qmag := vecmath.Magnitude(queryVec)
		sims := make([]float64, len(hits))
		has := make([]bool, len(hits))
		for i, h := range hits {
			vec := h.Chunk.Embedding
			if len(vec) == 0 || len(vec) != len(queryVec) {
				continue
			}
			sim := vecmath.CosineWithMagnitudes(queryVec, vec, qmag, vecmath.Magnitude(vec))
			sims[i] = max(sim, 0)
			has[i] = true
		}
		for i, v := range normalize(sims, has, false) {
			results[i].VectorScore = v
		}
	}

	for i, v := range e.xrefBoost(ctx, ids) {
		results[i].XrefScore = v
	}

	for _, r := range results {
		r.Score = w.Keyword*r.KeywordScore + w.Vector*r.VectorScore + w.Xref*r.XrefScore
	}
	return results
}

// xrefBoost gives each candidate the strongest edge pointing at it from
// another candidate, scaled so the best-connected candidate gets 1.
// Lookup failures leave every boost at 0.
func (e *Engine) xrefBoost(ctx context.Context, ids []int64) []float64 {
	boosts := make([]float64, len(ids))
	edges, err := e.reader.CrossRefsAmong(ctx, ids)
	if err != nil {
		slog.Debug("search_xref_lookup_failed", slog.String("error", err.Error()))
		return boosts
	}
	if len(edges) == 0 {
		return boosts
	}

	pos := make(map[int64]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	var top float64
	for _, edge := range edges {
		if edge.SourceChunkID == edge.TargetChunkID {
			continue
		}
		i, ok := pos[edge.TargetChunkID]
		if !ok {
			continue
		}
		if _, ok := pos[edge.SourceChunkID]; !ok {
			continue
		}
		if edge.Strength > boosts[i] {
			boosts[i] = edge.Strength
		}
		top = max(top, boosts[i])
	}
	if top <= 0 {
		return boosts
	}
	for i := range boosts {
		boosts[i] /= top
	}
	return boosts
}

// normalize min-max scales the values selected by mask (all when mask is
// nil) into [0,1]. When every selected value is equal they map to 1, or,
// unless tieIsFull, to 0 if that value is 0. Unselected entries are 0.
func normalize(values []float64, mask []bool, tieIsFull bool) []float64 {
	out := make([]float64, len(values))
	lo, hi := 0.0, 0.0
	first := true
	for i, v := range values {
		if mask != nil && !mask[i] {
			continue
		}
		if first {
			lo, hi, first = v, v, false
			continue
		}
		lo = min(lo, v)
		hi = max(hi, v)
	}
	if first {
		return out
	}
	for i, v := range values {
		if mask != nil && !mask[i] {
			continue
		}
		switch {
		case hi > lo:
			out[i] = (v - lo) / (hi - lo)
		case tieIsFull || hi != 0:
			out[i] = 1
		}
	}
	return out
}

// Rank sorts results by score descending, then newest modification, then
// file path, then chunk sequence, so equal scores order deterministically.
func Rank(results []*Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Chunk.ModifiedAt.Equal(b.Chunk.ModifiedAt) {
			return a.Chunk.ModifiedAt.After(b.Chunk.ModifiedAt)
		}
		if a.Chunk.FilePath != b.Chunk.FilePath {
			return a.Chunk.FilePath < b.Chunk.FilePath
		}
		return a.Chunk.Seq < b.Chunk.Seq
	})
}

// matchedTerms returns the query terms present in the chunk's indexed text.
func matchedTerms(terms []string, c *store.Chunk) []string {
	if len(terms) == 0 {
		return nil
	}
	present := make(map[string]struct{})
	for _, t := range store.Tokenize(c.Title + " " + c.Content + " " + strings.Join(c.Tags, " ")) {
		present[t] = struct{}{}
	}
	var out []string
	seen := make(map[string]bool)
	for _, t := range terms {
		if _, ok := present[t]; ok && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// recordAccess bumps access counters in the background. It never fails the
// query; Close waits for outstanding updates.
func (e *Engine) recordAccess(results []*Result) {
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.Chunk.ID
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.pending.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.config.AccessTimeout)
		defer cancel()
		if err := e.reader.RecordAccess(ctx, ids); err != nil {
			slog.Debug("search_record_access_failed",
				slog.Int("chunks", len(ids)),
				slog.String("error", err.Error()))
		}
	}()
}

// Close waits for background access updates. It does not close the
// reader or the embedder.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.pending.Wait()
	return nil
}
