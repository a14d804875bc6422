package xref

import (
	"context"
	"log/slog"

	"github.com/coder/hnsw"

	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/store"
	"github.com/Aman-CERP/strata/internal/vecmath"
)

// Default HNSW parameters.
const (
	DefaultNeighbors = 16
	defaultM         = 16
	minEfSearch      = 20
)

// HNSW finds candidate pairs with an approximate nearest-neighbour graph
// (coder/hnsw), then recomputes exact cosine before thresholding. Pairs
// beyond a chunk's Neighbors nearest may be missed; that is the trade for
// sub-quadratic time on large corpora. The graph holds every vector in
// memory for the duration of the rebuild.
type HNSW struct {
	// Neighbors is how many nearest chunks are examined per chunk.
	Neighbors int
}

var _ Strategy = HNSW{}

// Name implements Strategy.
func (HNSW) Name() string { return "hnsw" }

// Pairs implements Strategy.
func (h HNSW) Pairs(ctx context.Context, src Source, plan Plan, emit func(Pair)) error {
	k := h.Neighbors
	if k <= 0 {
		k = DefaultNeighbors
	}

	graph := hnsw.NewGraph[int64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = defaultM
	graph.EfSearch = max(2*k, minEfSearch)
	graph.Ml = 0.25

	// Vectors are normalised on insert, so exact cosine is a dot product.
	entries := make(map[int64]entry)
	var order []int64
	dims, skipped := 0, 0

	it := src.ChunksWithEmbeddings(plan.Filter, plan.BatchSize)
	for it.Next(ctx) {
		c := it.Chunk()
		if dims == 0 {
			dims = len(c.Vector)
		}
		if len(c.Vector) != dims || vecmath.Magnitude(c.Vector) == 0 {
			skipped++
			continue
		}
		vec := vecmath.Normalize(c.Vector)
		graph.Add(hnsw.MakeNode(c.ID, vec))
		entries[c.ID] = entry{id: c.ID, st: c.SourceType, vec: vec, mag: 1}
		order = append(order, c.ID)
	}
	if err := iterErr(ctx, it); err != nil {
		return err
	}
	if skipped > 0 {
		slog.Warn("xref_hnsw_skipped_vectors",
			slog.Int("skipped", skipped),
			slog.Int("dimensions", dims))
	}

	type key struct{ a, b int64 }
	seen := make(map[key]struct{})
	cmp := &comparer{plan: plan, emit: emit}

	for i, id := range order {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return serrors.Cancelled(err)
			}
		}
		self := entries[id]
		for _, n := range graph.Search(self.vec, k+1) {
			if n.Key == id {
				continue
			}
			pk := key{min(id, n.Key), max(id, n.Key)}
			if _, dup := seen[pk]; dup {
				continue
			}
			seen[pk] = struct{}{}
			other := entries[n.Key]
			if err := cmp.compare(ctx, &self, &other); err != nil {
				return err
			}
		}
	}
	return nil
}

// selectStrategy maps a configured name to a Strategy.
func selectStrategy(name string, neighbors int) (Strategy, error) {
	switch name {
	case "", "brute", "bruteforce":
		return BruteForce{}, nil
	case "hnsw":
		return HNSW{Neighbors: neighbors}, nil
	}
	return nil, serrors.New(serrors.ErrCodeConfigInvalid, "unknown cross-ref strategy "+name, nil).
		WithSuggestion("use brute or hnsw")
}

// compile-time check that the store satisfies Source
var _ Source = (*store.SQLiteStore)(nil)
