// Package xref builds the cross-reference graph: similarity edges between
// embedded chunks, recomputed wholesale on every rebuild.
package xref

import (
	"context"

	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/store"
	"github.com/Aman-CERP/strata/internal/vecmath"
)

// cancelCheckInterval is how many comparisons run between context checks.
const cancelCheckInterval = 1024

// Source streams embedded chunks.
type Source interface {
	ChunksWithEmbeddings(filter store.Filter, batchSize int) *store.ChunkIterator
}

// Pair is an unordered pair of chunks, A < B, with their cosine similarity.
type Pair struct {
	A, B       int64
	Similarity float64
}

// Plan is what a Strategy needs for one rebuild.
type Plan struct {
	Filter    store.Filter
	Threshold float64
	BatchSize int

	// Affine reports whether chunks of the two source types may be paired.
	Affine func(a, b store.SourceType) bool
}

// Strategy finds every pair of chunks whose similarity reaches the
// threshold. Each pair is emitted once. Implementations check ctx
// regularly and return a cancellation error when it is done.
type Strategy interface {
	Name() string
	Pairs(ctx context.Context, src Source, plan Plan, emit func(Pair)) error
}

// entry is a chunk prepared for repeated comparison.
type entry struct {
	id  int64
	st  store.SourceType
	vec []float32
	mag float64
}

func newEntry(c store.EmbeddedChunk) entry {
	return entry{id: c.ID, st: c.SourceType, vec: c.Vector, mag: vecmath.Magnitude(c.Vector)}
}

// comparer counts comparisons so cancellation is polled cheaply.
type comparer struct {
	plan Plan
	emit func(Pair)
	n    int
}

func (c *comparer) compare(ctx context.Context, a, b *entry) error {
	c.n++
	if c.n%cancelCheckInterval == 0 {
		if err := ctx.Err(); err != nil {
			return serrors.Cancelled(err)
		}
	}
	if len(a.vec) != len(b.vec) || !c.plan.Affine(a.st, b.st) {
		return nil
	}
	sim := vecmath.CosineWithMagnitudes(a.vec, b.vec, a.mag, b.mag)
	if sim >= c.plan.Threshold {
		if a.id > b.id {
			a, b = b, a
		}
		c.emit(Pair{A: a.id, B: b.id, Similarity: sim})
	}
	return nil
}

// BruteForce compares every pair exactly. Memory stays bounded by two
// pages of vectors: a block of BatchSize chunks is held while the rest of
// the corpus after it streams past.
type BruteForce struct{}

var _ Strategy = BruteForce{}

// Name implements Strategy.
func (BruteForce) Name() string { return "brute" }

// Pairs implements Strategy.
func (BruteForce) Pairs(ctx context.Context, src Source, plan Plan, emit func(Pair)) error {
	cmp := &comparer{plan: plan, emit: emit}
	outer := src.ChunksWithEmbeddings(plan.Filter, plan.BatchSize)
	inner := src.ChunksWithEmbeddings(plan.Filter, plan.BatchSize)
	block := make([]entry, 0, plan.BatchSize)

	flush := func() error {
		for i := range block {
			for j := i + 1; j < len(block); j++ {
				if err := cmp.compare(ctx, &block[i], &block[j]); err != nil {
					return err
				}
			}
		}
		inner.SeekAfter(block[len(block)-1].id)
		for inner.Next(ctx) {
			e := newEntry(inner.Chunk())
			for i := range block {
				if err := cmp.compare(ctx, &block[i], &e); err != nil {
					return err
				}
			}
		}
		return iterErr(ctx, inner)
	}

	for outer.Next(ctx) {
		block = append(block, newEntry(outer.Chunk()))
		if len(block) == cap(block) {
			if err := flush(); err != nil {
				return err
			}
			block = block[:0]
		}
	}
	if err := iterErr(ctx, outer); err != nil {
		return err
	}
	if len(block) > 0 {
		return flush()
	}
	return nil
}

// iterErr reports an iterator failure, as a cancellation when ctx ended it.
func iterErr(ctx context.Context, it *store.ChunkIterator) error {
	err := it.Err()
	if err != nil && ctx.Err() != nil {
		return serrors.Cancelled(ctx.Err())
	}
	return err
}
