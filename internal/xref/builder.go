package xref

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/store"
	"github.com/Aman-CERP/strata/internal/vecmath"
)

// Defaults for Options.
const (
	DefaultThreshold   = 0.8
	DefaultLargeCorpus = 20000
	DefaultBatchSize   = 512
)

// Options configures one rebuild.
type Options struct {
	// Threshold is the minimum cosine similarity for an edge, in [0,1].
	Threshold float64

	// SourceTypes limits which chunks participate; empty means all. Only
	// edges between participating chunks are replaced.
	SourceTypes []store.SourceType

	// Strategy is "brute" (default) or "hnsw".
	Strategy string

	// LargeCorpus is the embedded-chunk count above which only affine
	// source types are compared.
	LargeCorpus int

	// Groups lists source types that stay comparable with each other on a
	// large corpus. Same-type pairs are always comparable.
	Groups [][]store.SourceType

	// Neighbors is the HNSW neighbour count.
	Neighbors int

	BatchSize int
}

// Result summarises a rebuild.
type Result struct {
	Strategy  string
	Threshold float64
	Chunks    int
	Pairs     int
	Edges     int
	Pruned    bool
	Duration  time.Duration
}

// Locker is the writer lock shared with sync.
type Locker interface {
	TryAcquire() error
	Release() error
}

// Builder rebuilds cross-references from the vectors in a store.
type Builder struct {
	store store.GraphStore
	lock  Locker
	now   func() time.Time
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLocker makes Rebuild hold l for its duration.
func WithLocker(l Locker) BuilderOption {
	return func(b *Builder) { b.lock = l }
}

// WithClock overrides the time source recorded in meta.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) { b.now = now }
}

// NewBuilder creates a Builder over gs.
func NewBuilder(gs store.GraphStore, opts ...BuilderOption) *Builder {
	b := &Builder{store: gs, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Rebuild recomputes every edge within scope and replaces the stored set in
// one transaction. Similar pairs yield two related edges, A→B and B→A, of
// equal strength. On cancellation or any failure nothing is committed.
func (b *Builder) Rebuild(ctx context.Context, opts Options) (*Result, error) {
	if opts.Threshold < 0 || opts.Threshold > 1 {
		return nil, serrors.New(serrors.ErrCodeInvalidThreshold,
			fmt.Sprintf("threshold %.3f outside [0,1]", opts.Threshold), nil)
	}
	strategy, err := selectStrategy(opts.Strategy, opts.Neighbors)
	if err != nil {
		return nil, err
	}
	if opts.LargeCorpus <= 0 {
		opts.LargeCorpus = DefaultLargeCorpus
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	if b.lock != nil {
		if err := b.lock.TryAcquire(); err != nil {
			return nil, err
		}
		defer func() { _ = b.lock.Release() }()
	}

	start := time.Now()
	filter := store.Filter{SourceTypes: opts.SourceTypes}

	counts, err := b.store.CountEmbedded(ctx, filter)
	if err != nil {
		return nil, b.failure(ctx, "count embedded chunks", err)
	}
	total := 0
	for _, n := range counts {
		total += n
	}

	pruned := total > opts.LargeCorpus
	plan := Plan{
		Filter:    filter,
		Threshold: opts.Threshold,
		BatchSize: opts.BatchSize,
		Affine:    affinity(pruned, opts.Groups),
	}

	slog.Info("xref_rebuild_started",
		slog.String("strategy", strategy.Name()),
		slog.Int("chunks", total),
		slog.Float64("threshold", opts.Threshold),
		slog.Bool("pruned", pruned))

	var edges []store.CrossRef
	pairs := 0
	err = strategy.Pairs(ctx, b.store, plan, func(p Pair) {
		pairs++
		// both directions carry the same rounded strength
		strength := vecmath.Round(p.Similarity, 6)
		edges = append(edges,
			store.CrossRef{SourceChunkID: p.A, TargetChunkID: p.B, RefType: store.RefRelated, Strength: strength},
			store.CrossRef{SourceChunkID: p.B, TargetChunkID: p.A, RefType: store.RefRelated, Strength: strength},
		)
	})
	if err != nil {
		return nil, b.failure(ctx, "find similar pairs", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, serrors.Cancelled(err)
	}

	if err := b.store.PutCrossRefs(ctx, filter, edges); err != nil {
		return nil, b.failure(ctx, "store cross-refs", err)
	}

	now := b.now().UTC()
	if err := b.store.SetMeta(ctx, store.MetaLastXrefRebuild, now.Format(time.RFC3339)); err != nil {
		slog.Warn("xref_meta_update_failed", slog.String("error", err.Error()))
	}
	if err := b.store.SetMeta(ctx, store.MetaLastXrefThreshold, strconv.FormatFloat(opts.Threshold, 'f', -1, 64)); err != nil {
		slog.Warn("xref_meta_update_failed", slog.String("error", err.Error()))
	}

	res := &Result{
		Strategy:  strategy.Name(),
		Threshold: opts.Threshold,
		Chunks:    total,
		Pairs:     pairs,
		Edges:     len(edges),
		Pruned:    pruned,
		Duration:  time.Since(start),
	}
	slog.Info("xref_rebuild_complete",
		slog.String("strategy", res.Strategy),
		slog.Int("chunks", res.Chunks),
		slog.Int("edges", res.Edges),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// failure classifies an error from the rebuild pipeline.
func (b *Builder) failure(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || serrors.IsCancelled(err) {
		slog.Info("xref_rebuild_cancelled", slog.String("op", op))
		return serrors.Cancelled(err)
	}
	if serrors.GetCode(err) != "" {
		return err
	}
	return serrors.New(serrors.ErrCodeXrefFailed, op, err)
}

// affinity returns the pair pre-filter. Below the large-corpus mark every
// pair is comparable; above it only same-type pairs and pairs inside a
// configured group.
func affinity(pruned bool, groups [][]store.SourceType) func(a, b store.SourceType) bool {
	if !pruned {
		return func(_, _ store.SourceType) bool { return true }
	}
	type key struct{ a, b store.SourceType }
	allowed := make(map[key]bool)
	for _, g := range groups {
		for _, a := range g {
			for _, b := range g {
				allowed[key{a, b}] = true
			}
		}
	}
	return func(a, b store.SourceType) bool {
		return a == b || allowed[key{a, b}]
	}
}
