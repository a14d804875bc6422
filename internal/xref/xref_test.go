package xref

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/hash"
	"github.com/Aman-CERP/strata/internal/store"
	"github.com/Aman-CERP/strata/internal/vecmath"
)

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// put indexes a single-chunk file carrying vec.
func put(t *testing.T, s *store.SQLiteStore, path string, st store.SourceType, vec []float32) int64 {
	t.Helper()
	c := &store.Chunk{Content: path, ContentHash: string(hash.String(path)), Embedding: vec, EmbeddingModel: "test"}
	state := &store.FileSyncState{FilePath: path, SourceType: st, FileHash: string(hash.String(path))}
	require.NoError(t, s.UpsertChunks(context.Background(), state, []*store.Chunk{c}))
	return c.ID
}

func edges(t *testing.T, s *store.SQLiteStore, ids ...int64) []store.CrossRef {
	t.Helper()
	refs, err := s.CrossRefsAmong(context.Background(), ids)
	require.NoError(t, err)
	return refs
}

// collect runs a strategy and returns its pairs keyed by endpoints.
func collect(t *testing.T, s *store.SQLiteStore, strat Strategy, threshold float64, batch int) map[[2]int64]float64 {
	t.Helper()
	plan := Plan{Threshold: threshold, BatchSize: batch, Affine: affinity(false, nil)}
	out := make(map[[2]int64]float64)
	err := strat.Pairs(context.Background(), s, plan, func(p Pair) {
		require.Less(t, p.A, p.B)
		_, dup := out[[2]int64{p.A, p.B}]
		require.False(t, dup, "pair emitted twice")
		out[[2]int64{p.A, p.B}] = p.Similarity
	})
	require.NoError(t, err)
	return out
}

func randomCorpus(t *testing.T, s *store.SQLiteStore, n, dims int) []int64 {
	t.Helper()
	r := rand.New(rand.NewSource(7))
	ids := make([]int64, n)
	for i := range ids {
		vec := make([]float32, dims)
		for j := range vec {
			vec[j] = r.Float32()
		}
		ids[i] = put(t, s, fmt.Sprintf("/doc/%02d.md", i), store.SourceArchive, vec)
	}
	return ids
}

func TestRebuild_ThreeDocuments(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Given: two near-identical documents and one unrelated
	doc1 := put(t, s, "/doc1.md", store.SourceNote, []float32{1, 0, 0})
	doc2 := put(t, s, "/doc2.md", store.SourceNote, []float32{0.9, 0.1, 0})
	doc3 := put(t, s, "/doc3.md", store.SourceNote, []float32{0, 0, 1})

	// When: rebuilding at 0.8
	res, err := NewBuilder(s).Rebuild(ctx, Options{Threshold: 0.8})
	require.NoError(t, err)

	// Then: exactly the doc1/doc2 edge exists, in both directions
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 1, res.Pairs)
	assert.Equal(t, 2, res.Edges)
	assert.Equal(t, "brute", res.Strategy)

	want := vecmath.Round(vecmath.Cosine([]float32{1, 0, 0}, []float32{0.9, 0.1, 0}), 6)
	got := edges(t, s, doc1, doc2, doc3)
	require.Len(t, got, 2)
	assert.Equal(t, store.CrossRef{SourceChunkID: doc1, TargetChunkID: doc2, RefType: store.RefRelated, Strength: want}, got[0])
	assert.Equal(t, store.CrossRef{SourceChunkID: doc2, TargetChunkID: doc1, RefType: store.RefRelated, Strength: want}, got[1])
}

func TestRebuild_EdgesAreSymmetric(t *testing.T) {
	s := newStore(t)
	ids := randomCorpus(t, s, 30, 6)

	_, err := NewBuilder(s).Rebuild(context.Background(), Options{Threshold: 0.85})
	require.NoError(t, err)

	got := edges(t, s, ids...)
	require.NotEmpty(t, got)
	type key struct{ a, b int64 }
	strength := make(map[key]float64)
	for _, e := range got {
		assert.NotEqual(t, e.SourceChunkID, e.TargetChunkID, "no self edges")
		assert.GreaterOrEqual(t, e.Strength, 0.85)
		strength[key{e.SourceChunkID, e.TargetChunkID}] = e.Strength
	}
	for k, v := range strength {
		back, ok := strength[key{k.b, k.a}]
		require.True(t, ok, "missing reverse of %d→%d", k.a, k.b)
		assert.Equal(t, v, back)
	}
}

func TestRebuild_ReplacesPreviousEdges(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := put(t, s, "/a.md", store.SourceNote, []float32{1, 0})
	b := put(t, s, "/b.md", store.SourceNote, []float32{1, 0.05})

	_, err := NewBuilder(s).Rebuild(ctx, Options{Threshold: 0.9})
	require.NoError(t, err)
	require.Len(t, edges(t, s, a, b), 2)

	// When: the threshold rises above their similarity
	res, err := NewBuilder(s).Rebuild(ctx, Options{Threshold: 1})
	require.NoError(t, err)

	// Then: the old edges are gone
	assert.Zero(t, res.Edges)
	assert.Empty(t, edges(t, s, a, b))
}

func TestRebuild_RecordsMeta(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	put(t, s, "/a.md", store.SourceNote, []float32{1, 0})

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err := NewBuilder(s, WithClock(func() time.Time { return at })).Rebuild(ctx, Options{Threshold: 0.75})
	require.NoError(t, err)

	ts, err := s.GetMeta(ctx, store.MetaLastXrefRebuild)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T12:00:00Z", ts)
	th, err := s.GetMeta(ctx, store.MetaLastXrefThreshold)
	require.NoError(t, err)
	assert.Equal(t, "0.75", th)
}

func TestRebuild_CancelledCommitsNothing(t *testing.T) {
	s := newStore(t)
	a := put(t, s, "/a.md", store.SourceNote, []float32{1, 0})
	b := put(t, s, "/b.md", store.SourceNote, []float32{0, 1})

	// Given: an existing edge the rebuild would drop
	require.NoError(t, s.PutCrossRefs(context.Background(), store.Filter{}, []store.CrossRef{
		{SourceChunkID: a, TargetChunkID: b, RefType: store.RefRelated, Strength: 0.5},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBuilder(s).Rebuild(ctx, Options{Threshold: 0.8})

	require.Error(t, err)
	assert.True(t, serrors.IsCancelled(err))
	assert.Len(t, edges(t, s, a, b), 1)
}

func TestRebuild_ScopeKeepsOtherEdges(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a1 := put(t, s, "/a1.md", store.SourceArchive, []float32{1, 0})
	a2 := put(t, s, "/a2.md", store.SourceArchive, []float32{1, 0.01})
	c1 := put(t, s, "/c1.go", store.SourceCode, []float32{0, 1})
	c2 := put(t, s, "/c2.go", store.SourceCode, []float32{0.01, 1})

	_, err := NewBuilder(s).Rebuild(ctx, Options{Threshold: 0.9})
	require.NoError(t, err)
	require.Len(t, edges(t, s, a1, a2, c1, c2), 4)

	// When: rebuilding only code at an unreachable threshold
	_, err = NewBuilder(s).Rebuild(ctx, Options{Threshold: 1, SourceTypes: []store.SourceType{store.SourceCode}})
	require.NoError(t, err)

	// Then: archive edges survive
	assert.Len(t, edges(t, s, a1, a2), 2)
	assert.Empty(t, edges(t, s, c1, c2))
}

func TestRebuild_LargeCorpusAffinity(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	a := put(t, s, "/a.md", store.SourceArchive, []float32{1, 0})
	st := put(t, s, "/s.log", store.SourceStream, []float32{1, 0})
	c := put(t, s, "/c.go", store.SourceCode, []float32{1, 0})

	tests := []struct {
		name   string
		opts   Options
		wantAB int
		wantAC int
	}{
		{"small corpus pairs everything", Options{Threshold: 0.9}, 2, 2},
		{"large corpus without groups", Options{Threshold: 0.9, LargeCorpus: 1}, 0, 0},
		{"large corpus with group", Options{
			Threshold:   0.9,
			LargeCorpus: 1,
			Groups:      [][]store.SourceType{{store.SourceArchive, store.SourceStream}},
		}, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewBuilder(s).Rebuild(ctx, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.opts.LargeCorpus == 1, res.Pruned)
			assert.Len(t, edges(t, s, a, st), tt.wantAB)
			assert.Len(t, edges(t, s, a, c), tt.wantAC)
		})
	}
}

func TestRebuild_Validates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := NewBuilder(s).Rebuild(ctx, Options{Threshold: 1.2})
	assert.Equal(t, serrors.ErrCodeInvalidThreshold, serrors.GetCode(err))

	_, err = NewBuilder(s).Rebuild(ctx, Options{Threshold: -0.1})
	assert.Equal(t, serrors.ErrCodeInvalidThreshold, serrors.GetCode(err))

	_, err = NewBuilder(s).Rebuild(ctx, Options{Threshold: 0.8, Strategy: "annoy"})
	assert.Equal(t, serrors.ErrCodeConfigInvalid, serrors.GetCode(err))
}

type busyLock struct{ released bool }

func (b *busyLock) TryAcquire() error { return serrors.ErrWriterBusy }

func (b *busyLock) Release() error {
	b.released = true
	return nil
}

func TestRebuild_HonoursWriterLock(t *testing.T) {
	s := newStore(t)
	lock := &busyLock{}

	_, err := NewBuilder(s, WithLocker(lock)).Rebuild(context.Background(), Options{Threshold: 0.8})

	assert.ErrorIs(t, err, serrors.ErrWriterBusy)
	assert.False(t, lock.released)
}

func TestBruteForce_BlockSizeDoesNotChangePairs(t *testing.T) {
	s := newStore(t)
	randomCorpus(t, s, 25, 5)

	whole := collect(t, s, BruteForce{}, 0.8, 100)
	paged := collect(t, s, BruteForce{}, 0.8, 3)

	require.NotEmpty(t, whole)
	assert.Equal(t, whole, paged)
}

func TestHNSW_FindsSubsetOfExactPairs(t *testing.T) {
	s := newStore(t)
	randomCorpus(t, s, 40, 8)

	exact := collect(t, s, BruteForce{}, 0.8, 16)
	approx := collect(t, s, HNSW{Neighbors: 64}, 0.8, 16)

	require.NotEmpty(t, approx)
	for k, sim := range approx {
		want, ok := exact[k]
		require.True(t, ok, "hnsw pair %v not found by brute force", k)
		assert.InDelta(t, want, sim, 1e-5)
	}
	// with a neighbourhood larger than the corpus nearly every pair is seen
	assert.GreaterOrEqual(t, float64(len(approx)), 0.9*float64(len(exact)))
}

func TestHNSW_RebuildStrategy(t *testing.T) {
	s := newStore(t)
	doc1 := put(t, s, "/doc1.md", store.SourceNote, []float32{1, 0, 0})
	doc2 := put(t, s, "/doc2.md", store.SourceNote, []float32{0.9, 0.1, 0})
	put(t, s, "/doc3.md", store.SourceNote, []float32{0, 0, 1})

	res, err := NewBuilder(s).Rebuild(context.Background(), Options{Threshold: 0.8, Strategy: "hnsw"})
	require.NoError(t, err)

	assert.Equal(t, "hnsw", res.Strategy)
	assert.Len(t, edges(t, s, doc1, doc2), 2)
}

func TestStrategies_SkipMismatchedDimensions(t *testing.T) {
	s := newStore(t)
	put(t, s, "/a.md", store.SourceNote, []float32{1, 0})
	put(t, s, "/b.md", store.SourceNote, []float32{1, 0, 0})

	assert.Empty(t, collect(t, s, BruteForce{}, 0, 10))
	assert.Empty(t, collect(t, s, HNSW{}, 0, 10))
}
