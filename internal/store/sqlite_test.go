package store

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/hash"
)

// newTestStore opens a store in a temp dir. A file is required: the writer
// and the read pool are separate connections to the same database.
func newTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), ".strata", "index.db")

	s, err := Open(dbPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fileState(path string, st SourceType, content string) *FileSyncState {
	return &FileSyncState{
		FilePath:     path,
		SourceType:   st,
		FileHash:     string(hash.String(content)),
		ModifiedTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func textChunks(texts ...string) []*Chunk {
	out := make([]*Chunk, len(texts))
	for i, t := range texts {
		out[i] = &Chunk{Content: t, ContentHash: string(hash.String(t))}
	}
	return out
}

func upsert(t *testing.T, s *SQLiteStore, path string, st SourceType, texts ...string) []*Chunk {
	t.Helper()
	chunks := textChunks(texts...)
	require.NoError(t, s.UpsertChunks(context.Background(), fileState(path, st, fmt.Sprint(texts)), chunks))
	return chunks
}

func TestOpen_InitialisesSchema(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetMeta(context.Background(), MetaSchemaVersion)
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	assert.FileExists(t, s.Path())
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	upsert(t, s, "/a.md", SourceArchive, "persisted paragraph")
	require.NoError(t, s.Close())

	s2, err := Open(dbPath)
	require.NoError(t, err)
	defer func() { _ = s2.Close() }()

	hits, err := s2.KeywordSearch(context.Background(), "persisted", Filter{}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestOpen_QuarantinesCorruptFile(t *testing.T) {
	// Given: garbage where the database should be
	dbPath := filepath.Join(t.TempDir(), "index.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("this is not a sqlite database, not even close"), 0o644))

	// When: opening
	s, err := Open(dbPath)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	// Then: the bad file is moved aside and a fresh store works
	assert.FileExists(t, dbPath+".corrupt")
	upsert(t, s, "/a.md", SourceArchive, "fresh")
}

func TestUpsertChunks_AssignsIdsAndState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: two chunks, one with a vector
	chunks := textChunks("alpha paragraph", "beta paragraph")
	chunks[0].Embedding = []float32{0.1, 0.2, 0.3}
	chunks[0].EmbeddingModel = "static"
	chunks[0].Title = "Alpha Doc"
	chunks[0].Tags = []string{"x", "y"}
	chunks[0].Metadata = map[string]string{"k": "v"}
	state := fileState("/corpus/a.md", SourceArchive, "v1")

	// When: upserting
	require.NoError(t, s.UpsertChunks(ctx, state, chunks))

	// Then: ids, sequence numbers and state are recorded
	assert.NotZero(t, chunks[0].ID)
	assert.Greater(t, chunks[1].ID, chunks[0].ID)
	assert.Equal(t, 1, chunks[1].Seq)

	got, err := s.GetSyncState(ctx, "/corpus/a.md")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, SyncOK, got.Status)
	assert.Equal(t, 2, got.ChunksCount)
	assert.Equal(t, state.FileHash, got.FileHash)
	assert.Equal(t, SourceArchive, got.SourceType)

	loaded, err := s.GetChunks(ctx, []int64{chunks[0].ID, chunks[1].ID})
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, loaded[0].Embedding)
	assert.Equal(t, "Alpha Doc", loaded[0].Title)
	assert.Equal(t, []string{"x", "y"}, loaded[0].Tags)
	assert.Equal(t, "v", loaded[0].Metadata["k"])
	assert.Nil(t, loaded[1].Embedding)
	assert.Equal(t, state.ModifiedTime.UnixMilli(), loaded[0].ModifiedAt.UnixMilli())
}

func TestUpsertChunks_ReplacesPriorChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := upsert(t, s, "/a.md", SourceArchive, "old one", "old two", "old three")
	fresh := upsert(t, s, "/a.md", SourceArchive, "new one")

	got, err := s.GetChunks(ctx, []int64{old[0].ID, old[1].ID, old[2].ID})
	require.NoError(t, err)
	assert.Empty(t, got, "superseded rows must be gone")
	assert.Greater(t, fresh[0].ID, old[2].ID, "ids are never reused")

	hits, err := s.KeywordSearch(ctx, "old", Filter{}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits, "full-text index follows deletes")
}

func TestUpsertChunks_FailureLeavesPriorStateIntact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: a synced file
	prior := upsert(t, s, "/a.md", SourceArchive, "stable content")
	before, err := s.GetSyncState(ctx, "/a.md")
	require.NoError(t, err)

	// When: a replacement fails part way (second chunk has a bad vector)
	bad := textChunks("replacement one", "replacement two")
	bad[1].Embedding = []float32{float32(math.NaN())}
	err = s.UpsertChunks(ctx, fileState("/a.md", SourceArchive, "v2"), bad)

	// Then: the old chunk set and state survive untouched
	require.Error(t, err)
	got, err := s.GetChunks(ctx, []int64{prior[0].ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stable content", got[0].Content)

	after, err := s.GetSyncState(ctx, "/a.md")
	require.NoError(t, err)
	assert.Equal(t, before.FileHash, after.FileHash)

	hits, err := s.KeywordSearch(ctx, "replacement", Filter{}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUpsertChunks_CancelledContextIsCancellation(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.UpsertChunks(ctx, fileState("/a.md", SourceArchive, "x"), textChunks("x"))

	require.Error(t, err)
	assert.True(t, serrors.IsCancelled(err))
}

func TestMarkFailed_KeepsChunksAndHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chunks := upsert(t, s, "/a.md", SourceArchive, "good content")
	good, err := s.GetSyncState(ctx, "/a.md")
	require.NoError(t, err)

	failed := fileState("/a.md", SourceArchive, "unreadable")
	failed.Error = "permission denied"
	require.NoError(t, s.MarkFailed(ctx, failed))

	got, err := s.GetSyncState(ctx, "/a.md")
	require.NoError(t, err)
	assert.Equal(t, SyncFailed, got.Status)
	assert.Equal(t, "permission denied", got.Error)
	assert.Equal(t, good.FileHash, got.FileHash)
	assert.False(t, got.Prior().Healthy)

	still, err := s.GetChunks(ctx, []int64{chunks[0].ID})
	require.NoError(t, err)
	assert.Len(t, still, 1)
}

func TestMarkFailed_NewFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	st := &FileSyncState{FilePath: "/new.log", SourceType: SourceStream, Error: "boom"}
	require.NoError(t, s.MarkFailed(ctx, st))

	got, err := s.GetSyncState(ctx, "/new.log")
	require.NoError(t, err)
	assert.Equal(t, SyncFailed, got.Status)
	assert.Equal(t, 0, got.ChunksCount)
}

func TestGetSyncState_Absent(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetSyncState(context.Background(), "/never")

	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.Nil(t, got.Prior())
}

func TestListSyncStates_FiltersBySource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	upsert(t, s, "/b.md", SourceArchive, "b")
	upsert(t, s, "/a.md", SourceArchive, "a")
	upsert(t, s, "/x.log", SourceStream, "x")

	archive, err := s.ListSyncStates(ctx, SourceArchive)
	require.NoError(t, err)
	require.Len(t, archive, 2)
	assert.Equal(t, "/a.md", archive[0].FilePath)

	all, err := s.ListSyncStates(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTouchFile_UpdatesTimesInPlace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chunks := upsert(t, s, "/a.md", SourceArchive, "content")

	later := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.TouchFile(ctx, "/a.md", later))

	got, err := s.GetChunks(ctx, []int64{chunks[0].ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, later.UnixMilli(), got[0].ModifiedAt.UnixMilli())

	st, err := s.GetSyncState(ctx, "/a.md")
	require.NoError(t, err)
	assert.Equal(t, later.UnixMilli(), st.ModifiedTime.UnixMilli())
}

func TestDeleteFile_RemovesChunksStateAndEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := upsert(t, s, "/a.md", SourceArchive, "a")
	b := upsert(t, s, "/b.md", SourceArchive, "b")
	require.NoError(t, s.PutCrossRefs(ctx, Filter{}, []CrossRef{
		{SourceChunkID: a[0].ID, TargetChunkID: b[0].ID, RefType: RefRelated, Strength: 0.9},
		{SourceChunkID: b[0].ID, TargetChunkID: a[0].ID, RefType: RefRelated, Strength: 0.9},
	}))

	require.NoError(t, s.DeleteFile(ctx, "/a.md"))

	st, err := s.GetSyncState(ctx, "/a.md")
	require.NoError(t, err)
	assert.Nil(t, st)
	n, err := s.CountCrossRefs(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "edges cascade with their chunks")
}

func TestEmbeddingsByContentHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chunks := textChunks("one", "two", "three")
	chunks[0].Embedding, chunks[0].EmbeddingModel = []float32{1, 0}, "m1"
	chunks[1].Embedding, chunks[1].EmbeddingModel = []float32{0, 1}, "m2"
	require.NoError(t, s.UpsertChunks(ctx, fileState("/a.md", SourceNote, "x"), chunks))

	got, err := s.EmbeddingsByContentHash(ctx, "/a.md", "m1")
	require.NoError(t, err)
	assert.Equal(t, map[string][]float32{chunks[0].ContentHash: {1, 0}}, got)
}

func TestKeywordSearch_RanksAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	upsert(t, s, "/archive/wal.md", SourceArchive, "write ahead logging keeps readers consistent with logging")
	upsert(t, s, "/notes/2024-01-01.md", SourceNote, "a note that mentions logging once")
	upsert(t, s, "/stream/app.log", SourceStream, "unrelated stream entry about cats")
	upsert(t, s, "/stream/db.log", SourceStream, "checkpoint completed in four seconds")
	upsert(t, s, "/archive/misc.md", SourceArchive, "grocery list with apples and pears")

	// When: searching without a filter
	hits, err := s.KeywordSearch(ctx, "logging", Filter{}, 10)
	require.NoError(t, err)

	// Then: only matches come back, the denser match first, scores positive
	require.Len(t, hits, 2)
	assert.Equal(t, "/archive/wal.md", hits[0].Chunk.FilePath)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Greater(t, hits[1].Score, 0.0)

	// When: filtering to notes
	notes, err := s.KeywordSearch(ctx, "logging", Filter{SourceTypes: []SourceType{SourceNote}}, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, SourceNote, notes[0].Chunk.SourceType)
}

func TestKeywordSearch_EmptyAndPunctuationQueries(t *testing.T) {
	s := newTestStore(t)
	upsert(t, s, "/a.md", SourceArchive, "content")

	for _, q := range []string{"", "   ", "!!! ???", "\"", "a"} {
		hits, err := s.KeywordSearch(context.Background(), q, Filter{}, 10)
		require.NoError(t, err, q)
		assert.Empty(t, hits, q)
	}
}

func TestKeywordSearch_FindsIdentifierParts(t *testing.T) {
	s := newTestStore(t)
	upsert(t, s, "/src/user.go", SourceCode, "func getUserById(id string) (*User, error)")

	for _, q := range []string{"getUserById", "user", "get_user_by_id"} {
		hits, err := s.KeywordSearch(context.Background(), q, Filter{}, 10)
		require.NoError(t, err)
		assert.Len(t, hits, 1, q)
	}
}

func TestKeywordSearch_MatchesTitleAndTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chunks := textChunks("body without the special word")
	chunks[0].Title = "Kubernetes Runbook"
	chunks[0].Tags = []string{"oncall"}
	require.NoError(t, s.UpsertChunks(ctx, fileState("/a.md", SourceArchive, "x"), chunks))

	for _, q := range []string{"kubernetes", "oncall"} {
		hits, err := s.KeywordSearch(ctx, q, Filter{}, 10)
		require.NoError(t, err)
		assert.Len(t, hits, 1, q)
	}
}

func TestChunkIterator_PagesLazilyAndRestarts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: 7 embedded chunks across two sources and one without a vector
	for i := 0; i < 5; i++ {
		c := textChunks(fmt.Sprintf("archive %d", i))
		c[0].Embedding = []float32{float32(i), 1}
		require.NoError(t, s.UpsertChunks(ctx, fileState(fmt.Sprintf("/a%d.md", i), SourceArchive, "x"), c))
	}
	for i := 0; i < 2; i++ {
		c := textChunks(fmt.Sprintf("code %d", i))
		c[0].Embedding = []float32{1, float32(i)}
		require.NoError(t, s.UpsertChunks(ctx, fileState(fmt.Sprintf("/c%d.go", i), SourceCode, "x"), c))
	}
	upsert(t, s, "/plain.md", SourceArchive, "no vector")

	collect := func(it *ChunkIterator) []int64 {
		var ids []int64
		for it.Next(ctx) {
			ids = append(ids, it.Chunk().ID)
			assert.NotEmpty(t, it.Chunk().Vector)
		}
		require.NoError(t, it.Err())
		return ids
	}

	// When: iterating with a page size smaller than the set
	it := s.ChunksWithEmbeddings(Filter{}, 2)
	first := collect(it)

	// Then: every embedded chunk appears once, in id order
	assert.Len(t, first, 7)
	assert.IsIncreasing(t, first)

	// And: Reset replays the same sequence
	it.Reset()
	assert.Equal(t, first, collect(it))

	// And: SeekAfter resumes after a given id
	it.SeekAfter(first[2])
	assert.Equal(t, first[3:], collect(it))

	// And: a filter scopes the sequence
	assert.Len(t, collect(s.ChunksWithEmbeddings(Filter{SourceTypes: []SourceType{SourceCode}}, 2)), 2)

	// And: counts agree with the iterator
	counts, err := s.CountEmbedded(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, map[SourceType]int{SourceArchive: 5, SourceCode: 2}, counts)

	counts, err = s.CountEmbedded(ctx, Filter{SourceTypes: []SourceType{SourceNote}})
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestChunkIterator_StopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	c := textChunks("x")
	c[0].Embedding = []float32{1}
	require.NoError(t, s.UpsertChunks(context.Background(), fileState("/a.md", SourceArchive, "x"), c))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	it := s.ChunksWithEmbeddings(Filter{}, 10)

	assert.False(t, it.Next(ctx))
	assert.ErrorIs(t, it.Err(), context.Canceled)
}

func TestPutCrossRefs_ReplacesWholesale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := upsert(t, s, "/a.md", SourceArchive, "a")
	b := upsert(t, s, "/b.md", SourceArchive, "b")
	c := upsert(t, s, "/c.md", SourceArchive, "c")

	require.NoError(t, s.PutCrossRefs(ctx, Filter{}, []CrossRef{
		{SourceChunkID: a[0].ID, TargetChunkID: b[0].ID, RefType: RefRelated, Strength: 0.9},
	}))
	require.NoError(t, s.PutCrossRefs(ctx, Filter{}, []CrossRef{
		{SourceChunkID: b[0].ID, TargetChunkID: c[0].ID, RefType: RefRelated, Strength: 0.85},
	}))

	edges, err := s.CrossRefsAmong(ctx, []int64{a[0].ID, b[0].ID, c[0].ID})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, b[0].ID, edges[0].SourceChunkID)
	assert.InDelta(t, 0.85, edges[0].Strength, 1e-9)
}

func TestPutCrossRefs_ScopedReplaceKeepsOtherEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := upsert(t, s, "/a.md", SourceArchive, "a")
	b := upsert(t, s, "/b.md", SourceArchive, "b")
	x := upsert(t, s, "/x.go", SourceCode, "x")
	y := upsert(t, s, "/y.go", SourceCode, "y")

	require.NoError(t, s.PutCrossRefs(ctx, Filter{}, []CrossRef{
		{SourceChunkID: a[0].ID, TargetChunkID: b[0].ID, RefType: RefRelated, Strength: 0.9},
		{SourceChunkID: x[0].ID, TargetChunkID: y[0].ID, RefType: RefRelated, Strength: 0.9},
	}))

	// When: rebuilding only the code scope with no edges
	require.NoError(t, s.PutCrossRefs(ctx, Filter{SourceTypes: []SourceType{SourceCode}}, nil))

	// Then: archive edges survive, code edges are gone
	n, err := s.CountCrossRefs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	out, err := s.CrossRefsFrom(ctx, a[0].ID, 10)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestPutCrossRefs_RejectsInvalidEdgesAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := upsert(t, s, "/a.md", SourceArchive, "a")
	b := upsert(t, s, "/b.md", SourceArchive, "b")
	valid := CrossRef{SourceChunkID: a[0].ID, TargetChunkID: b[0].ID, RefType: RefRelated, Strength: 0.9}
	require.NoError(t, s.PutCrossRefs(ctx, Filter{}, []CrossRef{valid}))

	tests := []struct {
		name string
		edge CrossRef
	}{
		{"self reference", CrossRef{SourceChunkID: a[0].ID, TargetChunkID: a[0].ID, RefType: RefRelated, Strength: 1}},
		{"strength above one", CrossRef{SourceChunkID: a[0].ID, TargetChunkID: b[0].ID, RefType: RefRelated, Strength: 1.5}},
		{"unknown type", CrossRef{SourceChunkID: a[0].ID, TargetChunkID: b[0].ID, RefType: "likes", Strength: 0.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, s.PutCrossRefs(ctx, Filter{}, []CrossRef{tt.edge}))
		})
	}

	// dangling ids fail at the foreign key, inside the transaction
	err := s.PutCrossRefs(ctx, Filter{}, []CrossRef{
		{SourceChunkID: a[0].ID, TargetChunkID: 999999, RefType: RefRelated, Strength: 0.9},
	})
	assert.Error(t, err)

	n, err := s.CountCrossRefs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "previous edge set survives failed replacements")
}

func TestRecordAccess_BumpsCounters(t *testing.T) {
	fixed := time.Date(2025, 3, 3, 3, 3, 3, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	chunks := upsert(t, s, "/a.md", SourceArchive, "one", "two")

	require.NoError(t, s.RecordAccess(ctx, []int64{chunks[0].ID}))
	require.NoError(t, s.RecordAccess(ctx, []int64{chunks[0].ID}))

	got, err := s.GetChunks(ctx, []int64{chunks[0].ID, chunks[1].ID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, got[0].AccessCount)
	require.NotNil(t, got[0].LastAccessed)
	assert.Equal(t, fixed.UnixMilli(), got[0].LastAccessed.UnixMilli())
	assert.EqualValues(t, 0, got[1].AccessCount)
	assert.Nil(t, got[1].LastAccessed)
}

func TestRecent_NewestFilesFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, p := range []string{"/old.md", "/mid.md", "/new.md"} {
		st := fileState(p, SourceNote, p)
		st.ModifiedTime = time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.UpsertChunks(ctx, st, textChunks(p+" first", p+" second")))
	}

	got, err := s.Recent(ctx, Filter{}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/new.md", got[0].FilePath)
	assert.Equal(t, "/mid.md", got[1].FilePath)
	assert.Equal(t, 0, got[0].Seq)
}

func TestStats_Aggregates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := textChunks("a1", "a2")
	c[0].Embedding = []float32{1, 0}
	require.NoError(t, s.UpsertChunks(ctx, fileState("/a.md", SourceArchive, "a"), c))
	upsert(t, s, "/x.log", SourceStream, "x1")
	require.NoError(t, s.MarkFailed(ctx, &FileSyncState{FilePath: "/bad.log", SourceType: SourceStream, Error: "eio"}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, st.TotalChunks)
	assert.Equal(t, 3, st.TotalFiles)
	assert.Equal(t, 1, st.FailedFiles)
	assert.Equal(t, 1, st.EmbeddedChunks)
	assert.Greater(t, st.DatabaseBytes, int64(0))
	require.Len(t, st.Sources, 2)
	assert.Equal(t, SourceArchive, st.Sources[0].SourceType)
	assert.Equal(t, 2, st.Sources[0].Chunks)
	assert.Equal(t, SourceStream, st.Sources[1].SourceType)
	assert.Equal(t, 2, st.Sources[1].Files)
	assert.Nil(t, st.LastSync)
}

func TestSyncRuns_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	run := &SyncRun{ID: "run-1"}
	require.NoError(t, s.BeginRun(ctx, run))
	assert.Equal(t, RunRunning, run.Status)

	run.FilesScanned, run.FilesUpdated, run.FilesFailed, run.ChunksWritten = 5, 4, 1, 12
	run.Status = RunPartial
	require.NoError(t, s.FinishRun(ctx, run))

	last, err := s.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "run-1", last.ID)
	assert.Equal(t, RunPartial, last.Status)
	assert.Equal(t, 4, last.FilesUpdated)
	assert.NotNil(t, last.FinishedAt)
}

func TestVacuum(t *testing.T) {
	s := newTestStore(t)
	upsert(t, s, "/a.md", SourceArchive, "to be deleted")
	require.NoError(t, s.DeleteFile(context.Background(), "/a.md"))

	assert.NoError(t, s.Vacuum(context.Background()))
}

func TestConcurrentReadersSeeWholeCommits(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Given: a file alternating between a 3-chunk and a 5-chunk version
	three := []string{"zebra 1", "zebra 2", "zebra 3"}
	five := []string{"zebra 1", "zebra 2", "zebra 3", "zebra 4", "zebra 5"}
	upsert(t, s, "/z.md", SourceArchive, three...)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			texts := three
			if i%2 == 0 {
				texts = five
			}
			assert.NoError(t, s.UpsertChunks(ctx, fileState("/z.md", SourceArchive, fmt.Sprint(i)), textChunks(texts...)))
		}
		close(stop)
	}()

	// When: readers search while the writer replaces the file
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				hits, err := s.KeywordSearch(ctx, "zebra", Filter{}, 50)
				if !assert.NoError(t, err) {
					return
				}
				// Then: never a torn mix of old and new rows
				assert.Contains(t, []int{3, 5}, len(hits))
			}
		}()
	}
	wg.Wait()
}

func TestClose_IdempotentAndBlocksUse(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.KeywordSearch(context.Background(), "x", Filter{}, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.UpsertChunks(context.Background(), fileState("/a", SourceArchive, "a"), nil), ErrClosed)
}

func TestParseSourceType(t *testing.T) {
	st, err := ParseSourceType("note")
	require.NoError(t, err)
	assert.Equal(t, SourceNote, st)

	_, err = ParseSourceType("podcast")
	assert.Error(t, err)
}
