package integration

import (
	"context"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/strata/internal/index"
	"github.com/Aman-CERP/strata/internal/lock"
	"github.com/Aman-CERP/strata/internal/search"
	"github.com/Aman-CERP/strata/internal/source"
	"github.com/Aman-CERP/strata/internal/store"
	"github.com/Aman-CERP/strata/internal/xref"
)

// vocabEmbedder is a bag-of-words embedder: each distinct lowercased word
// gets its own dimension, so cosine similarity is exactly the word overlap.
type vocabEmbedder struct {
	mu    sync.Mutex
	vocab map[string]int
}

const vocabDims = 256

func newVocabEmbedder() *vocabEmbedder {
	return &vocabEmbedder{vocab: make(map[string]int)}
}

func (v *vocabEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	vec := make([]float32, vocabDims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		i, ok := v.vocab[w]
		if !ok {
			i = len(v.vocab) % vocabDims
			v.vocab[w] = i
		}
		vec[i]++
	}

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func (v *vocabEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := v.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (v *vocabEmbedder) Dimensions() int                  { return vocabDims }
func (v *vocabEmbedder) ModelName() string                { return "vocab-test" }
func (v *vocabEmbedder) Available(_ context.Context) bool { return true }
func (v *vocabEmbedder) Close() error                     { return nil }

// approvalRule is the sentence the first two documents share. With three
// unique words on each side the pair scores 19/22, about 0.86.
const approvalRule = "Every invoice above five thousand dollars needs written approval from two finance directors before payment leaves the company account."

var threeDocs = map[string]string{
	"doc1.md": "Audits start quarterly. " + approvalRule + "\n",
	"doc2.md": approvalRule + " Vendors upload receipts.\n",
	"doc3.md": "Tomatoes ripen slowly when autumn nights turn cold near our garden fence.\n",
}

func TestScenario_SharedSentenceLinksOnlyTheTwoDocuments(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	// Given: three one-paragraph archive documents, two sharing a sentence
	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	for name, content := range threeDocs {
		writeFile(t, filepath.Join(docs, name), content)
	}
	dataDir := filepath.Join(dir, ".strata")
	st, err := store.Open(filepath.Join(dataDir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	reg, err := source.NewRegistry(map[string]source.Spec{
		"docs": {Type: store.SourceArchive, Root: docs},
	})
	require.NoError(t, err)
	wl := lock.New(dataDir)
	embedder := newVocabEmbedder()

	// When: indexing, rebuilding cross-references at 0.8, and searching
	runner, err := index.NewRunner(index.Dependencies{
		Store:    st,
		Sources:  reg,
		Lock:     wl,
		Embedder: embedder,
		Workers:  2,
	})
	require.NoError(t, err)
	sum, err := runner.Sync(ctx, index.Options{})
	require.NoError(t, err)
	require.Equal(t, 3, sum.FilesUpdated)
	require.Equal(t, sum.ChunksWritten, sum.ChunksEmbedded)

	_, err = xref.NewBuilder(st, xref.WithLocker(wl)).Rebuild(ctx, xref.Options{Threshold: 0.8})
	require.NoError(t, err)

	engine, err := search.NewEngine(st, embedder, search.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	resp, err := engine.Search(ctx, "audits start quarterly", search.Options{Limit: 5})
	require.NoError(t, err)

	// Then: document 1 ranks first
	assert.Equal(t, search.ModeHybrid, resp.Mode)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "doc1.md", filepath.Base(resp.Results[0].Chunk.FilePath))

	// And: documents 1 and 2 are linked both ways, document 3 not at all
	chunks, err := st.Recent(ctx, store.Filter{}, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	byID := make(map[int64]string, len(chunks))
	ids := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = filepath.Base(c.FilePath)
		ids = append(ids, c.ID)
	}
	edges, err := st.CrossRefsAmong(ctx, ids)
	require.NoError(t, err)

	strength := make(map[string]float64)
	for _, e := range edges {
		from, to := byID[e.SourceChunkID], byID[e.TargetChunkID]
		assert.NotEqual(t, "doc3.md", from)
		assert.NotEqual(t, "doc3.md", to)
		strength[from+">"+to] = e.Strength
	}
	require.Contains(t, strength, "doc1.md>doc2.md")
	require.Contains(t, strength, "doc2.md>doc1.md")
	assert.InDelta(t, strength["doc1.md>doc2.md"], strength["doc2.md>doc1.md"], 1e-9)
	assert.InDelta(t, 19.0/22.0, strength["doc1.md>doc2.md"], 1e-3)
}
