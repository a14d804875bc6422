// Package integration exercises sync, cross-references, search and the MCP
// surface together over a real on-disk index.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/strata/internal/embed"
	"github.com/Aman-CERP/strata/internal/index"
	"github.com/Aman-CERP/strata/internal/lock"
	"github.com/Aman-CERP/strata/internal/search"
	"github.com/Aman-CERP/strata/internal/source"
	"github.com/Aman-CERP/strata/internal/store"
	"github.com/Aman-CERP/strata/internal/xref"
)

// cacheNote appears verbatim in an archived doc and a note, so the two
// chunks embed identically and must be cross-referenced.
const cacheNote = "# Cache policy\n\nThe cache eviction policy is least recently used with a ten minute ttl.\n"

var corpus = map[string]string{
	"docs/cache.md":              cacheNote,
	"docs/onboarding.md":         "# Onboarding\n\nNew hires get laptop access through the identity portal on day one.\n",
	"notes/2026-02-01-cache.md":  cacheNote,
	"notes/2026-02-03-garden.md": "# Garden\n\nPlanted tomatoes and basil along the south fence. #home\n",
	"chat/2026-02.log":           "2026-02-02T09:00:00Z alice: the billing export timed out again\n2026-02-02T09:05:00Z bob: retrying the billing export with a smaller batch\n",
	"src/billing/export.go":      "package billing\n\n// ExportLedger writes ledger rows in batches.\nfunc ExportLedger(batch int) error {\n\treturn nil\n}\n",
	"src/billing/export_test.go": "package billing\n\nimport \"testing\"\n\nfunc TestExportLedger(t *testing.T) {}\n",
}

type harness struct {
	dir      string
	dataDir  string
	store    *store.SQLiteStore
	lock     *lock.WriterLock
	embedder embed.Embedder
	runner   *index.Runner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	dir := t.TempDir()
	for rel, content := range corpus {
		writeFile(t, filepath.Join(dir, filepath.FromSlash(rel)), content)
	}

	dataDir := filepath.Join(dir, ".strata")
	st, err := store.Open(filepath.Join(dataDir, "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg, err := source.NewRegistry(map[string]source.Spec{
		"docs":    {Type: store.SourceArchive, Root: filepath.Join(dir, "docs")},
		"journal": {Type: store.SourceNote, Root: filepath.Join(dir, "notes")},
		"chat":    {Type: store.SourceStream, Root: filepath.Join(dir, "chat")},
		"src":     {Type: store.SourceCode, Root: filepath.Join(dir, "src")},
	})
	require.NoError(t, err)

	h := &harness{
		dir:      dir,
		dataDir:  dataDir,
		store:    st,
		lock:     lock.New(dataDir),
		embedder: embed.NewStaticEmbedder(64),
	}
	h.runner, err = index.NewRunner(index.Dependencies{
		Store:    st,
		Sources:  reg,
		Lock:     h.lock,
		Embedder: h.embedder,
		Workers:  2,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) sync(t *testing.T, sources ...string) *index.Summary {
	t.Helper()
	sum, err := h.runner.Sync(context.Background(), index.Options{Sources: sources})
	require.NoError(t, err)
	return sum
}

func (h *harness) rebuildXrefs(t *testing.T) *xref.Result {
	t.Helper()
	res, err := xref.NewBuilder(h.store, xref.WithLocker(h.lock)).Rebuild(context.Background(), xref.Options{Threshold: 0.8})
	require.NoError(t, err)
	return res
}

func (h *harness) engine(t *testing.T) *search.Engine {
	t.Helper()
	e, err := search.NewEngine(h.store, h.embedder, search.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func (h *harness) path(rel string) string {
	return filepath.Join(h.dir, filepath.FromSlash(rel))
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}
