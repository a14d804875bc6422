package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/strata/internal/search"
	"github.com/Aman-CERP/strata/internal/watcher"
)

// nextBatch waits for a batch containing path.
func nextBatch(t *testing.T, ctx context.Context, w *watcher.Watcher, path string) []watcher.FileEvent {
	t.Helper()
	for {
		select {
		case batch := <-w.Events():
			for _, ev := range batch {
				if ev.Path == path {
					return batch
				}
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for an event on %s", path)
			return nil
		}
	}
}

func TestWatch_ChangesFlowIntoIndex(t *testing.T) {
	for _, polling := range []bool{false, true} {
		name := "fsnotify"
		if polling {
			name = "polling"
		}
		t.Run(name, func(t *testing.T) {
			// Given: a synced index and a watcher over the note root
			h := newHarness(t)
			h.sync(t)
			engine := h.engine(t)

			w, err := watcher.New(watcher.Options{
				DebounceWindow: 50 * time.Millisecond,
				PollInterval:   50 * time.Millisecond,
				Skip:           watcher.SkipUnder(h.dataDir),
				ForcePolling:   polling,
			})
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			done := make(chan error, 1)
			go func() { done <- w.Start(ctx, h.path("notes")) }()
			defer func() {
				_ = w.Stop()
				cancel()
				<-done
			}()
			// let the initial snapshot or fsnotify registration settle
			time.Sleep(200 * time.Millisecond)

			// When: a note is created
			created := h.path("notes/2026-02-10-trip.md")
			writeFile(t, created, "# Trip\n\nBook the ferry to the glacier lagoon before June.\n")
			batch := nextBatch(t, ctx, w, created)
			assert.NotEmpty(t, batch)

			// Then: resyncing the note source makes it searchable
			sum := h.sync(t, "journal")
			assert.Equal(t, 1, sum.FilesUpdated)
			resp, err := engine.Search(ctx, "ferry glacier lagoon", search.Options{})
			require.NoError(t, err)
			require.NotEmpty(t, resp.Results)
			assert.Equal(t, created, resp.Results[0].Chunk.FilePath)

			// When: the note is deleted
			require.NoError(t, os.Remove(created))
			nextBatch(t, ctx, w, created)

			// Then: the next sync drops it
			sum = h.sync(t, "journal")
			assert.Equal(t, 1, sum.FilesRemoved)
			resp, err = engine.Search(ctx, "ferry glacier lagoon", search.Options{KeywordOnly: true})
			require.NoError(t, err)
			assert.Empty(t, resp.Results)
		})
	}
}

func TestWatch_IgnoresDataDir(t *testing.T) {
	h := newHarness(t)

	w, err := watcher.New(watcher.Options{
		DebounceWindow: 50 * time.Millisecond,
		PollInterval:   50 * time.Millisecond,
		Skip:           watcher.SkipUnder(h.dataDir),
		ForcePolling:   true,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, h.dir) }()
	defer func() {
		_ = w.Stop()
		cancel()
		<-done
	}()
	time.Sleep(200 * time.Millisecond)

	// When: the index is written and then a source file changes
	h.sync(t)
	marker := h.path("docs/later.md")
	writeFile(t, marker, "# Later\n")

	// Then: no batch ever mentions the data directory
	for {
		select {
		case batch := <-w.Events():
			for _, ev := range batch {
				assert.NotContains(t, ev.Path, ".strata", "data dir writes must be skipped")
				if ev.Path == marker {
					return
				}
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for the marker event")
		}
	}
}
