package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/hash"
	"github.com/Aman-CERP/strata/internal/source"
	"github.com/Aman-CERP/strata/internal/store"
	"github.com/Aman-CERP/strata/internal/ui"
)

// job is one file on its way through a pass.
type job struct {
	source string
	path   string
	prior  *store.FileSyncState
	state  *store.FileSyncState
	reason hash.Reason
	texts  []string
	hints  source.Hints

	// err is a file-scoped failure; the pass continues past it.
	err error
}

// rooted is implemented by adapters backed by a directory tree.
type rooted interface {
	Root() string
}

// syncSource processes one adapter's files in windows: a window is read
// and chunked in parallel, then embedded and committed in path order.
func (r *Runner) syncSource(ctx context.Context, a source.Adapter, p *pass) error {
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: a.Name()})

	scanStart := time.Now()
	paths, err := a.Enumerate(ctx)
	p.timing.Scan += time.Since(scanStart)
	if err != nil {
		if ctx.Err() != nil || serrors.IsCancelled(err) {
			return serrors.Cancelled(err)
		}
		// an unreadable root fails the source, not the pass; nothing is
		// removed since nothing was enumerated
		r.recordFailure(p, a.Name(), rootOf(a), err)
		return nil
	}
	p.sum.FilesScanned += len(paths)
	slog.Debug("sync_source_scanned",
		slog.String("source", a.Name()),
		slog.Int("files", len(paths)))

	for lo := 0; lo < len(paths); lo += r.workers {
		if err := ctx.Err(); err != nil {
			return serrors.Cancelled(err)
		}
		window := paths[lo:min(lo+r.workers, len(paths))]
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageReading,
			Current:     lo,
			Total:       len(paths),
			CurrentFile: window[0],
			Message:     a.Name(),
		})

		readStart := time.Now()
		jobs := make([]*job, len(window))
		g, gctx := errgroup.WithContext(ctx)
		for i, path := range window {
			g.Go(func() error {
				j, err := r.prepare(gctx, a, path, p.opts.Force)
				jobs[i] = j
				return err
			})
		}
		err := g.Wait()
		p.timing.Read += time.Since(readStart)
		if err != nil {
			return err
		}

		for i, j := range jobs {
			if err := ctx.Err(); err != nil {
				return serrors.Cancelled(err)
			}
			if err := r.commit(ctx, j, p); err != nil {
				return err
			}
			r.renderer.UpdateProgress(ui.ProgressEvent{
				Stage:       ui.StageWriting,
				Current:     lo + i + 1,
				Total:       len(paths),
				CurrentFile: j.path,
				Message:     a.Name(),
			})
		}
	}

	return r.removeMissing(ctx, a, paths, p)
}

// prepare fingerprints a file, decides whether it needs work, and if so
// reads and chunks it. Only store failures and cancellation are returned
// as errors; file problems land in job.err.
func (r *Runner) prepare(ctx context.Context, a source.Adapter, path string, force bool) (*job, error) {
	j := &job{
		source: a.Name(),
		path:   path,
		state:  &store.FileSyncState{FilePath: path, SourceType: a.SourceType()},
	}

	prior, err := r.store.GetSyncState(ctx, path)
	if err != nil {
		return nil, r.storeFailure(ctx, "get sync state", err)
	}
	j.prior = prior
	if prior != nil {
		j.state.FileHash = prior.FileHash
	}

	info, err := os.Stat(path)
	if err != nil {
		j.err = serrors.New(serrors.ErrCodeFileRead, "cannot stat file", err).WithDetail("path", path)
		return j, nil
	}
	j.state.ModifiedTime = info.ModTime()

	fp, err := hash.File(path)
	if err != nil {
		j.err = serrors.New(serrors.ErrCodeFileRead, "cannot hash file", err).WithDetail("path", path)
		return j, nil
	}
	j.state.FileHash = string(fp)

	j.reason = hash.Decide(prior.Prior(), fp, force)
	if !j.reason.NeedsWork() {
		return j, nil
	}

	doc, err := a.Read(ctx, path)
	if err != nil {
		if ctx.Err() != nil || serrors.IsCancelled(err) {
			return nil, serrors.Cancelled(err)
		}
		j.err = err
		return j, nil
	}
	j.texts = r.chunker.Split(doc.Text)
	j.hints = doc.Hints
	return j, nil
}

// commit writes one prepared file.
func (r *Runner) commit(ctx context.Context, j *job, p *pass) error {
	switch {
	case j.err != nil:
		return r.markFailed(ctx, j, p)
	case !j.reason.NeedsWork():
		p.sum.FilesUnchanged++
		if j.prior.ModifiedTime.UnixMilli() != j.state.ModifiedTime.UnixMilli() {
			if err := r.store.TouchFile(ctx, j.path, j.state.ModifiedTime); err != nil {
				return r.storeFailure(ctx, "touch file", err)
			}
		}
		return nil
	}

	chunks := make([]*store.Chunk, len(j.texts))
	for i, text := range j.texts {
		chunks[i] = &store.Chunk{
			Content:     text,
			ContentHash: string(hash.String(text)),
			Title:       j.hints.Title,
			Author:      j.hints.Author,
			Timestamp:   j.hints.Timestamp,
			Tags:        j.hints.Tags,
			Metadata:    j.hints.Metadata,
		}
	}

	embedStart := time.Now()
	err := r.embedChunks(ctx, j, chunks, p)
	p.timing.Embed += time.Since(embedStart)
	if err != nil {
		return err
	}

	writeStart := time.Now()
	err = r.store.UpsertChunks(ctx, j.state, chunks)
	p.timing.Write += time.Since(writeStart)
	if err != nil {
		return r.storeFailure(ctx, "upsert chunks", err)
	}

	p.sum.FilesUpdated++
	p.sum.ChunksWritten += len(chunks)
	slog.Debug("sync_file_updated",
		slog.String("path", j.path),
		slog.String("reason", string(j.reason)),
		slog.Int("chunks", len(chunks)))
	return nil
}

// embedChunks fills chunk vectors, reusing stored vectors for unchanged
// chunk text. An embedding failure leaves the remaining vectors nil, counts
// a warning and stops further embedding for the pass.
func (r *Runner) embedChunks(ctx context.Context, j *job, chunks []*store.Chunk, p *pass) error {
	if p.model == "" || p.embedDown || len(chunks) == 0 {
		return nil
	}

	if j.prior != nil {
		known, err := r.store.EmbeddingsByContentHash(ctx, j.path, p.model)
		if err != nil {
			if ctx.Err() != nil {
				return serrors.Cancelled(err)
			}
			slog.Debug("sync_embedding_reuse_failed",
				slog.String("path", j.path),
				slog.String("error", err.Error()))
		}
		for _, c := range chunks {
			if vec, ok := known[c.ContentHash]; ok {
				c.Embedding = vec
				c.EmbeddingModel = p.model
				p.sum.ChunksReused++
			}
		}
	}

	var pending []*store.Chunk
	for _, c := range chunks {
		if c.Embedding == nil {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:       ui.StageEmbedding,
		Total:       len(pending),
		CurrentFile: j.path,
	})

	for lo := 0; lo < len(pending); lo += r.batchSize {
		batch := pending[lo:min(lo+r.batchSize, len(pending))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		vecs, err := r.embedder.EmbedBatch(ctx, texts)
		if err == nil && len(vecs) != len(batch) {
			err = serrors.New(serrors.ErrCodeEmbeddingFailed, "embedder returned wrong number of vectors", nil)
		}
		if err != nil {
			if ctx.Err() != nil {
				return serrors.Cancelled(err)
			}
			p.embedDown = true
			p.sum.Warnings++
			r.renderer.AddError(ui.ErrorEvent{File: j.path, Err: err, IsWarn: true})
			slog.Warn("sync_embed_failed",
				slog.String("path", j.path),
				slog.String("error", err.Error()),
				slog.String("fallback", "storing chunks without vectors"))
			return nil
		}
		for i, c := range batch {
			c.Embedding = vecs[i]
			c.EmbeddingModel = p.model
		}
		p.sum.ChunksEmbedded += len(batch)
	}
	return nil
}

// markFailed records a file-scoped failure. Chunks from the last good pass
// stay searchable.
func (r *Runner) markFailed(ctx context.Context, j *job, p *pass) error {
	j.state.Error = j.err.Error()
	if err := r.store.MarkFailed(ctx, j.state); err != nil {
		return r.storeFailure(ctx, "mark failed", err)
	}
	r.recordFailure(p, j.source, j.path, j.err)
	return nil
}

func (r *Runner) recordFailure(p *pass, src, path string, err error) {
	p.sum.FilesFailed++
	p.sum.Failures = append(p.sum.Failures, FileFailure{Path: path, Source: src, Err: err})
	r.renderer.AddError(ui.ErrorEvent{File: path, Err: err})
	slog.Warn("sync_file_failed",
		slog.String("source", src),
		slog.String("path", path),
		slog.String("code", serrors.GetCode(err)),
		slog.String("error", err.Error()))
}

// removeMissing deletes files this adapter indexed before but no longer
// enumerates. Only paths under the adapter's root are considered, so
// sources sharing a type do not remove each other's files. A path that is
// also under another same-type source's root is removed only once it is
// gone from disk; while it exists, that other source may still own it.
func (r *Runner) removeMissing(ctx context.Context, a source.Adapter, paths []string, p *pass) error {
	root := rootOf(a)
	if root == "" {
		return nil
	}
	states, err := r.store.ListSyncStates(ctx, a.SourceType())
	if err != nil {
		return r.storeFailure(ctx, "list sync states", err)
	}

	present := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		present[path] = struct{}{}
	}
	shared := r.sharedRoots(a)

	for _, st := range states {
		if _, ok := present[st.FilePath]; ok || !within(root, st.FilePath) {
			continue
		}
		if coveredBy(shared, st.FilePath) && exists(st.FilePath) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return serrors.Cancelled(err)
		}
		r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageRemoving, CurrentFile: st.FilePath})
		if err := r.store.DeleteFile(ctx, st.FilePath); err != nil {
			return r.storeFailure(ctx, "delete file", err)
		}
		p.sum.FilesRemoved++
		slog.Info("sync_file_removed",
			slog.String("source", a.Name()),
			slog.String("path", st.FilePath))
	}
	return nil
}

// sharedRoots returns the roots of the other registered sources of a's type
// that overlap a's root, either nested inside it or containing it.
func (r *Runner) sharedRoots(a source.Adapter) []string {
	root := rootOf(a)
	var out []string
	for _, name := range r.sources.Names() {
		other, ok := r.sources.Get(name)
		if !ok || name == a.Name() || other.SourceType() != a.SourceType() {
			continue
		}
		if o := rootOf(other); o != "" && (within(root, o) || within(o, root)) {
			out = append(out, o)
		}
	}
	return out
}

func coveredBy(roots []string, path string) bool {
	for _, root := range roots {
		if within(root, path) {
			return true
		}
	}
	return false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func rootOf(a source.Adapter) string {
	if ra, ok := a.(rooted); ok {
		return ra.Root()
	}
	return ""
}

// within reports whether path lies inside root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
