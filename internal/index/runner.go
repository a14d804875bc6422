// Package index runs sync passes: it walks every configured source, detects
// which files changed, and chunks, embeds and stores them one file at a time.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/strata/internal/chunk"
	"github.com/Aman-CERP/strata/internal/embed"
	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/source"
	"github.com/Aman-CERP/strata/internal/store"
	"github.com/Aman-CERP/strata/internal/ui"
)

// ErrLocked is returned when another process holds the writer lock.
var ErrLocked = serrors.ErrWriterBusy

// maxWorkers bounds parallel file preparation.
const maxWorkers = 8

// Store is the persistence surface a sync pass needs.
type Store interface {
	store.Writer
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// Locker is the process-wide writer lock.
type Locker interface {
	TryAcquire() error
	Release() error
}

// Dependencies are injected into NewRunner.
type Dependencies struct {
	// Store receives every write (required).
	Store Store

	// Sources resolves source names to adapters (required).
	Sources *source.Registry

	// Lock serialises writers across processes (required).
	Lock Locker

	// Chunker splits documents; defaults to chunk.New(chunk.Options{}).
	Chunker *chunk.Chunker

	// Embedder may be nil, in which case chunks are stored without vectors.
	Embedder embed.Embedder

	// Renderer receives progress; defaults to ui.NewNullRenderer().
	Renderer ui.Renderer

	// BatchSize bounds texts per EmbedBatch call.
	BatchSize int

	// Workers bounds files prepared in parallel.
	Workers int
}

// Runner executes sync passes. A Runner may be reused across passes but
// runs one pass at a time.
type Runner struct {
	store     Store
	sources   *source.Registry
	lock      Locker
	chunker   *chunk.Chunker
	embedder  embed.Embedder
	renderer  ui.Renderer
	batchSize int
	workers   int
	now       func() time.Time
}

// NewRunner validates deps and applies defaults.
func NewRunner(deps Dependencies) (*Runner, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Sources == nil {
		return nil, fmt.Errorf("source registry is required")
	}
	if deps.Lock == nil {
		return nil, fmt.Errorf("writer lock is required")
	}

	r := &Runner{
		store:     deps.Store,
		sources:   deps.Sources,
		lock:      deps.Lock,
		chunker:   deps.Chunker,
		embedder:  deps.Embedder,
		renderer:  deps.Renderer,
		batchSize: deps.BatchSize,
		workers:   deps.Workers,
		now:       time.Now,
	}
	if r.chunker == nil {
		r.chunker = chunk.New(chunk.Options{})
	}
	if r.renderer == nil {
		r.renderer = ui.NewNullRenderer()
	}
	if r.batchSize <= 0 {
		r.batchSize = embed.DefaultBatchSize
	}
	r.batchSize = min(r.batchSize, embed.MaxBatchSize)
	if r.workers <= 0 {
		r.workers = min(runtime.NumCPU(), maxWorkers)
	}
	return r, nil
}

// Options selects what a pass covers.
type Options struct {
	// Sources names the adapters to sync; empty or "all" means every one.
	Sources []string

	// Force re-processes files even when their fingerprint is unchanged.
	Force bool
}

// FileFailure is one file that could not be synced.
type FileFailure struct {
	Path   string
	Source string
	Err    error
}

// Summary reports a finished, failed or cancelled pass.
type Summary struct {
	RunID          string
	FilesScanned   int
	FilesUpdated   int
	FilesUnchanged int
	FilesFailed    int
	FilesRemoved   int
	ChunksWritten  int
	ChunksEmbedded int
	ChunksReused   int
	Warnings       int
	Failures       []FileFailure
	Duration       time.Duration
	Cancelled      bool
}

// pass is the mutable state of one Sync call.
type pass struct {
	opts      Options
	sum       *Summary
	model     string
	embedDown bool
	timing    ui.StageTimings
}

// Sync brings the store up to date with the selected sources.
//
// Each file is committed on its own, so a failure or cancellation never
// leaves a file half-written. Per-file read failures are recorded and the
// pass continues; store failures abort it. On cancellation the summary is
// returned alongside an error matching serrors.ErrCancelled, with every file
// finished so far still committed.
func (r *Runner) Sync(ctx context.Context, opts Options) (*Summary, error) {
	adapters, err := r.sources.Resolve(opts.Sources)
	if err != nil {
		return nil, err
	}
	if err := r.lock.TryAcquire(); err != nil {
		return nil, err
	}
	defer func() { _ = r.lock.Release() }()

	start := r.now()
	p := &pass{opts: opts, sum: &Summary{RunID: uuid.NewString()}}
	if embed.Usable(ctx, r.embedder) {
		p.model = r.embedder.ModelName()
	} else if r.embedder != nil {
		p.embedDown = true
		slog.Warn("sync_embedder_unavailable",
			slog.String("model", r.embedder.ModelName()))
	}

	run := &store.SyncRun{ID: p.sum.RunID, StartedAt: start, Status: store.RunRunning}
	if err := r.store.BeginRun(ctx, run); err != nil {
		return nil, r.storeFailure(ctx, "begin sync run", err)
	}

	slog.Info("sync_started",
		slog.String("run_id", run.ID),
		slog.Int("sources", len(adapters)),
		slog.Bool("force", opts.Force),
		slog.String("embedding_model", p.model))

	var runErr error
	for _, a := range adapters {
		if runErr = r.syncSource(ctx, a, p); runErr != nil {
			break
		}
	}
	if runErr == nil && p.model != "" {
		r.recordEmbeddingMeta(ctx)
	}

	p.sum.Duration = r.now().Sub(start)
	p.sum.Cancelled = serrors.IsCancelled(runErr)
	r.finishRun(ctx, run, p, runErr)
	return p.sum, runErr
}

// finishRun records the outcome. It writes even after cancellation so
// the run row never stays "running".
func (r *Runner) finishRun(ctx context.Context, run *store.SyncRun, p *pass, runErr error) {
	sum := p.sum
	finished := run.StartedAt.Add(sum.Duration)
	run.FinishedAt = &finished
	run.FilesScanned = sum.FilesScanned
	run.FilesUpdated = sum.FilesUpdated
	run.FilesUnchanged = sum.FilesUnchanged
	run.FilesFailed = sum.FilesFailed
	run.FilesRemoved = sum.FilesRemoved
	run.ChunksWritten = sum.ChunksWritten

	switch {
	case sum.Cancelled:
		run.Status = store.RunCancelled
	case runErr != nil:
		run.Status = store.RunFailed
	case sum.FilesFailed > 0:
		run.Status = store.RunPartial
	default:
		run.Status = store.RunOK
	}

	if err := r.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		slog.Warn("sync_run_record_failed",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()))
	}

	dims := 0
	if r.embedder != nil {
		dims = r.embedder.Dimensions()
	}
	r.renderer.Complete(ui.CompletionStats{
		Scanned:   sum.FilesScanned,
		Updated:   sum.FilesUpdated,
		Unchanged: sum.FilesUnchanged,
		Removed:   sum.FilesRemoved,
		Chunks:    sum.ChunksWritten,
		Duration:  sum.Duration,
		Errors:    sum.FilesFailed,
		Warnings:  sum.Warnings,
		Cancelled: sum.Cancelled,
		Stages:    p.timing,
		Embedder:  ui.EmbedderInfo{Model: p.model, Dimensions: dims},
	})

	attrs := []any{
		slog.String("run_id", run.ID),
		slog.String("status", string(run.Status)),
		slog.Int("scanned", sum.FilesScanned),
		slog.Int("updated", sum.FilesUpdated),
		slog.Int("unchanged", sum.FilesUnchanged),
		slog.Int("failed", sum.FilesFailed),
		slog.Int("removed", sum.FilesRemoved),
		slog.Int("chunks", sum.ChunksWritten),
		slog.Int("chunks_embedded", sum.ChunksEmbedded),
		slog.Int("chunks_reused", sum.ChunksReused),
		slog.Int64("duration_ms", sum.Duration.Milliseconds()),
		slog.Int64("duration_scan_ms", p.timing.Scan.Milliseconds()),
		slog.Int64("duration_read_ms", p.timing.Read.Milliseconds()),
		slog.Int64("duration_embed_ms", p.timing.Embed.Milliseconds()),
		slog.Int64("duration_write_ms", p.timing.Write.Milliseconds()),
	}
	if runErr != nil && !sum.Cancelled {
		attrs = append(attrs, slog.String("error", runErr.Error()))
	}
	slog.Info("sync_complete", attrs...)
}

// recordEmbeddingMeta stores the vector shape the query engine checks
// query embeddings against.
func (r *Runner) recordEmbeddingMeta(ctx context.Context) {
	dims := r.embedder.Dimensions()
	if dims <= 0 {
		return
	}
	model := r.embedder.ModelName()
	prev, err := r.store.GetMeta(ctx, store.MetaEmbeddingDimension)
	if err == nil && prev != "" && prev != fmt.Sprint(dims) {
		slog.Warn("sync_embedding_dimension_changed",
			slog.String("previous", prev),
			slog.Int("current", dims),
			slog.String("suggestion", "run sync --force to re-embed unchanged files"))
	}
	if err := r.store.SetMeta(ctx, store.MetaEmbeddingDimension, fmt.Sprint(dims)); err != nil {
		slog.Warn("sync_meta_update_failed", slog.String("error", err.Error()))
	}
	if err := r.store.SetMeta(ctx, store.MetaEmbeddingModel, model); err != nil {
		slog.Warn("sync_meta_update_failed", slog.String("error", err.Error()))
	}
}

// storeFailure classifies a store error: cancellation stays cancellation,
// anything else aborts the pass.
func (r *Runner) storeFailure(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil || serrors.IsCancelled(err) {
		return serrors.Cancelled(err)
	}
	if serrors.GetCode(err) != "" {
		return err
	}
	return serrors.New(serrors.ErrCodeStoreTx, op, err)
}
