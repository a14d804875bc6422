package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Stats aggregates counts per source type plus store-wide totals.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	bySource := make(map[SourceType]*SourceStats)
	get := func(st SourceType) *SourceStats {
		if ss, ok := bySource[st]; ok {
			return ss
		}
		ss := &SourceStats{SourceType: st}
		bySource[st] = ss
		return ss
	}

	var fileRows []struct {
		SourceType string `db:"source_type"`
		Files      int    `db:"files"`
		Failed     int    `db:"failed"`
	}
	if err := s.reader.SelectContext(ctx, &fileRows, `
		SELECT source_type, COUNT(*) AS files,
		       SUM(CASE WHEN sync_status = 'failed' THEN 1 ELSE 0 END) AS failed
		FROM file_sync_state GROUP BY source_type`); err != nil {
		return nil, fmt.Errorf("stats files: %w", err)
	}
	for _, r := range fileRows {
		ss := get(SourceType(r.SourceType))
		ss.Files = r.Files
		ss.FailedFiles = r.Failed
	}

	var chunkRows []struct {
		SourceType string `db:"source_type"`
		Chunks     int    `db:"chunks"`
		Embedded   int    `db:"embedded"`
	}
	if err := s.reader.SelectContext(ctx, &chunkRows, `
		SELECT source_type, COUNT(*) AS chunks,
		       SUM(CASE WHEN embedding IS NOT NULL THEN 1 ELSE 0 END) AS embedded
		FROM chunks GROUP BY source_type`); err != nil {
		return nil, fmt.Errorf("stats chunks: %w", err)
	}
	for _, r := range chunkRows {
		ss := get(SourceType(r.SourceType))
		ss.Chunks = r.Chunks
		ss.EmbeddedChunks = r.Embedded
	}

	out := &Stats{DatabaseBytes: s.databaseBytes()}
	// known types first, in their fixed order, then anything else
	for _, st := range SourceTypes {
		if ss, ok := bySource[st]; ok {
			out.Sources = append(out.Sources, *ss)
			delete(bySource, st)
		}
	}
	for _, ss := range bySource {
		out.Sources = append(out.Sources, *ss)
	}
	for _, ss := range out.Sources {
		out.TotalChunks += ss.Chunks
		out.TotalFiles += ss.Files
		out.FailedFiles += ss.FailedFiles
		out.EmbeddedChunks += ss.EmbeddedChunks
	}

	n, err := s.CountCrossRefs(ctx)
	if err != nil {
		return nil, err
	}
	out.CrossRefs = n

	if out.LastSync, err = s.LastRun(ctx); err != nil {
		return nil, err
	}

	if v, err := s.GetMeta(ctx, MetaLastXrefRebuild); err == nil && v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			out.LastXrefRebuild = &t
		}
	}
	return out, nil
}

type syncRunRow struct {
	ID             string        `db:"run_id"`
	StartedAt      int64         `db:"started_at"`
	FinishedAt     sql.NullInt64 `db:"finished_at"`
	FilesScanned   int           `db:"files_scanned"`
	FilesUpdated   int           `db:"files_updated"`
	FilesUnchanged int           `db:"files_unchanged"`
	FilesFailed    int           `db:"files_failed"`
	FilesRemoved   int           `db:"files_removed"`
	ChunksWritten  int           `db:"chunks_written"`
	Status         string        `db:"status"`
}

// BeginRun records a sync pass as running.
func (s *SQLiteStore) BeginRun(ctx context.Context, run *SyncRun) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	run.Status = RunRunning
	_, err := s.writer.ExecContext(ctx,
		`INSERT INTO sync_runs (run_id, started_at, status) VALUES (?, ?, ?)`,
		run.ID, toMillis(run.StartedAt), string(run.Status))
	if err != nil {
		return txError("begin run", err)
	}
	return nil
}

// FinishRun stores the final counters of a sync pass.
func (s *SQLiteStore) FinishRun(ctx context.Context, run *SyncRun) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if run.FinishedAt == nil {
		t := s.now()
		run.FinishedAt = &t
	}
	_, err := s.writer.ExecContext(ctx, `
		UPDATE sync_runs SET finished_at = ?, files_scanned = ?, files_updated = ?,
			files_unchanged = ?, files_failed = ?, files_removed = ?, chunks_written = ?, status = ?
		WHERE run_id = ?`,
		nullMillis(run.FinishedAt), run.FilesScanned, run.FilesUpdated, run.FilesUnchanged,
		run.FilesFailed, run.FilesRemoved, run.ChunksWritten, string(run.Status), run.ID)
	if err != nil {
		return txError("finish run", err)
	}
	return nil
}

// LastRun returns the most recent sync pass, or nil.
func (s *SQLiteStore) LastRun(ctx context.Context) (*SyncRun, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var row syncRunRow
	err := s.reader.GetContext(ctx, &row, `
		SELECT run_id, started_at, finished_at, files_scanned, files_updated, files_unchanged,
		       files_failed, files_removed, chunks_written, status
		FROM sync_runs ORDER BY started_at DESC, rowid DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last run: %w", err)
	}
	return &SyncRun{
		ID:             row.ID,
		StartedAt:      fromMillis(row.StartedAt),
		FinishedAt:     fromNullMillis(row.FinishedAt),
		FilesScanned:   row.FilesScanned,
		FilesUpdated:   row.FilesUpdated,
		FilesUnchanged: row.FilesUnchanged,
		FilesFailed:    row.FilesFailed,
		FilesRemoved:   row.FilesRemoved,
		ChunksWritten:  row.ChunksWritten,
		Status:         RunStatus(row.Status),
	}, nil
}
