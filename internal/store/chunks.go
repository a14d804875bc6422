package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const chunkColumns = `id, source_type, file_path, seq, file_hash, content, content_hash,
	embedding, embedding_model, title, author, timestamp, tags, metadata,
	created_at, modified_at, access_count, last_accessed`

// chunkRow is the scan target for chunkColumns.
type chunkRow struct {
	ID             int64         `db:"id"`
	SourceType     string        `db:"source_type"`
	FilePath       string        `db:"file_path"`
	Seq            int           `db:"seq"`
	FileHash       string        `db:"file_hash"`
	Content        string        `db:"content"`
	ContentHash    string        `db:"content_hash"`
	Embedding      []byte        `db:"embedding"`
	EmbeddingModel string        `db:"embedding_model"`
	Title          string        `db:"title"`
	Author         string        `db:"author"`
	Timestamp      sql.NullInt64 `db:"timestamp"`
	Tags           string        `db:"tags"`
	Metadata       string        `db:"metadata"`
	CreatedAt      int64         `db:"created_at"`
	ModifiedAt     int64         `db:"modified_at"`
	AccessCount    int64         `db:"access_count"`
	LastAccessed   sql.NullInt64 `db:"last_accessed"`
}

func (r *chunkRow) toChunk() (*Chunk, error) {
	vec, err := DecodeVector(r.Embedding)
	if err != nil {
		return nil, fmt.Errorf("chunk %d: %w", r.ID, err)
	}
	c := &Chunk{
		ID:             r.ID,
		SourceType:     SourceType(r.SourceType),
		FilePath:       r.FilePath,
		Seq:            r.Seq,
		FileHash:       r.FileHash,
		Content:        r.Content,
		ContentHash:    r.ContentHash,
		Embedding:      vec,
		EmbeddingModel: r.EmbeddingModel,
		Title:          r.Title,
		Author:         r.Author,
		Timestamp:      fromNullMillis(r.Timestamp),
		CreatedAt:      fromMillis(r.CreatedAt),
		ModifiedAt:     fromMillis(r.ModifiedAt),
		AccessCount:    r.AccessCount,
		LastAccessed:   fromNullMillis(r.LastAccessed),
	}
	// tags and metadata are best-effort decoration
	_ = json.Unmarshal([]byte(r.Tags), &c.Tags)
	_ = json.Unmarshal([]byte(r.Metadata), &c.Metadata)
	return c, nil
}

type syncStateRow struct {
	FilePath     string `db:"file_path"`
	SourceType   string `db:"source_type"`
	FileHash     string `db:"file_hash"`
	ModifiedTime int64  `db:"modified_time"`
	ChunksCount  int    `db:"chunks_count"`
	LastSyncTime int64  `db:"last_sync_time"`
	Status       string `db:"sync_status"`
	Error        string `db:"error"`
}

func (r *syncStateRow) toState() *FileSyncState {
	return &FileSyncState{
		FilePath:     r.FilePath,
		SourceType:   SourceType(r.SourceType),
		FileHash:     r.FileHash,
		ModifiedTime: fromMillis(r.ModifiedTime),
		ChunksCount:  r.ChunksCount,
		LastSyncTime: fromMillis(r.LastSyncTime),
		Status:       SyncStatus(r.Status),
		Error:        r.Error,
	}
}

const syncStateColumns = `file_path, source_type, file_hash, modified_time, chunks_count,
	last_sync_time, sync_status, error`

// UpsertChunks replaces every chunk of state.FilePath in one transaction.
// On any error nothing changes. New rows get fresh ids; ids are never reused.
func (s *SQLiteStore) UpsertChunks(ctx context.Context, state *FileSyncState, chunks []*Chunk) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if state == nil || state.FilePath == "" {
		return fmt.Errorf("upsert chunks: missing file path")
	}

	tx, err := s.writer.BeginTxx(ctx, nil)
	if err != nil {
		return txError("begin upsert", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, state.FilePath); err != nil {
		return txError("delete old chunks", err)
	}

	insertChunk, err := tx.PreparexContext(ctx, `
		INSERT INTO chunks (source_type, file_path, seq, file_hash, content, content_hash,
			embedding, embedding_model, title, author, timestamp, tags, metadata,
			created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return txError("prepare chunk insert", err)
	}
	defer func() { _ = insertChunk.Close() }()

	insertTerms, err := tx.PreparexContext(ctx, `INSERT INTO chunks_fts (rowid, terms) VALUES (?, ?)`)
	if err != nil {
		return txError("prepare fts insert", err)
	}
	defer func() { _ = insertTerms.Close() }()

	now := s.now()
	modified := state.ModifiedTime
	if modified.IsZero() {
		modified = now
	}

	for i, c := range chunks {
		blob, err := EncodeVector(c.Embedding)
		if err != nil {
			return fmt.Errorf("chunk %d of %s: %w", i, state.FilePath, err)
		}
		tags, _ := json.Marshal(nonNilTags(c.Tags))
		meta, _ := json.Marshal(nonNilMeta(c.Metadata))

		res, err := insertChunk.ExecContext(ctx,
			string(state.SourceType), state.FilePath, i, state.FileHash, c.Content, c.ContentHash,
			blob, c.EmbeddingModel, c.Title, c.Author, nullMillis(c.Timestamp), string(tags), string(meta),
			toMillis(now), toMillis(modified))
		if err != nil {
			return txError("insert chunk", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return txError("read chunk id", err)
		}
		if _, err := insertTerms.ExecContext(ctx, id, searchTerms(c)); err != nil {
			return txError("index chunk terms", err)
		}

		c.ID = id
		c.Seq = i
		c.SourceType = state.SourceType
		c.FilePath = state.FilePath
		c.FileHash = state.FileHash
		c.CreatedAt = now
		c.ModifiedAt = modified
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO file_sync_state (`+syncStateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, 'ok', '')
		ON CONFLICT(file_path) DO UPDATE SET
			source_type = excluded.source_type,
			file_hash = excluded.file_hash,
			modified_time = excluded.modified_time,
			chunks_count = excluded.chunks_count,
			last_sync_time = excluded.last_sync_time,
			sync_status = 'ok',
			error = ''`,
		state.FilePath, string(state.SourceType), state.FileHash, toMillis(modified),
		len(chunks), toMillis(now)); err != nil {
		return txError("upsert sync state", err)
	}

	if err := tx.Commit(); err != nil {
		return txError("commit upsert", err)
	}

	state.ChunksCount = len(chunks)
	state.LastSyncTime = now
	state.ModifiedTime = modified
	state.Status = SyncOK
	state.Error = ""
	return nil
}

// MarkFailed records a failed pass. Existing chunks and the last good
// file_hash are kept, so a failure never drops already indexed content.
func (s *SQLiteStore) MarkFailed(ctx context.Context, state *FileSyncState) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO file_sync_state (`+syncStateColumns+`)
		VALUES (?, ?, ?, ?, 0, ?, 'failed', ?)
		ON CONFLICT(file_path) DO UPDATE SET
			last_sync_time = excluded.last_sync_time,
			sync_status = 'failed',
			error = excluded.error`,
		state.FilePath, string(state.SourceType), state.FileHash, toMillis(state.ModifiedTime),
		toMillis(s.now()), state.Error)
	if err != nil {
		return txError("mark failed", err)
	}
	state.Status = SyncFailed
	return nil
}

// TouchFile updates modification times in place for an unchanged file.
func (s *SQLiteStore) TouchFile(ctx context.Context, path string, mtime time.Time) error {
	if s.closed.Load() {
		return ErrClosed
	}
	tx, err := s.writer.BeginTxx(ctx, nil)
	if err != nil {
		return txError("begin touch", err)
	}
	defer func() { _ = tx.Rollback() }()

	ms := toMillis(mtime)
	if _, err := tx.ExecContext(ctx, `UPDATE chunks SET modified_at = ? WHERE file_path = ?`, ms, path); err != nil {
		return txError("touch chunks", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE file_sync_state SET modified_time = ?, last_sync_time = ? WHERE file_path = ?`,
		ms, toMillis(s.now()), path); err != nil {
		return txError("touch sync state", err)
	}
	return txError("commit touch", tx.Commit())
}

// DeleteFile removes a file's chunks (and, by cascade, their edges) and its
// sync state.
func (s *SQLiteStore) DeleteFile(ctx context.Context, path string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	tx, err := s.writer.BeginTxx(ctx, nil)
	if err != nil {
		return txError("begin delete", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_path = ?`, path); err != nil {
		return txError("delete chunks", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_sync_state WHERE file_path = ?`, path); err != nil {
		return txError("delete sync state", err)
	}
	return txError("commit delete", tx.Commit())
}

// GetSyncState returns nil, nil when the file has never been synced.
func (s *SQLiteStore) GetSyncState(ctx context.Context, path string) (*FileSyncState, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var row syncStateRow
	err := s.reader.GetContext(ctx, &row,
		`SELECT `+syncStateColumns+` FROM file_sync_state WHERE file_path = ?`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	return row.toState(), nil
}

// ListSyncStates lists states for one source type, or all when empty,
// ordered by path.
func (s *SQLiteStore) ListSyncStates(ctx context.Context, sourceType SourceType) ([]*FileSyncState, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	query := `SELECT ` + syncStateColumns + ` FROM file_sync_state`
	var args []any
	if sourceType != "" {
		query += ` WHERE source_type = ?`
		args = append(args, string(sourceType))
	}
	query += ` ORDER BY file_path`

	var rows []syncStateRow
	if err := s.reader.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list sync states: %w", err)
	}
	out := make([]*FileSyncState, len(rows))
	for i := range rows {
		out[i] = rows[i].toState()
	}
	return out, nil
}

// EmbeddingsByContentHash maps content hash to vector for a file's chunks
// embedded with model.
func (s *SQLiteStore) EmbeddingsByContentHash(ctx context.Context, path, model string) (map[string][]float32, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.reader.QueryxContext(ctx, `
		SELECT content_hash, embedding FROM chunks
		WHERE file_path = ? AND embedding IS NOT NULL AND embedding_model = ?`, path, model)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]float32)
	for rows.Next() {
		var (
			contentHash string
			blob        []byte
		)
		if err := rows.Scan(&contentHash, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			continue
		}
		out[contentHash] = vec
	}
	return out, rows.Err()
}

// GetChunks loads chunks by id. Missing ids are skipped; order follows id.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []int64) ([]*Chunk, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+chunkColumns+` FROM chunks WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	return s.selectChunks(ctx, query, args...)
}

// RecordAccess bumps access_count and last_accessed for ids.
func (s *SQLiteStore) RecordAccess(ctx context.Context, ids []int64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(
		`UPDATE chunks SET access_count = access_count + 1, last_accessed = ? WHERE id IN (?)`,
		toMillis(s.now()), ids)
	if err != nil {
		return err
	}
	if _, err := s.writer.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("record access: %w", err)
	}
	return nil
}

// Recent returns the first chunk of the most recently modified files.
func (s *SQLiteStore) Recent(ctx context.Context, filter Filter, limit int) ([]*Chunk, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 10
	}
	where, args := filter.clause("source_type")
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE seq = 0` + where +
		` ORDER BY modified_at DESC, file_path ASC LIMIT ?`
	args = append(args, limit)
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	return s.selectChunks(ctx, query, args...)
}

func (s *SQLiteStore) selectChunks(ctx context.Context, query string, args ...any) ([]*Chunk, error) {
	var rows []chunkRow
	if err := s.reader.SelectContext(ctx, &rows, s.reader.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select chunks: %w", err)
	}
	out := make([]*Chunk, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toChunk()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// clause renders " AND <column> IN (?)" with a slice arg for sqlx.In, or
// nothing when the filter is empty.
func (f Filter) clause(column string) (string, []any) {
	if len(f.SourceTypes) == 0 {
		return "", nil
	}
	names := make([]string, len(f.SourceTypes))
	for i, st := range f.SourceTypes {
		names[i] = string(st)
	}
	return " AND " + column + " IN (?)", []any{names}
}

// Includes reports whether st passes the filter.
func (f Filter) Includes(st SourceType) bool {
	if len(f.SourceTypes) == 0 {
		return true
	}
	for _, t := range f.SourceTypes {
		if t == st {
			return true
		}
	}
	return false
}

// searchTerms is what the full-text index sees for a chunk.
func searchTerms(c *Chunk) string {
	var parts []string
	parts = append(parts, c.Content)
	if c.Title != "" {
		parts = append(parts, c.Title)
	}
	if c.Author != "" {
		parts = append(parts, c.Author)
	}
	parts = append(parts, c.Tags...)
	return strings.Join(Tokenize(strings.Join(parts, "\n")), " ")
}

func nonNilTags(t []string) []string {
	if t == nil {
		return []string{}
	}
	return t
}

func nonNilMeta(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
