package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DefaultBatchSize is the page size of ChunkIterator.
const DefaultBatchSize = 512

// ChunkIterator walks every embedded chunk in id order, one page at a time,
// so vectors for the whole corpus are never resident at once. It is finite
// and can be restarted with Reset.
//
//	it := s.ChunksWithEmbeddings(filter, 0)
//	for it.Next(ctx) {
//		c := it.Chunk()
//	}
//	if err := it.Err(); err != nil { ... }
type ChunkIterator struct {
	store     *SQLiteStore
	filter    Filter
	batchSize int

	page   []EmbeddedChunk
	pos    int
	lastID int64
	done   bool
	err    error
}

// ChunksWithEmbeddings returns an iterator over chunks that carry a vector,
// restricted by filter.
func (s *SQLiteStore) ChunksWithEmbeddings(filter Filter, batchSize int) *ChunkIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &ChunkIterator{store: s, filter: filter, batchSize: batchSize}
}

// Next advances to the next chunk, fetching a page when needed.
func (it *ChunkIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	it.pos++
	if it.pos < len(it.page) {
		return true
	}
	if it.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		it.err = err
		return false
	}
	if err := it.fetch(ctx); err != nil {
		it.err = err
		return false
	}
	it.pos = 0
	return len(it.page) > 0
}

// Chunk returns the current chunk. Valid only after Next returned true.
func (it *ChunkIterator) Chunk() EmbeddedChunk {
	return it.page[it.pos]
}

// Err returns the error that stopped iteration, if any.
func (it *ChunkIterator) Err() error {
	return it.err
}

// Reset rewinds to the first chunk.
func (it *ChunkIterator) Reset() {
	it.page = nil
	it.pos = 0
	it.lastID = 0
	it.done = false
	it.err = nil
}

// SeekAfter rewinds so the next chunk returned is the first with an id greater
// than afterID.
func (it *ChunkIterator) SeekAfter(afterID int64) {
	it.Reset()
	it.lastID = afterID
}

func (it *ChunkIterator) fetch(ctx context.Context) error {
	s := it.store
	if s.closed.Load() {
		return ErrClosed
	}

	where, args := it.filter.clause("source_type")
	query := `SELECT id, source_type, file_path, embedding FROM chunks
		WHERE embedding IS NOT NULL AND id > ?` + where + `
		ORDER BY id LIMIT ?`
	args = append([]any{it.lastID}, args...)
	args = append(args, it.batchSize)

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return err
	}
	rows, err := s.reader.QueryxContext(ctx, s.reader.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("iterate embedded chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	page := it.page[:0]
	for rows.Next() {
		var (
			c    EmbeddedChunk
			st   string
			blob []byte
		)
		if err := rows.Scan(&c.ID, &st, &c.FilePath, &blob); err != nil {
			return fmt.Errorf("scan embedded chunk: %w", err)
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", c.ID, err)
		}
		c.SourceType = SourceType(st)
		c.Vector = vec
		page = append(page, c)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	it.page = page
	if len(page) > 0 {
		it.lastID = page[len(page)-1].ID
	}
	if len(page) < it.batchSize {
		it.done = true
	}
	return nil
}
