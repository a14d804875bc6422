package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PutCrossRefs replaces the edges within scope by edges, all or nothing.
func (s *SQLiteStore) PutCrossRefs(ctx context.Context, scope Filter, edges []CrossRef) error {
	if s.closed.Load() {
		return ErrClosed
	}
	for _, e := range edges {
		if err := e.validate(); err != nil {
			return err
		}
	}

	tx, err := s.writer.BeginTxx(ctx, nil)
	if err != nil {
		return txError("begin cross-ref replace", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(scope.SourceTypes) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cross_refs`); err != nil {
			return txError("clear cross-refs", err)
		}
	} else {
		_, names := scope.clause("")
		query, args, err := sqlx.In(`
			DELETE FROM cross_refs
			WHERE source_chunk_id IN (SELECT id FROM chunks WHERE source_type IN (?))
			  AND target_chunk_id IN (SELECT id FROM chunks WHERE source_type IN (?))`,
			names[0], names[0])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return txError("clear scoped cross-refs", err)
		}
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO cross_refs (source_chunk_id, target_chunk_id, ref_type, strength)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_chunk_id, target_chunk_id, ref_type) DO UPDATE SET strength = excluded.strength`)
	if err != nil {
		return txError("prepare cross-ref insert", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, e := range edges {
		// cancellation between inserts aborts the whole replace
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return txError("cross-ref replace", err)
			}
		}
		if _, err := stmt.ExecContext(ctx, e.SourceChunkID, e.TargetChunkID, string(e.RefType), e.Strength); err != nil {
			return txError("insert cross-ref", err)
		}
	}

	return txError("commit cross-refs", tx.Commit())
}

func (e CrossRef) validate() error {
	if e.SourceChunkID == e.TargetChunkID {
		return fmt.Errorf("cross-ref %d -> %d: self reference", e.SourceChunkID, e.TargetChunkID)
	}
	if e.Strength < 0 || e.Strength > 1 {
		return fmt.Errorf("cross-ref %d -> %d: strength %v outside [0,1]", e.SourceChunkID, e.TargetChunkID, e.Strength)
	}
	switch e.RefType {
	case RefRelated, RefCites, RefParent, RefChild:
		return nil
	default:
		return fmt.Errorf("cross-ref %d -> %d: unknown type %q", e.SourceChunkID, e.TargetChunkID, e.RefType)
	}
}

// CrossRefsAmong returns the edges whose endpoints are both in ids.
func (s *SQLiteStore) CrossRefsAmong(ctx context.Context, ids []int64) ([]CrossRef, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if len(ids) < 2 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT source_chunk_id, target_chunk_id, ref_type, strength FROM cross_refs
		WHERE source_chunk_id IN (?) AND target_chunk_id IN (?)
		ORDER BY source_chunk_id, target_chunk_id, ref_type`, ids, ids)
	if err != nil {
		return nil, err
	}
	return s.selectCrossRefs(ctx, query, args...)
}

// CrossRefsFrom returns the strongest outgoing edges of one chunk.
func (s *SQLiteStore) CrossRefsFrom(ctx context.Context, id int64, limit int) ([]CrossRef, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 10
	}
	return s.selectCrossRefs(ctx, `
		SELECT source_chunk_id, target_chunk_id, ref_type, strength FROM cross_refs
		WHERE source_chunk_id = ?
		ORDER BY strength DESC, target_chunk_id ASC
		LIMIT ?`, id, limit)
}

// CountCrossRefs returns the number of stored edges.
func (s *SQLiteStore) CountCrossRefs(ctx context.Context) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var n int
	if err := s.reader.GetContext(ctx, &n, `SELECT COUNT(*) FROM cross_refs`); err != nil {
		return 0, fmt.Errorf("count cross-refs: %w", err)
	}
	return n, nil
}

// CountEmbedded counts chunks carrying a vector, per source type, within
// filter.
func (s *SQLiteStore) CountEmbedded(ctx context.Context, filter Filter) (map[SourceType]int, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	where, args := filter.clause("source_type")
	query, args, err := sqlx.In(`SELECT source_type, COUNT(*) AS n FROM chunks
		WHERE embedding IS NOT NULL`+where+` GROUP BY source_type`, args...)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		SourceType string `db:"source_type"`
		N          int    `db:"n"`
	}
	if err := s.reader.SelectContext(ctx, &rows, s.reader.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("count embedded chunks: %w", err)
	}
	counts := make(map[SourceType]int, len(rows))
	for _, r := range rows {
		counts[SourceType(r.SourceType)] = r.N
	}
	return counts, nil
}

func (s *SQLiteStore) selectCrossRefs(ctx context.Context, query string, args ...any) ([]CrossRef, error) {
	rows, err := s.reader.QueryxContext(ctx, s.reader.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select cross-refs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []CrossRef
	for rows.Next() {
		var (
			e  CrossRef
			rt string
		)
		if err := rows.Scan(&e.SourceChunkID, &e.TargetChunkID, &rt, &e.Strength); err != nil {
			return nil, fmt.Errorf("scan cross-ref: %w", err)
		}
		e.RefType = RefType(rt)
		out = append(out, e)
	}
	return out, rows.Err()
}
