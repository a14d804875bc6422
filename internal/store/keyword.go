package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// KeywordSearch ranks chunks against query with FTS5's bm25(). Scores are
// negated so that higher means more relevant. An empty or unsearchable query
// returns no hits and no error.
func (s *SQLiteStore) KeywordSearch(ctx context.Context, query string, filter Filter, limit int) ([]*KeywordHit, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return []*KeywordHit{}, nil
	}
	match, _ := MatchExpression(query)
	if match == "" {
		return []*KeywordHit{}, nil
	}

	where, args := filter.clause("c.source_type")
	sqlText := `
		SELECT ` + prefixed("c.", chunkColumns) + `, bm25(chunks_fts) AS score
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.rowid
		WHERE chunks_fts MATCH ?` + where + `
		ORDER BY score ASC, c.id ASC
		LIMIT ?`
	args = append([]any{match}, args...)
	args = append(args, limit)

	sqlText, args, err := sqlx.In(sqlText, args...)
	if err != nil {
		return nil, err
	}

	type hitRow struct {
		chunkRow
		Score float64 `db:"score"`
	}
	var rows []hitRow
	if err := s.reader.SelectContext(ctx, &rows, s.reader.Rebind(sqlText), args...); err != nil {
		// malformed MATCH input is a user error, not a store failure
		if strings.Contains(err.Error(), "fts5:") {
			return []*KeywordHit{}, nil
		}
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	hits := make([]*KeywordHit, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toChunk()
		if err != nil {
			return nil, err
		}
		hits = append(hits, &KeywordHit{Chunk: c, Score: -rows[i].Score})
	}
	return hits, nil
}

// prefixed qualifies every column in a comma list.
func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
