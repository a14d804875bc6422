package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go driver, registers "sqlite"

	serrors "github.com/Aman-CERP/strata/internal/errors"
)

// SchemaVersion is bumped whenever the schema changes incompatibly.
const SchemaVersion = 1

// DefaultReadConns sizes the read-only pool.
const DefaultReadConns = 4

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// SQLiteStore implements Store on one SQLite file.
type SQLiteStore struct {
	path   string
	writer *sqlx.DB
	reader *sqlx.DB
	closed atomic.Bool
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	readConns int
	now       func() time.Time
}

// WithReadConns sizes the read-only connection pool.
func WithReadConns(n int) Option {
	return func(o *openOptions) {
		if n > 0 {
			o.readConns = n
		}
	}
}

// WithClock overrides time.Now, for tests that assert on timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *openOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// Open opens or creates the database at path. A database that fails its
// integrity check is moved aside and replaced by an empty one; everything in
// it is derived from the source corpora, so a resync restores it.
func Open(path string, opts ...Option) (*SQLiteStore, error) {
	o := openOptions{readConns: DefaultReadConns, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, serrors.New(serrors.ErrCodeStoreOpen, "cannot create data directory", err).
			WithDetail("path", path)
	}

	if err := checkIntegrity(path); err != nil {
		slog.Warn("store_corrupted",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if mvErr := quarantine(path); mvErr != nil {
			return nil, serrors.New(serrors.ErrCodeCorruptIndex, "index is corrupted and cannot be moved aside", mvErr).
				WithDetail("path", path).
				WithSuggestion("delete the index file and run sync again")
		}
		slog.Info("store_quarantined", slog.String("path", path), slog.String("moved_to", path+".corrupt"))
	}

	writer, err := sqlx.Open("sqlite", dsn(path, false))
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeStoreOpen, "failed to open database", err)
	}
	// one writer connection: SQLite allows a single writer, and serialising
	// in-process avoids busy retries between our own goroutines
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(0)

	s := &SQLiteStore{path: path, writer: writer, now: o.now}
	if err := s.migrate(context.Background()); err != nil {
		_ = writer.Close()
		return nil, serrors.New(serrors.ErrCodeStoreOpen, "failed to initialise schema", err)
	}

	reader, err := sqlx.Open("sqlite", dsn(path, true))
	if err != nil {
		_ = writer.Close()
		return nil, serrors.New(serrors.ErrCodeStoreOpen, "failed to open read pool", err)
	}
	reader.SetMaxOpenConns(o.readConns)
	reader.SetMaxIdleConns(o.readConns)
	s.reader = reader

	return s, nil
}

// dsn builds a modernc DSN. _pragma values are applied on every new
// connection, so pooled connections all get the same settings.
func dsn(path string, readOnly bool) string {
	v := url.Values{}
	v.Add("_pragma", "busy_timeout(5000)")
	v.Add("_pragma", "foreign_keys(1)")
	v.Add("_pragma", "synchronous(NORMAL)")
	v.Add("_pragma", "cache_size(-65536)")
	v.Add("_pragma", "temp_store(MEMORY)")
	if readOnly {
		v.Add("_pragma", "query_only(1)")
	} else {
		v.Add("_pragma", "journal_mode(WAL)")
		v.Set("_txlock", "immediate")
	}
	return path + "?" + v.Encode()
}

// checkIntegrity runs a quick check on an existing database file.
func checkIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?_pragma=query_only(1)")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

func quarantine(path string) error {
	if err := os.Rename(path, path+".corrupt"); err != nil && !os.IsNotExist(err) {
		return err
	}
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	source_type     TEXT    NOT NULL,
	file_path       TEXT    NOT NULL,
	seq             INTEGER NOT NULL,
	file_hash       TEXT    NOT NULL,
	content         TEXT    NOT NULL,
	content_hash    TEXT    NOT NULL,
	embedding       BLOB,
	embedding_model TEXT    NOT NULL DEFAULT '',
	title           TEXT    NOT NULL DEFAULT '',
	author          TEXT    NOT NULL DEFAULT '',
	timestamp       INTEGER,
	tags            TEXT    NOT NULL DEFAULT '[]',
	metadata        TEXT    NOT NULL DEFAULT '{}',
	created_at      INTEGER NOT NULL,
	modified_at     INTEGER NOT NULL,
	access_count    INTEGER NOT NULL DEFAULT 0,
	last_accessed   INTEGER,
	UNIQUE (source_type, file_path, seq)
);
CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_path);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_type, id);
CREATE INDEX IF NOT EXISTS idx_chunks_modified ON chunks(modified_at DESC, file_path);

-- rowid mirrors chunks.id; terms holds pre-tokenised text
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	terms,
	tokenize = 'unicode61'
);

CREATE TRIGGER IF NOT EXISTS chunks_fts_delete AFTER DELETE ON chunks BEGIN
	DELETE FROM chunks_fts WHERE rowid = old.id;
END;

CREATE TABLE IF NOT EXISTS file_sync_state (
	file_path      TEXT PRIMARY KEY,
	source_type    TEXT    NOT NULL,
	file_hash      TEXT    NOT NULL DEFAULT '',
	modified_time  INTEGER NOT NULL DEFAULT 0,
	chunks_count   INTEGER NOT NULL DEFAULT 0,
	last_sync_time INTEGER NOT NULL,
	sync_status    TEXT    NOT NULL CHECK (sync_status IN ('ok', 'failed', 'pending')),
	error          TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sync_state_source ON file_sync_state(source_type);

CREATE TABLE IF NOT EXISTS cross_refs (
	source_chunk_id INTEGER NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
	target_chunk_id INTEGER NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
	ref_type        TEXT    NOT NULL CHECK (ref_type IN ('related', 'cites', 'parent', 'child')),
	strength        REAL    NOT NULL CHECK (strength >= 0 AND strength <= 1),
	PRIMARY KEY (source_chunk_id, target_chunk_id, ref_type),
	CHECK (source_chunk_id <> target_chunk_id)
);
CREATE INDEX IF NOT EXISTS idx_cross_refs_target ON cross_refs(target_chunk_id);

CREATE TABLE IF NOT EXISTS sync_runs (
	run_id          TEXT PRIMARY KEY,
	started_at      INTEGER NOT NULL,
	finished_at     INTEGER,
	files_scanned   INTEGER NOT NULL DEFAULT 0,
	files_updated   INTEGER NOT NULL DEFAULT 0,
	files_unchanged INTEGER NOT NULL DEFAULT 0,
	files_failed    INTEGER NOT NULL DEFAULT 0,
	files_removed   INTEGER NOT NULL DEFAULT 0,
	chunks_written  INTEGER NOT NULL DEFAULT 0,
	status          TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at DESC);
`

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.writer.ExecContext(ctx, schema); err != nil {
		return err
	}

	current, err := s.getMeta(ctx, s.writer, MetaSchemaVersion)
	if err != nil {
		return err
	}
	if current != "" {
		v, err := strconv.Atoi(current)
		if err != nil {
			return fmt.Errorf("invalid schema version %q: %w", current, err)
		}
		if v > SchemaVersion {
			return fmt.Errorf("index schema version %d is newer than supported %d", v, SchemaVersion)
		}
	}
	return s.setMeta(ctx, s.writer, MetaSchemaVersion, strconv.Itoa(SchemaVersion))
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// GetMeta returns the value for key, or "" when unset.
func (s *SQLiteStore) GetMeta(ctx context.Context, key string) (string, error) {
	if s.closed.Load() {
		return "", ErrClosed
	}
	return s.getMeta(ctx, s.reader, key)
}

// SetMeta upserts key.
func (s *SQLiteStore) SetMeta(ctx context.Context, key, value string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.setMeta(ctx, s.writer, key, value)
}

func (s *SQLiteStore) getMeta(ctx context.Context, q sqlx.QueryerContext, key string) (string, error) {
	var value string
	err := sqlx.GetContext(ctx, q, &value, `SELECT value FROM meta WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) setMeta(ctx context.Context, e sqlx.ExecerContext, key, value string) error {
	_, err := e.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// Vacuum checkpoints the WAL, merges FTS segments and rebuilds the file.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	steps := []string{
		`INSERT INTO chunks_fts(chunks_fts) VALUES ('optimize')`,
		`PRAGMA wal_checkpoint(TRUNCATE)`,
		`VACUUM`,
		`PRAGMA optimize`,
	}
	for _, stmt := range steps {
		if _, err := s.writer.ExecContext(ctx, stmt); err != nil {
			return serrors.New(serrors.ErrCodeStoreTx, "vacuum failed", err).WithDetail("step", stmt)
		}
	}
	return nil
}

// Close checkpoints the WAL and closes both pools. It is idempotent.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if s.reader != nil {
		errs = append(errs, s.reader.Close())
	}
	_, _ = s.writer.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	errs = append(errs, s.writer.Close())
	return errors.Join(errs...)
}

// databaseBytes sums the main file and its WAL.
func (s *SQLiteStore) databaseBytes() int64 {
	var total int64
	for _, p := range []string{s.path, s.path + "-wal"} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

// txError tags a failed write so callers can tell it from per-file errors.
func txError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return serrors.Cancelled(err)
	}
	return serrors.New(serrors.ErrCodeStoreTx, op+" failed", err)
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64)
	return &t
}
