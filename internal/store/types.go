// Package store persists chunks, their vectors, a full-text index, per-file
// sync state and cross-references in a single SQLite database file.
//
// The store is the only component that mutates persistent state. It keeps a
// single writer connection and a pool of read-only connections over WAL, so
// queries see either the state before a write or after its commit.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Aman-CERP/strata/internal/hash"
)

// SourceType tags the corpus a chunk came from.
type SourceType string

const (
	SourceArchive SourceType = "archive"
	SourceStream  SourceType = "stream"
	SourceNote    SourceType = "note"
	SourceCode    SourceType = "code"
)

// SourceTypes lists every known corpus tag in display order.
var SourceTypes = []SourceType{SourceArchive, SourceStream, SourceNote, SourceCode}

// ParseSourceType validates s.
func ParseSourceType(s string) (SourceType, error) {
	for _, st := range SourceTypes {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown source type %q", s)
}

// SyncStatus is the outcome of the last pass over a file.
type SyncStatus string

const (
	SyncOK      SyncStatus = "ok"
	SyncFailed  SyncStatus = "failed"
	SyncPending SyncStatus = "pending"
)

// RefType is the vocabulary of cross-reference edges.
type RefType string

const (
	RefRelated RefType = "related"
	RefCites   RefType = "cites"
	RefParent  RefType = "parent"
	RefChild   RefType = "child"
)

// Meta keys.
const (
	MetaSchemaVersion      = "schema_version"
	MetaEmbeddingDimension = "embedding_dimension"
	MetaEmbeddingModel     = "embedding_model"
	MetaLastXrefRebuild    = "last_xref_rebuild"
	MetaLastXrefThreshold  = "last_xref_threshold"
)

// Chunk is one retrievable segment of a source file.
type Chunk struct {
	ID          int64
	SourceType  SourceType
	FilePath    string
	Seq         int
	FileHash    string
	Content     string
	ContentHash string

	// Embedding is nil when no vector was available at index time.
	Embedding      []float32
	EmbeddingModel string

	Title     string
	Author    string
	Timestamp *time.Time
	Tags      []string
	Metadata  map[string]string

	CreatedAt    time.Time
	ModifiedAt   time.Time
	AccessCount  int64
	LastAccessed *time.Time
}

// FileSyncState is what the store remembers about one source file.
type FileSyncState struct {
	FilePath     string
	SourceType   SourceType
	FileHash     string
	ModifiedTime time.Time
	ChunksCount  int
	LastSyncTime time.Time
	Status       SyncStatus
	Error        string
}

// Prior converts the state into the change detector's view of it.
func (s *FileSyncState) Prior() *hash.Prior {
	if s == nil {
		return nil
	}
	return &hash.Prior{Hash: hash.Fingerprint(s.FileHash), Healthy: s.Status == SyncOK}
}

// CrossRef is a directed, strength-weighted edge between two chunks.
type CrossRef struct {
	SourceChunkID int64
	TargetChunkID int64
	RefType       RefType
	Strength      float64
}

// Filter restricts a query to some source types. Empty means all.
type Filter struct {
	SourceTypes []SourceType
}

// EmbeddedChunk is the slice of a chunk the cross-reference builder needs.
type EmbeddedChunk struct {
	ID         int64
	SourceType SourceType
	FilePath   string
	Vector     []float32
}

// KeywordHit is a full-text match with its BM25 relevance (higher is better).
type KeywordHit struct {
	Chunk *Chunk
	Score float64
}

// SourceStats aggregates one source type.
type SourceStats struct {
	SourceType     SourceType
	Files          int
	FailedFiles    int
	Chunks         int
	EmbeddedChunks int
}

// Stats aggregates the whole store.
type Stats struct {
	Sources         []SourceStats
	TotalChunks     int
	TotalFiles      int
	FailedFiles     int
	EmbeddedChunks  int
	CrossRefs       int
	DatabaseBytes   int64
	LastSync        *SyncRun
	LastXrefRebuild *time.Time
}

// RunStatus is the outcome of a sync pass.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunOK        RunStatus = "ok"
	RunPartial   RunStatus = "partial"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// SyncRun records one sync pass.
type SyncRun struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     *time.Time
	FilesScanned   int
	FilesUpdated   int
	FilesUnchanged int
	FilesFailed    int
	FilesRemoved   int
	ChunksWritten  int
	Status         RunStatus
}

// Writer is the mutation surface used by the sync orchestrator.
type Writer interface {
	// UpsertChunks atomically replaces every chunk of state.FilePath with
	// chunks and records state as synced.
	UpsertChunks(ctx context.Context, state *FileSyncState, chunks []*Chunk) error

	// MarkFailed records a failed pass without touching the file's chunks.
	MarkFailed(ctx context.Context, state *FileSyncState) error

	// TouchFile records a new modification time for a file whose content
	// is unchanged. Chunks keep their identity.
	TouchFile(ctx context.Context, path string, mtime time.Time) error

	// DeleteFile removes a file's chunks and sync state.
	DeleteFile(ctx context.Context, path string) error

	GetSyncState(ctx context.Context, path string) (*FileSyncState, error)
	ListSyncStates(ctx context.Context, sourceType SourceType) ([]*FileSyncState, error)

	// EmbeddingsByContentHash returns existing vectors for a file keyed by
	// chunk content hash, so unchanged chunks of a changed file can skip
	// re-embedding.
	EmbeddingsByContentHash(ctx context.Context, path, model string) (map[string][]float32, error)

	BeginRun(ctx context.Context, run *SyncRun) error
	FinishRun(ctx context.Context, run *SyncRun) error
}

// Reader is the query surface used by the search engine.
type Reader interface {
	KeywordSearch(ctx context.Context, query string, filter Filter, limit int) ([]*KeywordHit, error)
	GetChunks(ctx context.Context, ids []int64) ([]*Chunk, error)
	CrossRefsAmong(ctx context.Context, ids []int64) ([]CrossRef, error)
	RecordAccess(ctx context.Context, ids []int64) error
	Recent(ctx context.Context, filter Filter, limit int) ([]*Chunk, error)
}

// GraphStore is the surface used by the cross-reference builder.
type GraphStore interface {
	ChunksWithEmbeddings(filter Filter, batchSize int) *ChunkIterator
	CountEmbedded(ctx context.Context, filter Filter) (map[SourceType]int, error)

	// PutCrossRefs replaces, in one transaction, every edge whose endpoints
	// both fall within scope. An empty scope replaces the entire set.
	PutCrossRefs(ctx context.Context, scope Filter, edges []CrossRef) error

	SetMeta(ctx context.Context, key, value string) error
}

// Store is the full persistence surface.
type Store interface {
	Writer
	Reader
	GraphStore

	GetMeta(ctx context.Context, key string) (string, error)
	Stats(ctx context.Context) (*Stats, error)
	Vacuum(ctx context.Context) error
	Close() error
}
