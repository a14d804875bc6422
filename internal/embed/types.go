// Package embed provides the embedding capability: a text → []float32
// function that may be absent or unavailable at runtime.
package embed

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultBatchSize is the number of texts sent per backend request.
	DefaultBatchSize = 32

	// MaxBatchSize caps a single request to keep memory bounded.
	MaxBatchSize = 256

	// DefaultStaticDimensions is the vector width of the static embedder.
	DefaultStaticDimensions = 256

	// DefaultCacheSize is the number of embeddings kept by CachedEmbedder.
	// At 768 dimensions * 4 bytes * 1000 entries ≈ 3MB.
	DefaultCacheSize = 1000

	// DefaultTimeout bounds one backend request.
	DefaultTimeout = 60 * time.Second

	// ProbeTimeout bounds an availability check.
	ProbeTimeout = 3 * time.Second
)

// ErrClosed is returned by every operation on a closed embedder.
var ErrClosed = errors.New("embedder is closed")

// Embedder generates vector embeddings for text. Every vector returned by
// one Embedder has Dimensions() entries.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for texts, in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding width, or 0 when not yet known.
	Dimensions() int

	// ModelName returns the model identifier recorded next to each vector.
	ModelName() string

	// Available reports whether the backend can serve requests right now.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Usable reports whether e is configured and currently available.
func Usable(ctx context.Context, e Embedder) bool {
	return e != nil && e.Available(ctx)
}
