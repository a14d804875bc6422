package embed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/vecmath"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig configures an OpenAI-compatible embedding endpoint
// (OpenAI itself, LM Studio, vLLM, llama.cpp server, ...).
type OpenAIConfig struct {
	// BaseURL is the API root, e.g. http://localhost:1234/v1. Empty uses
	// the library default.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// APIKeyEnv names the environment variable holding the token. Local
	// servers that need no auth work with the variable unset.
	APIKeyEnv string

	// Dimensions overrides detection (0 = detect on first call).
	Dimensions int

	// BatchSize for batch embedding requests (default: 32)
	BatchSize int
}

// OpenAIEmbedder generates embeddings through langchaingo's OpenAI client.
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder builds the client. No request is made until the first
// Embed or Available call.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	token := "none"
	if cfg.APIKeyEnv != "" {
		if v := os.Getenv(cfg.APIKeyEnv); v != "" {
			token = v
		}
	}

	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeEmbedderUnavailable, "create openai client", err)
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(cfg.BatchSize),
	)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeEmbedderUnavailable, "create openai embedder", err)
	}

	return &OpenAIEmbedder{
		embedder: embedder,
		model:    cfg.Model,
		dims:     cfg.Dimensions,
		logger:   slog.Default().With(slog.String("component", "openai_embedder")),
	}, nil
}

// Embed generates the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts; vectors are normalised to unit length.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	raw, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, serrors.Cancelled(ctx.Err())
		}
		e.logger.Debug("embedding_failed",
			slog.Int("texts_count", len(texts)),
			slog.String("error", err.Error()))
		return nil, serrors.New(serrors.ErrCodeEmbeddingFailed, "openai embedding failed", err)
	}
	if len(raw) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(raw), len(texts))
	}

	vecs := make([][]float32, len(raw))
	for i, v := range raw {
		vecs[i] = vecmath.Normalize(v)
	}

	e.mu.Lock()
	if e.dims == 0 && len(vecs[0]) > 0 {
		e.dims = len(vecs[0])
	}
	e.mu.Unlock()
	return vecs, nil
}

// Dimensions returns the embedding width, 0 until the first response when
// not configured.
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the configured model.
func (e *OpenAIEmbedder) ModelName() string { return e.model }

// Available embeds a probe string with a short timeout.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	_, err := e.Embed(probeCtx, "availability probe")
	return err == nil
}

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
