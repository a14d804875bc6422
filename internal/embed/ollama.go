package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/vecmath"
)

// OllamaEmbedder generates embeddings using Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	retry     serrors.RetryConfig

	mu        sync.RWMutex
	modelName string
	dims      int
	closed    bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. Unless SkipHealthCheck is
// set it resolves an installed model and detects the vector width, so an
// unreachable server fails here rather than mid-sync.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.FallbackModels == nil {
		cfg.FallbackModels = FallbackOllamaModels
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = serrors.DefaultRetryConfig().MaxRetries
	}

	// IdleConnTimeout is short because CLI runs are short-lived and
	// connections should not linger after Ctrl+C.
	transport := &http.Transport{
		MaxIdleConns:        OllamaPoolSize,
		MaxIdleConnsPerHost: OllamaPoolSize,
		MaxConnsPerHost:     OllamaPoolSize * 2,
		IdleConnTimeout:     10 * time.Second,
	}

	retry := serrors.DefaultRetryConfig()
	retry.MaxRetries = cfg.MaxRetries
	retry.Jitter = true

	e := &OllamaEmbedder{
		// No client-level Timeout: it would override per-request contexts.
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		retry:     retry,
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		model, err := e.findAvailableModel(checkCtx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, serrors.New(serrors.ErrCodeEmbedderUnavailable, "ollama unavailable", err).
				WithDetail("host", cfg.Host).
				WithSuggestion("start Ollama (ollama serve) and pull a model, or set embeddings.provider: static")
		}
		e.modelName = model

		if e.dims == 0 {
			vecs, err := e.doEmbed(checkCtx, []string{"dimension detection"})
			if err != nil {
				transport.CloseIdleConnections()
				return nil, serrors.New(serrors.ErrCodeEmbedderUnavailable, "detect embedding dimensions", err).
					WithDetail("model", model)
			}
			e.dims = len(vecs[0])
		}
	}

	return e, nil
}

func (e *OllamaEmbedder) listModels(ctx context.Context) ([]OllamaModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect to ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result OllamaModelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	return result.Models, nil
}

// findAvailableModel matches the configured model, then the fallbacks,
// by full name and by base name (before the ":tag").
func (e *OllamaEmbedder) findAvailableModel(ctx context.Context) (string, error) {
	models, err := e.listModels(ctx)
	if err != nil {
		return "", err
	}

	available := make(map[string]string, len(models)*2)
	for _, m := range models {
		name := strings.ToLower(m.Name)
		available[name] = m.Name
		base, _, _ := strings.Cut(name, ":")
		if _, exists := available[base]; !exists {
			available[base] = m.Name
		}
	}

	candidates := append([]string{e.config.Model}, e.config.FallbackModels...)
	for _, c := range candidates {
		name := strings.ToLower(c)
		if actual, ok := available[name]; ok {
			return actual, nil
		}
		base, _, _ := strings.Cut(name, ":")
		if actual, ok := available[base]; ok {
			return actual, nil
		}
	}
	return "", fmt.Errorf("no embedding model installed (tried %s)", strings.Join(candidates, ", "))
}

// Embed generates the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in BatchSize requests. Blank texts get a zero
// vector without a round trip.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	results := make([][]float32, len(texts))
	var idx []int
	var pending []string
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.Dimensions())
			continue
		}
		idx = append(idx, i)
		pending = append(pending, text)
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, serrors.Cancelled(err)
		}
		end := min(start+e.config.BatchSize, len(pending))

		vecs, err := serrors.RetryWithResult(ctx, e.retry, func() ([][]float32, error) {
			reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
			defer cancel()
			return e.doEmbed(reqCtx, pending[start:end])
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, serrors.Cancelled(ctx.Err())
			}
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		for j, vec := range vecs {
			results[idx[start+j]] = vec
		}
	}
	return results, nil
}

// doEmbed performs one /api/embed call. Transport failures and 5xx
// responses are retryable; anything else is not.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	model := e.modelName
	e.mu.RUnlock()

	body, err := json.Marshal(OllamaEmbedRequest{Model: model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("embedding_request",
		slog.String("model", model),
		slog.Int("texts_count", len(texts)))

	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, serrors.New(serrors.ErrCodeNetworkTimeout, "ollama request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 500 {
			return nil, serrors.New(serrors.ErrCodeEmbeddingFailed, "ollama embedding failed", cause)
		}
		return nil, cause
	}

	var out OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d texts", len(out.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(out.Embeddings))
	for i, emb := range out.Embeddings {
		if len(emb) == 0 {
			return nil, fmt.Errorf("empty embedding returned")
		}
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		vecs[i] = vecmath.Normalize(v)
	}

	e.mu.Lock()
	if e.dims == 0 {
		e.dims = len(vecs[0])
	}
	e.mu.Unlock()
	return vecs, nil
}

// Dimensions returns the embedding width.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the resolved model name.
func (e *OllamaEmbedder) ModelName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.modelName
}

// Available probes /api/tags with a short timeout.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}

	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	_, err := e.listModels(probeCtx)
	return err == nil
}

// Close releases pooled connections. Safe to call twice.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
