package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	serrors "github.com/Aman-CERP/strata/internal/errors"
)

// Provider names an embedding backend.
type Provider string

const (
	// ProviderStatic uses feature-hashed embeddings; always available.
	ProviderStatic Provider = "static"

	// ProviderOllama uses a local Ollama server.
	ProviderOllama Provider = "ollama"

	// ProviderOpenAI uses an OpenAI-compatible HTTP endpoint.
	ProviderOpenAI Provider = "openai"

	// ProviderNone disables embeddings; search runs keyword-only.
	ProviderNone Provider = "none"
)

// Providers lists the accepted provider names.
var Providers = []Provider{ProviderStatic, ProviderOllama, ProviderOpenAI, ProviderNone}

// ParseProvider validates a provider name, case-insensitively.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Providers {
		if p == known {
			return p, nil
		}
	}
	return "", serrors.New(serrors.ErrCodeConfigInvalid, fmt.Sprintf("unknown embeddings provider %q", s), nil).
		WithSuggestion("use one of: static, ollama, openai, none")
}

// Config selects and configures a backend.
type Config struct {
	Provider        Provider
	Model           string
	Dimensions      int
	OllamaHost      string
	OpenAIBaseURL   string
	OpenAIAPIKeyEnv string
	BatchSize       int

	// CacheSize is the LRU size; negative disables the cache.
	CacheSize int
}

// New builds the configured embedder wrapped in a CachedEmbedder.
//
// ProviderNone returns (nil, nil): a nil Embedder is the supported way to
// run without vectors. A backend that cannot be reached returns an
// ERR_301_EMBEDDER_UNAVAILABLE error; callers log it and carry on with a
// nil embedder.
func New(ctx context.Context, cfg Config) (Embedder, error) {
	var (
		e   Embedder
		err error
	)

	switch cfg.Provider {
	case ProviderNone:
		return nil, nil

	case ProviderStatic, "":
		e = NewStaticEmbedder(cfg.Dimensions)

	case ProviderOllama:
		e, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       cfg.OllamaHost,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})

	case ProviderOpenAI:
		var oe *OpenAIEmbedder
		oe, err = NewOpenAIEmbedder(OpenAIConfig{
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.Model,
			APIKeyEnv:  cfg.OpenAIAPIKeyEnv,
			Dimensions: cfg.Dimensions,
			BatchSize:  cfg.BatchSize,
		})
		if err == nil && !oe.Available(ctx) {
			_ = oe.Close()
			err = serrors.New(serrors.ErrCodeEmbedderUnavailable, "openai endpoint unavailable", nil).
				WithDetail("base_url", cfg.OpenAIBaseURL).
				WithSuggestion("check embeddings.openai_base_url and the API key variable")
		}
		if err == nil {
			e = oe
		}

	default:
		_, err = ParseProvider(string(cfg.Provider))
	}

	if err != nil {
		return nil, err
	}

	slog.Debug("embedder_ready",
		slog.String("provider", string(cfg.Provider)),
		slog.String("model", e.ModelName()),
		slog.Int("dimensions", e.Dimensions()))

	if cfg.CacheSize < 0 {
		return e, nil
	}
	return NewCachedEmbedder(e, cfg.CacheSize), nil
}
