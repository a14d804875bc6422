package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/strata/internal/chunk"
	"github.com/Aman-CERP/strata/internal/config"
	"github.com/Aman-CERP/strata/internal/embed"
	serrors "github.com/Aman-CERP/strata/internal/errors"
	"github.com/Aman-CERP/strata/internal/lock"
	"github.com/Aman-CERP/strata/internal/search"
	"github.com/Aman-CERP/strata/internal/source"
	"github.com/Aman-CERP/strata/internal/store"
	"github.com/Aman-CERP/strata/internal/xref"
)

// loadConfig resolves the configuration from --config or the current
// directory, then applies --data-dir.
func (g *globalFlags) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFile(g.configPath)
	} else {
		var wd string
		if wd, err = os.Getwd(); err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg, err = config.Load(wd)
	}
	if err != nil {
		return nil, err
	}
	if g.dataDir != "" {
		abs, err := filepath.Abs(g.dataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data dir: %w", err)
		}
		cfg.DataDir = abs
	}
	return cfg, nil
}

// env is everything a command needs to touch the index.
type env struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	lock     *lock.WriterLock
	embedder embed.Embedder
}

// openEnv loads config and opens the store. The embedder is created only
// when withEmbedder is set and --no-embed is not.
func (g *globalFlags) openEnv(ctx context.Context, withEmbedder bool) (*env, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, store: st, lock: lock.New(cfg.DataDir)}
	if withEmbedder && !g.noEmbed {
		e.embedder = newEmbedder(ctx, cfg)
	}
	return e, nil
}

// Close releases the embedder and the store.
func (e *env) Close() error {
	var errs []error
	if e.embedder != nil {
		errs = append(errs, e.embedder.Close())
	}
	errs = append(errs, e.store.Close())
	return errors.Join(errs...)
}

// providerName is the provider reported by stats.
func (e *env) providerName(noEmbed bool) string {
	if noEmbed {
		return string(embed.ProviderNone)
	}
	return e.cfg.Embeddings.Provider
}

// newEmbedder builds the configured embedder. A backend that cannot be
// reached is logged and replaced by nil: sync stores chunks without vectors
// and search runs keyword-only.
func newEmbedder(ctx context.Context, cfg *config.Config) embed.Embedder {
	ecfg, err := embedConfig(cfg)
	if err != nil {
		slog.Warn("embedder_config_invalid", slog.String("error", err.Error()))
		return nil
	}
	e, err := embed.New(ctx, ecfg)
	if err != nil {
		slog.Warn("embedder_unavailable",
			slog.String("provider", string(ecfg.Provider)),
			slog.String("error", err.Error()))
		return nil
	}
	return e
}

func embedConfig(cfg *config.Config) (embed.Config, error) {
	provider, err := embed.ParseProvider(cfg.Embeddings.Provider)
	if err != nil {
		return embed.Config{}, err
	}
	return embed.Config{
		Provider:        provider,
		Model:           cfg.Embeddings.Model,
		Dimensions:      cfg.Embeddings.Dimensions,
		OllamaHost:      cfg.Embeddings.OllamaHost,
		OpenAIBaseURL:   cfg.Embeddings.OpenAIBaseURL,
		OpenAIAPIKeyEnv: cfg.Embeddings.OpenAIAPIKeyEnv,
		BatchSize:       cfg.Embeddings.BatchSize,
		CacheSize:       cfg.Embeddings.CacheSize,
	}, nil
}

// sourceRegistry builds one adapter per configured source.
func sourceRegistry(cfg *config.Config) (*source.Registry, error) {
	if len(cfg.Sources) == 0 {
		return nil, serrors.New(serrors.ErrCodeConfigInvalid, "no sources configured", nil).
			WithSuggestion("add a sources section to strata.yaml, or run 'strata config init'")
	}
	specs := make(map[string]source.Spec, len(cfg.Sources))
	for name, s := range cfg.Sources {
		t, err := store.ParseSourceType(strings.ToLower(s.Type))
		if err != nil {
			return nil, serrors.New(serrors.ErrCodeConfigInvalid, err.Error(), nil).WithDetail("source", name)
		}
		specs[name] = source.Spec{
			Type:        t,
			Root:        s.Root,
			Include:     s.Include,
			Exclude:     s.Exclude,
			MaxFileSize: s.MaxFileSize,
		}
	}
	return source.NewRegistry(specs)
}

func chunker(cfg *config.Config) *chunk.Chunker {
	return chunk.New(chunk.Options{MaxSize: cfg.Chunking.Size, Overlap: cfg.Chunking.Overlap})
}

func searchConfig(cfg *config.Config) search.Config {
	sc := search.DefaultConfig()
	sc.Weights = search.Weights{
		Keyword: cfg.Search.KeywordWeight,
		Vector:  cfg.Search.VectorWeight,
		Xref:    cfg.Search.XrefWeight,
	}
	sc.CandidateFactor = cfg.Search.CandidateFactor
	sc.DefaultLimit = cfg.Search.DefaultLimit
	return sc
}

func xrefOptions(cfg *config.Config) (xref.Options, error) {
	groups := make([][]store.SourceType, 0, len(cfg.Xref.Groups))
	for _, g := range cfg.Xref.Groups {
		types, err := parseSourceTypes(g)
		if err != nil {
			return xref.Options{}, err
		}
		groups = append(groups, types)
	}
	return xref.Options{
		Threshold:   cfg.Xref.Threshold,
		Strategy:    cfg.Xref.Strategy,
		LargeCorpus: cfg.Xref.LargeCorpus,
		Groups:      groups,
		Neighbors:   cfg.Xref.HNSWNeighbors,
	}, nil
}

// parseSourceTypes converts --source values. Empty or "all" means every
// source type.
func parseSourceTypes(names []string) ([]store.SourceType, error) {
	var types []store.SourceType
	for _, n := range names {
		if n == "" || n == "all" {
			return nil, nil
		}
		t, err := store.ParseSourceType(strings.ToLower(n))
		if err != nil {
			return nil, serrors.New(serrors.ErrCodeInvalidInput, err.Error(), nil).
				WithSuggestion("use archive, stream, note or code")
		}
		types = append(types, t)
	}
	return types, nil
}
