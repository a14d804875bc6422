package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/strata/internal/errors"
)

// isolate points the user config at an empty directory and clears STRATA_*
// variables inherited from the environment.
func isolate(t *testing.T) string {
	t.Helper()
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	for _, kv := range os.Environ() {
		if k, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, "STRATA_") {
			t.Setenv(k, "")
		}
	}
	return xdg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 512, cfg.Chunking.Size)
	assert.Equal(t, 128, cfg.Chunking.Overlap)
	assert.Equal(t, 0.4, cfg.Search.KeywordWeight)
	assert.Equal(t, 0.5, cfg.Search.VectorWeight)
	assert.Equal(t, 0.1, cfg.Search.XrefWeight)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 0.8, cfg.Xref.Threshold)
	assert.Equal(t, "brute", cfg.Xref.Strategy)
	assert.Equal(t, 20000, cfg.Xref.LargeCorpus)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)
	assert.Equal(t, "500ms", cfg.Watch.Debounce)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFilesUsesDefaults(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	cfg, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".strata"), cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, ".strata", "index.db"), cfg.DatabasePath())
	assert.Empty(t, cfg.Sources)
	assert.Equal(t, dir, cfg.Dir())
}

func TestLoad_ProjectFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "strata.yaml"), `
data_dir: var/index
sources:
  notes:
    type: note
    root: notes
  logs:
    type: stream
    root: /var/log/app
    include: ["*.log"]
chunking:
  size: 256
search:
  xref_weight: 0
xref:
  strategy: hnsw
  groups: [[note, archive]]
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "var", "index"), cfg.DataDir)
	assert.Equal(t, []string{"logs", "notes"}, cfg.SourceNames())
	assert.Equal(t, filepath.Join(dir, "notes"), cfg.Sources["notes"].Root)
	assert.Equal(t, "/var/log/app", cfg.Sources["logs"].Root)
	assert.Equal(t, []string{"*.log"}, cfg.Sources["logs"].Include)
	assert.Equal(t, 256, cfg.Chunking.Size)
	assert.Equal(t, 128, cfg.Chunking.Overlap, "absent keys keep defaults")
	assert.Zero(t, cfg.Search.XrefWeight, "explicit zero is honoured")
	assert.Equal(t, 0.4, cfg.Search.KeywordWeight)
	assert.Equal(t, "hnsw", cfg.Xref.Strategy)
	assert.Equal(t, [][]string{{"note", "archive"}}, cfg.Xref.Groups)
}

func TestLoad_UserThenProjectPrecedence(t *testing.T) {
	xdg := isolate(t)
	dir := t.TempDir()

	// Given: both layers set the threshold, only the user layer sets the model
	writeFile(t, filepath.Join(xdg, "strata", "config.yaml"), `
embeddings:
  provider: ollama
  model: nomic-embed-text
xref:
  threshold: 0.7
`)
	writeFile(t, filepath.Join(dir, ".strata.yaml"), `
xref:
  threshold: 0.9
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Xref.Threshold)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embeddings.Model)
}

func TestLoad_EnvOverridesFiles(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "strata.yaml"), "search:\n  keyword_weight: 0.3\n")
	t.Setenv("STRATA_KEYWORD_WEIGHT", "0.6")
	t.Setenv("STRATA_EMBEDDER", "none")
	t.Setenv("STRATA_CHUNK_SIZE", "1024")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.Search.KeywordWeight)
	assert.Equal(t, "none", cfg.Embeddings.Provider)
	assert.Equal(t, 1024, cfg.Chunking.Size)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "STRATA_XREF_THRESHOLD=0.65\nSTRATA_LOG_LEVEL=debug\n")
	t.Setenv("STRATA_LOG_LEVEL", "error")
	t.Cleanup(func() { _ = os.Unsetenv("STRATA_XREF_THRESHOLD") })
	require.NoError(t, os.Unsetenv("STRATA_XREF_THRESHOLD"))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 0.65, cfg.Xref.Threshold)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestLoad_BadEnvNumber(t *testing.T) {
	isolate(t)
	t.Setenv("STRATA_VECTOR_WEIGHT", "lots")

	_, err := Load(t.TempDir())

	assert.Equal(t, serrors.ErrCodeConfigInvalid, serrors.GetCode(err))
}

func TestLoad_UnknownKeyIsRejected(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "strata.yaml"), "serach:\n  keyword_weight: 0.3\n")

	_, err := Load(dir)

	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeConfigInvalid, serrors.GetCode(err))
}

func TestLoad_EmptyFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "strata.yaml"), "")

	_, err := Load(dir)
	assert.NoError(t, err)
}

func TestLoadFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "custom.yaml")
	writeFile(t, path, "sources:\n  src:\n    type: code\n    root: ../repo\n")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "repo"), cfg.Sources["src"].Root)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Equal(t, serrors.ErrCodeConfigNotFound, serrors.GetCode(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"weight above one", func(c *Config) { c.Search.VectorWeight = 1.5 }, "vector_weight"},
		{"negative weight", func(c *Config) { c.Search.KeywordWeight = -0.1 }, "keyword_weight"},
		{"zero sum", func(c *Config) { c.Search = SearchConfig{} }, "positive sum"},
		{"zero chunk size", func(c *Config) { c.Chunking.Size = 0 }, "chunking.size"},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }, "chunking.overlap"},
		{"threshold", func(c *Config) { c.Xref.Threshold = 1.2 }, "xref.threshold"},
		{"strategy", func(c *Config) { c.Xref.Strategy = "lsh" }, "xref.strategy"},
		{"provider", func(c *Config) { c.Embeddings.Provider = "llama" }, "embeddings.provider"},
		{"debounce", func(c *Config) { c.Watch.Debounce = "soon" }, "watch.debounce"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"group type", func(c *Config) { c.Xref.Groups = [][]string{{"note", "mail"}} }, "mail"},
		{"source type", func(c *Config) {
			c.Sources["x"] = SourceConfig{Type: "mail", Root: "/x"}
		}, "sources.x.type"},
		{"source root", func(c *Config) {
			c.Sources["x"] = SourceConfig{Type: "note"}
		}, "sources.x.root"},
		{"reserved name", func(c *Config) {
			c.Sources["all"] = SourceConfig{Type: "note", Root: "/x"}
		}, "reserved"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, serrors.ErrCodeConfigInvalid, serrors.GetCode(err))
		})
	}
}

func TestDebounceDuration(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, "500ms", cfg.Watch.Debounce)
	assert.Equal(t, int64(500), cfg.DebounceDuration().Milliseconds())

	cfg.Watch.Debounce = "2s"
	assert.Equal(t, int64(2000), cfg.DebounceDuration().Milliseconds())
}

func TestWriteYAML_RoundTripsThroughLoad(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.Sources["notes"] = SourceConfig{Type: "note", Root: filepath.Join(dir, "notes")}
	cfg.Xref.Threshold = 0.75

	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, "strata.yaml")))
	loaded, err := Load(dir)

	require.NoError(t, err)
	assert.Equal(t, 0.75, loaded.Xref.Threshold)
	assert.Equal(t, cfg.Sources["notes"], loaded.Sources["notes"])
}
