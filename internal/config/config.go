package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	serrors "github.com/Aman-CERP/strata/internal/errors"
)

// File names searched for in the project directory, in order.
var projectFiles = []string{"strata.yaml", ".strata.yaml", ".strata.yml"}

// DefaultDataDir is the data directory, relative to the project directory,
// used when data_dir is not set.
const DefaultDataDir = ".strata"

// DatabaseFile is the index file inside the data directory.
const DatabaseFile = "index.db"

// Config is the complete strata configuration.
type Config struct {
	// DataDir holds index.db and the writer lock.
	DataDir  string `yaml:"data_dir" json:"data_dir"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	Sources    map[string]SourceConfig `yaml:"sources" json:"sources"`
	Chunking   ChunkingConfig          `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig        `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig            `yaml:"search" json:"search"`
	Xref       XrefConfig              `yaml:"xref" json:"xref"`
	Watch      WatchConfig             `yaml:"watch" json:"watch"`

	// dir is the project directory relative paths resolve against.
	dir string
}

// SourceConfig configures one named corpus.
type SourceConfig struct {
	// Type is archive, stream, note or code.
	Type        string   `yaml:"type" json:"type"`
	Root        string   `yaml:"root" json:"root"`
	Include     []string `yaml:"include,omitempty" json:"include,omitempty"`
	Exclude     []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
	MaxFileSize int64    `yaml:"max_file_size,omitempty" json:"max_file_size,omitempty"`
}

// ChunkingConfig sizes chunks, in runes.
type ChunkingConfig struct {
	Size    int `yaml:"size" json:"size"`
	Overlap int `yaml:"overlap" json:"overlap"`
}

// EmbeddingsConfig selects the embedding backend.
type EmbeddingsConfig struct {
	// Provider is static, ollama, openai or none.
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`

	OllamaHost      string `yaml:"ollama_host" json:"ollama_host"`
	OpenAIBaseURL   string `yaml:"openai_base_url" json:"openai_base_url"`
	OpenAIAPIKeyEnv string `yaml:"openai_api_key_env" json:"openai_api_key_env"`

	BatchSize int `yaml:"batch_size" json:"batch_size"`
	// CacheSize is the query embedding LRU size; negative disables it.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// SearchConfig tunes hybrid ranking.
type SearchConfig struct {
	KeywordWeight   float64 `yaml:"keyword_weight" json:"keyword_weight"`
	VectorWeight    float64 `yaml:"vector_weight" json:"vector_weight"`
	XrefWeight      float64 `yaml:"xref_weight" json:"xref_weight"`
	CandidateFactor int     `yaml:"candidate_factor" json:"candidate_factor"`
	DefaultLimit    int     `yaml:"default_limit" json:"default_limit"`
}

// XrefConfig tunes cross-reference rebuilds.
type XrefConfig struct {
	Threshold float64 `yaml:"threshold" json:"threshold"`
	// Strategy is brute or hnsw.
	Strategy      string `yaml:"strategy" json:"strategy"`
	LargeCorpus   int    `yaml:"large_corpus" json:"large_corpus"`
	HNSWNeighbors int    `yaml:"hnsw_neighbors" json:"hnsw_neighbors"`
	// Groups lists source types compared with each other once the corpus
	// is large, e.g. [[note, archive]].
	Groups [][]string `yaml:"groups,omitempty" json:"groups,omitempty"`
}

// WatchConfig configures the watch command.
type WatchConfig struct {
	// Debounce is a duration string such as "500ms".
	Debounce string `yaml:"debounce" json:"debounce"`
	// Schedule is an optional five-field cron spec for periodic syncs.
	Schedule string `yaml:"schedule" json:"schedule"`
	// XrefSchedule optionally rebuilds cross-refs on its own cron spec.
	XrefSchedule string `yaml:"xref_schedule" json:"xref_schedule"`
}

// NewConfig returns a Config with defaults.
func NewConfig() *Config {
	return &Config{
		LogLevel: "warn",
		Sources:  map[string]SourceConfig{},
		Chunking: ChunkingConfig{
			Size:    512,
			Overlap: 128,
		},
		Embeddings: EmbeddingsConfig{
			Provider:        "static",
			Dimensions:      256,
			OpenAIAPIKeyEnv: "OPENAI_API_KEY",
			BatchSize:       32,
			CacheSize:       1000,
		},
		Search: SearchConfig{
			KeywordWeight:   0.4,
			VectorWeight:    0.5,
			XrefWeight:      0.1,
			CandidateFactor: 4,
			DefaultLimit:    10,
		},
		Xref: XrefConfig{
			Threshold:     0.8,
			Strategy:      "brute",
			LargeCorpus:   20000,
			HNSWNeighbors: 16,
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
	}
}

// GetUserConfigPath returns the user configuration file:
//   - $XDG_CONFIG_HOME/strata/config.yaml when XDG_CONFIG_HOME is set
//   - ~/.config/strata/config.yaml otherwise
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "strata", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "strata", "config.yaml")
	}
	return filepath.Join(home, ".config", "strata", "config.yaml")
}

// Load builds the configuration for the project directory dir. Layers, in
// increasing precedence:
//  1. Defaults
//  2. User config (GetUserConfigPath)
//  3. Project config (strata.yaml, .strata.yaml or .strata.yml in dir)
//  4. dir/.env, which never overrides variables already set
//  5. STRATA_* environment variables
func Load(dir string) (*Config, error) {
	return load(dir, "")
}

// LoadFile is Load with an explicit project config file in place of the
// search in dir. The file must exist.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, serrors.New(serrors.ErrCodeConfigNotFound, "config file not found", err).
			WithDetail("path", path)
	}
	return load(filepath.Dir(path), path)
}

func load(dir, explicit string) (*Config, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	cfg := NewConfig()
	cfg.dir = abs

	if user := GetUserConfigPath(); fileExists(user) {
		if err := cfg.loadYAML(user); err != nil {
			return nil, err
		}
	}

	project := explicit
	if project == "" {
		project = findProjectFile(abs)
	}
	if project != "" {
		if err := cfg.loadYAML(project); err != nil {
			return nil, err
		}
	}

	if envFile := filepath.Join(abs, ".env"); fileExists(envFile) {
		if err := godotenv.Load(envFile); err != nil {
			return nil, serrors.New(serrors.ErrCodeConfigInvalid, "cannot parse .env", err).
				WithDetail("path", envFile)
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findProjectFile(dir string) string {
	for _, name := range projectFiles {
		if p := filepath.Join(dir, name); fileExists(p) {
			return p
		}
	}
	return ""
}

// loadYAML decodes path over the current values: keys present in the file
// win, absent keys keep their value, and sources merge by name.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return serrors.New(serrors.ErrCodeConfigInvalid, "cannot read config file", err).WithDetail("path", path)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return serrors.New(serrors.ErrCodeConfigInvalid, "cannot parse config file", err).
			WithDetail("path", path).
			WithSuggestion("compare with the output of `strata config show`")
	}
	// roots in a config file are relative to that file
	base := filepath.Dir(path)
	for name, s := range c.Sources {
		if s.Root != "" && !filepath.IsAbs(s.Root) && !strings.HasPrefix(s.Root, "~") {
			s.Root = filepath.Join(base, s.Root)
			c.Sources[name] = s
		}
	}
	if c.DataDir != "" && !filepath.IsAbs(c.DataDir) && !strings.HasPrefix(c.DataDir, "~") {
		c.DataDir = filepath.Join(base, c.DataDir)
	}
	return nil
}

// applyEnvOverrides applies STRATA_* variables. Unparseable numbers are
// errors rather than silently ignored.
func (c *Config) applyEnvOverrides() error {
	strs := []struct {
		key string
		dst *string
	}{
		{"STRATA_DATA_DIR", &c.DataDir},
		{"STRATA_LOG_LEVEL", &c.LogLevel},
		{"STRATA_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider},
		{"STRATA_EMBEDDER", &c.Embeddings.Provider},
		{"STRATA_EMBEDDINGS_MODEL", &c.Embeddings.Model},
		{"STRATA_OLLAMA_HOST", &c.Embeddings.OllamaHost},
		{"STRATA_OPENAI_BASE_URL", &c.Embeddings.OpenAIBaseURL},
		{"STRATA_XREF_STRATEGY", &c.Xref.Strategy},
		{"STRATA_WATCH_DEBOUNCE", &c.Watch.Debounce},
		{"STRATA_WATCH_SCHEDULE", &c.Watch.Schedule},
	}
	for _, s := range strs {
		if v := strings.TrimSpace(os.Getenv(s.key)); v != "" {
			*s.dst = v
		}
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"STRATA_KEYWORD_WEIGHT", &c.Search.KeywordWeight},
		{"STRATA_VECTOR_WEIGHT", &c.Search.VectorWeight},
		{"STRATA_XREF_WEIGHT", &c.Search.XrefWeight},
		{"STRATA_XREF_THRESHOLD", &c.Xref.Threshold},
	}
	for _, f := range floats {
		v := strings.TrimSpace(os.Getenv(f.key))
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError(f.key, v, err)
		}
		*f.dst = n
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"STRATA_CHUNK_SIZE", &c.Chunking.Size},
		{"STRATA_CHUNK_OVERLAP", &c.Chunking.Overlap},
		{"STRATA_EMBEDDINGS_DIMENSIONS", &c.Embeddings.Dimensions},
	}
	for _, i := range ints {
		v := strings.TrimSpace(os.Getenv(i.key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError(i.key, v, err)
		}
		*i.dst = n
	}
	return nil
}

func envError(key, value string, err error) error {
	return serrors.New(serrors.ErrCodeConfigInvalid, fmt.Sprintf("%s=%q is not a number", key, value), err)
}

// resolvePaths expands ~ and anchors relative paths at the project dir.
func (c *Config) resolvePaths() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	c.DataDir = c.resolve(c.DataDir)
	for name, s := range c.Sources {
		if s.Root != "" {
			s.Root = c.resolve(s.Root)
			c.Sources[name] = s
		}
	}
}

func (c *Config) resolve(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.dir, p)
	}
	return filepath.Clean(p)
}

// Dir returns the project directory the configuration was loaded for.
func (c *Config) Dir() string { return c.dir }

// DatabasePath returns the index file path.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, DatabaseFile)
}

// DebounceDuration parses Watch.Debounce. Validate guarantees it parses.
func (c *Config) DebounceDuration() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// SourceNames returns the configured source names, sorted.
func (c *Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for n := range c.Sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var (
	sourceTypes = map[string]bool{"archive": true, "stream": true, "note": true, "code": true}
	providers   = map[string]bool{"static": true, "ollama": true, "openai": true, "none": true}
	strategies  = map[string]bool{"brute": true, "bruteforce": true, "hnsw": true}
	logLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
)

// Validate checks the configuration. The first problem found is returned
// as an ERR_102_CONFIG_INVALID error.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return serrors.New(serrors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...), nil)
	}

	for _, name := range c.SourceNames() {
		s := c.Sources[name]
		if strings.TrimSpace(name) == "" || name == "all" {
			return invalid("source name %q is reserved", name)
		}
		if !sourceTypes[strings.ToLower(s.Type)] {
			return invalid("sources.%s.type must be archive, stream, note or code, got %q", name, s.Type)
		}
		if s.Root == "" {
			return invalid("sources.%s.root is required", name)
		}
		if s.MaxFileSize < 0 {
			return invalid("sources.%s.max_file_size must be non-negative", name)
		}
	}

	if c.Chunking.Size <= 0 {
		return invalid("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 {
		return invalid("chunking.overlap must be non-negative, got %d", c.Chunking.Overlap)
	}

	if !providers[strings.ToLower(c.Embeddings.Provider)] {
		return invalid("embeddings.provider must be static, ollama, openai or none, got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions < 0 {
		return invalid("embeddings.dimensions must be non-negative, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize < 0 {
		return invalid("embeddings.batch_size must be non-negative, got %d", c.Embeddings.BatchSize)
	}

	weights := []struct {
		name string
		v    float64
	}{
		{"keyword_weight", c.Search.KeywordWeight},
		{"vector_weight", c.Search.VectorWeight},
		{"xref_weight", c.Search.XrefWeight},
	}
	sum := 0.0
	for _, w := range weights {
		if w.v < 0 || w.v > 1 {
			return invalid("search.%s must be between 0 and 1, got %g", w.name, w.v)
		}
		sum += w.v
	}
	if sum <= 0 {
		return invalid("search weights must have a positive sum")
	}
	if c.Search.CandidateFactor < 0 || c.Search.DefaultLimit < 0 {
		return invalid("search.candidate_factor and search.default_limit must be non-negative")
	}

	if c.Xref.Threshold < 0 || c.Xref.Threshold > 1 {
		return invalid("xref.threshold must be between 0 and 1, got %g", c.Xref.Threshold)
	}
	if !strategies[strings.ToLower(c.Xref.Strategy)] {
		return invalid("xref.strategy must be brute or hnsw, got %q", c.Xref.Strategy)
	}
	for _, g := range c.Xref.Groups {
		for _, t := range g {
			if !sourceTypes[strings.ToLower(t)] {
				return invalid("xref.groups contains unknown source type %q", t)
			}
		}
	}

	if d, err := time.ParseDuration(c.Watch.Debounce); err != nil || d < 0 {
		return invalid("watch.debounce must be a duration such as 500ms, got %q", c.Watch.Debounce)
	}
	if !logLevels[strings.ToLower(c.LogLevel)] {
		return invalid("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
