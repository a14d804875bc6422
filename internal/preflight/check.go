package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Aman-CERP/strata/internal/embed"
)

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed successfully.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status as its name in JSON.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult holds the result of a single preflight check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Target is what RunAll inspects.
type Target struct {
	// DataDir holds the index and the writer lock.
	DataDir string

	// DatabasePath is the index file; empty skips the index check.
	DatabasePath string

	// Sources maps source names to their roots.
	Sources map[string]string

	// Embedder is the configured embedder, nil when disabled or when it
	// could not be created.
	Embedder embed.Embedder

	// Provider is the configured provider name.
	Provider string
}

// Checker performs preflight validation checks.
type Checker struct {
	verbose bool
	output  io.Writer
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose enables verbose output.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) {
		c.verbose = verbose
	}
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) {
		c.output = w
	}
}

// New creates a new Checker with the given options.
func New(opts ...Option) *Checker {
	c := &Checker{
		output: os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs all preflight checks and returns the results.
func (c *Checker) RunAll(ctx context.Context, t Target) []CheckResult {
	var results []CheckResult

	results = append(results, c.CheckWritePermissions(t.DataDir))
	results = append(results, c.CheckDiskSpace(t.DataDir))
	results = append(results, c.CheckSources(t.Sources))
	results = append(results, c.CheckFileDescriptors())
	if t.DatabasePath != "" {
		results = append(results, c.CheckIndex(t.DatabasePath))
	}
	// non-critical: search falls back to keyword-only
	results = append(results, c.CheckEmbedder(ctx, t.Embedder, t.Provider))

	return results
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns a summary status string for the results.
func (c *Checker) SummaryStatus(results []CheckResult) string {
	hasWarnings := false
	hasCriticalFailure := false

	for _, r := range results {
		if r.IsCritical() {
			hasCriticalFailure = true
		}
		if r.Status == StatusWarn || (r.Status == StatusFail && !r.Required) {
			hasWarnings = true
		}
	}

	if hasCriticalFailure {
		return "failed"
	}
	if hasWarnings {
		return "ready_with_warnings"
	}
	return "ready"
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "strata system check")
	_, _ = fmt.Fprintln(c.output, "===================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))

	var warnings, errors []string
	for _, r := range results {
		if r.IsCritical() {
			errors = append(errors, r.Name+": "+r.Message)
		} else if r.Status != StatusPass {
			warnings = append(warnings, r.Name+": "+r.Message)
		}
	}

	if len(errors) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d error(s):\n", len(errors))
		for _, e := range errors {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", e)
		}
	}

	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(c.output)
		_, _ = fmt.Fprintf(c.output, "%d warning(s):\n", len(warnings))
		for _, w := range warnings {
			_, _ = fmt.Fprintf(c.output, "  - %s\n", w)
		}
	}
}

// CheckWritePermissions checks that the data directory can be created and
// written to.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot create data directory: %v", err)
		return result
	}
	f, err := os.CreateTemp(dir, ".strata-preflight-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("permission denied: %v", err)
		return result
	}
	_ = f.Close()
	_ = os.Remove(f.Name())

	result.Status = StatusPass
	result.Message = "OK"
	result.Details = dir
	return result
}

// CheckSources checks that every source root is an existing directory.
func (c *Checker) CheckSources(sources map[string]string) CheckResult {
	result := CheckResult{
		Name:     "sources",
		Required: true,
	}
	if len(sources) == 0 {
		result.Status = StatusFail
		result.Message = "no sources configured"
		result.Details = "Run 'strata config init' and point each root at your files"
		return result
	}

	names := make([]string, 0, len(sources))
	for n := range sources {
		names = append(names, n)
	}
	sort.Strings(names)

	var missing []string
	for _, n := range names {
		info, err := os.Stat(sources[n])
		if err != nil || !info.IsDir() {
			missing = append(missing, fmt.Sprintf("%s (%s)", n, sources[n]))
		}
	}
	if len(missing) > 0 {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%d of %d roots missing", len(missing), len(names))
		result.Details = strings.Join(missing, ", ")
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d roots: %s", len(names), strings.Join(names, ", "))
	return result
}

// CheckIndex reports whether the index file exists. A missing index is a
// warning: the first sync creates it.
func (c *Checker) CheckIndex(path string) CheckResult {
	result := CheckResult{
		Name: "index",
	}
	info, err := os.Stat(path)
	if err != nil {
		result.Status = StatusWarn
		result.Message = "not synced yet"
		result.Details = "Run 'strata sync'"
		return result
	}
	result.Status = StatusPass
	result.Message = formatBytes(uint64(info.Size()))
	result.Details = filepath.Clean(path)
	return result
}

// CheckEmbedder checks that the embedder answers. A disabled or
// unreachable embedder is a warning, never a failure.
func (c *Checker) CheckEmbedder(ctx context.Context, e embed.Embedder, provider string) CheckResult {
	result := CheckResult{
		Name: "embedder",
	}
	switch {
	case provider == string(embed.ProviderNone):
		result.Status = StatusWarn
		result.Message = "disabled (keyword and cross-reference ranking only)"
	case e == nil:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s unavailable (search runs keyword-only)", provider)
		result.Details = "Check the embeddings section of strata.yaml and that the backend is running"
	case !e.Available(ctx):
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%s not responding (search runs keyword-only)", e.ModelName())
	default:
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%s ready", e.ModelName())
		if d := e.Dimensions(); d > 0 {
			result.Message = fmt.Sprintf("%s ready (%d dimensions)", e.ModelName(), d)
		}
	}
	return result
}
