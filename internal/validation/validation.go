// Package validation runs relevance suites against a live index through the
// MCP tool surface.
//
// Suites are data-driven YAML files, so queries can be tuned against a real
// corpus without rebuilding strata. Tier 1 queries must find their expected
// file, tier 2 queries are aspirational, and negative queries only need to
// return without failing.
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/strata/internal/mcp"
)

// DefaultLimit is the number of results inspected per query.
const DefaultLimit = 10

// QuerySpec defines a query and the files it should surface.
type QuerySpec struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Query       string   `yaml:"query"`
	Sources     []string `yaml:"sources,omitempty"`
	KeywordOnly bool     `yaml:"keyword_only,omitempty"`
	// Expected holds path suffixes; any one of them in the results passes.
	Expected []string `yaml:"expected"`
	Notes    string   `yaml:"notes,omitempty"`
	Tier     int      `yaml:"-"`
}

// Suite holds every query of a validation run.
type Suite struct {
	Tier1    []QuerySpec `yaml:"tier1"`
	Tier2    []QuerySpec `yaml:"tier2"`
	Negative []QuerySpec `yaml:"negative"`
}

// Len is the number of queries in the suite.
func (s *Suite) Len() int {
	return len(s.Tier1) + len(s.Tier2) + len(s.Negative)
}

// LoadSuite reads a suite from a YAML file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite %s: %w", path, err)
	}
	return ParseSuite(data)
}

// ParseSuite decodes a suite and assigns tiers by section.
func ParseSuite(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse suite: %w", err)
	}
	seen := make(map[string]bool)
	for tier, qs := range map[int][]QuerySpec{1: s.Tier1, 2: s.Tier2, 0: s.Negative} {
		for i := range qs {
			q := &qs[i]
			q.Tier = tier
			if strings.TrimSpace(q.Query) == "" {
				return nil, fmt.Errorf("query %q has no query text", q.ID)
			}
			if q.ID == "" {
				return nil, fmt.Errorf("query %q has no id", q.Query)
			}
			if seen[q.ID] {
				return nil, fmt.Errorf("duplicate query id %q", q.ID)
			}
			seen[q.ID] = true
		}
	}
	return &s, nil
}

// Caller invokes an MCP tool in-process. *mcp.Server satisfies it.
type Caller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}

var _ Caller = (*mcp.Server)(nil)

// TestResult is the outcome of one query.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ns"`
	TopResults []string      `json:"top_results"`
	MatchedAt  int           `json:"matched_at"`
	Error      string        `json:"error,omitempty"`
}

// Report collects a full run.
type Report struct {
	Timestamp time.Time    `json:"timestamp"`
	Tier1     []TestResult `json:"tier1"`
	Tier2     []TestResult `json:"tier2"`
	Negative  []TestResult `json:"negative"`
}

// Passed reports whether every tier 1 and negative query passed. Tier 2
// misses are informational.
func (r *Report) Passed() bool {
	for _, group := range [][]TestResult{r.Tier1, r.Negative} {
		for _, tr := range group {
			if !tr.Passed {
				return false
			}
		}
	}
	return true
}

// Summary is a one-line tally, e.g. "tier1 3/3, tier2 1/2, negative 2/2".
func (r *Report) Summary() string {
	return fmt.Sprintf("tier1 %d/%d, tier2 %d/%d, negative %d/%d",
		passed(r.Tier1), len(r.Tier1), passed(r.Tier2), len(r.Tier2), passed(r.Negative), len(r.Negative))
}

func passed(results []TestResult) int {
	n := 0
	for _, tr := range results {
		if tr.Passed {
			n++
		}
	}
	return n
}

// Validator runs queries through a Caller.
type Validator struct {
	caller Caller
	limit  int
	now    func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithLimit sets how many results each query inspects.
func WithLimit(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.limit = n
		}
	}
}

// New creates a validator over caller.
func New(caller Caller, opts ...Option) *Validator {
	v := &Validator{caller: caller, limit: DefaultLimit, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// RunQuery executes one query and scores it.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	start := v.now()
	result := TestResult{Spec: spec, MatchedAt: -1}

	args := map[string]any{
		"query": spec.Query,
		"limit": v.limit,
	}
	if len(spec.Sources) > 0 {
		args["sources"] = spec.Sources
	}
	if spec.KeywordOnly {
		args["keyword_only"] = true
	}

	resp, err := v.caller.CallTool(ctx, mcp.ToolSearch, args)
	result.Duration = v.now().Sub(start)
	if err != nil {
		// Negative queries may be rejected; they only must not crash.
		if spec.Tier == 0 {
			result.Passed = true
		} else {
			result.Error = err.Error()
		}
		return result
	}

	result.TopResults = extractPaths(resp)
	if len(spec.Expected) == 0 {
		result.Passed = true
		return result
	}
	result.Passed, result.MatchedAt = checkExpected(result.TopResults, spec.Expected)
	return result
}

// RunAll executes every query in the suite, stopping early only when ctx is
// cancelled.
func (v *Validator) RunAll(ctx context.Context, suite *Suite) (*Report, error) {
	report := &Report{Timestamp: v.now()}
	groups := []struct {
		specs []QuerySpec
		out   *[]TestResult
	}{
		{suite.Tier1, &report.Tier1},
		{suite.Tier2, &report.Tier2},
		{suite.Negative, &report.Negative},
	}
	for _, g := range groups {
		for _, spec := range g.specs {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			*g.out = append(*g.out, v.RunQuery(ctx, spec))
		}
	}
	return report, nil
}

// extractPaths lists result paths in rank order, deduplicated.
func extractPaths(resp any) []string {
	var out mcp.SearchOutput
	switch r := resp.(type) {
	case mcp.SearchOutput:
		out = r
	case *mcp.SearchOutput:
		if r != nil {
			out = *r
		}
	default:
		data, err := json.Marshal(resp)
		if err != nil || json.Unmarshal(data, &out) != nil {
			return nil
		}
	}

	seen := make(map[string]bool, len(out.Results))
	paths := make([]string, 0, len(out.Results))
	for _, r := range out.Results {
		if r.Path == "" || seen[r.Path] {
			continue
		}
		seen[r.Path] = true
		paths = append(paths, r.Path)
	}
	return paths
}

// checkExpected returns the rank of the first result whose path ends with
// any expected suffix.
func checkExpected(results []string, expected []string) (bool, int) {
	for i, p := range results {
		p = filepath.ToSlash(p)
		for _, exp := range expected {
			exp = filepath.ToSlash(exp)
			if p == exp || strings.HasSuffix(p, "/"+strings.TrimPrefix(exp, "/")) {
				return true, i
			}
		}
	}
	return false, -1
}
