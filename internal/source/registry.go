package source

import (
	"fmt"
	"sort"
	"strings"

	serrors "github.com/Aman-CERP/strata/internal/errors"
)

// All selects every registered adapter.
const All = "all"

// Registry holds the configured adapters by name.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds one adapter per spec, sharing a single Walker.
func NewRegistry(specs map[string]Spec) (*Registry, error) {
	walker, err := NewWalker()
	if err != nil {
		return nil, err
	}
	r := &Registry{adapters: make(map[string]Adapter, len(specs))}
	for name, spec := range specs {
		a, err := New(name, spec, walker)
		if err != nil {
			return nil, err
		}
		r.adapters[name] = a
	}
	return r, nil
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	if r.adapters == nil {
		r.adapters = make(map[string]Adapter)
	}
	r.adapters[a.Name()] = a
}

// Names returns adapter names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns the named adapter.
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Resolve maps names to adapters. Empty input or "all" selects everything,
// in name order. Unknown names are an error.
func (r *Registry) Resolve(names []string) ([]Adapter, error) {
	if len(names) == 0 {
		names = []string{All}
	}
	seen := make(map[string]bool)
	var out []Adapter
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == All {
			for _, name := range r.Names() {
				if !seen[name] {
					seen[name] = true
					out = append(out, r.adapters[name])
				}
			}
			continue
		}
		a, ok := r.adapters[n]
		if !ok {
			return nil, serrors.New(serrors.ErrCodeSourceUnknown, fmt.Sprintf("unknown source %q", n), nil).
				WithSuggestion("configured sources: " + strings.Join(r.Names(), ", "))
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, a)
		}
	}
	return out, nil
}
