package source

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"
)

// Matcher evaluates gitignore-style patterns against slash-separated paths
// relative to the directory the patterns were loaded for. The last matching
// rule wins; "!" negates.
type Matcher struct {
	rules []rule
}

type rule struct {
	re       *regexp.Regexp
	negate   bool
	dirOnly  bool
	anchored bool
}

// NewMatcher compiles patterns. Blank lines and comments are skipped.
func NewMatcher(patterns ...string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		m.Add(p)
	}
	return m
}

// LoadIgnoreFile reads patterns from path. A missing file yields an empty
// matcher.
func LoadIgnoreFile(p string) (*Matcher, error) {
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return NewMatcher(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	m := NewMatcher()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.Add(sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read ignore file %s: %w", p, err)
	}
	return m, nil
}

// Add compiles one pattern.
func (m *Matcher) Add(pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return
	}

	var r rule
	switch {
	case strings.HasPrefix(pattern, `\#`), strings.HasPrefix(pattern, `\!`):
		pattern = pattern[1:]
	case strings.HasPrefix(pattern, "!"):
		r.negate = true
		pattern = pattern[1:]
	}
	if strings.HasSuffix(pattern, "/") {
		r.dirOnly = true
		pattern = strings.TrimSuffix(pattern, "/")
	}
	if strings.HasPrefix(pattern, "/") {
		r.anchored = true
		pattern = strings.TrimPrefix(pattern, "/")
	}
	// "doc/frotz" is relative to the root, "**/frotz" is not
	if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "**/") {
		r.anchored = true
	}
	if pattern == "" {
		return
	}

	r.re = regexp.MustCompile("^" + globToRegex(pattern) + "$")
	m.rules = append(m.rules, r)
}

// Empty reports whether no rules were added.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.rules) == 0
}

// Match reports whether rel (slash-separated) is matched.
func (m *Matcher) Match(rel string, isDir bool) bool {
	if m.Empty() {
		return false
	}
	matched := false
	for _, r := range m.rules {
		if r.match(rel, isDir) {
			matched = !r.negate
		}
	}
	return matched
}

func (r rule) match(rel string, isDir bool) bool {
	parts := strings.Split(rel, "/")

	if r.anchored {
		if r.re.MatchString(rel) {
			return !r.dirOnly || isDir
		}
		// a matched parent directory covers everything beneath it
		for i := 1; i < len(parts); i++ {
			if r.re.MatchString(strings.Join(parts[:i], "/")) {
				return true
			}
		}
		return false
	}

	for i, part := range parts {
		if !r.re.MatchString(part) {
			continue
		}
		last := i == len(parts)-1
		if last && r.dirOnly {
			return isDir
		}
		return true
	}
	// patterns with ** can span separators
	return r.re.MatchString(rel) && (!r.dirOnly || isDir)
}

// globToRegex converts a gitignore glob to a regular expression body.
func globToRegex(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				if i+2 < len(glob) && glob[i+2] == '/' {
					b.WriteString("(?:.*/)?")
					i += 2
					continue
				}
				b.WriteString(".*")
				i++
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end
		case '\\':
			if i+1 < len(glob) {
				i++
				b.WriteString(regexp.QuoteMeta(string(glob[i])))
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}

// rebase makes rel relative to base, or reports that it lies outside it.
func rebase(rel, base string) (string, bool) {
	if base == "" || base == "." {
		return rel, true
	}
	if rel == base {
		return path.Base(rel), true
	}
	if strings.HasPrefix(rel, base+"/") {
		return rel[len(base)+1:], true
	}
	return "", false
}
