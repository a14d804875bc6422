package source

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// timeLayouts are tried in order wherever a free-form timestamp is parsed.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime accepts the layouts above, in UTC when no zone is given.
func parseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// splitFrontMatter separates a leading "---" YAML block from the body. ok is
// false when there is no well-formed block; body is then the whole text.
func splitFrontMatter(src string) (fm map[string]any, body string, ok bool) {
	rest, found := strings.CutPrefix(src, "---\n")
	if !found {
		rest, found = strings.CutPrefix(src, "---\r\n")
	}
	if !found {
		return nil, src, false
	}

	end := -1
	for _, marker := range []string{"\n---\n", "\n---\r\n", "\n...\n"} {
		if i := strings.Index(rest, marker); i >= 0 && (end < 0 || i < end) {
			end = i
		}
	}
	closing := 0
	if end >= 0 {
		closing = strings.IndexByte(rest[end+1:], '\n') + 2
	} else if strings.HasSuffix(rest, "\n---") {
		end = len(rest) - 4
		closing = 4
	} else {
		return nil, src, false
	}

	block := rest[:end]
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		slog.Debug("front_matter_invalid", slog.String("error", err.Error()))
		return nil, src, false
	}
	return fm, strings.TrimLeft(rest[end+closing:], "\r\n"), true
}

// applyFrontMatter copies recognised keys into h; other scalar keys become
// metadata.
func applyFrontMatter(h *Hints, fm map[string]any) {
	for k, v := range fm {
		switch strings.ToLower(k) {
		case "title":
			h.Title = scalar(v)
		case "author", "authors":
			h.Author = joinList(v)
		case "date", "created", "timestamp":
			if t, ok := asTime(v); ok && h.Timestamp == nil {
				h.Timestamp = &t
			}
		case "tags", "keywords":
			h.Tags = mergeTags(h.Tags, asList(v)...)
		default:
			if s := scalar(v); s != "" {
				if h.Metadata == nil {
					h.Metadata = make(map[string]string)
				}
				h.Metadata[k] = s
			}
		}
	}
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil, map[string]any, []any:
		return ""
	case string:
		return strings.TrimSpace(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

func asList(v any) []string {
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s := scalar(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(x, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := scalar(x); s != "" {
			return []string{s}
		}
		return nil
	}
}

func joinList(v any) string {
	return strings.Join(asList(v), ", ")
}

func asTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		return parseTime(x)
	default:
		return time.Time{}, false
	}
}

// mergeTags appends tags, lowercased, without duplicates, sorted.
func mergeTags(tags []string, more ...string) []string {
	seen := make(map[string]struct{}, len(tags)+len(more))
	var out []string
	for _, t := range append(tags, more...) {
		t = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

var markdown = goldmark.New()

// markdownTitle returns the text of the first heading, if any.
func markdownTitle(src string) string {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			title = inlineText(h, source)
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return title
}

func inlineText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

// hashTag matches inline #tags. A heading marker ("# ") never matches
// because a tag must start right after the hash.
var hashTag = regexp.MustCompile(`(?:^|[\s(])#([\p{L}\p{N}_][\p{L}\p{N}_/-]*)`)

// inlineTags collects #tags outside fenced code.
func inlineTags(body string) []string {
	var (
		tags    []string
		inFence bool
	)
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		for _, m := range hashTag.FindAllStringSubmatch(line, -1) {
			tags = append(tags, m[1])
		}
	}
	return tags
}
