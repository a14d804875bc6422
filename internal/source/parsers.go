package source

import (
	"encoding/json"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// parseArchive handles long-lived documents: front matter, then the first
// markdown heading, then the file name as title.
func parseArchive(doc *Document, rel, raw string) {
	fm, body, ok := splitFrontMatter(raw)
	if ok {
		applyFrontMatter(&doc.Hints, fm)
	}
	doc.Text = body
	if doc.Hints.Title == "" && isMarkdown(rel) {
		doc.Hints.Title = markdownTitle(body)
	}
	if doc.Hints.Title == "" {
		doc.Hints.Title = stem(rel)
	}
}

// notePrefix is a leading ISO date in a note's file name.
var notePrefix = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)

// parseNote handles dated notes: the date comes from the file name when it
// has one, and inline #tags join the front matter tags.
func parseNote(doc *Document, rel, raw string) {
	fm, body, ok := splitFrontMatter(raw)
	name := path.Base(rel)
	if m := notePrefix.FindStringSubmatch(name); m != nil {
		if t, err := time.Parse("2006-01-02", m[1]); err == nil {
			doc.Hints.Timestamp = &t
		}
	}
	if ok {
		applyFrontMatter(&doc.Hints, fm)
	}
	doc.Hints.Tags = mergeTags(doc.Hints.Tags, inlineTags(body)...)
	doc.Text = body

	if doc.Hints.Title == "" && isMarkdown(rel) {
		doc.Hints.Title = markdownTitle(body)
	}
	if doc.Hints.Title == "" {
		title := strings.TrimLeft(notePrefix.ReplaceAllString(stem(rel), ""), " -_")
		if title == "" {
			title = stem(rel)
		}
		doc.Hints.Title = title
	}
}

// lineTimestamp is a timestamp at the start of a log line, optionally
// bracketed.
var lineTimestamp = regexp.MustCompile(
	`^\[?(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(?::\d{2}(?:[.,]\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?)`)

// jsonTimeKeys are probed, in order, on JSON-lines records.
var jsonTimeKeys = []string{"timestamp", "time", "ts", "@timestamp", "date"}

// parseStream handles append-only logs. The earliest and latest line
// timestamps bound the file; the first one is its timestamp.
func parseStream(doc *Document, rel, raw string) {
	doc.Text = raw
	doc.Hints.Title = path.Base(rel)

	var (
		first, last *time.Time
		lines       int
	)
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines++
		t, ok := streamLineTime(line)
		if !ok {
			continue
		}
		if first == nil {
			first = &t
		}
		last = &t
	}

	doc.Hints.Metadata = map[string]string{"lines": strconv.Itoa(lines)}
	if first != nil {
		doc.Hints.Timestamp = first
		doc.Hints.Metadata["last_timestamp"] = last.UTC().Format(time.RFC3339)
	}
}

func streamLineTime(line string) (time.Time, bool) {
	if m := lineTimestamp.FindStringSubmatch(line); m != nil {
		return parseTime(strings.Replace(m[1], ",", ".", 1))
	}
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return time.Time{}, false
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return time.Time{}, false
	}
	for _, k := range jsonTimeKeys {
		switch v := rec[k].(type) {
		case string:
			if t, ok := parseTime(v); ok {
				return t, true
			}
		case float64:
			// epoch seconds or milliseconds
			if v > 1e12 {
				return time.UnixMilli(int64(v)).UTC(), true
			}
			if v > 0 {
				return time.Unix(int64(v), 0).UTC(), true
			}
		}
	}
	return time.Time{}, false
}

// parseCode handles source and config trees. The title is the path within
// the tree; the language goes to metadata.
func parseCode(doc *Document, rel, raw string) {
	doc.Text = raw
	doc.Hints.Title = rel
	doc.Hints.Metadata = map[string]string{}
	if lang := DetectLanguage(rel); lang != "" {
		doc.Hints.Metadata["language"] = lang
		doc.Hints.Tags = []string{lang}
	}
	if isGenerated(raw) {
		doc.Hints.Metadata["generated"] = "true"
	}
}

func isMarkdown(rel string) bool {
	switch strings.ToLower(path.Ext(rel)) {
	case ".md", ".markdown", ".mdx":
		return true
	}
	return false
}

// stem is the file name without its extension.
func stem(rel string) string {
	name := path.Base(rel)
	return strings.TrimSuffix(name, path.Ext(name))
}

// generatedMarkers flag machine-written files within their first kilobyte.
var generatedMarkers = []string{
	"// Code generated",
	"// DO NOT EDIT",
	"/* DO NOT EDIT",
	"# Generated by",
	"<!-- AUTO-GENERATED -->",
	"// Generated by",
	"/* Generated by",
}

func isGenerated(raw string) bool {
	head := raw
	if len(head) > 1024 {
		head = head[:1024]
	}
	for _, m := range generatedMarkers {
		if strings.Contains(head, m) {
			return true
		}
	}
	return false
}
