//go:build ignore

// Package main generates a synthetic strata project for benchmarking: dated
// notes, archived docs, chat logs and Go sources, plus a strata.yaml that
// indexes all four.
//
// Usage: go run scripts/generate-corpus.go -files 1000 -output testdata/bench
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/strata/internal/config"
)

var (
	numFiles  = flag.Int("files", 1000, "Number of files to generate across all sources")
	outputDir = flag.String("output", "testdata/bench", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var (
	topics = []string{"billing", "deploy", "cache", "search", "auth", "backup", "invoice", "queue",
		"ledger", "metrics", "gateway", "scheduler", "storage", "replica", "tenant", "webhook"}
	verbs = []string{"retry", "rotate", "migrate", "throttle", "index", "export", "rebuild",
		"audit", "compact", "shard", "warm", "drain"}
	people = []string{"alice", "bob", "carol", "dmitri", "eun", "farah"}
)

var rng *rand.Rand

func pick(pool []string) string { return pool[rng.Intn(len(pool))] }

func title(s string) string { return strings.ToUpper(s[:1]) + s[1:] }

func sentence() string {
	return fmt.Sprintf("We need to %s the %s %s before the %s review.",
		pick(verbs), pick(topics), pick([]string{"service", "job", "table", "pipeline"}), pick(topics))
}

func paragraph(n int) string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = sentence()
	}
	return strings.Join(lines, " ")
}

func write(rel, content string) error {
	p := filepath.Join(*outputDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(content), 0o644)
}

func note(i int, day time.Time) error {
	topic := pick(topics)
	body := fmt.Sprintf("# %s notes\n\n%s\n\n%s #%s\n", title(topic), paragraph(4), paragraph(3), topic)
	return write(fmt.Sprintf("notes/%s-%s-%d.md", day.Format("2006-01-02"), topic, i), body)
}

func doc(i int) error {
	topic := pick(topics)
	var b strings.Builder
	fmt.Fprintf(&b, "---\ntitle: %s handbook %d\nauthor: %s\ntags: [%s, handbook]\n---\n\n", topic, i, pick(people), topic)
	for s := range 3 {
		fmt.Fprintf(&b, "## Section %d\n\n%s\n\n", s+1, paragraph(5))
	}
	return write(fmt.Sprintf("docs/%s/handbook-%d.md", topic, i), b.String())
}

func chatLog(i int, day time.Time) error {
	var b strings.Builder
	ts := day.Add(9 * time.Hour)
	for range 40 {
		ts = ts.Add(time.Duration(rng.Intn(300)) * time.Second)
		fmt.Fprintf(&b, "%s %s: %s\n", ts.Format(time.RFC3339), pick(people), sentence())
	}
	return write(fmt.Sprintf("chat/%s-%d.log", day.Format("2006-01-02"), i), b.String())
}

func goFile(i int) error {
	topic := pick(topics)
	verb := pick(verbs)
	name := title(verb) + title(topic)
	src := fmt.Sprintf(`package %s

import "context"

// %s will %s the %s records in batches.
func %s%d(ctx context.Context, batch int) (int, error) {
	done := 0
	for done < batch {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}
`, topic, name, verb, topic, name, i)
	return write(fmt.Sprintf("src/%s/%s_%d.go", topic, verb, i), src)
}

func writeConfig() error {
	cfg := config.NewConfig()
	cfg.DataDir = ".strata"
	cfg.Sources = map[string]config.SourceConfig{
		"docs":    {Type: "archive", Root: "docs"},
		"journal": {Type: "note", Root: "notes"},
		"chat":    {Type: "stream", Root: "chat"},
		"src":     {Type: "code", Root: "src"},
	}
	return cfg.WriteYAML(filepath.Join(*outputDir, "strata.yaml"))
}

func main() {
	flag.Parse()
	rng = rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	counts := map[string]int{}
	for i := range *numFiles {
		day := start.AddDate(0, 0, i/4)
		var (
			kind string
			err  error
		)
		switch i % 4 {
		case 0:
			kind, err = "note", note(i, day)
		case 1:
			kind, err = "archive", doc(i)
		case 2:
			kind, err = "stream", chatLog(i, day)
		default:
			kind, err = "code", goFile(i)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate %s %d: %v\n", kind, i, err)
			os.Exit(1)
		}
		counts[kind]++
	}
	if err := writeConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "write strata.yaml: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d files in %s (notes %d, archive %d, stream %d, code %d)\n",
		*numFiles, *outputDir, counts["note"], counts["archive"], counts["stream"], counts["code"])
	fmt.Printf("Index with: strata --config %s sync\n", filepath.Join(*outputDir, "strata.yaml"))
}
