// Package chunk splits document text into overlapping, paragraph-aware
// segments of bounded size. Sizes are measured in runes.
package chunk

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Configuration defaults. A zero MaxSize falls back to DefaultMaxSize; a
// zero Overlap means no overlap.
const (
	DefaultMaxSize = 512
	DefaultOverlap = 128
)

// paragraphSep is the join used between packed paragraphs.
const paragraphSep = "\n\n"

// blankLinePattern matches one or more blank lines between paragraphs.
var blankLinePattern = regexp.MustCompile(`\n[ \t]*\n\s*`)

// Options configures a Chunker.
type Options struct {
	// MaxSize bounds every chunk, overlap included.
	MaxSize int
	// Overlap is the most a chunk repeats from the end of its predecessor.
	// Values >= MaxSize are clamped to MaxSize/4.
	Overlap int
}

// Chunker is stateless and safe for concurrent use.
type Chunker struct {
	maxSize int
	overlap int
	// budget bounds a single unit so that overlap plus separator still fits.
	budget int
}

// New returns a Chunker for opts, applying defaults.
func New(opts Options) *Chunker {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}
	if opts.Overlap >= opts.MaxSize {
		opts.Overlap = opts.MaxSize / 4
	}

	c := &Chunker{maxSize: opts.MaxSize, overlap: opts.Overlap}
	c.budget = c.maxSize - c.overlap - utf8.RuneCountInString(paragraphSep)
	if c.budget < 1 {
		c.overlap = 0
		c.budget = c.maxSize
	}
	return c
}

// MaxSize returns the effective maximum chunk size.
func (c *Chunker) MaxSize() int { return c.maxSize }

// Overlap returns the effective overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split is shorthand for New(Options{maxSize, overlap}).Split(text).
func Split(text string, maxSize, overlap int) []string {
	return New(Options{MaxSize: maxSize, Overlap: overlap}).Split(text)
}

// unit is a paragraph, or a piece of one, plus the separator that preceded it.
type unit struct {
	text string
	sep  string
}

// Split cuts text into chunks. Paragraphs are packed greedily; a paragraph
// that cannot fit on its own is hard cut, preferring whitespace. Every chunk
// after the first starts with a suffix of the chunk before it of at most
// Overlap runes. Identical input always yields identical output.
func (c *Chunker) Split(text string) []string {
	units := c.units(text)
	if len(units) == 0 {
		return nil
	}

	var (
		chunks []string
		prefix string // overlap carried from the previous chunk, with separator
		body   strings.Builder
	)

	emit := func() {
		chunk := prefix + body.String()
		chunks = append(chunks, chunk)
		body.Reset()
		prefix = ""
		if tail := c.tail(chunk); tail != "" {
			prefix = tail
		}
	}

	for _, u := range units {
		if body.Len() == 0 {
			if prefix != "" {
				prefix += u.sep
			}
			body.WriteString(u.text)
			continue
		}

		size := runeLen(prefix) + runeLen(body.String()) + runeLen(u.sep) + runeLen(u.text)
		if size <= c.maxSize {
			body.WriteString(u.sep)
			body.WriteString(u.text)
			continue
		}

		emit()
		if prefix != "" {
			prefix += u.sep
		}
		body.WriteString(u.text)
	}
	if body.Len() > 0 {
		emit()
	}
	return chunks
}

// units normalises text into paragraph units no longer than the budget.
func (c *Chunker) units(text string) []unit {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []unit
	for _, para := range mergeFences(paragraphs(text)) {
		for i, piece := range c.cut(para) {
			if i == 0 {
				piece.sep = paragraphSep
			}
			out = append(out, piece)
		}
	}
	return out
}

// cut hard-splits a paragraph longer than the budget. A cut at whitespace
// is rejoined with a space; a mid-word cut with nothing.
func (c *Chunker) cut(para string) []unit {
	runes := []rune(para)
	if len(runes) <= c.budget {
		return []unit{{text: para}}
	}

	var out []unit
	sep := ""
	for len(runes) > c.budget {
		at := c.budget
		next := at
		nextSep := ""
		for i := c.budget; i > c.budget*3/4; i-- {
			if unicode.IsSpace(runes[i]) {
				at = i
				next = i + 1
				nextSep = " "
				break
			}
		}

		piece := strings.TrimRightFunc(string(runes[:at]), unicode.IsSpace)
		if piece == "" {
			piece = string(runes[:c.budget])
			next = c.budget
			nextSep = ""
		}
		out = append(out, unit{text: piece, sep: sep})

		runes = []rune(strings.TrimLeftFunc(string(runes[next:]), unicode.IsSpace))
		sep = nextSep
	}
	if len(runes) > 0 {
		out = append(out, unit{text: string(runes), sep: sep})
	}
	return out
}

// tail returns the overlap carried into the next chunk: the last Overlap
// runes of chunk, advanced to a word boundary when one exists.
func (c *Chunker) tail(chunk string) string {
	if c.overlap == 0 {
		return ""
	}
	full := []rune(chunk)
	runes := full
	if len(full) > c.overlap {
		start := len(full) - c.overlap
		runes = full[start:]
		// window starts mid-word: drop the partial word if anything remains
		if !unicode.IsSpace(full[start-1]) {
			for i, r := range runes {
				if unicode.IsSpace(r) && i+1 < len(runes) {
					runes = runes[i+1:]
					break
				}
			}
		}
	}
	return strings.TrimLeftFunc(string(runes), unicode.IsSpace)
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range blankLinePattern.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mergeFences rejoins paragraphs that belong to one fenced code block, so a
// block is only split when it alone exceeds the budget.
func mergeFences(paras []string) []string {
	var (
		out  []string
		open bool
		buf  strings.Builder
	)
	for _, p := range paras {
		fences := strings.Count(p, "```")
		if open {
			buf.WriteString(paragraphSep)
			buf.WriteString(p)
			if fences%2 == 1 {
				out = append(out, buf.String())
				buf.Reset()
				open = false
			}
			continue
		}
		if fences%2 == 1 {
			open = true
			buf.WriteString(p)
			continue
		}
		out = append(out, p)
	}
	if open {
		out = append(out, buf.String())
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
