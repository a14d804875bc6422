package store

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// wordPattern matches runs of letters, digits and underscores in any script.
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// maxQueryTerms bounds the OR expression sent to FTS5.
const maxQueryTerms = 32

// stopWords are dropped at index and query time. FTS5's BM25 already
// discounts common terms; these are the ones too common to be worth storing.
var stopWords = map[string]struct{}{
	"an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "but": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {},
	"were": {}, "with": {},
}

// Tokenize lowercases text into index terms. Identifiers written in
// camelCase or snake_case yield the whole word and each part, so both
// "getUserById" and "user" find the same chunk. Terms shorter than two
// runes and stop words are dropped.
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range wordPattern.FindAllString(text, -1) {
		parts := SplitIdentifier(word)
		whole := strings.ToLower(strings.Trim(word, "_"))
		if len(parts) > 1 && keep(whole) {
			tokens = append(tokens, whole)
		}
		for _, p := range parts {
			if lower := strings.ToLower(p); keep(lower) {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func keep(token string) bool {
	if utf8.RuneCountInString(token) < 2 {
		return false
	}
	_, stop := stopWords[token]
	return !stop
}

// SplitIdentifier splits snake_case, then camelCase/PascalCase.
func SplitIdentifier(token string) []string {
	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, SplitCamelCase(part)...)
		}
	}
	return result
}

// SplitCamelCase splits camelCase and PascalCase words, keeping acronyms
// together: "parseHTTPRequest" -> ["parse", "HTTP", "Request"].
func SplitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var (
		result  []string
		current strings.Builder
	)
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if (prevIsLower || nextIsLower) && current.Len() > 0 {
				result = append(result, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// MatchExpression turns free text into an FTS5 query: distinct terms,
// quoted, OR'ed. It returns "" when nothing searchable remains.
func MatchExpression(query string) (string, []string) {
	seen := make(map[string]struct{})
	var terms []string
	for _, t := range Tokenize(query) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
		if len(terms) == maxQueryTerms {
			break
		}
	}
	if len(terms) == 0 {
		return "", nil
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR "), terms
}
