// Package keyword implements an in-memory BM25 inverted index over chunk
// text, with incremental indexing and tombstoned deletion.
package keyword

import (
	"strings"
	"unicode"
)

// stopwords are excluded from both indexing and query tokenization. The
// same set filters topic extraction so the two stay consistent.
var stopwords = map[string]struct{}{
	"a": {}, "about": {}, "after": {}, "all": {}, "also": {}, "an": {},
	"and": {}, "any": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"because": {}, "been": {}, "but": {}, "by": {}, "can": {}, "could": {},
	"did": {}, "do": {}, "does": {}, "for": {}, "from": {}, "had": {},
	"has": {}, "have": {}, "he": {}, "her": {}, "his": {}, "how": {},
	"i": {}, "if": {}, "in": {}, "into": {}, "is": {}, "it": {}, "its": {},
	"just": {}, "me": {}, "more": {}, "most": {}, "my": {}, "no": {},
	"not": {}, "of": {}, "on": {}, "only": {}, "or": {}, "other": {},
	"our": {}, "out": {}, "over": {}, "she": {}, "so": {}, "some": {},
	"such": {}, "than": {}, "that": {}, "the": {}, "their": {}, "them": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "to": {},
	"up": {}, "us": {}, "was": {}, "we": {}, "were": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {},
	"will": {}, "with": {}, "would": {}, "you": {}, "your": {},
}

// IsStopword reports whether the lowercased token is a stopword.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

// Tokenize lowercases text, splits on non-alphanumeric runes, and drops
// stopwords and single-character tokens. A query that tokenizes to nothing
// is valid input: callers treat it as "no keyword signal".
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if IsStopword(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
