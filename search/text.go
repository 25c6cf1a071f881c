package search

import (
	"strings"
	"unicode"
)

// Words ignored when checking a chunk for the question's keywords
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "be": {}, "is": {}, "are": {}, "was": {},
	"to": {}, "of": {}, "and": {}, "in": {}, "that": {}, "have": {}, "it": {},
	"for": {}, "not": {}, "on": {}, "with": {}, "as": {}, "you": {}, "do": {},
	"at": {}, "this": {}, "but": {}, "by": {}, "from": {}, "what": {}, "which": {},
	"who": {}, "how": {}, "did": {}, "does": {}, "my": {}, "i": {}, "when": {},
	"where": {},
}

// keywords lowercases text, splits it on anything that is not a letter or
// digit and drops stop words.
func keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	filtered := fields[:0]
	for _, word := range fields {
		if _, stop := stopWords[word]; !stop {
			filtered = append(filtered, word)
		}
	}
	return filtered
}

// containsAll reports whether every word appears in document.
// An empty word list never matches.
func containsAll(document string, words []string) bool {
	if len(words) == 0 {
		return false
	}
	present := make(map[string]struct{})
	for _, word := range keywords(document) {
		present[word] = struct{}{}
	}
	for _, word := range words {
		if _, ok := present[word]; !ok {
			return false
		}
	}
	return true
}
