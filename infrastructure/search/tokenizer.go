// Package search provides the in-memory keyword index used for hybrid
// retrieval: a code-aware tokenizer and an Okapi BM25 ranking structure.
package search

import (
	"strings"
	"unicode"
)

// Tokenize splits text into lowercase search tokens. Identifiers are broken
// on non-alphanumeric characters, underscores, and camelCase boundaries, so
// "parseHTTPHeader" and "parse_http_header" both yield the same tokens.
func Tokenize(text string) []string {
	var tokens []string
	var word []rune

	flush := func() {
		if len(word) == 0 {
			return
		}
		for _, part := range splitCamel(word) {
			if len(part) > 0 {
				tokens = append(tokens, strings.ToLower(string(part)))
			}
		}
		word = word[:0]
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word = append(word, r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// splitCamel breaks a word on lower→upper transitions and on the boundary
// between an acronym and a following word ("HTTPServer" → "HTTP", "Server"),
// and between letters and digit runs.
func splitCamel(word []rune) [][]rune {
	if len(word) == 0 {
		return nil
	}
	var parts [][]rune
	start := 0
	for i := 1; i < len(word); i++ {
		prev, cur := word[i-1], word[i]
		boundary := false
		switch {
		case unicode.IsLower(prev) && unicode.IsUpper(cur):
			boundary = true
		case unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(word) && unicode.IsLower(word[i+1]):
			boundary = true
		case unicode.IsDigit(prev) != unicode.IsDigit(cur):
			boundary = true
		}
		if boundary {
			parts = append(parts, word[start:i])
			start = i
		}
	}
	parts = append(parts, word[start:])
	return parts
}
