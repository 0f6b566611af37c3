package chunker

import "strings"

// TokenCounter reports the token length of a text. The same counter must be
// used for chunking and for any limit compared against chunk sizes.
type TokenCounter func(text string) int

// CountTokens is the default counter. It approximates sub-word tokenization:
// each whitespace-separated word contributes one token per started run of
// four characters, so "internationalization" counts as 5 tokens and "a" as 1.
func CountTokens(text string) int {
	total := 0
	for _, word := range strings.Fields(text) {
		n := len(word)
		total += (n + 3) / 4
	}
	return total
}

// CountWords counts whitespace-separated words. Useful in tests where exact
// thresholds matter more than sub-word fidelity.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
