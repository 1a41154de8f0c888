// Package textutil holds small text helpers shared by the curiosity filter,
// belief similarity search, and skill relevance scoring.
package textutil

import "strings"

// Tokenize lowercases text and splits it into word tokens, dropping
// punctuation-only fragments.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	tokens := fields[:0]
	for _, f := range fields {
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// TokenSet returns the distinct tokens of text.
func TokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range Tokenize(text) {
		set[tok] = true
	}
	return set
}

// OverlapRatio returns the fraction of a's distinct tokens that also occur in
// b. Returns 0 when a has no tokens.
func OverlapRatio(a, b string) float64 {
	setA := TokenSet(a)
	if len(setA) == 0 {
		return 0
	}
	setB := TokenSet(b)
	overlap := 0
	for tok := range setA {
		if setB[tok] {
			overlap++
		}
	}
	return float64(overlap) / float64(len(setA))
}

// SimilarityScore returns the Jaccard similarity of the token sets.
func SimilarityScore(a, b string) float64 {
	setA, setB := TokenSet(a), TokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// NormalizeWhitespace collapses runs of whitespace to single spaces.
func NormalizeWhitespace(value string) string {
	if value == "" {
		return ""
	}
	return strings.Join(strings.Fields(value), " ")
}
