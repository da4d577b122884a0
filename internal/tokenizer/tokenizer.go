// Package tokenizer provides the text splitting rules shared by the indexer
// and the query engine. Canonical lower-cases input and splits on runs of
// non-word characters; Whitespace and SingleSpace reproduce the looser
// query-side splitting used by the legacy scoring paths.
package tokenizer

import (
	"fmt"
	"strings"
	"unicode"
)

// Func turns raw text into normalised terms.
type Func func(text string) []string

// Mode selects which Func each index structure and query strategy uses.
type Mode string

const (
	// ModeLegacy keeps the per-structure splitting of the original artifacts:
	// the posting list is canonical, frequency statistics split on whitespace
	// and boolean queries split on single spaces.
	ModeLegacy Mode = "legacy"
	// ModeCanonical threads Canonical through every structure and strategy.
	ModeCanonical Mode = "canonical"
)

// Scheme binds a tokenizer to every place text gets split.
type Scheme struct {
	Mode Mode
	// Index builds the posting list and sizes random feature vectors.
	Index Func
	// Frequency builds the document frequency table and per-document term
	// frequencies for TF-IDF.
	Frequency Func
	// BooleanQuery, ScoredQuery split query text for the boolean strategy and
	// for the TF-IDF and cosine strategies respectively.
	BooleanQuery Func
	ScoredQuery  Func
}

// NewScheme returns the Scheme for mode. An empty mode means legacy.
func NewScheme(mode Mode) (Scheme, error) {
	switch mode {
	case ModeLegacy, "":
		return Scheme{
			Mode:         ModeLegacy,
			Index:        Canonical,
			Frequency:    Whitespace,
			BooleanQuery: SingleSpace,
			ScoredQuery:  Whitespace,
		}, nil
	case ModeCanonical:
		return Scheme{
			Mode:         ModeCanonical,
			Index:        Canonical,
			Frequency:    Canonical,
			BooleanQuery: Canonical,
			ScoredQuery:  Canonical,
		}, nil
	default:
		return Scheme{}, fmt.Errorf("unknown tokenizer mode %q", mode)
	}
}

// Canonical lower-cases text and splits it on every rune outside
// [A-Za-z0-9_]. Non-ASCII letters are separators too. Empty tokens are
// dropped; duplicates are kept.
func Canonical(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), isNonWord)
}

// Whitespace lower-cases text and splits it on runs of whitespace.
// Punctuation stays attached to its word.
func Whitespace(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// SingleSpace lower-cases text and splits it on each single space. Adjacent
// spaces produce empty tokens, which never match an index term.
func SingleSpace(text string) []string {
	return strings.Split(strings.ToLower(text), " ")
}

// Clean lower-cases text and strips everything except ASCII letters, digits
// and whitespace.
func Clean(text string) string {
	text = strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CleanFields splits Clean(text) on whitespace. Transcript corpora index
// their posting list with it.
func CleanFields(text string) []string {
	return strings.Fields(Clean(text))
}

// Count returns how often each term occurs in tokens.
func Count(tokens []string) map[string]int {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}

func isNonWord(r rune) bool {
	return !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_')
}
