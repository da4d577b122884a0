package engine

import (
	"math"
	"strings"
)

// Cosine matching modes: which documents feed the synthetic query vector.
const (
	MatchSubstring = "substring"
	MatchToken     = "token"
)

// queryBoost is the weight a matching document's vector adds to the query
// vector per query token.
const queryBoost = 0.1

// cosine builds a query vector of the first document's dimensionality from
// the vectors of documents matching each query token, then ranks every
// document by cosine similarity to it.
//
// Vectors of different lengths are compared over their common prefix only:
// components past min(len(a), len(b)) are ignored in the dot product and in
// both norms.
func (s *snapshot) cosine(tokens []string, match string) []Result {
	results := make([]Result, 0)
	if s.queryDim == 0 {
		return results
	}
	query := make([]float64, s.queryDim)
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		for i, rec := range s.pair.Records {
			if !s.matches(i, tok, match) {
				continue
			}
			n := min(len(query), len(rec.Embedding))
			for k := 0; k < n; k++ {
				query[k] += queryBoost * rec.Embedding[k]
			}
		}
	}
	normalize(query)

	for _, rec := range s.pair.Records {
		if sim := cosineSimilarity(query, rec.Embedding); sim > 0 {
			results = append(results, Result{Document: rec.Document, Score: sim})
		}
	}
	sortByScore(results)
	return results
}

func (s *snapshot) matches(i int, tok, match string) bool {
	if match == MatchToken {
		return s.termCounts[i][tok] > 0
	}
	return strings.Contains(s.lowerTexts[i], tok)
}

// normalize scales v to unit length in place; a zero vector is left as is.
func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
}

// cosineSimilarity over the overlapping index range of a and b. It returns 0
// when either side has no magnitude there.
func cosineSimilarity(a, b []float64) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
