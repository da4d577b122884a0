package engine

import "math"

// tfidf scores each document as the sum over query tokens of
// tf(t, d) * ln(N / df(t)). A term absent from the frequency table counts as
// df = 1; a term found in every document has idf 0 and adds nothing.
// Repeated query tokens are counted once per occurrence.
func (s *snapshot) tfidf(tokens []string) []Result {
	n := float64(s.size())
	idf := make([]float64, len(tokens))
	for i, tok := range tokens {
		df := s.docFreq[tok]
		if df == 0 {
			df = 1
		}
		if v := math.Log(n / float64(df)); v > 0 {
			idf[i] = v
		}
	}

	results := make([]Result, 0)
	for i, rec := range s.pair.Records {
		length := s.tokenLens[i]
		if length == 0 {
			continue
		}
		counts := s.termCounts[i]
		var score float64
		for j, tok := range tokens {
			if idf[j] == 0 {
				continue
			}
			if c := counts[tok]; c > 0 {
				score += float64(c) / float64(length) * idf[j]
			}
		}
		if score > 0 {
			results = append(results, Result{Document: rec.Document, Score: score})
		}
	}
	sortByScore(results)
	return results
}
