package engine

// boolean returns every document posted under at least one query token, in
// corpus order. Tokens missing from the posting list contribute nothing.
func (s *snapshot) boolean(tokens []string) []Result {
	matched := make(map[int]struct{})
	for _, tok := range tokens {
		for _, id := range s.pair.Postings[tok] {
			matched[id] = struct{}{}
		}
	}
	results := make([]Result, 0, len(matched))
	if len(matched) == 0 {
		return results
	}
	for _, rec := range s.pair.Records {
		if _, ok := matched[rec.ID]; ok {
			results = append(results, Result{Document: rec.Document})
		}
	}
	return results
}
