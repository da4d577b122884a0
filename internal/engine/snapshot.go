package engine

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/tokenizer"
)

// snapshot is the read-only view one query runs against. Everything derived
// from the artifact pair is computed once here, so queries never write.
type snapshot struct {
	generation int64
	// fingerprint is stable across processes; generation is not.
	fingerprint string
	pair        *artifact.Pair
	// lowerTexts[i], termCounts[i] and tokenLens[i] describe pair.Records[i].
	lowerTexts []string
	termCounts []map[string]int
	tokenLens  []int
	// docFreq is the Document Frequency Table over the frequency tokenizer.
	docFreq map[string]int
	// queryDim is the length of the first record's vector; the cosine query
	// vector is always this long.
	queryDim int
}

func newSnapshot(pair *artifact.Pair, scheme tokenizer.Scheme, cosineMatch string, generation int64) *snapshot {
	n := len(pair.Records)
	s := &snapshot{
		generation:  generation,
		fingerprint: fingerprint(pair, string(scheme.Mode), cosineMatch),
		pair:        pair,
		lowerTexts:  make([]string, n),
		termCounts:  make([]map[string]int, n),
		tokenLens:   make([]int, n),
		docFreq:     make(map[string]int),
	}
	for i, rec := range pair.Records {
		tokens := scheme.Frequency(rec.Text)
		counts := tokenizer.Count(tokens)
		s.lowerTexts[i] = strings.ToLower(rec.Text)
		s.termCounts[i] = counts
		s.tokenLens[i] = len(tokens)
		for term := range counts {
			s.docFreq[term]++
		}
	}
	if n > 0 {
		s.queryDim = len(pair.Records[0].Embedding)
	}
	return s
}

func (s *snapshot) size() int {
	return len(s.pair.Records)
}

// fingerprint hashes everything that decides a query's answer: the settings
// that change evaluation, the posting list in term order and every record
// including its embedding.
func fingerprint(pair *artifact.Pair, mode, cosineMatch string) string {
	d := xxhash.New()
	var buf []byte
	writeString := func(v string) {
		buf = binary.LittleEndian.AppendUint64(buf[:0], uint64(len(v)))
		d.Write(buf)
		d.WriteString(v)
	}
	writeUint := func(v uint64) {
		buf = binary.LittleEndian.AppendUint64(buf[:0], v)
		d.Write(buf)
	}

	writeString(mode)
	writeString(cosineMatch)

	terms := make([]string, 0, len(pair.Postings))
	for term := range pair.Postings {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	writeUint(uint64(len(terms)))
	for _, term := range terms {
		writeString(term)
		ids := pair.Postings[term]
		writeUint(uint64(len(ids)))
		for _, id := range ids {
			writeUint(uint64(id))
		}
	}

	writeUint(uint64(len(pair.Records)))
	for _, rec := range pair.Records {
		writeUint(uint64(rec.ID))
		writeString(rec.Text)
		writeString(rec.Title)
		writeUint(math.Float64bits(rec.StartTimeSeconds))
		writeString(rec.ExternalRef)
		writeUint(uint64(len(rec.Embedding)))
		for _, x := range rec.Embedding {
			writeUint(math.Float64bits(x))
		}
	}
	return fmt.Sprintf("%016x", d.Sum64())
}
