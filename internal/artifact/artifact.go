// Package artifact defines the Index Artifact Pair produced by the indexer
// and consumed by the query engine: the posting list and the ordered
// per-document records with their feature vectors. It also provides the
// stores that persist a pair to disk or to PostgreSQL.
package artifact

import (
	"fmt"
	"math"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/errors"
)

const (
	PostingsFile = "boolean_index.json"
	RecordsFile  = "vector_data.json"
	ManifestFile = "manifest.json"
)

// Document is a passage as it was ingested. It never changes after a build.
type Document struct {
	ID               int     `json:"id"`
	Text             string  `json:"text"`
	Title            string  `json:"title"`
	StartTimeSeconds float64 `json:"startTimeSeconds"`
	ExternalRef      string  `json:"externalRef"`
}

// PlaybackURL links to the source video at the passage start, or returns ""
// when the document has no external reference.
func (d Document) PlaybackURL() string {
	if d.ExternalRef == "" {
		return ""
	}
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s&t=%ds", d.ExternalRef, int64(math.Floor(d.StartTimeSeconds)))
}

// Record is a Document with its feature vector attached.
type Record struct {
	Document
	Embedding []float64 `json:"embedding"`
}

// PostingList maps a normalised term to the ids of the documents containing
// it, in the order they were first seen.
type PostingList map[string][]int

// Pair is one immutable snapshot of the index.
type Pair struct {
	Postings PostingList
	Records  []Record
}

// Manifest describes a persisted Pair.
type Manifest struct {
	Generation  int64     `json:"generation"`
	CreatedAt   time.Time `json:"createdAt"`
	Documents   int       `json:"documents"`
	Terms       int       `json:"terms"`
	PostingsCRC uint32    `json:"postingsCrc"`
	RecordsCRC  uint32    `json:"recordsCrc"`
}

// Validate checks the structural invariants a loaded pair must satisfy:
// record ids are positive and unique, posting lists carry no duplicate ids,
// and every posted id refers to a record.
func (p *Pair) Validate() error {
	ids := make(map[int]struct{}, len(p.Records))
	for i, r := range p.Records {
		if r.ID <= 0 {
			return apperrors.Newf(apperrors.ErrLoad, 500, "record %d has non-positive id %d", i, r.ID)
		}
		if _, dup := ids[r.ID]; dup {
			return apperrors.Newf(apperrors.ErrLoad, 500, "duplicate record id %d", r.ID)
		}
		ids[r.ID] = struct{}{}
	}
	for term, posted := range p.Postings {
		seen := make(map[int]struct{}, len(posted))
		for _, id := range posted {
			if _, ok := ids[id]; !ok {
				return apperrors.Newf(apperrors.ErrLoad, 500, "term %q references unknown document %d", term, id)
			}
			if _, dup := seen[id]; dup {
				return apperrors.Newf(apperrors.ErrLoad, 500, "term %q lists document %d twice", term, id)
			}
			seen[id] = struct{}{}
		}
	}
	return nil
}

// Empty returns a pair with no documents and no terms.
func Empty() *Pair {
	return &Pair{Postings: PostingList{}, Records: []Record{}}
}
