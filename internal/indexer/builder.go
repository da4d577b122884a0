// Package indexer turns an ordered corpus of raw passages into the Index
// Artifact Pair: a posting list over canonical tokens and one record per
// document carrying its feature vector.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/tokenizer"
)

// Builder is stateless between builds apart from its embedder's random
// source; the same Builder may be reused for every rebuild.
type Builder struct {
	tokenize tokenizer.Func
	embedder Embedder
	logger   *slog.Logger
}

// NewBuilder creates a Builder that indexes with tokenize and embeds with
// embedder. A nil tokenize means tokenizer.Canonical.
func NewBuilder(tokenize tokenizer.Func, embedder Embedder) *Builder {
	if tokenize == nil {
		tokenize = tokenizer.Canonical
	}
	return &Builder{
		tokenize: tokenize,
		embedder: embedder,
		logger:   slog.Default().With("component", "indexer"),
	}
}

// Build assigns ids 1..n in input order, posts each distinct token of every
// document once, and attaches a feature vector. It only fails when ctx is
// done.
func (b *Builder) Build(ctx context.Context, sources []Source) (*artifact.Pair, error) {
	start := time.Now()
	pair := &artifact.Pair{
		Postings: make(artifact.PostingList),
		Records:  make([]artifact.Record, 0, len(sources)),
	}
	var totalTokens int
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("build aborted after %d documents: %w", i, err)
		}
		id := i + 1
		tokens := b.tokenize(src.Text)
		totalTokens += len(tokens)

		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			pair.Postings[tok] = append(pair.Postings[tok], id)
		}

		pair.Records = append(pair.Records, artifact.Record{
			Document: artifact.Document{
				ID:               id,
				Text:             src.Text,
				Title:            src.Label,
				StartTimeSeconds: src.StartTimeSeconds,
				ExternalRef:      src.ExternalRef,
			},
			Embedding: b.embedder.Embed(tokens),
		})
		b.logger.Debug("document indexed",
			"doc_id", id,
			"title", src.Label,
			"token_count", len(tokens),
			"distinct_terms", len(seen),
		)
	}
	b.logger.Info("index built",
		"documents", len(pair.Records),
		"terms", len(pair.Postings),
		"tokens", totalTokens,
		"embedding", b.embedder.Name(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return pair, nil
}
