package indexer

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/tokenizer"
)

func sourcesOf(texts ...string) []Source {
	out := make([]Source, len(texts))
	for i, t := range texts {
		out[i] = Source{Label: fmt.Sprintf("doc-%d", i+1), Text: t}
	}
	return out
}

func build(t *testing.T, embedder Embedder, texts ...string) *artifact.Pair {
	t.Helper()
	pair, err := NewBuilder(tokenizer.Canonical, embedder).Build(context.Background(), sourcesOf(texts...))
	require.NoError(t, err)
	return pair
}

func TestBuild_CatDogCorpus(t *testing.T) {
	pair := build(t, NewRandomEmbedder(1), "the cat sat", "the dog ran")

	assert.Equal(t, artifact.PostingList{
		"the": {1, 2},
		"cat": {1},
		"sat": {1},
		"dog": {2},
		"ran": {2},
	}, pair.Postings)

	require.Len(t, pair.Records, 2)
	assert.Equal(t, 1, pair.Records[0].ID)
	assert.Equal(t, "the cat sat", pair.Records[0].Text)
	assert.Equal(t, "doc-1", pair.Records[0].Title)
	assert.Equal(t, 2, pair.Records[1].ID)
}

func TestBuild_PostingsAreDistinctAndInCorpusOrder(t *testing.T) {
	pair := build(t, NewRandomEmbedder(1), "b a b a", "a", "c, c! b")

	assert.Equal(t, []int{1, 2}, pair.Postings["a"])
	assert.Equal(t, []int{1, 3}, pair.Postings["b"])
	assert.Equal(t, []int{3}, pair.Postings["c"])
}

func TestBuild_ReferentialIntegrity(t *testing.T) {
	pair := build(t, NewRandomEmbedder(7),
		"Alpha beta, gamma.", "", "beta-delta epsilon", "ALPHA alpha", "zeta")

	require.NoError(t, pair.Validate())
	ids := make(map[int]bool)
	for _, r := range pair.Records {
		ids[r.ID] = true
	}
	for term, posted := range pair.Postings {
		for _, id := range posted {
			assert.True(t, ids[id], "term %q references missing document %d", term, id)
		}
	}
}

func TestBuild_RandomEmbeddingLengthMatchesTokenCount(t *testing.T) {
	pair := build(t, NewRandomEmbedder(3), "one two two three", "", "x")

	assert.Len(t, pair.Records[0].Embedding, 4)
	assert.Len(t, pair.Records[1].Embedding, 0)
	assert.Len(t, pair.Records[2].Embedding, 1)
	for _, v := range pair.Records[0].Embedding {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}

func TestBuild_EmptyTextHasNoPostings(t *testing.T) {
	pair := build(t, NewRandomEmbedder(3), "", "  ...  ")
	assert.Empty(t, pair.Postings)
	assert.Len(t, pair.Records, 2)
}

func TestBuild_EmptyCorpus(t *testing.T) {
	pair := build(t, NewRandomEmbedder(3))
	assert.Empty(t, pair.Postings)
	assert.Empty(t, pair.Records)
	assert.NotNil(t, pair.Postings)
	assert.NotNil(t, pair.Records)
}

func TestBuild_RebuildIsIdempotentApartFromEmbeddings(t *testing.T) {
	texts := []string{"the cat sat", "the dog ran", "a cat and a dog"}
	first := build(t, NewRandomEmbedder(1), texts...)
	second := build(t, NewRandomEmbedder(2), texts...)

	assert.Equal(t, first.Postings, second.Postings)
	require.Len(t, second.Records, len(first.Records))
	for i := range first.Records {
		assert.Equal(t, first.Records[i].Document, second.Records[i].Document)
	}
}

func TestBuild_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewBuilder(nil, NewRandomEmbedder(1)).Build(ctx, sourcesOf("a"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_KeepsSourceMetadata(t *testing.T) {
	pair, err := NewBuilder(nil, NewHashingEmbedder(8)).Build(context.Background(), []Source{
		{Label: "Episode 1", Text: "hello", StartTimeSeconds: 62, ExternalRef: "vid"},
	})
	require.NoError(t, err)
	assert.Equal(t, artifact.Document{ID: 1, Text: "hello", Title: "Episode 1", StartTimeSeconds: 62, ExternalRef: "vid"},
		pair.Records[0].Document)
}

func TestHashingEmbedder(t *testing.T) {
	e := NewHashingEmbedder(16)
	assert.Equal(t, 16, e.Dimension())

	short := e.Embed([]string{"cat"})
	long := e.Embed([]string{"the", "cat", "sat", "on", "the", "mat"})
	require.Len(t, short, 16)
	require.Len(t, long, 16)

	var norm float64
	for _, v := range long {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)

	assert.Equal(t, short, e.Embed([]string{"cat"}), "hashing is deterministic")
	assert.Equal(t, make([]float64, 16), e.Embed(nil))
}

func TestNewHashingEmbedderDefaultsDimension(t *testing.T) {
	assert.Equal(t, 256, NewHashingEmbedder(0).Dimension())
}

func BenchmarkBuild(b *testing.B) {
	texts := make([]string, 500)
	for i := range texts {
		texts[i] = fmt.Sprintf("passage %d about distributed search engines and inverted indexes, term%d", i, i%37)
	}
	sources := sourcesOf(texts...)
	builder := NewBuilder(tokenizer.Canonical, NewHashingEmbedder(128))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := builder.Build(context.Background(), sources); err != nil {
			b.Fatal(err)
		}
	}
}
