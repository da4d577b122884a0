package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/errors"
)

func samplePair() *Pair {
	return &Pair{
		Postings: PostingList{
			"the": {1, 2},
			"cat": {1},
			"dog": {2},
		},
		Records: []Record{
			{Document: Document{ID: 1, Text: "the cat", Title: "a"}, Embedding: []float64{0.1, 0.2}},
			{Document: Document{ID: 2, Text: "the dog", Title: "b", StartTimeSeconds: 61.7, ExternalRef: "abc123"}, Embedding: []float64{0.3, 0.4}},
		},
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "data"))
	pair := samplePair()

	manifest, err := store.Save(context.Background(), pair)
	require.NoError(t, err)
	assert.Equal(t, 2, manifest.Documents)
	assert.Equal(t, 3, manifest.Terms)
	assert.NotZero(t, manifest.Generation)

	loaded, loadedManifest, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pair.Postings, loaded.Postings)
	assert.Equal(t, pair.Records, loaded.Records)
	assert.Equal(t, manifest.Generation, loadedManifest.Generation)

	for _, name := range []string{PostingsFile, RecordsFile, ManifestFile} {
		_, err := os.Stat(filepath.Join(store.Dir(), name+".tmp"))
		assert.True(t, os.IsNotExist(err), "temp file %s left behind", name)
	}
}

func TestFileStore_RecordFieldNames(t *testing.T) {
	store := NewFileStore(t.TempDir())
	_, err := store.Save(context.Background(), samplePair())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(store.Dir(), RecordsFile))
	require.NoError(t, err)
	for _, field := range []string{`"id"`, `"text"`, `"title"`, `"startTimeSeconds"`, `"externalRef"`, `"embedding"`} {
		assert.Contains(t, string(data), field)
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	store := NewFileStore(t.TempDir())
	_, _, err := store.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrArtifactNotFound)
}

func TestFileStore_ChecksumMismatch(t *testing.T) {
	store := NewFileStore(t.TempDir())
	_, err := store.Save(context.Background(), samplePair())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), PostingsFile), []byte(`{"the":[1]}`), 0644))

	_, _, err = store.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrLoad)
}

func TestFileStore_LoadWithoutManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PostingsFile), []byte(`{"cat":[1]}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, RecordsFile),
		[]byte(`[{"id":1,"text":"cat","title":"t","startTimeSeconds":0,"externalRef":"","embedding":[0.5]}]`), 0644))

	pair, manifest, err := NewFileStore(dir).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, pair.Postings["cat"])
	assert.Equal(t, 1, manifest.Documents)
}

func TestFileStore_MalformedJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PostingsFile), []byte(`{"cat":`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, RecordsFile), []byte(`[]`), 0644))

	_, _, err := NewFileStore(dir).Load(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrLoad)
}

func TestPair_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Pair)
		wantErr bool
	}{
		{"valid", func(p *Pair) {}, false},
		{"dangling posting", func(p *Pair) { p.Postings["cat"] = []int{1, 9} }, true},
		{"duplicate posting", func(p *Pair) { p.Postings["cat"] = []int{1, 1} }, true},
		{"duplicate record id", func(p *Pair) { p.Records[1].ID = 1 }, true},
		{"zero id", func(p *Pair) { p.Records[0].ID = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := samplePair()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, apperrors.ErrLoad)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEmptyPairValidates(t *testing.T) {
	assert.NoError(t, Empty().Validate())
}

func TestDocument_PlaybackURL(t *testing.T) {
	assert.Equal(t, "", Document{}.PlaybackURL())
	assert.Equal(t, "https://www.youtube.com/watch?v=abc123&t=61s",
		Document{ExternalRef: "abc123", StartTimeSeconds: 61.7}.PlaybackURL())
}
