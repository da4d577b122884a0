package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/artifact"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/internal/engine"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--env-file", ""}, args...))
	err := root.Execute()
	return out.String(), err
}

func buildCorpus(t *testing.T) (corpus, out string) {
	t.Helper()
	corpus = t.TempDir()
	out = filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "01-cat.txt"), []byte("the cat sat"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(corpus, "02-dog.txt"), []byte("the dog ran"), 0644))

	stdout, err := run(t, "build", "--corpus", corpus, "--out", out, "--seed", "7")
	require.NoError(t, err)
	assert.Contains(t, stdout, "indexed 2 documents, 5 terms")
	return corpus, out
}

func TestBuildWritesArtifacts(t *testing.T) {
	_, out := buildCorpus(t)
	for _, name := range []string{artifact.PostingsFile, artifact.RecordsFile, artifact.ManifestFile} {
		assert.FileExists(t, filepath.Join(out, name))
	}
}

func TestQueryAgainstBuiltIndex(t *testing.T) {
	_, out := buildCorpus(t)
	t.Setenv("RS_ARTIFACT_DIR", out)

	stdout, err := run(t, "query", "--strategy", "tfidf", "--format", "json", "cat")
	require.NoError(t, err)
	var resp engine.Response
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "the cat sat", resp.Results[0].Text)
	assert.Equal(t, "01-cat", resp.Results[0].Title)

	stdout, err = run(t, "query", "the")
	require.NoError(t, err)
	assert.Contains(t, stdout, "2 of 2 matches (boolean)")

	stdout, err = run(t, "query", "--strategy", "tfidf", "the")
	require.NoError(t, err)
	assert.Contains(t, stdout, "no matches")
}

func TestQueryErrors(t *testing.T) {
	t.Setenv("RS_ARTIFACT_DIR", filepath.Join(t.TempDir(), "missing"))
	_, err := run(t, "query", "cat")
	assert.Error(t, err)

	_, out := buildCorpus(t)
	t.Setenv("RS_ARTIFACT_DIR", out)
	_, err = run(t, "query", "--strategy", "bm25", "cat")
	assert.ErrorContains(t, err, "unknown query strategy")
}

func TestBuildRejectsBadFormat(t *testing.T) {
	_, err := run(t, "build", "--corpus", t.TempDir(), "--format", "pdf")
	assert.ErrorContains(t, err, "indexer.sourceFormat")
}
