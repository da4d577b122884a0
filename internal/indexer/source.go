package indexer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/errors"
)

// Source is one raw passage handed to the Builder, in corpus order.
type Source struct {
	Label            string
	Text             string
	StartTimeSeconds float64
	ExternalRef      string
}

// Source formats understood by LoadDir.
const (
	FormatPlain      = "plain"
	FormatTranscript = "transcript"
)

// IsCorpusFile reports whether a file named name belongs to the corpus: a
// .txt extension in any letter case.
func IsCorpusFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".txt")
}

// LoadDir reads every corpus file in dir in lexical file-name order. In plain
// format each file becomes one Source labelled with its base name; in
// transcript format each file is cut into passages by ParseTranscript.
// Files are read concurrently by up to workers goroutines but the result keeps
// file order. Any unreadable or non-UTF-8 file fails the whole load.
func LoadDir(ctx context.Context, dir, format string, chunkSize, workers int) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading corpus directory %s: %v", apperrors.ErrIngestion, dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && IsCorpusFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	if workers <= 0 {
		workers = 1
	}
	perFile := make([][]Source, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				return fmt.Errorf("%w: reading %s: %v", apperrors.ErrIngestion, name, err)
			}
			if !utf8.Valid(data) {
				return fmt.Errorf("%w: %s is not valid UTF-8", apperrors.ErrIngestion, name)
			}
			label := strings.TrimSuffix(name, filepath.Ext(name))
			switch format {
			case FormatTranscript:
				perFile[i] = ParseTranscript(label, string(data), chunkSize)
			default:
				perFile[i] = []Source{{Label: label, Text: string(data)}}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var sources []Source
	for _, s := range perFile {
		sources = append(sources, s...)
	}
	return sources, nil
}
