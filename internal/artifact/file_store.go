package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/errors"
)

// Store persists and restores artifact pairs.
type Store interface {
	Save(ctx context.Context, pair *Pair) (Manifest, error)
	Load(ctx context.Context) (*Pair, Manifest, error)
}

// FileStore keeps a pair as two JSON files plus a manifest in one directory.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{
		dir:    dir,
		logger: slog.Default().With("component", "artifact-file-store"),
	}
}

// Dir returns the directory the store reads and writes.
func (s *FileStore) Dir() string {
	return s.dir
}

// Save writes each file to a .tmp sibling first and renames it into place.
// The manifest is renamed last so a reader that sees it also sees the files
// it describes.
func (s *FileStore) Save(ctx context.Context, pair *Pair) (Manifest, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return Manifest{}, fmt.Errorf("creating artifact directory: %w", err)
	}
	postingsData, err := json.Marshal(pair.Postings)
	if err != nil {
		return Manifest{}, fmt.Errorf("marshaling posting list: %w", err)
	}
	recordsData, err := json.Marshal(pair.Records)
	if err != nil {
		return Manifest{}, fmt.Errorf("marshaling document records: %w", err)
	}
	now := time.Now().UTC()
	manifest := Manifest{
		Generation:  now.UnixNano(),
		CreatedAt:   now,
		Documents:   len(pair.Records),
		Terms:       len(pair.Postings),
		PostingsCRC: crc32.ChecksumIEEE(postingsData),
		RecordsCRC:  crc32.ChecksumIEEE(recordsData),
	}
	manifestData, err := json.Marshal(manifest)
	if err != nil {
		return Manifest{}, fmt.Errorf("marshaling manifest: %w", err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{PostingsFile, postingsData},
		{RecordsFile, recordsData},
		{ManifestFile, manifestData},
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return Manifest{}, err
		}
		if err := writeAtomic(filepath.Join(s.dir, f.name), f.data); err != nil {
			return Manifest{}, err
		}
	}
	s.logger.Info("artifacts written",
		"dir", s.dir,
		"documents", manifest.Documents,
		"terms", manifest.Terms,
		"generation", manifest.Generation,
	)
	return manifest, nil
}

// Load reads the pair back. A manifest is optional so that artifacts produced
// by other tools still load; when present its checksums must match.
func (s *FileStore) Load(ctx context.Context) (*Pair, Manifest, error) {
	postingsData, err := s.read(PostingsFile)
	if err != nil {
		return nil, Manifest{}, err
	}
	recordsData, err := s.read(RecordsFile)
	if err != nil {
		return nil, Manifest{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Manifest{}, err
	}

	var manifest Manifest
	manifestData, err := os.ReadFile(filepath.Join(s.dir, ManifestFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(manifestData, &manifest); err != nil {
			return nil, Manifest{}, fmt.Errorf("%w: parsing manifest: %v", apperrors.ErrLoad, err)
		}
		if crc := crc32.ChecksumIEEE(postingsData); crc != manifest.PostingsCRC {
			return nil, Manifest{}, fmt.Errorf("%w: %s checksum mismatch (got %08x, manifest %08x)", apperrors.ErrLoad, PostingsFile, crc, manifest.PostingsCRC)
		}
		if crc := crc32.ChecksumIEEE(recordsData); crc != manifest.RecordsCRC {
			return nil, Manifest{}, fmt.Errorf("%w: %s checksum mismatch (got %08x, manifest %08x)", apperrors.ErrLoad, RecordsFile, crc, manifest.RecordsCRC)
		}
	case errors.Is(err, os.ErrNotExist):
		s.logger.Warn("no manifest found, loading artifacts unchecked", "dir", s.dir)
	default:
		return nil, Manifest{}, fmt.Errorf("%w: reading manifest: %v", apperrors.ErrLoad, err)
	}

	pair, err := Decode(postingsData, recordsData)
	if err != nil {
		return nil, Manifest{}, err
	}
	if manifest.Generation == 0 {
		manifest.Documents = len(pair.Records)
		manifest.Terms = len(pair.Postings)
	}
	return pair, manifest, nil
}

// Decode parses the two serialized artifacts and validates the result.
func Decode(postingsData, recordsData []byte) (*Pair, error) {
	pair := &Pair{}
	if err := json.Unmarshal(postingsData, &pair.Postings); err != nil {
		return nil, fmt.Errorf("%w: parsing posting list: %v", apperrors.ErrLoad, err)
	}
	if err := json.Unmarshal(recordsData, &pair.Records); err != nil {
		return nil, fmt.Errorf("%w: parsing document records: %v", apperrors.ErrLoad, err)
	}
	if pair.Postings == nil {
		pair.Postings = PostingList{}
	}
	if pair.Records == nil {
		pair.Records = []Record{}
	}
	if err := pair.Validate(); err != nil {
		return nil, err
	}
	return pair, nil
}

func (s *FileStore) read(name string) ([]byte, error) {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrArtifactNotFound, path)
		}
		return nil, fmt.Errorf("%w: reading %s: %v", apperrors.ErrLoad, path, err)
	}
	return data, nil
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp artifact file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	return nil
}
