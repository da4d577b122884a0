package artifact

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/passage-retrieval/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS index_artifacts (
	generation    BIGSERIAL PRIMARY KEY,
	boolean_index JSONB       NOT NULL,
	vector_data   JSONB       NOT NULL,
	documents     INTEGER     NOT NULL,
	terms         INTEGER     NOT NULL,
	postings_crc  BIGINT      NOT NULL,
	records_crc   BIGINT      NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore keeps every built pair as one row; Load returns the newest.
// Older generations are left in place so a bad build can be rolled back by
// deleting its row.
type PostgresStore struct {
	client *postgres.Client
	logger *slog.Logger
}

// NewPostgresStore creates the artifacts table if needed.
func NewPostgresStore(ctx context.Context, client *postgres.Client) (*PostgresStore, error) {
	if _, err := client.DB.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("creating index_artifacts table: %w", err)
	}
	return &PostgresStore{
		client: client,
		logger: slog.Default().With("component", "artifact-postgres-store"),
	}, nil
}

func (s *PostgresStore) Save(ctx context.Context, pair *Pair) (Manifest, error) {
	postingsData, err := json.Marshal(pair.Postings)
	if err != nil {
		return Manifest{}, fmt.Errorf("marshaling posting list: %w", err)
	}
	recordsData, err := json.Marshal(pair.Records)
	if err != nil {
		return Manifest{}, fmt.Errorf("marshaling document records: %w", err)
	}
	manifest := Manifest{
		Documents:   len(pair.Records),
		Terms:       len(pair.Postings),
		PostingsCRC: crc32.ChecksumIEEE(postingsData),
		RecordsCRC:  crc32.ChecksumIEEE(recordsData),
	}
	err = s.client.InTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx,
			`INSERT INTO index_artifacts (boolean_index, vector_data, documents, terms, postings_crc, records_crc)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING generation, created_at`,
			string(postingsData), string(recordsData), manifest.Documents, manifest.Terms,
			int64(manifest.PostingsCRC), int64(manifest.RecordsCRC),
		).Scan(&manifest.Generation, &manifest.CreatedAt)
	})
	if err != nil {
		return Manifest{}, fmt.Errorf("inserting artifacts: %w", err)
	}
	s.logger.Info("artifacts stored",
		"generation", manifest.Generation,
		"documents", manifest.Documents,
		"terms", manifest.Terms,
	)
	return manifest, nil
}

// Load returns the most recent generation. JSONB normalises whitespace and
// key order, so checksums are not re-verified here; Decode still validates
// the structure.
func (s *PostgresStore) Load(ctx context.Context) (*Pair, Manifest, error) {
	var (
		manifest     Manifest
		postingsData []byte
		recordsData  []byte
		postingsCRC  int64
		recordsCRC   int64
		createdAt    time.Time
	)
	err := s.client.DB.QueryRowContext(ctx,
		`SELECT generation, boolean_index, vector_data, documents, terms, postings_crc, records_crc, created_at
		FROM index_artifacts
		ORDER BY generation DESC
		LIMIT 1`,
	).Scan(&manifest.Generation, &postingsData, &recordsData, &manifest.Documents, &manifest.Terms,
		&postingsCRC, &recordsCRC, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, Manifest{}, fmt.Errorf("%w: index_artifacts is empty", apperrors.ErrArtifactNotFound)
		}
		return nil, Manifest{}, fmt.Errorf("%w: querying artifacts: %v", apperrors.ErrLoad, err)
	}
	manifest.PostingsCRC = uint32(postingsCRC)
	manifest.RecordsCRC = uint32(recordsCRC)
	manifest.CreatedAt = createdAt

	pair, err := Decode(postingsData, recordsData)
	if err != nil {
		return nil, Manifest{}, err
	}
	return pair, manifest, nil
}
