package datastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/opencontainers/go-digest"
)

// ManifestStore writes and reads manifest revisions and their layer
// references.
type ManifestStore struct {
	db Queryer
}

// NewManifestStore builds a new ManifestStore.
func NewManifestStore(db Queryer) *ManifestStore {
	return &ManifestStore{db: db}
}

// FindByDigest returns the manifest stored under (repository, digest), or
// nil if absent.
func (s *ManifestStore) FindByDigest(ctx context.Context, repositoryID int64, d digest.Digest) (*Manifest, error) {
	q := `SELECT id, repository_id, digest, media_type, payload, created_at
		FROM manifests
		WHERE repository_id = $1 AND digest = $2`

	m := &Manifest{}
	var dgst string
	row := s.db.QueryRow(ctx, q, repositoryID, d.String())
	if err := row.Scan(&m.ID, &m.RepositoryID, &dgst, &m.MediaType, &m.Payload, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding manifest: %w", err)
	}
	m.Digest = digest.Digest(dgst)

	return m, nil
}

// Create records the manifest revision along with its ordered layer
// references. Re-pushing identical content is a no-op: the digest is a
// function of the payload, so the existing row already is the manifest.
func (s *ManifestStore) Create(ctx context.Context, m *Manifest, layers []digest.Digest) error {
	q := `INSERT INTO manifests (repository_id, digest, media_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repository_id, digest) DO NOTHING
		RETURNING id, created_at`

	row := s.db.QueryRow(ctx, q, m.RepositoryID, m.Digest.String(), m.MediaType, m.Payload)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, ferr := s.FindByDigest(ctx, m.RepositoryID, m.Digest)
			if ferr != nil {
				return ferr
			}
			*m = *existing
			return nil
		}
		return fmt.Errorf("creating manifest: %w", err)
	}

	// Layer order reconstructs the image filesystem, so position matters.
	for i, ld := range layers {
		lq := `INSERT INTO manifest_layers (manifest_id, blob_digest, position)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`
		if _, err := s.db.Exec(ctx, lq, m.ID, ld.String(), i); err != nil {
			return fmt.Errorf("creating manifest layer reference: %w", err)
		}
	}

	return nil
}

// Delete removes the manifest row (layer references cascade), reporting
// whether a row existed.
func (s *ManifestStore) Delete(ctx context.Context, repositoryID int64, d digest.Digest) (bool, error) {
	q := `DELETE FROM manifests WHERE repository_id = $1 AND digest = $2`

	tag, err := s.db.Exec(ctx, q, repositoryID, d.String())
	if err != nil {
		return false, fmt.Errorf("deleting manifest: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}
