package datastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/opencontainers/go-digest"
)

// BlobStore writes and reads blob metadata rows.
type BlobStore struct {
	db Queryer
}

// NewBlobStore builds a new BlobStore.
func NewBlobStore(db Queryer) *BlobStore {
	return &BlobStore{db: db}
}

// FindByDigest returns the blob record for (repository, digest), or nil if
// absent.
func (s *BlobStore) FindByDigest(ctx context.Context, repositoryID int64, d digest.Digest) (*Blob, error) {
	q := `SELECT id, repository_id, digest, media_type, size, created_at
		FROM blobs
		WHERE repository_id = $1 AND digest = $2`

	b := &Blob{}
	var dgst string
	row := s.db.QueryRow(ctx, q, repositoryID, d.String())
	if err := row.Scan(&b.ID, &b.RepositoryID, &dgst, &b.MediaType, &b.Size, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding blob: %w", err)
	}
	b.Digest = digest.Digest(dgst)

	return b, nil
}

// Create records the blob. Recording the same (repository, digest) twice is
// a no-op, matching the idempotency of content-addressed writes.
func (s *BlobStore) Create(ctx context.Context, b *Blob) error {
	q := `INSERT INTO blobs (repository_id, digest, media_type, size)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repository_id, digest) DO NOTHING
		RETURNING id, created_at`

	row := s.db.QueryRow(ctx, q, b.RepositoryID, b.Digest.String(), b.MediaType, b.Size)
	if err := row.Scan(&b.ID, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict path: the row already exists, load it for the caller.
			existing, ferr := s.FindByDigest(ctx, b.RepositoryID, b.Digest)
			if ferr != nil {
				return ferr
			}
			*b = *existing
			return nil
		}
		return fmt.Errorf("creating blob: %w", err)
	}

	return nil
}

// Delete removes the blob row, reporting whether a row existed.
func (s *BlobStore) Delete(ctx context.Context, repositoryID int64, d digest.Digest) (bool, error) {
	q := `DELETE FROM blobs WHERE repository_id = $1 AND digest = $2`

	tag, err := s.db.Exec(ctx, q, repositoryID, d.String())
	if err != nil {
		return false, fmt.Errorf("deleting blob: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}
