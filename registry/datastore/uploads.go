package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// UploadStore writes and reads upload session rows. Sessions are the only
// mutable rows the engine owns; the offset column is advanced with a
// compare-and-swap so racing appends are serialized by the database.
type UploadStore struct {
	db Queryer
}

// NewUploadStore builds a new UploadStore.
func NewUploadStore(db Queryer) *UploadStore {
	return &UploadStore{db: db}
}

// Create inserts a fresh session row at offset zero.
func (s *UploadStore) Create(ctx context.Context, u *Upload) error {
	q := `INSERT INTO upload_sessions (id, repository_id, uploaded, chunk_count)
		VALUES ($1, $2, 0, 0)
		RETURNING created_at`

	row := s.db.QueryRow(ctx, q, u.ID, u.RepositoryID)
	if err := row.Scan(&u.CreatedAt); err != nil {
		return fmt.Errorf("creating upload session: %w", err)
	}
	u.Uploaded = 0
	u.ChunkCount = 0

	return nil
}

// Find returns the session row, or nil if absent.
func (s *UploadStore) Find(ctx context.Context, id string) (*Upload, error) {
	q := `SELECT id, repository_id, uploaded, chunk_count, created_at
		FROM upload_sessions
		WHERE id = $1`

	u := &Upload{}
	row := s.db.QueryRow(ctx, q, id)
	if err := row.Scan(&u.ID, &u.RepositoryID, &u.Uploaded, &u.ChunkCount, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding upload session: %w", err)
	}

	return u, nil
}

// Advance moves the session offset from expected to next and bumps the
// chunk counter, returning the new chunk's index. The guard on the current
// offset makes the update a compare-and-swap: of two racing appends only
// one succeeds, the other observes ErrOffsetMismatch.
func (s *UploadStore) Advance(ctx context.Context, id string, expected, next int64) (int, error) {
	q := `UPDATE upload_sessions
		SET uploaded = $3, chunk_count = chunk_count + 1
		WHERE id = $1 AND uploaded = $2
		RETURNING chunk_count`

	var count int
	row := s.db.QueryRow(ctx, q, id, expected, next)
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrOffsetMismatch
		}
		return 0, fmt.Errorf("advancing upload session: %w", err)
	}

	return count - 1, nil
}

// Delete removes the session row, reporting whether a row existed.
func (s *UploadStore) Delete(ctx context.Context, id string) (bool, error) {
	q := `DELETE FROM upload_sessions WHERE id = $1`

	tag, err := s.db.Exec(ctx, q, id)
	if err != nil {
		return false, fmt.Errorf("deleting upload session: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Stale returns sessions created before the cutoff, for the reaper.
func (s *UploadStore) Stale(ctx context.Context, cutoff time.Time) ([]*Upload, error) {
	q := `SELECT id, repository_id, uploaded, chunk_count, created_at
		FROM upload_sessions
		WHERE created_at < $1`

	rows, err := s.db.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing stale upload sessions: %w", err)
	}
	defer rows.Close()

	var uploads []*Upload
	for rows.Next() {
		u := &Upload{}
		if err := rows.Scan(&u.ID, &u.RepositoryID, &u.Uploaded, &u.ChunkCount, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning upload session: %w", err)
		}
		uploads = append(uploads, u)
	}

	return uploads, rows.Err()
}

// ErrOffsetMismatch reports a compare-and-swap failure on the session
// offset: the session is gone, or another append got there first.
var ErrOffsetMismatch = errors.New("upload session offset mismatch")
