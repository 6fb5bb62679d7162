package datastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/opencontainers/go-digest"
)

// TagStore writes and reads tag rows.
type TagStore struct {
	db Queryer
}

// NewTagStore builds a new TagStore.
func NewTagStore(db Queryer) *TagStore {
	return &TagStore{db: db}
}

// Find returns the tag row for (repository, name), or nil if absent.
func (s *TagStore) Find(ctx context.Context, repositoryID int64, name string) (*Tag, error) {
	q := `SELECT repository_id, name, manifest_digest, updated_at
		FROM tags
		WHERE repository_id = $1 AND name = $2`

	t := &Tag{}
	var dgst string
	row := s.db.QueryRow(ctx, q, repositoryID, name)
	if err := row.Scan(&t.RepositoryID, &t.Name, &dgst, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding tag: %w", err)
	}
	t.Digest = digest.Digest(dgst)

	return t, nil
}

// Upsert points the tag at the digest. The write is last-writer-wins; only
// the pointer moves, never manifest content.
func (s *TagStore) Upsert(ctx context.Context, repositoryID int64, name string, d digest.Digest) error {
	q := `INSERT INTO tags (repository_id, name, manifest_digest, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (repository_id, name)
		DO UPDATE SET manifest_digest = EXCLUDED.manifest_digest, updated_at = now()`

	if _, err := s.db.Exec(ctx, q, repositoryID, name, d.String()); err != nil {
		return fmt.Errorf("upserting tag: %w", err)
	}

	return nil
}

// Delete removes the tag association, reporting whether a row existed.
func (s *TagStore) Delete(ctx context.Context, repositoryID int64, name string) (bool, error) {
	q := `DELETE FROM tags WHERE repository_id = $1 AND name = $2`

	tag, err := s.db.Exec(ctx, q, repositoryID, name)
	if err != nil {
		return false, fmt.Errorf("deleting tag: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// Names returns up to limit tag names in lexicographic order, starting
// strictly after last. limit <= 0 means no limit.
func (s *TagStore) Names(ctx context.Context, repositoryID int64, limit int, last string) ([]string, error) {
	q := `SELECT name FROM tags
		WHERE repository_id = $1 AND name > $2
		ORDER BY name`
	args := []any{repositoryID, last}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scanning tag name: %w", err)
		}
		names = append(names, n)
	}

	return names, rows.Err()
}
