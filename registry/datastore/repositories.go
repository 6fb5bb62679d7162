package datastore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// RepositoryStore reads repository rows. The engine never writes them.
type RepositoryStore struct {
	db Queryer
}

// NewRepositoryStore builds a new RepositoryStore.
func NewRepositoryStore(db Queryer) *RepositoryStore {
	return &RepositoryStore{db: db}
}

// FindByPath returns the repository with the given "org/name" path, or nil
// if no such repository exists.
func (s *RepositoryStore) FindByPath(ctx context.Context, path string) (*Repository, error) {
	org, name, ok := strings.Cut(path, "/")
	if !ok {
		return nil, nil
	}

	q := `SELECT id, organization, name, is_public, created_at
		FROM repositories
		WHERE organization = $1 AND name = $2`

	r := &Repository{}
	row := s.db.QueryRow(ctx, q, org, name)
	if err := row.Scan(&r.ID, &r.Organization, &r.Name, &r.Public, &r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding repository: %w", err)
	}

	return r, nil
}

// Paths returns up to limit repository paths in lexicographic order,
// starting strictly after last. limit <= 0 means no limit.
func (s *RepositoryStore) Paths(ctx context.Context, limit int, last string) ([]string, error) {
	q := `SELECT organization || '/' || name AS path
		FROM repositories
		WHERE organization || '/' || name > $1
		ORDER BY path`
	args := []any{last}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning repository path: %w", err)
		}
		paths = append(paths, p)
	}

	return paths, rows.Err()
}
