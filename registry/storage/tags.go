package storage

import (
	"context"

	"github.com/opencontainers/go-digest"

	"github.com/aerugo/aerugo"
)

// tagService maintains the mutable name to digest pointers for one
// repository. Writes are last-writer-wins at the row level, matching the
// protocol's semantics for concurrent pushes of the same tag.
type tagService struct {
	registry     *Registry
	repositoryID int64
}

var _ aerugo.TagService = &tagService{}

func (ts *tagService) Get(ctx context.Context, name string) (digest.Digest, error) {
	tag, err := ts.registry.tags.Find(ctx, ts.repositoryID, name)
	if err != nil {
		return "", err
	}
	if tag == nil {
		return "", aerugo.ErrTagUnknown{Tag: name}
	}
	return tag.Digest, nil
}

func (ts *tagService) Set(ctx context.Context, name string, dgst digest.Digest) error {
	return ts.registry.tags.Upsert(ctx, ts.repositoryID, name, dgst)
}

func (ts *tagService) Untag(ctx context.Context, name string) error {
	deleted, err := ts.registry.tags.Delete(ctx, ts.repositoryID, name)
	if err != nil {
		return err
	}
	if !deleted {
		return aerugo.ErrTagUnknown{Tag: name}
	}
	return nil
}

func (ts *tagService) All(ctx context.Context, n int, last string) ([]string, error) {
	return ts.registry.tags.Names(ctx, ts.repositoryID, n, last)
}
